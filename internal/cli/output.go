package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/randalmurphal/phasetrack/internal/phase"
	"github.com/randalmurphal/phasetrack/internal/tracker"
)

// Output formats.
const (
	formatTable = "table"
	formatJSON  = "json"
	formatYAML  = "yaml"
)

// printer renders command results in the selected format. table is used
// for humans; json and yaml print the same document the API returns.
type printer struct {
	w      io.Writer
	format string
}

func newPrinter(w io.Writer) (*printer, error) {
	switch outputFormat {
	case formatTable, formatJSON, formatYAML:
	default:
		return nil, fmt.Errorf("unknown output format %q (want table, json or yaml)", outputFormat)
	}
	return &printer{w: w, format: outputFormat}, nil
}

// structured prints v as JSON or YAML. It reports false in table mode so
// the caller can render a table instead.
func (p *printer) structured(v any) (bool, error) {
	switch p.format {
	case formatJSON:
		enc := json.NewEncoder(p.w)
		enc.SetIndent("", "  ")
		return true, enc.Encode(v)
	case formatYAML:
		return true, writeYAML(p.w, v)
	}
	return false, nil
}

// writeYAML renders v through its JSON form so custom marshalers (and the
// phase ordering of sets) carry over.
func writeYAML(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return err
	}
	blockStyle(&node)
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&node); err != nil {
		return err
	}
	return enc.Close()
}

// blockStyle clears the flow and quoting styles the JSON input carried.
func blockStyle(n *yaml.Node) {
	n.Style = 0
	for _, c := range n.Content {
		blockStyle(c)
	}
}

func (p *printer) table(fn func(tw *tabwriter.Writer)) error {
	tw := tabwriter.NewWriter(p.w, 0, 0, 2, ' ', 0)
	fn(tw)
	return tw.Flush()
}

// phases prints a phase set.
func (p *printer) phases(kind phase.EntityKind, id string, s phase.Set) error {
	if ok, err := p.structured(map[string]any{"kind": kind, "id": id, "phases": s}); ok {
		return err
	}
	return p.table(func(tw *tabwriter.Writer) {
		fmt.Fprintln(tw, "PHASE\tSTATUS\tSTARTED\tCOMPLETED\tREASON\tFIELDS")
		for name, r := range s.All() {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
				name, r.Status, fmtTime(r.StartedAt), fmtTime(r.CompletedAt), reasonOf(r), fmtFields(r.CustomFields))
		}
	})
}

// record prints one phase.
func (p *printer) record(name phase.Name, r phase.Record) error {
	if ok, err := p.structured(r); ok {
		return err
	}
	return p.table(func(tw *tabwriter.Writer) {
		fmt.Fprintf(tw, "Phase:\t%s\n", name)
		fmt.Fprintf(tw, "Status:\t%s\n", r.Status)
		if r.BlockedReason != nil {
			fmt.Fprintf(tw, "Blocked reason:\t%s\n", *r.BlockedReason)
		}
		if r.SkipReason != nil {
			fmt.Fprintf(tw, "Skip reason:\t%s\n", *r.SkipReason)
		}
		fmt.Fprintf(tw, "Started:\t%s\n", fmtTime(r.StartedAt))
		fmt.Fprintf(tw, "Completed:\t%s\n", fmtTime(r.CompletedAt))
		fmt.Fprintf(tw, "Fields:\t%s\n", fmtFields(r.CustomFields))
	})
}

// summary prints an entity summary.
func (p *printer) summary(kind phase.EntityKind, id string, s tracker.Summary) error {
	if ok, err := p.structured(s); ok {
		return err
	}
	current := "none"
	if s.CurrentPhase != nil {
		current = string(*s.CurrentPhase)
	}
	return p.table(func(tw *tabwriter.Writer) {
		fmt.Fprintf(tw, "Entity:\t%s/%s\n", kind, id)
		fmt.Fprintf(tw, "Current phase:\t%s\n", current)
		fmt.Fprintf(tw, "Completed:\t%d/%d (%.1f%%)\n", s.PhasesCompleted, s.PhasesTotal, s.CompletionPct)
	})
}

// ids prints a list of entity IDs, one per line in table mode.
func (p *printer) ids(kind phase.EntityKind, ids []string) error {
	if ids == nil {
		ids = []string{}
	}
	if ok, err := p.structured(map[string]any{"kind": kind, "ids": ids}); ok {
		return err
	}
	for _, id := range ids {
		if _, err := fmt.Fprintln(p.w, id); err != nil {
			return err
		}
	}
	return nil
}

// blocked prints blocked phases.
func (p *printer) blocked(kind phase.EntityKind, bs []tracker.BlockedPhase) error {
	if bs == nil {
		bs = []tracker.BlockedPhase{}
	}
	if ok, err := p.structured(map[string]any{"kind": kind, "blocked": bs}); ok {
		return err
	}
	return p.table(func(tw *tabwriter.Writer) {
		fmt.Fprintln(tw, "ID\tPHASE\tREASON")
		for _, b := range bs {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", b.ID, b.Phase, b.Reason)
		}
	})
}

// analytics prints analytics for one or more kinds. Several kinds are
// keyed by kind in structured output.
func (p *printer) analytics(all []tracker.Analytics) error {
	var doc any
	if len(all) == 1 {
		doc = all[0]
	} else {
		byKind := make(map[phase.EntityKind]tracker.Analytics, len(all))
		for _, a := range all {
			byKind[a.Kind] = a
		}
		doc = byKind
	}
	if ok, err := p.structured(doc); ok {
		return err
	}
	statuses := phase.ValidStatuses()
	return p.table(func(tw *tabwriter.Writer) {
		for i, a := range all {
			if i > 0 {
				fmt.Fprintln(tw)
			}
			fmt.Fprintf(tw, "%s: %d entities, %d blocked, %.1f%% average completion\n",
				a.Kind, a.TotalEntities, a.BlockedCount, a.AverageCompletionPct)
			header := []string{"PHASE"}
			for _, st := range statuses {
				header = append(header, strings.ToUpper(string(st)))
			}
			fmt.Fprintln(tw, strings.Join(header, "\t"))
			seq, _ := phase.SequenceFor(a.Kind)
			for _, name := range seq {
				row := []string{string(name)}
				for _, st := range statuses {
					row = append(row, fmt.Sprint(a.ByPhase[name][st]))
				}
				fmt.Fprintln(tw, strings.Join(row, "\t"))
			}
		}
	})
}

// message prints a one-line confirmation unless -q is set. Structured
// formats print v instead.
func (p *printer) message(v any, format string, args ...any) error {
	if ok, err := p.structured(v); ok {
		return err
	}
	if quiet {
		return nil
	}
	_, err := fmt.Fprintf(p.w, format+"\n", args...)
	return err
}

func fmtTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}

func reasonOf(r phase.Record) string {
	switch {
	case r.BlockedReason != nil:
		return *r.BlockedReason
	case r.SkipReason != nil:
		return *r.SkipReason
	}
	return ""
}

func fmtFields(m map[string]any) string {
	if len(m) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		v, err := json.Marshal(m[k])
		if err != nil {
			v = []byte(fmt.Sprint(m[k]))
		}
		parts = append(parts, k+"="+string(v))
	}
	return strings.Join(parts, " ")
}
