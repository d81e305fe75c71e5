package cli

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/spf13/cobra"

	pterrors "github.com/randalmurphal/phasetrack/internal/errors"
	"github.com/randalmurphal/phasetrack/internal/phase"
	"github.com/randalmurphal/phasetrack/internal/tracker"
)

// newPhasesCmd creates the phases command group
func newPhasesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "phases",
		Aliases: []string{"phase"},
		Short:   "Show and change entity phases",
		Long: `Show and change the phases of a tracked entity.

Status moves:
  not_started → in_progress | skipped
  in_progress → completed | blocked | skipped
  blocked     → in_progress | skipped
  completed and skipped are final.

Examples:
  phasetrack phases show task T-42
  phasetrack phases start task T-42 research
  phasetrack phases block task T-42 research --reason "waiting on access"
  phasetrack phases update task T-42 research --field owner=kim --field estimate=3
  phasetrack phases advance task T-42`,
	}
	cmd.AddCommand(newPhasesShowCmd())
	cmd.AddCommand(newPhasesGetCmd())
	cmd.AddCommand(newPhasesSummaryCmd())
	cmd.AddCommand(newPhasesAdvanceCmd())
	cmd.AddCommand(newPhasesUpdateCmd())
	cmd.AddCommand(newTransitionCmd("start", "Move a phase to in_progress",
		func(ctx context.Context, e *tracker.Engine, kind phase.EntityKind, id string, name phase.Name, _ *string) (phase.Set, error) {
			return e.StartPhase(ctx, kind, id, name)
		}, false))
	cmd.AddCommand(newTransitionCmd("complete", "Complete an in_progress phase",
		func(ctx context.Context, e *tracker.Engine, kind phase.EntityKind, id string, name phase.Name, _ *string) (phase.Set, error) {
			return e.CompletePhase(ctx, kind, id, name)
		}, false))
	cmd.AddCommand(newTransitionCmd("block", "Block an in_progress phase (--reason required, may be empty)",
		func(ctx context.Context, e *tracker.Engine, kind phase.EntityKind, id string, name phase.Name, reason *string) (phase.Set, error) {
			return e.BlockPhase(ctx, kind, id, name, reason)
		}, true))
	cmd.AddCommand(newTransitionCmd("unblock", "Return a blocked phase to in_progress",
		func(ctx context.Context, e *tracker.Engine, kind phase.EntityKind, id string, name phase.Name, _ *string) (phase.Set, error) {
			return e.UnblockPhase(ctx, kind, id, name)
		}, false))
	cmd.AddCommand(newTransitionCmd("skip", "Skip a phase (--reason required, may be empty)",
		func(ctx context.Context, e *tracker.Engine, kind phase.EntityKind, id string, name phase.Name, reason *string) (phase.Set, error) {
			return e.SkipPhase(ctx, kind, id, name, reason)
		}, true))
	return cmd
}

// parseTarget parses <kind> <id> <phase> arguments.
func parseTarget(args []string) (phase.EntityKind, string, phase.Name, error) {
	kind, err := phase.ParseEntityKind(args[0])
	if err != nil {
		return "", "", "", err
	}
	name, err := phase.ParseName(kind, args[2])
	if err != nil {
		return "", "", "", err
	}
	return kind, args[1], name, nil
}

// flagPtr returns the flag's value only when it was set on the command
// line, so --reason "" differs from no --reason at all.
func flagPtr(cmd *cobra.Command, name string) *string {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	v, _ := cmd.Flags().GetString(name)
	return &v
}

func newPhasesShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <kind> <id>",
		Short: "Show every phase of an entity",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := phase.ParseEntityKind(args[0])
			if err != nil {
				return err
			}
			p, err := newPrinter(cmd.OutOrStdout())
			if err != nil {
				return err
			}
			return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				set, err := rt.engine.GetPhases(ctx, kind, args[1])
				if err != nil {
					return err
				}
				return p.phases(kind, args[1], set)
			})
		},
	}
}

func newPhasesGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <kind> <id> <phase>",
		Short: "Show one phase of an entity",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, id, name, err := parseTarget(args)
			if err != nil {
				return err
			}
			p, err := newPrinter(cmd.OutOrStdout())
			if err != nil {
				return err
			}
			return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				rec, err := rt.engine.GetPhase(ctx, kind, id, name)
				if err != nil {
					return err
				}
				return p.record(name, rec)
			})
		},
	}
}

func newPhasesSummaryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "summary <kind> <id>",
		Short: "Show the current phase and completion percentage",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := phase.ParseEntityKind(args[0])
			if err != nil {
				return err
			}
			p, err := newPrinter(cmd.OutOrStdout())
			if err != nil {
				return err
			}
			return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				sum, err := rt.engine.GetPhaseSummary(ctx, kind, args[1])
				if err != nil {
					return err
				}
				return p.summary(kind, args[1], sum)
			})
		},
	}
}

func newPhasesAdvanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "advance <kind> <id>",
		Short: "Complete the current phase and start the next",
		Long: `Advance an entity along its phase sequence.

The current phase is the first one that is not completed or skipped. If it
is in_progress it is completed and the next phase is started; if it is
not_started it is started. Advancing fails while the current phase is
blocked.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := phase.ParseEntityKind(args[0])
			if err != nil {
				return err
			}
			p, err := newPrinter(cmd.OutOrStdout())
			if err != nil {
				return err
			}
			return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				set, err := rt.engine.Advance(ctx, kind, args[1])
				if err != nil {
					return err
				}
				return p.phases(kind, args[1], set)
			})
		},
	}
}

// transitionFunc applies one single-phase operation.
type transitionFunc func(ctx context.Context, e *tracker.Engine, kind phase.EntityKind, id string, name phase.Name, reason *string) (phase.Set, error)

func newTransitionCmd(verb, short string, fn transitionFunc, withReason bool) *cobra.Command {
	cmd := &cobra.Command{
		Use:   verb + " <kind> <id> <phase>",
		Short: short,
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, id, name, err := parseTarget(args)
			if err != nil {
				return err
			}
			p, err := newPrinter(cmd.OutOrStdout())
			if err != nil {
				return err
			}
			var reason *string
			if withReason {
				reason = flagPtr(cmd, "reason")
			}
			return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				set, err := fn(ctx, rt.engine, kind, id, name, reason)
				if err != nil {
					return err
				}
				return p.phases(kind, id, set)
			})
		},
	}
	if withReason {
		cmd.Flags().String("reason", "", "reason for the change (required, may be empty)")
	}
	return cmd
}

func newPhasesUpdateCmd() *cobra.Command {
	var (
		status string
		fields []string
	)
	cmd := &cobra.Command{
		Use:   "update <kind> <id> <phase>",
		Short: "Change status and/or merge custom fields",
		Long: `Change a phase's status through the state machine and merge custom fields.

--field key=value may be repeated. Values that parse as JSON (numbers,
booleans, objects, arrays, quoted strings) are stored as such; anything
else is stored as a string. Existing fields not named are kept.

--blocked-reason is only accepted with --status blocked and --skip-reason
only with --status skipped.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, id, name, err := parseTarget(args)
			if err != nil {
				return err
			}
			p, err := newPrinter(cmd.OutOrStdout())
			if err != nil {
				return err
			}
			u := tracker.PhaseUpdate{
				BlockedReason: flagPtr(cmd, "blocked-reason"),
				SkipReason:    flagPtr(cmd, "skip-reason"),
			}
			if cmd.Flags().Changed("status") {
				st := phase.Status(status)
				u.Status = &st
			}
			if len(fields) > 0 {
				if u.CustomFields, err = parseFields(fields); err != nil {
					return err
				}
			}
			return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				set, err := rt.engine.UpdatePhase(ctx, kind, id, name, u)
				if err != nil {
					return err
				}
				return p.phases(kind, id, set)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "target status")
	cmd.Flags().String("blocked-reason", "", "reason, with --status blocked")
	cmd.Flags().String("skip-reason", "", "reason, with --status skipped")
	cmd.Flags().StringArrayVar(&fields, "field", nil, "custom field as key=value (repeatable)")
	return cmd
}

// parseFields turns key=value pairs into a custom field map.
func parseFields(pairs []string) (map[string]any, error) {
	out := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, pterrors.ErrInvalidArgument("field", "expected key=value, got "+pair)
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		out[key] = v
	}
	return out, nil
}
