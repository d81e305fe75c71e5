package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/phasetrack/internal/phase"
	"github.com/randalmurphal/phasetrack/internal/tracker"
)

// newFindCmd creates the find command group
func newFindCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "find",
		Short: "Find entities by phase state",
		Long: `Find entities of one kind by the state of their phases.

Examples:
  phasetrack find status task research in_progress
  phasetrack find blocked task
  phasetrack find current sprint implementation
  phasetrack find field task planning owner.name kim`,
	}
	cmd.AddCommand(newFindStatusCmd())
	cmd.AddCommand(newFindBlockedCmd())
	cmd.AddCommand(newFindCurrentCmd())
	cmd.AddCommand(newFindFieldCmd())
	return cmd
}

// parseKindPhase parses <kind> <phase> arguments.
func parseKindPhase(kindArg, phaseArg string) (phase.EntityKind, phase.Name, error) {
	kind, err := phase.ParseEntityKind(kindArg)
	if err != nil {
		return "", "", err
	}
	name, err := phase.ParseName(kind, phaseArg)
	if err != nil {
		return "", "", err
	}
	return kind, name, nil
}

// runFindIDs runs an id query and prints the ids that match the --match glob.
func runFindIDs(cmd *cobra.Command, kind phase.EntityKind, match string, query func(ctx context.Context, e *tracker.Engine) ([]string, error)) error {
	if err := validateMatch(match); err != nil {
		return err
	}
	p, err := newPrinter(cmd.OutOrStdout())
	if err != nil {
		return err
	}
	return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
		ids, err := query(ctx, rt.engine)
		if err != nil {
			return err
		}
		return p.ids(kind, filterIDs(ids, match))
	})
}

func newFindStatusCmd() *cobra.Command {
	var match string
	cmd := &cobra.Command{
		Use:   "status <kind> <phase> <status>",
		Short: "Entities whose phase has the given status",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, name, err := parseKindPhase(args[0], args[1])
			if err != nil {
				return err
			}
			st, err := phase.ParseStatus(args[2])
			if err != nil {
				return err
			}
			return runFindIDs(cmd, kind, match, func(ctx context.Context, e *tracker.Engine) ([]string, error) {
				return e.FindByPhaseStatus(ctx, kind, name, st)
			})
		},
	}
	addMatchFlag(cmd, &match)
	return cmd
}

func newFindBlockedCmd() *cobra.Command {
	var match string
	cmd := &cobra.Command{
		Use:   "blocked <kind>",
		Short: "Blocked phases and their reasons",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := phase.ParseEntityKind(args[0])
			if err != nil {
				return err
			}
			if err := validateMatch(match); err != nil {
				return err
			}
			p, err := newPrinter(cmd.OutOrStdout())
			if err != nil {
				return err
			}
			return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				bs, err := rt.engine.FindWithBlockedPhase(ctx, kind)
				if err != nil {
					return err
				}
				if match != "" {
					filtered := bs[:0]
					for _, b := range bs {
						if matchID(match, b.ID) {
							filtered = append(filtered, b)
						}
					}
					bs = filtered
				}
				return p.blocked(kind, bs)
			})
		},
	}
	addMatchFlag(cmd, &match)
	return cmd
}

func newFindCurrentCmd() *cobra.Command {
	var match string
	cmd := &cobra.Command{
		Use:   "current <kind> <phase>",
		Short: "Entities whose current phase is the given one",
		Long: `Entities whose current phase is the given one. The current phase is the
first phase in sequence that is not completed or skipped.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, name, err := parseKindPhase(args[0], args[1])
			if err != nil {
				return err
			}
			return runFindIDs(cmd, kind, match, func(ctx context.Context, e *tracker.Engine) ([]string, error) {
				return e.FindByCurrentPhase(ctx, kind, name)
			})
		},
	}
	addMatchFlag(cmd, &match)
	return cmd
}

func newFindFieldCmd() *cobra.Command {
	var match string
	cmd := &cobra.Command{
		Use:   "field <kind> <phase> <path> <value>",
		Short: "Entities whose phase custom field equals a value",
		Long: `Entities whose phase custom field at path equals value.

path uses gjson dot notation into nested objects (owner.name). The stored
value is compared through its text form: numbers and booleans as written,
strings without quotes.`,
		Args: cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, name, err := parseKindPhase(args[0], args[1])
			if err != nil {
				return err
			}
			return runFindIDs(cmd, kind, match, func(ctx context.Context, e *tracker.Engine) ([]string, error) {
				return e.FindByCustomField(ctx, kind, name, args[2], args[3])
			})
		},
	}
	addMatchFlag(cmd, &match)
	return cmd
}
