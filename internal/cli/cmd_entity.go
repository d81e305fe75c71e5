package cli

import (
	"context"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/cobra"

	pterrors "github.com/randalmurphal/phasetrack/internal/errors"
	"github.com/randalmurphal/phasetrack/internal/phase"
)

// newEntityCmd creates the entity command group
func newEntityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "entity",
		Aliases: []string{"entities"},
		Short:   "Create, delete and list tracked entities",
	}
	cmd.AddCommand(newEntityCreateCmd())
	cmd.AddCommand(newEntityDeleteCmd())
	cmd.AddCommand(newEntityListCmd())
	return cmd
}

func newEntityCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create <kind> [id]",
		Short: "Start tracking an entity",
		Long: `Start tracking an entity. Every phase begins not_started.

A UUID is generated when id is omitted.

Examples:
  phasetrack entity create task T-42
  phasetrack entity create sprint`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := phase.ParseEntityKind(args[0])
			if err != nil {
				return err
			}
			var id string
			if len(args) == 2 {
				id = args[1]
			}
			p, err := newPrinter(cmd.OutOrStdout())
			if err != nil {
				return err
			}
			return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				created, set, err := rt.engine.CreateEntity(ctx, kind, id)
				if err != nil {
					return err
				}
				if p.format == formatTable {
					return p.message(nil, "Created %s %s", kind, created)
				}
				return p.phases(kind, created, set)
			})
		},
	}
}

func newEntityDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <kind> <id>",
		Short: "Stop tracking an entity and discard its phases",
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
				if err := rt.engine.DeleteEntity(ctx, kind, args[1]); err != nil {
					return err
				}
				return p.message(map[string]any{"kind": kind, "id": args[1], "deleted": true},
					"Deleted %s %s", kind, args[1])
			})
		},
	}
}

func newEntityListCmd() *cobra.Command {
	var match string
	cmd := &cobra.Command{
		Use:   "list <kind>",
		Short: "List tracked entity IDs",
		Long: `List the IDs of every tracked entity of a kind in ascending order.

--match filters IDs with a glob pattern (doublestar syntax, so ** crosses
"/" separators in hierarchical IDs).

Examples:
  phasetrack entity list task
  phasetrack entity list task --match 'T-1*'`,
		Args: cobra.ExactArgs(1),
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
				ids, err := rt.engine.ListEntities(ctx, kind)
				if err != nil {
					return err
				}
				return p.ids(kind, filterIDs(ids, match))
			})
		},
	}
	addMatchFlag(cmd, &match)
	return cmd
}

func addMatchFlag(cmd *cobra.Command, match *string) {
	cmd.Flags().StringVar(match, "match", "", "only show entity IDs matching this glob")
}

func validateMatch(pattern string) error {
	if pattern != "" && !doublestar.ValidatePattern(pattern) {
		return pterrors.ErrInvalidArgument("match", "invalid glob pattern "+pattern)
	}
	return nil
}

// filterIDs keeps ids matching pattern. An empty pattern keeps everything.
func filterIDs(ids []string, pattern string) []string {
	if pattern == "" {
		return ids
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if matchID(pattern, id) {
			out = append(out, id)
		}
	}
	return out
}

func matchID(pattern, id string) bool {
	ok, _ := doublestar.Match(pattern, id)
	return ok
}
