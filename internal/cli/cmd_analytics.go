package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/phasetrack/internal/phase"
	"github.com/randalmurphal/phasetrack/internal/tracker"
)

// newAnalyticsCmd creates the analytics command
func newAnalyticsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "analytics [kind]",
		Short: "Aggregate phase statuses across entities",
		Long: `Aggregate phase statuses for one entity kind, or for every kind.

For each phase the number of entities in each status is shown, along with
the number of entities with at least one blocked phase and the average
completion percentage.

--limit caps how many entities (in ID order) are scanned per kind. Zero
or a negative value scans all of them. Without --limit the
analytics.default_limit setting applies.

Examples:
  phasetrack analytics
  phasetrack analytics task --limit 500 -o json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var kind phase.EntityKind
			if len(args) == 1 {
				k, err := phase.ParseEntityKind(args[0])
				if err != nil {
					return err
				}
				kind = k
			}
			p, err := newPrinter(cmd.OutOrStdout())
			if err != nil {
				return err
			}
			return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				n := rt.cfg.Analytics.DefaultLimit
				if cmd.Flags().Changed("limit") {
					n = limit
				}
				if kind != "" {
					a, err := rt.engine.GetPhaseAnalytics(ctx, kind, n)
					if err != nil {
						return err
					}
					return p.analytics([]tracker.Analytics{a})
				}
				byKind, err := rt.engine.GetAllAnalytics(ctx, n)
				if err != nil {
					return err
				}
				all := make([]tracker.Analytics, 0, len(phase.AllKinds))
				for _, k := range phase.AllKinds {
					a, ok := byKind[k]
					if !ok {
						return fmt.Errorf("analytics missing for %s", k)
					}
					all = append(all, a)
				}
				return p.analytics(all)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "max entities scanned per kind (<= 0 for all)")
	return cmd
}
