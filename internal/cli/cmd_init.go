package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/phasetrack/internal/config"
)

// newInitCmd creates the init command
func newInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create .phasetrack/config.yaml in the current directory",
		Long: `Create .phasetrack/config.yaml with default settings.

The default configuration stores entities in .phasetrack/phasetrack.db
(SQLite). Switch database.driver to postgres to share one database between
several machines.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.Init(".", force)
			if err != nil {
				return err
			}
			if !quiet {
				fmt.Fprintf(cmd.OutOrStdout(), "Initialized phasetrack config at %s\n", path)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing config")
	return cmd
}
