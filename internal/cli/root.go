// Package cli implements the phasetrack command-line interface.
package cli

import (
	"github.com/spf13/cobra"
)

var (
	cfgFile      string
	verbose      bool
	quiet        bool
	outputFormat string
)

// newRootCmd builds the command tree. Flag variables are rebound on every
// call, so each tree starts from defaults.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "phasetrack",
		Short: "Track the lifecycle phases of tasks, sprints and projects",
		Long: `phasetrack records which phase each task, sprint and project is in and
enforces legal moves between phase statuses.

Phase sequences:
  task     research → planning → implementation → testing
  sprint   planning → implementation
  project  research → planning

Quick start:
  phasetrack init                          Create .phasetrack/config.yaml
  phasetrack entity create task T-1        Start tracking a task
  phasetrack phases advance task T-1       Move to the next phase
  phasetrack phases show task T-1          Show every phase
  phasetrack analytics                     Aggregate progress`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags
	pf := cmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default is .phasetrack/config.yaml)")
	pf.BoolVarP(&verbose, "verbose", "v", false, "verbose output (debug logging)")
	pf.BoolVarP(&quiet, "quiet", "q", false, "suppress non-essential output")
	pf.StringVarP(&outputFormat, "output", "o", formatTable, "output format: table, json or yaml")

	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newMCPCmd())
	cmd.AddCommand(newEntityCmd())
	cmd.AddCommand(newPhasesCmd())
	cmd.AddCommand(newFindCmd())
	cmd.AddCommand(newAnalyticsCmd())

	return cmd
}

// Execute runs the root command and prints any error.
func Execute() error {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		PrintError(root.ErrOrStderr(), err)
		return err
	}
	return nil
}
