package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/good-yellow-bee/keywatch/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the application and monitor configuration",
	Long: `Load the application config and the monitor file, then resolve
every enabled project's monitors against the global defaults. Problems
that would fail a project at scan time are reported per project.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		monitors, err := config.LoadMonitors(cfg.Monitors)
		if err != nil {
			return err
		}

		issues := config.Check(monitors)
		for _, issue := range issues {
			fmt.Printf("project %s: %v\n", issue.ProjectID, issue.Err)
		}
		if len(issues) > 0 {
			return fmt.Errorf("%d project(s) have configuration errors", len(issues))
		}

		monitorCount := 0
		for _, p := range monitors.Projects {
			monitorCount += len(p.Monitors)
		}
		fmt.Printf("%s: %d project(s), %d monitor(s) OK\n", cfg.Monitors, len(monitors.Projects), monitorCount)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
