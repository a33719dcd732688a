package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/good-yellow-bee/keywatch/internal/alerting"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run a single scan",
	Long: `Run one scan over every enabled project and print the report.
Alarm states, checkpoints and notifications behave exactly as in a
scheduled run.

Exits non-zero when any project failed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger, err := newLogger(cfg)
		if err != nil {
			return err
		}
		defer logger.Sync()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		eng, err := newEngine(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer eng.Close()

		report, err := eng.newScheduler().RunOnce(ctx)
		if err != nil {
			return fmt.Errorf("scan: %w", err)
		}

		if err := printReport(report); err != nil {
			return err
		}
		if report.Stats().ProjectsFailed > 0 {
			return fmt.Errorf("%d project(s) failed", report.Stats().ProjectsFailed)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(scanCmd)
}

func printReport(report *alerting.RunReport) error {
	if output == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PROJECT\tKEY\tACTION\tMATCHES\tEXCLUDED\tNOTIFIED\tDESTINATION")
	for _, p := range report.Projects {
		if p.Skipped {
			fmt.Fprintf(w, "%s\t-\tSKIPPED\t-\t-\t-\t%s\n", p.ProjectID, p.SkipReason)
			continue
		}
		for _, r := range p.Results {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%t\t%s\n",
				p.ProjectID, r.Key, r.Action, r.MatchCount, r.Excluded, r.Notified, r.Destination)
		}
		for _, e := range p.Errors {
			key := e.Key
			if key == "" {
				key = "-"
			}
			fmt.Fprintf(w, "%s\t%s\tERROR\t-\t-\t-\t%s\n", p.ProjectID, key, e.Message)
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}

	stats := report.Stats()
	fmt.Printf("\nRun %s %s: %d processed, %d failed, %d skipped, %d notification(s)\n",
		report.ID, report.Status, stats.ProjectsProcessed, stats.ProjectsFailed,
		stats.ProjectsSkipped, stats.Notifications)
	return nil
}
