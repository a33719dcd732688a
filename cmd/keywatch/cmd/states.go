package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/good-yellow-bee/keywatch/internal/config"
	"github.com/good-yellow-bee/keywatch/internal/models"
)

var (
	statesProject string
	statesHistory bool
	statesLimit   int
)

var statesCmd = &cobra.Command{
	Use:   "states",
	Short: "Show alarm states or notification history",
	Long: `Show the stored alarm state of every monitor, or with --history the
most recent notifications.

Examples:
  # All alarm states
  keywatch states

  # One project's notification history
  keywatch states --history --project shop --limit 20`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx := context.Background()
		st, err := openStores(ctx, cfg, zap.NewNop())
		if err != nil {
			return err
		}
		defer st.Close()

		if statesHistory {
			return printHistory(ctx, st)
		}

		projects := []string{statesProject}
		if statesProject == "" {
			projects, err = knownProjects(ctx, cfg, st)
			if err != nil {
				return err
			}
		}

		var all []*models.AlarmState
		for _, id := range projects {
			states, err := st.states.List(ctx, id)
			if err != nil {
				return fmt.Errorf("list states for %s: %w", id, err)
			}
			all = append(all, states...)
		}

		if output == "json" {
			return printJSON(all)
		}
		if len(all) == 0 {
			fmt.Println("No alarm states found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "PROJECT\tKEY\tSTATUS\tSTREAK\tDETECTIONS\tLAST DETECTED\tLAST NOTIFIED")
		for _, s := range all {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
				s.ProjectID, s.Key, s.Status, s.CurrentStreak, s.DetectionCount,
				formatLocal(s.LastDetectedAt), formatLocal(s.LastNotifiedAt))
		}
		return w.Flush()
	},
}

func init() {
	statesCmd.Flags().StringVarP(&statesProject, "project", "p", "", "limit to one project")
	statesCmd.Flags().BoolVar(&statesHistory, "history", false, "show notification history")
	statesCmd.Flags().IntVarP(&statesLimit, "limit", "n", 50, "maximum history entries")
	rootCmd.AddCommand(statesCmd)
}

// knownProjects lists project IDs from the monitor file and checkpoints,
// so projects removed from the file still show their last states.
func knownProjects(ctx context.Context, cfg *Config, st *stores) ([]string, error) {
	seen := make(map[string]bool)
	if monitors, err := config.LoadMonitors(cfg.Monitors); err == nil {
		for _, p := range monitors.Projects {
			seen[p.ID] = true
		}
	}
	checkpoints, err := st.checkpoints.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	for id := range checkpoints {
		seen[id] = true
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func printHistory(ctx context.Context, st *stores) error {
	var (
		records []*models.NotificationRecord
		total   int64
		err     error
	)
	if statesProject != "" {
		records, total, err = st.history.ListByProject(ctx, statesProject, statesLimit, 0)
	} else {
		records, total, err = st.history.List(ctx, statesLimit, 0)
	}
	if err != nil {
		return fmt.Errorf("list history: %w", err)
	}

	if output == "json" {
		return printJSON(records)
	}
	if len(records) == 0 {
		fmt.Println("No notifications found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SENT\tPROJECT\tKEY\tACTION\tSEVERITY\tMATCHES\tDESTINATION")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			formatLocal(r.SentAt), r.ProjectID, r.Key, r.Action, r.Severity, r.MatchCount, r.Destination)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Printf("\nShowing %d of %d notification(s)\n", len(records), total)
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatLocal(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
