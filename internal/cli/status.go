package cli

import (
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var statusDays int

func init() {
	statusCmd.Flags().IntVar(&statusDays, "days", 7, "window for tick statistics")
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show budget, worker health and tick statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		out := cmd.OutOrStdout()
		b := a.Governor.Status()
		fmt.Fprintf(out, "Budget %s: $%.2f of $%.2f (%.0f%%, %s)\n",
			b.Day, b.Global.Used, b.Global.Limit, b.Global.Percent, b.Level)
		codes := make([]string, 0, len(b.Workers))
		for code := range b.Workers {
			codes = append(codes, code)
		}
		sort.Strings(codes)
		for _, code := range codes {
			u := b.Workers[code]
			fmt.Fprintf(out, "  %-14s $%.2f of $%.2f\n", code, u.Used, u.Limit)
		}

		snap, err := a.Scheduler.SystemMetrics(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "\nSystem health %d/100\n", snap.Score)
		fmt.Fprintf(out, "  tasks: %d pending, %d in progress, %d completed and %d failed in 24h\n",
			snap.Tasks.Pending, snap.Tasks.InProgress, snap.Tasks.Completed24h, snap.Tasks.Failed24h)
		for _, w := range snap.Warnings {
			fmt.Fprintf(out, "  ! %s\n", w)
		}

		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "\nWORKER\tROLE\tSTATUS\tDONE\tFAILED\tHEALTH\tCOST")
		for _, w := range snap.PerWorker {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t$%.2f\n",
				w.Code, w.Role, w.Status, w.Completed, w.Failed, w.HealthScore, w.Cost)
		}
		if err := tw.Flush(); err != nil {
			return err
		}

		stats, err := a.Scheduler.Stats(ctx, statusDays)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "\nTicks (%dd): %d, %.0f%% successful, avg %s\n",
			statusDays, stats.Total, stats.SuccessRate*100, stats.AvgDuration)
		if !stats.Last.IsZero() {
			fmt.Fprintf(out, "  last %s, next %s\n", stats.Last.Format("2006-01-02 15:04"), stats.Next.Format("2006-01-02 15:04"))
		}

		summary, err := a.Learner.Summary(ctx)
		if err != nil {
			return err
		}
		if len(summary.TopLearners) > 0 {
			fmt.Fprintf(out, "\nTop learners: %s\n", strings.Join(summary.TopLearners, ", "))
		}
		return nil
	},
}
