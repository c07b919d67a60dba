package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/participant-enrichment/internal/history"
	"github.com/sells-group/participant-enrichment/internal/model"
)

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Summarize enrichment history for an organization",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, "summary")
		if err != nil {
			return err
		}
		defer env.Close()

		org, _ := cmd.Flags().GetString("org")
		days, _ := cmd.Flags().GetInt("days")

		sum, err := env.Manager.Summary(ctx, org, days)
		if err != nil {
			return err
		}
		formatSummary(os.Stdout, sum)
		return nil
	},
}

func formatSummary(out io.Writer, s *history.Summary) {
	_, _ = fmt.Fprintf(out, "Organization: %s (since %s)\n", s.OrganizationID, s.Since.Format("2006-01-02"))
	_, _ = fmt.Fprintf(out, "Participants: %d", s.Participants)
	for _, st := range model.AllStatuses() {
		_, _ = fmt.Fprintf(out, "  %s=%d", st, s.StatusCounts[st])
	}
	_, _ = fmt.Fprintln(out)
	_, _ = fmt.Fprintf(out, "Match rate: %.1f%%  (auto %.1f%%, manual %.1f%%, api %.1f%%)\n",
		s.MatchRate, s.AutoMatchRate, s.ManualMatchRate, s.APIRate)
	_, _ = fmt.Fprintf(out, "Cost: %d cents total, %.2f per success\n\n", s.TotalCostCents, s.AvgCostCents)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "SOURCE\tATTEMPTS\tSUCCESS\tFAILED\tRATE\tCOST\tAVG_COST")
	_, _ = fmt.Fprintln(w, "------\t--------\t-------\t------\t----\t----\t--------")
	for _, src := range s.Sources {
		_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%.1f%%\t%d\t%.2f\n",
			src.Source, src.Attempts, src.Successes, src.Failures, src.SuccessRate, src.TotalCostCents, src.AvgCostCents)
	}
	_ = w.Flush()
}

func init() {
	summaryCmd.Flags().String("org", "", "organization id (required)")
	summaryCmd.Flags().Int("days", history.DefaultSummaryDays, "days of history to include")
	_ = summaryCmd.MarkFlagRequired("org")
	rootCmd.AddCommand(summaryCmd)
}
