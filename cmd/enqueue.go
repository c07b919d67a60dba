package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sells-group/participant-enrichment/internal/enrichment"
	"github.com/sells-group/participant-enrichment/internal/model"
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue",
	Short: "Queue enrichment, auto-match or bulk enrichment work",
}

// -- enqueue enrich --

var enqueueEnrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Queue a provider lookup for one participant",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, "enqueue")
		if err != nil {
			return err
		}
		defer env.Close()

		org, _ := cmd.Flags().GetString("org")
		participant, _ := cmd.Flags().GetString("participant")
		priority, _ := cmd.Flags().GetString("priority")
		sources, _ := cmd.Flags().GetStringSlice("sources")

		job, err := env.Manager.EnqueueEnrichment(ctx, enrichment.EnrichRequest{
			ParticipantID:  participant,
			OrganizationID: org,
			Sources:        toSources(sources),
			Priority:       model.Priority(priority),
		})
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(os.Stdout, "queued job %s on %s\n", job.ID, job.Queue)
		return nil
	},
}

// -- enqueue automatch --

var enqueueAutoMatchCmd = &cobra.Command{
	Use:   "automatch",
	Short: "Schedule recurring auto-match for an organization and run it now",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, "enqueue")
		if err != nil {
			return err
		}
		defer env.Close()

		org, _ := cmd.Flags().GetString("org")
		lookback, _ := cmd.Flags().GetInt("lookback")
		remove, _ := cmd.Flags().GetBool("remove")

		if remove {
			ok, err := env.Manager.RemoveAutoMatch(ctx, org)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(os.Stdout, "schedule removed: %t\n", ok)
			return nil
		}

		sched, err := env.Manager.EnqueueAutoMatch(ctx, org, lookback)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(os.Stdout, "schedule %s (%s), next run %s\n",
			sched.Key, sched.Spec, sched.NextRunAt.Format("2006-01-02 15:04 MST"))
		return nil
	},
}

// -- enqueue bulk --

var enqueueBulkCmd = &cobra.Command{
	Use:   "bulk <participant-id>...",
	Short: "Queue enrichment for many participants through one source",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, "enqueue")
		if err != nil {
			return err
		}
		defer env.Close()

		org, _ := cmd.Flags().GetString("org")
		source, _ := cmd.Flags().GetString("source")
		batch, _ := cmd.Flags().GetInt("batch-size")

		job, err := env.Manager.EnqueueBulkEnrichment(ctx, enrichment.BulkRequest{
			OrganizationID: org,
			ParticipantIDs: args,
			Source:         model.Source(source),
			BatchSize:      batch,
		})
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(os.Stdout, "queued bulk job %s for %d participants\n", job.ID, len(args))
		return nil
	},
}

func toSources(names []string) []model.Source {
	out := make([]model.Source, 0, len(names))
	for _, n := range names {
		out = append(out, model.Source(n))
	}
	return out
}

func init() {
	enqueueEnrichCmd.Flags().String("org", "", "organization id (required)")
	enqueueEnrichCmd.Flags().String("participant", "", "participant id (required)")
	enqueueEnrichCmd.Flags().String("priority", "medium", "high, medium or low")
	enqueueEnrichCmd.Flags().StringSlice("sources", nil, "provider chain, in order (default from config)")
	_ = enqueueEnrichCmd.MarkFlagRequired("org")
	_ = enqueueEnrichCmd.MarkFlagRequired("participant")

	enqueueAutoMatchCmd.Flags().String("org", "", "organization id (required)")
	enqueueAutoMatchCmd.Flags().Int("lookback", 0, "days of meetings to sweep (default from config)")
	enqueueAutoMatchCmd.Flags().Bool("remove", false, "delete the recurring schedule instead")
	_ = enqueueAutoMatchCmd.MarkFlagRequired("org")

	enqueueBulkCmd.Flags().String("org", "", "organization id (required)")
	enqueueBulkCmd.Flags().String("source", "", "single provider to use (default chain when empty)")
	enqueueBulkCmd.Flags().Int("batch-size", 0, "participants per batch (default from config)")
	_ = enqueueBulkCmd.MarkFlagRequired("org")

	enqueueCmd.AddCommand(enqueueEnrichCmd, enqueueAutoMatchCmd, enqueueBulkCmd)
	rootCmd.AddCommand(enqueueCmd)
}
