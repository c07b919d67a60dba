package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/participant-enrichment/internal/jobqueue"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show job counts for every queue",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, "stats")
		if err != nil {
			return err
		}
		defer env.Close()

		stats, err := env.Manager.GetQueueStats(ctx)
		if err != nil {
			return err
		}
		formatQueueStats(os.Stdout, stats)
		return nil
	},
}

func formatQueueStats(out io.Writer, stats map[string]jobqueue.Stats) {
	names := make([]string, 0, len(stats))
	for name := range stats {
		names = append(names, name)
	}
	sort.Strings(names)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "QUEUE\tWAITING\tACTIVE\tCOMPLETED\tFAILED")
	_, _ = fmt.Fprintln(w, "-----\t-------\t------\t---------\t------")
	for _, name := range names {
		st := stats[name]
		_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\n", name, st.Waiting, st.Active, st.Completed, st.Failed)
	}
	_ = w.Flush()
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
