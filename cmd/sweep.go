package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one auto-match sweep for an organization now",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, "sweep")
		if err != nil {
			return err
		}
		defer env.Close()

		org, _ := cmd.Flags().GetString("org")
		lookback, _ := cmd.Flags().GetInt("lookback")

		res, err := env.Manager.Sweep(ctx, org, lookback)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(os.Stdout, "processed %d pending participants, matched %d\n", res.Processed, res.Matched)
		return nil
	},
}

func init() {
	sweepCmd.Flags().String("org", "", "organization id (required)")
	sweepCmd.Flags().Int("lookback", 0, "days of meetings to sweep (default from config)")
	_ = sweepCmd.MarkFlagRequired("org")
	rootCmd.AddCommand(sweepCmd)
}
