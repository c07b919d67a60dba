package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var workOnce bool

var workCmd = &cobra.Command{
	Use:   "work",
	Short: "Run queue workers and the auto-match scheduler without the HTTP API",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "work")
		if err != nil {
			return err
		}
		defer env.Close()

		if workOnce {
			n, err := env.Manager.Drain(ctx)
			zap.L().Info("drained ready jobs", zap.Int("jobs", n))
			return err
		}
		return env.Manager.Run(ctx)
	},
}

func init() {
	workCmd.Flags().BoolVar(&workOnce, "once", false, "process every ready job, then exit")
	rootCmd.AddCommand(workCmd)
}
