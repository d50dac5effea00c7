package cmd

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"social-publisher/infrastructure/configuration"
	"social-publisher/infrastructure/logger"
	"social-publisher/infrastructure/telemetry"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func WorkerCmd() *cobra.Command {
	workerCmd := &cobra.Command{
		Use:   "worker",
		Short: "Manage publish worker processes",
	}

	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Run publish workers and the due-task scheduler without the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if count, _ := cmd.Flags().GetInt("count"); count > 0 {
				configuration.C.Orchestrator.Workers = count
			}
			ctx, stop := signal.NotifyContext(contextOrBackground(cmd.Context()), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			shutdownMetrics, err := telemetry.Setup(ctx, time.Minute)
			if err != nil {
				return err
			}
			app, err := NewApp(ctx)
			if err != nil {
				return err
			}
			logger.GetLogger().Info("Press Ctrl+C to shut down gracefully.")

			g, gctx := errgroup.WithContext(ctx)
			startBackground(gctx, g, app)
			err = g.Wait()

			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			app.Close(closeCtx)
			_ = shutdownMetrics(closeCtx)
			logger.GetLogger().Info("All workers have shut down.")
			return err
		},
	}
	startCmd.Flags().Int("count", 0, "Number of workers (defaults to orchestrator.workers)")
	workerCmd.AddCommand(startCmd)

	return workerCmd
}
