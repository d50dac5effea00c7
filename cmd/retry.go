package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"social-publisher/domain/model"
	"social-publisher/infrastructure/logger"

	"github.com/spf13/cobra"
)

func RetryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry <taskId>",
		Short: "Move a failed publish task back to the queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := contextOrBackground(cmd.Context())
			app, err := NewApp(ctx)
			if err != nil {
				return err
			}
			defer func() {
				closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				app.Close(closeCtx)
			}()

			t, err := app.Tasks.GetByID(ctx, args[0])
			if err != nil {
				return err
			}
			if t.Status != model.StatusFailed {
				return fmt.Errorf("%w: task %s is %s", model.ErrInvalidTransition, t.ID, t.Status)
			}
			next, err := app.Scheduler.Requeue(ctx, t)
			if errors.Is(err, model.ErrInvalidTransition) {
				return fmt.Errorf("task %s changed while retrying: %w", t.ID, err)
			}
			if err != nil {
				return err
			}
			logger.GetLogger().WithField("task_id", next.ID).WithField("status", next.Status).Info("Task requeued")
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", next.ID, next.Status)
			return nil
		},
	}
}
