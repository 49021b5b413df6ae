package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newResetTaskCmd creates the 'reset-task' subcommand. Resetting is the only
// way a processed task becomes eligible for dequeue again.
func newResetTaskCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset-task <task-id>",
		Short: "Returns a task to pending so it is processed again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			application, logger, err := buildApp(cmd)
			if err != nil {
				return err
			}
			defer func() {
				_ = application.Close()
				_ = logger.Sync()
			}()

			taskID := args[0]
			if err := application.Tasks().ResetTask(cmd.Context(), taskID); err != nil {
				return fmt.Errorf("reset task %s: %w", taskID, err)
			}
			logger.Info("task reset to pending", zap.String("task_id", taskID))
			return nil
		},
	}
}

// newClearQueuesCmd creates the 'clear-queues' subcommand. Non-terminal rows
// are marked failed and retained; nothing is deleted.
func newClearQueuesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear-queues",
		Short: "Marks every queued task failed, keeping the rows for audit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			application, logger, err := buildApp(cmd)
			if err != nil {
				return err
			}
			defer func() {
				_ = application.Close()
				_ = logger.Sync()
			}()

			cleared, err := application.Tasks().ClearQueues(cmd.Context())
			if err != nil {
				return fmt.Errorf("clear queues: %w", err)
			}
			logger.Info("queues cleared", zap.Int64("tasks_failed", cleared))
			return nil
		},
	}
}
