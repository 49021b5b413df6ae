package cmd

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newServeCmd creates the 'serve' subcommand, the normal deployment mode: the
// refill loop, the worker loop and the operations API all run until stopped.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Runs the orchestrator, the worker and the operations API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			application, logger, err := buildApp(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			if err := application.Run(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("application run failed", zap.Error(err))
				return err
			}
			return nil
		},
	}
}
