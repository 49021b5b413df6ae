package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newCycleCmd creates the 'cycle' subcommand, which performs exactly one
// arbitrate-and-refill pass and exits. Useful from cron and for debugging a
// single source.
func newCycleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cycle",
		Short: "Runs a single refill cycle and exits",
		RunE: func(cmd *cobra.Command, _ []string) error {
			application, logger, err := buildApp(cmd)
			if err != nil {
				return err
			}
			defer func() {
				_ = application.Close()
				_ = logger.Sync()
			}()

			if err := application.Cycle(cmd.Context()); err != nil {
				logger.Error("refill cycle failed", zap.Error(err))
				return err
			}
			logger.Info("refill cycle complete")
			return nil
		},
	}
}
