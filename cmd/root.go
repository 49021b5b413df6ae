// Package cmd defines the CLI commands for the tramitador executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rlorentegh/tramitador/internal/app"
	"github.com/rlorentegh/tramitador/internal/config"
	"github.com/rlorentegh/tramitador/internal/logging"
)

var cfgFile string

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tramitador",
		Short: "Claims appeal cases and drives their telematic filing.",
		Long: `tramitador watches the configured case sources, claims eligible
appeal cases under the operator's identity, queues them durably, and works
through the queue by filling the corresponding portal forms.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./tramitador.yaml)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newCycleCmd())
	cmd.AddCommand(newResetTaskCmd())
	cmd.AddCommand(newClearQueuesCmd())

	return cmd
}

// setup loads configuration and builds the logger shared by all commands.
func setup() (config.Config, *zap.Logger, error) {
	path := cfgFile
	if path == "" {
		if _, err := os.Stat("tramitador.yaml"); err == nil {
			path = "tramitador.yaml"
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(logging.Config{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
	})
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("build logger: %w", err)
	}
	return cfg, logger, nil
}

// buildApp wires the application for one command invocation.
func buildApp(cmd *cobra.Command) (*app.App, *zap.Logger, error) {
	cfg, logger, err := setup()
	if err != nil {
		return nil, nil, err
	}
	application, err := app.New(cmd.Context(), cfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("initialize application: %w", err)
	}
	return application, logger, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
