package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/aretw0/stepflow"
	"github.com/aretw0/stepflow/internal/cli"
	"github.com/aretw0/stepflow/internal/config"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "stepflow",
	Short: "Stepflow runs multi-step wizard flows",
	Long: `Stepflow drives wizard flows (onboarding, revision sessions) step by step and
completes them with a single backend RPC. Flows can be run in the terminal, served over
HTTP or exposed to AI agents through MCP.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "Config file (default ./stepflow.yaml or ~/.config/stepflow/stepflow.yaml)")
	pf.String("log-level", "info", "Log level: debug, info, warn, error")
	pf.String("log-format", "text", "Log format: text or json")
	pf.String("flows", "", "Directory of flow files loaded next to the built-in flows")
	pf.String("backend-url", "", "Base URL of the PostgREST backend (empty serves calls in memory)")
	pf.String("redis-addr", "", "Redis address for instance snapshots")
	pf.String("store-dir", "", "Directory for instance snapshots when Redis is not used")
	pf.Bool("trace", false, "Export RPC spans to stdout or tracing.output")
}

// loadConfig reads configuration with the command's flags bound over file and env values.
func loadConfig(cmd *cobra.Command) (config.Config, *slog.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path, cmd.Flags())
	if err != nil {
		return config.Config{}, nil, err
	}
	logger, err := cli.NewLogger(cfg)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, logger, nil
}

// loadApp builds the application from configuration.
func loadApp(ctx context.Context, cmd *cobra.Command) (*cli.App, error) {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return cli.NewApp(ctx, cfg, logger, stepflow.Version)
}
