// Package cli implements the hq command-line interface using Cobra.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aristath/hq/internal/app"
	"github.com/aristath/hq/internal/config"
)

var (
	projectConfig string
	storePath     string
)

var rootCmd = &cobra.Command{
	Use:   "hq",
	Short: "hq runs a team of AI workers on a shared task queue",
	Long: `hq is an autonomous orchestration engine. A periodic tick heals stuck
state, dispatches executable tasks to workers under budget and health
admission, learns from the results and refills a thin queue.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&projectConfig, "config", config.ProjectPath, "project config file")
	rootCmd.PersistentFlags().StringVar(&storePath, "db", "", "SQLite database path (overrides config)")
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	rootCmd.Version = version

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig reads the global and project files and applies flag overrides.
func loadConfig() (*config.Config, error) {
	global, err := config.GlobalPath()
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(global, projectConfig)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if storePath != "" {
		cfg.Store.Path = storePath
	}
	return cfg, nil
}

// openApp loads the configuration and builds the engine.
func openApp(ctx context.Context) (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg)
}
