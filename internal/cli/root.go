// Package cli implements the drover command line operator surface.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/droverhq/drover/internal/config"
	"github.com/droverhq/drover/internal/engine"
	"github.com/droverhq/drover/internal/issue"
	"github.com/droverhq/drover/internal/logging"
)

var (
	flagConfigFile string
	flagDataDir    string
)

var rootCmd = &cobra.Command{
	Use:           "drover",
	Short:         "Supervise agent loops driving tracked issues to completion",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfigFile, "config", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&flagDataDir, "data-dir", "", "override data directory")
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig loads configuration honoring the global flags.
func loadConfig() (*config.Config, error) {
	loader := config.NewLoader()
	if flagConfigFile != "" {
		loader.SetConfigFile(flagConfigFile)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}
	if flagDataDir != "" {
		cfg.Global.DataDir = flagDataDir
	}
	if err := logging.Setup(logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		File:   cfg.Logging.File,
	}); err != nil {
		return nil, fmt.Errorf("logging setup: %w", err)
	}
	return cfg, nil
}

// newEngine builds the engine for one CLI invocation. Loops started in
// this invocation are supervised until it exits. Lifecycle commands
// issued from another invocation reach a live child through the pid
// recorded in the state document (pause/resume/stop); interventions
// need the owning invocation's stdin pipe and say so. Loops left behind
// by a crashed supervisor are reclaimed by the orphan sweep.
func newEngine() (*engine.Engine, *config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if err := os.MkdirAll(cfg.Global.DataDir, 0o755); err != nil {
		return nil, nil, err
	}
	tracker := issue.NewGitHubTracker(cfg.IssueTimeout())
	return engine.New(cfg, tracker, nil), cfg, nil
}
