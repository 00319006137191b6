// Package config handles drover configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config is the root configuration structure for drover.
type Config struct {
	// Global settings
	Global GlobalConfig `yaml:"global" mapstructure:"global"`

	// Logging settings
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`

	// Engine settings
	Engine EngineConfig `yaml:"engine" mapstructure:"engine"`

	// Agents settings
	Agents AgentsConfig `yaml:"agents" mapstructure:"agents"`

	// Issues settings
	Issues IssuesConfig `yaml:"issues" mapstructure:"issues"`
}

// GlobalConfig contains global drover settings.
type GlobalConfig struct {
	// DataDir is where drover stores its state document and loop logs
	// (default: ~/.local/share/drover).
	DataDir string `yaml:"data_dir" mapstructure:"data_dir"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string `yaml:"level" mapstructure:"level"`

	// Format is the output format (json, console).
	Format string `yaml:"format" mapstructure:"format"`

	// File is an optional log file path.
	File string `yaml:"file" mapstructure:"file"`
}

// EngineConfig contains loop engine settings.
type EngineConfig struct {
	// DefaultAgent selects the adapter used when a loop does not name one.
	DefaultAgent string `yaml:"default_agent" mapstructure:"default_agent"`

	// TailPollMs is the journal tailer poll interval in milliseconds.
	TailPollMs int `yaml:"tail_poll_ms" mapstructure:"tail_poll_ms"`

	// SummaryMaxChars bounds the cross-session resume summary.
	SummaryMaxChars int `yaml:"summary_max_chars" mapstructure:"summary_max_chars"`

	// StopGraceSeconds is how long to wait after terminate before kill.
	StopGraceSeconds int `yaml:"stop_grace_seconds" mapstructure:"stop_grace_seconds"`
}

// AgentsConfig contains per-adapter settings.
type AgentsConfig struct {
	// GenericCommand is the command template for the generic adapter.
	GenericCommand string `yaml:"generic_command" mapstructure:"generic_command"`
}

// IssuesConfig contains issue tracker settings.
type IssuesConfig struct {
	// TimeoutSeconds bounds external tracker calls.
	TimeoutSeconds int `yaml:"timeout_seconds" mapstructure:"timeout_seconds"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	dataDir := "~/.local/share/drover"
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		dataDir = filepath.Join(xdg, "drover")
	}

	return &Config{
		Global: GlobalConfig{
			DataDir: dataDir,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Engine: EngineConfig{
			DefaultAgent:     "claude",
			TailPollMs:       250,
			SummaryMaxChars:  2000,
			StopGraceSeconds: 2,
		},
		Agents: AgentsConfig{},
		Issues: IssuesConfig{
			TimeoutSeconds: 30,
		},
	}
}

// Validate checks the configuration for contradictions.
func (c *Config) Validate() error {
	if c.Global.DataDir == "" {
		return fmt.Errorf("global.data_dir is required")
	}
	if c.Engine.TailPollMs < 0 {
		return fmt.Errorf("engine.tail_poll_ms must be >= 0")
	}
	if c.Engine.SummaryMaxChars < 0 {
		return fmt.Errorf("engine.summary_max_chars must be >= 0")
	}
	if c.Engine.StopGraceSeconds < 0 {
		return fmt.Errorf("engine.stop_grace_seconds must be >= 0")
	}
	if c.Issues.TimeoutSeconds < 0 {
		return fmt.Errorf("issues.timeout_seconds must be >= 0")
	}
	return nil
}

// StatePath returns the path of the persistent state document.
func (c *Config) StatePath() string {
	return filepath.Join(c.Global.DataDir, "state.json")
}

// LoopsDir returns the directory holding per-loop journals.
func (c *Config) LoopsDir() string {
	return filepath.Join(c.Global.DataDir, "loops")
}

// TailPollInterval returns the tailer poll interval as a duration.
func (c *Config) TailPollInterval() time.Duration {
	if c.Engine.TailPollMs <= 0 {
		return 250 * time.Millisecond
	}
	return time.Duration(c.Engine.TailPollMs) * time.Millisecond
}

// StopGrace returns the terminate-to-kill grace period.
func (c *Config) StopGrace() time.Duration {
	if c.Engine.StopGraceSeconds <= 0 {
		return 2 * time.Second
	}
	return time.Duration(c.Engine.StopGraceSeconds) * time.Second
}

// IssueTimeout returns the external tracker call timeout.
func (c *Config) IssueTimeout() time.Duration {
	if c.Issues.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Issues.TimeoutSeconds) * time.Second
}
