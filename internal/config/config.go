// Package config handles configuration loading and management for crew.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ProjectConfigName is the file crew looks for when walking up from the
// working directory.
const ProjectConfigName = ".crew.yaml"

// Config holds all configuration for crew.
type Config struct {
	Anthropic AnthropicConfig `mapstructure:"anthropic"`
	Defaults  DefaultsConfig  `mapstructure:"defaults"`
	Runner    RunnerConfig    `mapstructure:"runner"`
	Storage   StorageConfig   `mapstructure:"storage"`
	TUI       TUIConfig       `mapstructure:"tui"`
}

// AnthropicConfig holds Anthropic API settings for the Claude runner.
type AnthropicConfig struct {
	APIKey     string `mapstructure:"api_key"`
	Model      string `mapstructure:"model"`
	UseBedrock bool   `mapstructure:"use_bedrock"`
	AWSRegion  string `mapstructure:"aws_region"`
	AWSProfile string `mapstructure:"aws_profile"`
}

// DefaultsConfig holds default values for coordination runs.
type DefaultsConfig struct {
	// MaxParallel bounds how many tasks execute at once within a level.
	MaxParallel int `mapstructure:"max_parallel"`
	// MaxIterations bounds rework cycles per task.
	MaxIterations int `mapstructure:"max_iterations"`
}

// RunnerConfig selects how individual tasks are executed.
type RunnerConfig struct {
	// Kind is one of noop, command, claude.
	Kind string `mapstructure:"kind"`
	// Command is the shell command for kind=command.
	Command string `mapstructure:"command"`
	// WorkDir is the working directory for kind=command.
	WorkDir string `mapstructure:"workdir"`
}

// StorageConfig holds persistence locations.
type StorageConfig struct {
	// DataDir is where the state database, archive, logs and signal
	// files live.
	DataDir string `mapstructure:"data_dir"`
}

// TUIConfig holds dashboard display settings.
type TUIConfig struct {
	RefreshRate time.Duration `mapstructure:"refresh_rate"`
}

// StatePath returns the snapshot database path under the data dir.
func (c *Config) StatePath() string {
	return filepath.Join(c.Storage.DataDir, "state.db")
}

// ArchivePath returns the archive ledger path under the data dir.
func (c *Config) ArchivePath() string {
	return filepath.Join(c.Storage.DataDir, "archive.db")
}

// LogDir returns the debug log directory under the data dir.
func (c *Config) LogDir() string {
	return filepath.Join(c.Storage.DataDir, "logs")
}

// SignalDir returns the directory watched for pause/resume/stop marker
// files during a run.
func (c *Config) SignalDir() string {
	return filepath.Join(c.Storage.DataDir, "signals")
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (CREW_* and ANTHROPIC_API_KEY)
// 2. Project config (.crew.yaml in current directory or parent)
// 3. User config (~/.config/crew/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	// Project config takes precedence over the user config.
	projectConfig := findProjectConfig()
	if projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	// Environment variable overrides
	v.SetEnvPrefix("CREW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.BindEnv("anthropic.api_key", "ANTHROPIC_API_KEY")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Expand ${VAR} references
	cfg.Anthropic.APIKey = expandEnv(cfg.Anthropic.APIKey)

	return cfg, nil
}

// LoadFromPath loads configuration from a specific path (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Anthropic.APIKey = expandEnv(cfg.Anthropic.APIKey)

	return cfg, nil
}

// Save writes the current configuration to the user config file.
func Save(cfg *Config) error {
	userConfigDir := getUserConfigDir()
	if err := os.MkdirAll(userConfigDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	configPath := filepath.Join(userConfigDir, "config.yaml")

	v := viper.New()
	v.SetConfigFile(configPath)

	v.Set("anthropic.api_key", cfg.Anthropic.APIKey)
	v.Set("anthropic.model", cfg.Anthropic.Model)
	v.Set("anthropic.use_bedrock", cfg.Anthropic.UseBedrock)
	v.Set("anthropic.aws_region", cfg.Anthropic.AWSRegion)
	v.Set("anthropic.aws_profile", cfg.Anthropic.AWSProfile)
	v.Set("defaults.max_parallel", cfg.Defaults.MaxParallel)
	v.Set("defaults.max_iterations", cfg.Defaults.MaxIterations)
	v.Set("runner.kind", cfg.Runner.Kind)
	v.Set("runner.command", cfg.Runner.Command)
	v.Set("runner.workdir", cfg.Runner.WorkDir)
	v.Set("storage.data_dir", cfg.Storage.DataDir)
	v.Set("tui.refresh_rate", cfg.TUI.RefreshRate.String())

	return v.WriteConfig()
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	// Anthropic defaults
	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.model", "")
	v.SetDefault("anthropic.use_bedrock", false)
	v.SetDefault("anthropic.aws_region", "")
	v.SetDefault("anthropic.aws_profile", "")

	// Run defaults
	v.SetDefault("defaults.max_parallel", 3)
	v.SetDefault("defaults.max_iterations", 3)

	// Runner defaults
	v.SetDefault("runner.kind", "noop")
	v.SetDefault("runner.command", "")
	v.SetDefault("runner.workdir", "")

	// Storage defaults
	v.SetDefault("storage.data_dir", defaultDataDir())

	// TUI defaults
	v.SetDefault("tui.refresh_rate", "100ms")
}

// defaultDataDir returns the XDG data directory for crew.
func defaultDataDir() string {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "crew")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".local", "share", "crew")
	}
	return filepath.Join(home, ".local", "share", "crew")
}

// getUserConfigDir returns the XDG config directory for crew.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "crew")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "crew")
	}
	return filepath.Join(home, ".config", "crew")
}

// findProjectConfig searches for .crew.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ProjectConfigName)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// expandEnv expands ${VAR} references in a string.
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Anthropic: AnthropicConfig{},
		Defaults: DefaultsConfig{
			MaxParallel:   3,
			MaxIterations: 3,
		},
		Runner: RunnerConfig{
			Kind: "noop",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		TUI: TUIConfig{
			RefreshRate: 100 * time.Millisecond,
		},
	}
}
