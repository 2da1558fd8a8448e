package config

import (
	"errors"
	"os"
	"strings"
)

// ErrNoAPIKey means neither the environment nor the config file carries
// an Anthropic API key.
var ErrNoAPIKey = errors.New("no Anthropic API key configured")

// KeySource says where an API key was found.
type KeySource string

const (
	KeySourceEnv    KeySource = "environment"
	KeySourceConfig KeySource = "config file"
	KeySourceNone   KeySource = "none"
)

// ResolveAPIKey finds the Anthropic API key for the claude runner and
// reports where it came from. The ANTHROPIC_API_KEY environment variable
// wins over the config file; config values may reference environment
// variables ($VAR or ${VAR}), which are expanded before use.
func ResolveAPIKey(cfg *Config) (string, KeySource, error) {
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		return key, KeySourceEnv, nil
	}
	if cfg != nil && cfg.Anthropic.APIKey != "" {
		key := os.ExpandEnv(cfg.Anthropic.APIKey)
		if key != "" && !strings.HasPrefix(key, "${") {
			return key, KeySourceConfig, nil
		}
	}
	return "", KeySourceNone, ErrNoAPIKey
}

// MaskAPIKey renders a key safe for terminal output, keeping the
// sk-ant- prefix and the last four characters.
func MaskAPIKey(key string) string {
	if key == "" {
		return "(not set)"
	}
	if len(key) <= 15 {
		return "***"
	}
	return key[:7] + "..." + key[len(key)-4:]
}
