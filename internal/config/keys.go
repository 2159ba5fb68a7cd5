package config

import (
	"errors"
	"os"
	"strings"
)

// APIKeyEnv is the variable the worker CLI reads its key from.
const APIKeyEnv = "ANTHROPIC_API_KEY"

// ErrNoAPIKey is returned when no API key is configured. The worker may still
// authenticate through its own login.
var ErrNoAPIKey = errors.New("no Anthropic API key configured")

// GetAPIKey returns the key the worker should run with.
// It checks in order: environment variable, config file.
func GetAPIKey(cfg *Config) (string, error) {
	if key := os.Getenv(APIKeyEnv); key != "" {
		return key, nil
	}

	if cfg != nil && cfg.Worker.APIKey != "" {
		key := os.ExpandEnv(cfg.Worker.APIKey)
		if key != "" && !strings.HasPrefix(key, "${") {
			return key, nil
		}
	}

	return "", ErrNoAPIKey
}

// WorkerEnv returns extra environment entries for the worker process.
func WorkerEnv(cfg *Config) []string {
	if os.Getenv(APIKeyEnv) != "" {
		return nil
	}
	key, err := GetAPIKey(cfg)
	if err != nil {
		return nil
	}
	return []string{APIKeyEnv + "=" + key}
}

// MaskAPIKey returns a masked version of the API key for display.
// Shows the first 7 characters (sk-ant-) and last 4 characters.
func MaskAPIKey(key string) string {
	if key == "" {
		return "(not set)"
	}

	if len(key) <= 15 {
		return "***"
	}

	return key[:7] + "..." + key[len(key)-4:]
}

// KeySource represents where an API key was loaded from.
type KeySource string

const (
	KeySourceEnv    KeySource = "environment"
	KeySourceConfig KeySource = "config_file"
	KeySourceNone   KeySource = "worker login"
)

// GetAPIKeySource returns where the API key was sourced from.
func GetAPIKeySource(cfg *Config) KeySource {
	if os.Getenv(APIKeyEnv) != "" {
		return KeySourceEnv
	}

	if cfg != nil && cfg.Worker.APIKey != "" {
		key := os.ExpandEnv(cfg.Worker.APIKey)
		if key != "" && !strings.HasPrefix(key, "${") {
			return KeySourceConfig
		}
	}

	return KeySourceNone
}
