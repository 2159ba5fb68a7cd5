// Package config handles configuration loading and management for shepherd.
// It supports XDG config paths, project-level overrides, .env files and
// SHEPHERD_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.yaml.in/yaml/v3"
)

// ProjectConfigName is the per-repository config file searched upward from cwd.
const ProjectConfigName = ".shepherd.yaml"

// EnvPrefix is the prefix for environment overrides (SHEPHERD_LOOP_MAX_ATTEMPTS).
const EnvPrefix = "SHEPHERD"

// Failure policies applied after an invocation exhausts its attempts.
const (
	FailurePolicyLeave = "leave"
	FailurePolicySkip  = "skip"
)

// Config holds all configuration for shepherd.
type Config struct {
	StateDir    string            `mapstructure:"state_dir" yaml:"state_dir"`
	Worker      WorkerConfig      `mapstructure:"worker" yaml:"worker"`
	Loop        LoopConfig        `mapstructure:"loop" yaml:"loop"`
	RateLimit   RateLimitConfig   `mapstructure:"rate_limit" yaml:"rate_limit"`
	Interpreter InterpreterConfig `mapstructure:"interpreter" yaml:"interpreter"`
	Workspace   WorkspaceConfig   `mapstructure:"workspace" yaml:"workspace"`
	RPC         RPCConfig         `mapstructure:"rpc" yaml:"rpc"`
	TUI         TUIConfig         `mapstructure:"tui" yaml:"tui"`
}

// WorkerConfig describes how the worker CLI is invoked.
type WorkerConfig struct {
	Command        string        `mapstructure:"command" yaml:"command"`
	Model          string        `mapstructure:"model" yaml:"model"`
	PermissionMode string        `mapstructure:"permission_mode" yaml:"permission_mode"`
	ExtraArgs      []string      `mapstructure:"extra_args" yaml:"extra_args,omitempty"`
	Timeout        time.Duration `mapstructure:"timeout" yaml:"timeout"`
	// APIKey is passed to the worker as ANTHROPIC_API_KEY when set.
	APIKey string `mapstructure:"api_key" yaml:"api_key,omitempty"`
}

// LoopConfig holds orchestration loop timing and failure policy.
type LoopConfig struct {
	AutoContinueDelay   time.Duration `mapstructure:"auto_continue_delay" yaml:"auto_continue_delay"`
	PollInterval        time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	MaxAttempts         int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	FailurePolicy       string        `mapstructure:"failure_policy" yaml:"failure_policy"`
	SignalCheckInterval time.Duration `mapstructure:"signal_check_interval" yaml:"signal_check_interval"`
}

// RateLimitConfig bounds the wait computed from a worker's reset message.
type RateLimitConfig struct {
	FallbackWait time.Duration `mapstructure:"fallback_wait" yaml:"fallback_wait"`
	MaxWait      time.Duration `mapstructure:"max_wait" yaml:"max_wait"`
	Buffer       time.Duration `mapstructure:"buffer" yaml:"buffer"`
}

// InterpreterConfig throttles unrecognized output lines.
type InterpreterConfig struct {
	UnrecognizedInterval time.Duration `mapstructure:"unrecognized_interval" yaml:"unrecognized_interval"`
	UnrecognizedBurst    int           `mapstructure:"unrecognized_burst" yaml:"unrecognized_burst"`
}

// WorkspaceConfig holds isolated workspace settings.
type WorkspaceConfig struct {
	BaseDir              string `mapstructure:"base_dir" yaml:"base_dir"`
	IntegrationBranch    string `mapstructure:"integration_branch" yaml:"integration_branch"`
	RetainFailedBranches bool   `mapstructure:"retain_failed_branches" yaml:"retain_failed_branches"`
}

// RPCConfig holds tool server settings.
type RPCConfig struct {
	// KeepAlive pings the client at this interval and closes the session when
	// a ping fails. Zero disables it.
	KeepAlive time.Duration `mapstructure:"keep_alive" yaml:"keep_alive"`
}

// TUIConfig holds dashboard display settings.
type TUIConfig struct {
	RefreshRate time.Duration `mapstructure:"refresh_rate" yaml:"refresh_rate"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (SHEPHERD_*, after loading .env)
// 2. Project config (.shepherd.yaml in current directory or parent)
// 3. User config (~/.config/shepherd/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	// A missing .env is fine.
	_ = godotenv.Load()

	v := newViper()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(getUserConfigDir())

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading project config %s: %w", projectConfig, err)
		}
		if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
			return nil, fmt.Errorf("merging project config: %w", err)
		}
	}

	return unmarshal(v)
}

// LoadFromPath loads configuration from a specific path (for testing).
// Environment overrides still apply.
func LoadFromPath(path string) (*Config, error) {
	v := newViper()

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	return unmarshal(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func unmarshal(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Worker.APIKey = expandEnv(cfg.Worker.APIKey)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would make the loop misbehave.
func (c *Config) Validate() error {
	if c.Worker.Command == "" {
		return errors.New("worker.command must not be empty")
	}
	if c.Loop.MaxAttempts < 1 {
		return fmt.Errorf("loop.max_attempts must be at least 1, got %d", c.Loop.MaxAttempts)
	}
	switch c.Loop.FailurePolicy {
	case FailurePolicyLeave, FailurePolicySkip:
	default:
		return fmt.Errorf("loop.failure_policy must be %q or %q, got %q",
			FailurePolicyLeave, FailurePolicySkip, c.Loop.FailurePolicy)
	}
	if c.Loop.SignalCheckInterval <= 0 || c.Loop.SignalCheckInterval > time.Second {
		return fmt.Errorf("loop.signal_check_interval must be in (0, 1s], got %v", c.Loop.SignalCheckInterval)
	}
	if c.Loop.PollInterval <= 0 {
		return fmt.Errorf("loop.poll_interval must be positive, got %v", c.Loop.PollInterval)
	}
	if c.RateLimit.FallbackWait <= 0 {
		return fmt.Errorf("rate_limit.fallback_wait must be positive, got %v", c.RateLimit.FallbackWait)
	}
	if c.RateLimit.MaxWait < c.RateLimit.FallbackWait {
		return fmt.Errorf("rate_limit.max_wait (%v) must not be shorter than fallback_wait (%v)",
			c.RateLimit.MaxWait, c.RateLimit.FallbackWait)
	}
	if c.RPC.KeepAlive < 0 {
		return fmt.Errorf("rpc.keep_alive must not be negative, got %s", c.RPC.KeepAlive)
	}
	if c.Interpreter.UnrecognizedBurst < 0 {
		return fmt.Errorf("interpreter.unrecognized_burst must not be negative, got %d", c.Interpreter.UnrecognizedBurst)
	}
	if c.Workspace.IntegrationBranch == "" {
		return errors.New("workspace.integration_branch must not be empty")
	}
	return nil
}

// Save writes the configuration to the user config file.
func Save(cfg *Config) error {
	userConfigDir := getUserConfigDir()
	if err := os.MkdirAll(userConfigDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(filepath.Join(userConfigDir, "config.yaml"))

	v.Set("state_dir", cfg.StateDir)
	v.Set("worker.command", cfg.Worker.Command)
	v.Set("worker.model", cfg.Worker.Model)
	v.Set("worker.permission_mode", cfg.Worker.PermissionMode)
	v.Set("worker.extra_args", cfg.Worker.ExtraArgs)
	v.Set("worker.timeout", cfg.Worker.Timeout.String())
	v.Set("worker.api_key", cfg.Worker.APIKey)
	v.Set("loop.auto_continue_delay", cfg.Loop.AutoContinueDelay.String())
	v.Set("loop.poll_interval", cfg.Loop.PollInterval.String())
	v.Set("loop.max_attempts", cfg.Loop.MaxAttempts)
	v.Set("loop.failure_policy", cfg.Loop.FailurePolicy)
	v.Set("loop.signal_check_interval", cfg.Loop.SignalCheckInterval.String())
	v.Set("rate_limit.fallback_wait", cfg.RateLimit.FallbackWait.String())
	v.Set("rate_limit.max_wait", cfg.RateLimit.MaxWait.String())
	v.Set("rate_limit.buffer", cfg.RateLimit.Buffer.String())
	v.Set("interpreter.unrecognized_interval", cfg.Interpreter.UnrecognizedInterval.String())
	v.Set("interpreter.unrecognized_burst", cfg.Interpreter.UnrecognizedBurst)
	v.Set("workspace.base_dir", cfg.Workspace.BaseDir)
	v.Set("workspace.integration_branch", cfg.Workspace.IntegrationBranch)
	v.Set("workspace.retain_failed_branches", cfg.Workspace.RetainFailedBranches)
	v.Set("rpc.keep_alive", cfg.RPC.KeepAlive.String())
	v.Set("tui.refresh_rate", cfg.TUI.RefreshRate.String())

	return v.WriteConfig()
}

// Marshal renders cfg as YAML with durations in their string form.
// The API key is never written.
func Marshal(cfg *Config) ([]byte, error) {
	out := *cfg
	out.Worker.APIKey = ""
	node := &yaml.Node{}
	if err := node.Encode(out); err != nil {
		return nil, fmt.Errorf("encoding config: %w", err)
	}
	stringifyDurations(node)
	data, err := yaml.Marshal(node)
	if err != nil {
		return nil, fmt.Errorf("marshaling config: %w", err)
	}
	return data, nil
}

// stringifyDurations rewrites integer nanosecond scalars that look like
// durations into "3s" form so the file round-trips through viper readably.
func stringifyDurations(n *yaml.Node) {
	if n.Kind == yaml.MappingNode {
		for i := 0; i+1 < len(n.Content); i += 2 {
			key, val := n.Content[i], n.Content[i+1]
			if val.Kind == yaml.ScalarNode && val.Tag == "!!int" && durationKeys[key.Value] {
				var d time.Duration
				if err := val.Decode(&d); err == nil {
					val.SetString(d.String())
				}
			}
			stringifyDurations(val)
		}
		return
	}
	for _, c := range n.Content {
		stringifyDurations(c)
	}
}

var durationKeys = map[string]bool{
	"timeout":               true,
	"auto_continue_delay":   true,
	"poll_interval":         true,
	"signal_check_interval": true,
	"fallback_wait":         true,
	"max_wait":              true,
	"buffer":                true,
	"unrecognized_interval": true,
	"refresh_rate":          true,
}

// WriteProjectConfig writes cfg to <dir>/.shepherd.yaml unless the file exists.
// It returns the path and whether a file was written.
func WriteProjectConfig(dir string, cfg *Config) (string, bool, error) {
	path := filepath.Join(dir, ProjectConfigName)
	if _, err := os.Stat(path); err == nil {
		return path, false, nil
	}
	data, err := Marshal(cfg)
	if err != nil {
		return path, false, err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return path, false, fmt.Errorf("writing %s: %w", path, err)
	}
	return path, true, nil
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
	v.SetDefault("state_dir", ".shepherd")

	v.SetDefault("worker.command", "claude")
	v.SetDefault("worker.model", "sonnet")
	v.SetDefault("worker.permission_mode", "bypassPermissions")
	v.SetDefault("worker.extra_args", []string{})
	v.SetDefault("worker.timeout", "0s")
	v.SetDefault("worker.api_key", "")

	v.SetDefault("loop.auto_continue_delay", "3s")
	v.SetDefault("loop.poll_interval", "5s")
	v.SetDefault("loop.max_attempts", 2)
	v.SetDefault("loop.failure_policy", FailurePolicyLeave)
	v.SetDefault("loop.signal_check_interval", "1s")

	v.SetDefault("rate_limit.fallback_wait", "15m")
	v.SetDefault("rate_limit.max_wait", "6h")
	v.SetDefault("rate_limit.buffer", "1m")

	v.SetDefault("interpreter.unrecognized_interval", "2s")
	v.SetDefault("interpreter.unrecognized_burst", 3)

	v.SetDefault("workspace.base_dir", filepath.Join(".shepherd", "worktrees"))
	v.SetDefault("workspace.integration_branch", "main")
	v.SetDefault("workspace.retain_failed_branches", true)

	v.SetDefault("rpc.keep_alive", "0s")

	v.SetDefault("tui.refresh_rate", "1s")
}

// getUserConfigDir returns the XDG config directory for shepherd.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "shepherd")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "shepherd")
	}
	return filepath.Join(home, ".config", "shepherd")
}

// findProjectConfig searches for .shepherd.yaml in the current directory and parents.
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
		StateDir: ".shepherd",
		Worker: WorkerConfig{
			Command:        "claude",
			Model:          "sonnet",
			PermissionMode: "bypassPermissions",
		},
		Loop: LoopConfig{
			AutoContinueDelay:   3 * time.Second,
			PollInterval:        5 * time.Second,
			MaxAttempts:         2,
			FailurePolicy:       FailurePolicyLeave,
			SignalCheckInterval: time.Second,
		},
		RateLimit: RateLimitConfig{
			FallbackWait: 15 * time.Minute,
			MaxWait:      6 * time.Hour,
			Buffer:       time.Minute,
		},
		Interpreter: InterpreterConfig{
			UnrecognizedInterval: 2 * time.Second,
			UnrecognizedBurst:    3,
		},
		Workspace: WorkspaceConfig{
			BaseDir:              filepath.Join(".shepherd", "worktrees"),
			IntegrationBranch:    "main",
			RetainFailedBranches: true,
		},
		TUI: TUIConfig{
			RefreshRate: time.Second,
		},
	}
}
