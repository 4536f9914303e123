package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config represents the daemon configuration.
type Config struct {
	// Runtime describes how the goblin worker process is located and launched.
	Runtime RuntimeConfig `json:"runtime"`

	// Stream controls simulated progress streaming for dispatched tasks.
	Stream StreamConfig `json:"stream"`

	// CostRates is an optional YAML/JSON rate table path.
	CostRates string `json:"costRates,omitempty"`

	// Models is an optional models.json path overriding the provider catalog.
	Models string `json:"models,omitempty"`

	// Vault selects where provider API keys are kept.
	Vault VaultConfig `json:"vault"`

	// Logging configuration
	Log *LogConfig `json:"log,omitempty"`
}

// RuntimeConfig contains worker process settings.
type RuntimeConfig struct {
	Dir            string            `json:"dir,omitempty"`         // runtime package directory
	ProjectRoot    string            `json:"projectRoot,omitempty"` // directory holding goblins.yaml
	ConfigPath     string            `json:"configPath,omitempty"`  // explicit goblins.yaml path
	Command        string            `json:"command"`
	Args           []string          `json:"args,omitempty"` // empty = run the embedded bridge script
	Env            map[string]string `json:"env,omitempty"`
	ReadyTimeoutMs int               `json:"readyTimeoutMs"`
	Version        string            `json:"version"`
}

// ReadyTimeout returns the ready wait as a duration.
func (c RuntimeConfig) ReadyTimeout() time.Duration {
	return time.Duration(c.ReadyTimeoutMs) * time.Millisecond
}

// StreamConfig contains streaming settings.
type StreamConfig struct {
	IntervalMs int `json:"intervalMs"`
}

// Interval returns the delay between chunks.
func (c StreamConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMs) * time.Millisecond
}

// VaultConfig contains secret storage settings.
type VaultConfig struct {
	Backend  string `json:"backend"` // keyring, file or memory
	AuthFile string `json:"authFile,omitempty"`
}

// LogConfig contains logging configuration.
type LogConfig struct {
	Level  string `json:"level,omitempty"`  // Log level: debug, info, warn, error
	File   string `json:"file,omitempty"`   // Log file path (empty = no file logging)
	Format string `json:"format,omitempty"` // text or json; empty picks by terminal
}

// envOverrides lists the environment variables that win over the config file.
type envOverrides struct {
	RuntimeDir     string `env:"GOBLIN_RUNTIME_DIR"`
	ProjectRoot    string `env:"GOBLIN_PROJECT_ROOT"`
	ConfigPath     string `env:"GOBLINOS_CONFIG"`
	RuntimeCommand string `env:"GOBLIN_RUNTIME_COMMAND"`
	LogLevel       string `env:"GOBLIN_LOG_LEVEL"`
	CostRates      string `env:"GOBLIN_COST_RATES"`
	ModelsPath     string `env:"GOBLIN_MODELS_PATH"`
	VaultBackend   string `env:"GOBLIN_VAULT"`
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return &Config{
		Runtime: RuntimeConfig{
			Command:        "node",
			ReadyTimeoutMs: 10000,
			Version:        "0.1.0",
		},
		Stream: StreamConfig{IntervalMs: 500},
		Vault: VaultConfig{
			Backend:  "keyring",
			AuthFile: defaultPath("auth.json"),
		},
		Log: DefaultLogConfig(),
	}
}

// DefaultLogConfig returns default logging configuration.
func DefaultLogConfig() *LogConfig {
	return &LogConfig{Level: "info"}
}

// LoadConfig loads configuration from file and merges with environment variables.
// Environment variables take precedence over config file values.
func LoadConfig(configPath string) (*Config, error) {
	return loadConfig(configPath, env.Options{})
}

func loadConfig(configPath string, opts env.Options) (*Config, error) {
	cfg := DefaultConfig()

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			data, err := os.ReadFile(configPath)
			if err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	var overrides envOverrides
	if err := env.ParseWithOptions(&overrides, opts); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	overrides.apply(cfg)

	if cfg.Log == nil {
		cfg.Log = DefaultLogConfig()
	}
	if cfg.Runtime.Command == "" {
		cfg.Runtime.Command = "node"
	}
	if cfg.Stream.IntervalMs < 0 {
		cfg.Stream.IntervalMs = 0
	}

	return cfg, nil
}

func (o envOverrides) apply(cfg *Config) {
	setIf(&cfg.Runtime.Dir, o.RuntimeDir)
	setIf(&cfg.Runtime.ProjectRoot, o.ProjectRoot)
	setIf(&cfg.Runtime.ConfigPath, o.ConfigPath)
	setIf(&cfg.Runtime.Command, o.RuntimeCommand)
	setIf(&cfg.CostRates, o.CostRates)
	setIf(&cfg.Models, o.ModelsPath)
	setIf(&cfg.Vault.Backend, o.VaultBackend)
	if o.LogLevel != "" {
		if cfg.Log == nil {
			cfg.Log = DefaultLogConfig()
		}
		cfg.Log.Level = o.LogLevel
	}
}

func setIf(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}

// SaveConfig saves configuration to file.
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// GetDefaultConfigPath returns the default config file path.
func GetDefaultConfigPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	return filepath.Join(homeDir, ".goblinos", "goblind.json"), nil
}

func defaultPath(name string) string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return name
	}
	return filepath.Join(homeDir, ".goblinos", name)
}
