package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like "30s"
// or "5m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the server configuration, loaded from a YAML file with defaults
// applied for anything omitted. DATABASE_URL in the environment overrides
// the file.
type Config struct {
	Server    Server    `yaml:"server"`
	Database  Database  `yaml:"database"`
	Executor  Executor  `yaml:"executor"`
	Analytics Analytics `yaml:"analytics"`
	LogLevel  string    `yaml:"log_level"`
}

type Server struct {
	Addr string `yaml:"addr"`
	// TickInterval drives schedule triggers and the escalation sweep.
	TickInterval Duration `yaml:"tick_interval"`
}

type Database struct {
	// URL is the postgres connection string. Empty means run on the
	// in-memory store and log.
	URL string `yaml:"url"`
}

type Executor struct {
	ActionTimeout          Duration `yaml:"action_timeout"`
	AIMaxRetries           uint64   `yaml:"ai_max_retries"`
	AIRetryInitialInterval Duration `yaml:"ai_retry_initial_interval"`
}

type Analytics struct {
	// MinutesSavedPerExecution is the fixed tunable behind the estimated
	// time-saved figure; it is not a measured value.
	MinutesSavedPerExecution float64 `yaml:"minutes_saved_per_execution"`
}

// Load reads configuration from path. A missing path yields pure defaults.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyDefaults(&cfg)

	if url := os.Getenv("DATABASE_URL"); url != "" {
		cfg.Database.URL = url
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.TickInterval == 0 {
		cfg.Server.TickInterval = Duration(time.Minute)
	}
	if cfg.Executor.ActionTimeout == 0 {
		cfg.Executor.ActionTimeout = Duration(10 * time.Second)
	}
	if cfg.Executor.AIMaxRetries == 0 {
		cfg.Executor.AIMaxRetries = 2
	}
	if cfg.Executor.AIRetryInitialInterval == 0 {
		cfg.Executor.AIRetryInitialInterval = Duration(500 * time.Millisecond)
	}
	if cfg.Analytics.MinutesSavedPerExecution == 0 {
		cfg.Analytics.MinutesSavedPerExecution = 5
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
}
