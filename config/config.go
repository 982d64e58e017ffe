// Package config loads service configuration from file and environment.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the Argus service.
type Config struct {
	DataPaths struct {
		// DataDir is the base data directory (ARGUS_DATA_PATHS_DATA_DIR).
		DataDir string `mapstructure:"data_dir"`
		// SQLitePath is the database file path; defaults to ${DataDir}/argus.db.
		SQLitePath string `mapstructure:"sqlite_path"`
		// RuleSeedFile is an optional YAML file of rules loaded when the rules
		// table is empty.
		RuleSeedFile string `mapstructure:"rule_seed_file"`
	} `mapstructure:"data_paths"`

	API struct {
		Host      string `mapstructure:"host"`
		Port      int    `mapstructure:"port"`
		RateLimit struct {
			RequestsPerSecond int `mapstructure:"requests_per_second"`
			Burst             int `mapstructure:"burst"`
		} `mapstructure:"rate_limit"`
	} `mapstructure:"api"`

	Buffer struct {
		FlushInterval      time.Duration `mapstructure:"flush_interval"`
		BatchSize          int           `mapstructure:"batch_size"`
		QueueCapacity      int           `mapstructure:"queue_capacity"`
		ImmediateThreshold int           `mapstructure:"immediate_threshold"`
		WriteTimeout       time.Duration `mapstructure:"write_timeout"`
	} `mapstructure:"buffer"`

	Detect struct {
		RuleRefreshInterval time.Duration `mapstructure:"rule_refresh_interval"`
		RegexTimeout        time.Duration `mapstructure:"regex_timeout"`
		QueryTimeout        time.Duration `mapstructure:"query_timeout"`
	} `mapstructure:"detect"`

	Logging struct {
		Level string `mapstructure:"level"` // debug, info, warn, error
	} `mapstructure:"logging"`
}

// setDefaults registers the default value for every key so unset keys resolve
// sensibly.
func setDefaults(v *viper.Viper) {
	v.SetDefault("data_paths.data_dir", "./data")
	v.SetDefault("data_paths.sqlite_path", "")
	v.SetDefault("data_paths.rule_seed_file", "")

	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8081)
	v.SetDefault("api.rate_limit.requests_per_second", 100)
	v.SetDefault("api.rate_limit.burst", 200)

	v.SetDefault("buffer.flush_interval", 5*time.Second)
	v.SetDefault("buffer.batch_size", 50)
	v.SetDefault("buffer.queue_capacity", 10000)
	v.SetDefault("buffer.immediate_threshold", 80)
	v.SetDefault("buffer.write_timeout", 10*time.Second)

	v.SetDefault("detect.rule_refresh_interval", 5*time.Minute)
	v.SetDefault("detect.regex_timeout", 500*time.Millisecond)
	v.SetDefault("detect.query_timeout", 10*time.Second)

	v.SetDefault("logging.level", "info")
}

// Load reads configuration from the given file (optional) and ARGUS_*
// environment variables.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("ARGUS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if cfg.DataPaths.SQLitePath == "" {
		cfg.DataPaths.SQLitePath = filepath.Join(cfg.DataPaths.DataDir, "argus.db")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks configuration invariants that would otherwise surface as
// confusing runtime behavior.
func (c *Config) Validate() error {
	if c.API.Port < 1 || c.API.Port > 65535 {
		return fmt.Errorf("api.port must be in [1,65535], got %d", c.API.Port)
	}
	if c.Buffer.FlushInterval <= 0 {
		return fmt.Errorf("buffer.flush_interval must be positive, got %v", c.Buffer.FlushInterval)
	}
	if c.Buffer.BatchSize <= 0 {
		return fmt.Errorf("buffer.batch_size must be positive, got %d", c.Buffer.BatchSize)
	}
	if c.Buffer.ImmediateThreshold < 1 || c.Buffer.ImmediateThreshold > 100 {
		return fmt.Errorf("buffer.immediate_threshold must be in [1,100], got %d", c.Buffer.ImmediateThreshold)
	}
	if c.Detect.RuleRefreshInterval <= 0 {
		return fmt.Errorf("detect.rule_refresh_interval must be positive, got %v", c.Detect.RuleRefreshInterval)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug/info/warn/error, got %q", c.Logging.Level)
	}
	return nil
}
