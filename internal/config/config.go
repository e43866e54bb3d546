// Package config loads runtime configuration with the precedence
// defaults < config file (~/.retrace/config.yaml) < RETRACE_* environment.
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Config holds every runtime knob the binaries need.
type Config struct {
	// SessionDir is the base directory of the file-backed session store.
	SessionDir string `mapstructure:"session_dir"`
	// SQLitePath is the archive database location for the sqlite store.
	SQLitePath string `mapstructure:"sqlite_path"`
	// CheckpointInterval is the distance between reconstructor snapshots.
	CheckpointInterval int `mapstructure:"checkpoint_interval"`
	// ListenAddr is the web UI bind address.
	ListenAddr string `mapstructure:"listen_addr"`
	// LogLevel is the minimum level written to the debug log.
	LogLevel string `mapstructure:"log_level"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		SessionDir:         "~/.retrace/sessions",
		SQLitePath:         "~/.retrace/archive.db",
		CheckpointInterval: 50,
		ListenAddr:         "localhost:8847",
		LogLevel:           "info",
	}
}

// Load resolves the effective configuration. A missing config file is fine;
// a malformed one is an error.
func Load() (Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("$HOME/.retrace")
	v.AddConfigPath(".")
	v.SetEnvPrefix("RETRACE")
	v.AutomaticEnv()

	def := Default()
	v.SetDefault("session_dir", def.SessionDir)
	v.SetDefault("sqlite_path", def.SQLitePath)
	v.SetDefault("checkpoint_interval", def.CheckpointInterval)
	v.SetDefault("listen_addr", def.ListenAddr)
	v.SetDefault("log_level", def.LogLevel)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if cfg.CheckpointInterval < 1 {
		cfg.CheckpointInterval = def.CheckpointInterval
	}
	return cfg, nil
}
