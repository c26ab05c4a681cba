package main

import (
	"fmt"
	"log"

	"github.com/spf13/viper"
)

// Config holds the demo application configuration.
type Config struct {
	Mode       string   `mapstructure:"mode"`        // live or replay
	BackendURL string   `mapstructure:"backend_url"` // empty runs against the synthetic source
	WindowMs   int64    `mapstructure:"window_ms"`
	Speed      float64  `mapstructure:"speed"`
	Fields     []string `mapstructure:"fields"`
	TickRate   int      `mapstructure:"tick_rate"`
	LogFile    string   `mapstructure:"log_file"`
	Debug      bool     `mapstructure:"debug"`
}

// loadConfig loads the application configuration from file, environment,
// and defaults.
func loadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.SetEnvPrefix("spola")
	viper.AutomaticEnv()

	viper.SetDefault("mode", "replay")
	viper.SetDefault("backend_url", "")
	viper.SetDefault("window_ms", 2000)
	viper.SetDefault("speed", 1.0)
	viper.SetDefault("fields", []string{})
	viper.SetDefault("tick_rate", 60)
	viper.SetDefault("log_file", "")
	viper.SetDefault("debug", false)

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		log.Printf("No config file found, using defaults")
	} else {
		log.Printf("Using config file: %s", viper.ConfigFileUsed())
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if cfg.Mode != "live" && cfg.Mode != "replay" {
		return nil, fmt.Errorf("unknown mode %q", cfg.Mode)
	}
	return &cfg, nil
}
