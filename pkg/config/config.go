// Package config provides configuration for the engine process.
package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for a JSONJet node.
type Config struct {
	// Network addresses
	HTTPAddr string `mapstructure:"http_addr"`

	// Runtime bounds
	ScanMaxMatches     int `mapstructure:"scan_max_matches"`
	SorterBufferSize   int `mapstructure:"sorter_buffer_size"`
	SorterMaxLatencyMS int `mapstructure:"sorter_max_latency_ms"`

	// External sinks
	KafkaBrokers []string `mapstructure:"kafka_brokers"`

	// Scheduled statements
	Jobs []JobConfig `mapstructure:"jobs"`
}

// JobConfig runs a Jet statement on a cron schedule.
type JobConfig struct {
	Name      string `mapstructure:"name"`
	Schedule  string `mapstructure:"schedule"`
	Statement string `mapstructure:"statement"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		HTTPAddr:           ":8080",
		ScanMaxMatches:     1000,
		SorterBufferSize:   16,
		SorterMaxLatencyMS: 1000,
	}
}

// LoadConfig loads configuration from a file.
func LoadConfig(path string) (*Config, error) {
	viper.SetConfigFile(path)
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// SorterMaxLatency converts the configured latency to a duration.
func (c *Config) SorterMaxLatency() time.Duration {
	return time.Duration(c.SorterMaxLatencyMS) * time.Millisecond
}
