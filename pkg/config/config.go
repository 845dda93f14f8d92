// Package config loads daemon configuration from a JSON file
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/epitrend/epitrend/pkg/forecast"
	"github.com/epitrend/epitrend/pkg/models"
	"github.com/epitrend/epitrend/pkg/mqtt"
)

// Config is the epitrendd daemon configuration
type Config struct {
	// EventsFile is the CSV snapshot exported by the import layer
	EventsFile string `json:"events_file"`
	// ListenAddr is the HTTP API address
	ListenAddr string `json:"listen_addr"`
	// MetricsAddr is the Prometheus endpoint address; empty disables it
	MetricsAddr string `json:"metrics_addr"`
	// ArchivePath is the sqlite forecast archive; empty keeps it in memory
	ArchivePath string `json:"archive_path"`
	LogLevel    string `json:"log_level"`

	MaxHorizon       int      `json:"max_horizon"`
	DisabledBackends []string `json:"disabled_backends"`

	MQTT mqtt.Config `json:"mqtt"`
}

// Default returns the baseline configuration
func Default() *Config {
	return &Config{
		ListenAddr:  ":8080",
		MetricsAddr: ":9090",
		ArchivePath: ":memory:",
		LogLevel:    "info",
		MaxHorizon:  forecast.DefaultMaxHorizon,
		MQTT:        mqtt.DefaultConfig(),
	}
}

// Load reads the configuration file at path, filling unset fields with
// defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for contradictions
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr must be set")
	}
	if c.MaxHorizon <= 0 {
		return fmt.Errorf("max_horizon must be positive, got %d", c.MaxHorizon)
	}
	for _, name := range c.DisabledBackends {
		if !knownBackend(models.Kind(name)) {
			return fmt.Errorf("unknown backend %q in disabled_backends", name)
		}
	}
	return nil
}

// EngineConfig converts the daemon configuration to engine configuration
func (c *Config) EngineConfig() forecast.Config {
	disabled := make([]models.Kind, 0, len(c.DisabledBackends))
	for _, name := range c.DisabledBackends {
		disabled = append(disabled, models.Kind(name))
	}
	return forecast.Config{MaxHorizon: c.MaxHorizon, Disabled: disabled}
}

func knownBackend(k models.Kind) bool {
	for _, known := range models.Kinds {
		if known == k {
			return true
		}
	}
	return false
}
