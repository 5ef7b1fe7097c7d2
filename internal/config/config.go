// Package config provides configuration management for svcbroker.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration structure (Broker.json).
type Config struct {
	Services       []string      `json:"Services"` // load order; stop and unload run in reverse
	Monitor        MonitorConfig `json:"Monitor"`
	Client         ClientConfig  `json:"Client"`
	MetricsAddress string        `json:"MetricsAddress"` // empty disables the metrics endpoint
}

// MonitorConfig contains settings for the monitor service.
type MonitorConfig struct {
	Interval     time.Duration `json:"Interval"`
	WriteTimeout time.Duration `json:"WriteTimeout"`
}

// ClientConfig contains settings for the client service's entry point.
type ClientConfig struct {
	Views int `json:"Views"` // monitor views to read before the entry point returns; 0 reads until stopped
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Services: []string{"client", "monitor"},
		Monitor: MonitorConfig{
			Interval:     2 * time.Second,
			WriteTimeout: time.Second,
		},
		Client: ClientConfig{
			Views: 3,
		},
	}
}

// Merge applies non-zero values from other to this config.
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	if len(other.Services) > 0 {
		c.Services = other.Services
	}

	if other.Monitor.Interval != 0 {
		c.Monitor.Interval = other.Monitor.Interval
	}
	if other.Monitor.WriteTimeout != 0 {
		c.Monitor.WriteTimeout = other.Monitor.WriteTimeout
	}

	if other.Client.Views != 0 {
		c.Client.Views = other.Client.Views
	}

	if other.MetricsAddress != "" {
		c.MetricsAddress = other.MetricsAddress
	}
}

// Validate reports the first setting that cannot be used.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Services))
	for _, name := range c.Services {
		if name == "" {
			return fmt.Errorf("Services: empty service name")
		}
		if seen[name] {
			return fmt.Errorf("Services: %q listed twice", name)
		}
		seen[name] = true
	}
	if c.Monitor.Interval <= 0 {
		return fmt.Errorf("Monitor.Interval must be positive, got %s", c.Monitor.Interval)
	}
	if c.Monitor.WriteTimeout <= 0 {
		return fmt.Errorf("Monitor.WriteTimeout must be positive, got %s", c.Monitor.WriteTimeout)
	}
	if c.Client.Views < 0 {
		return fmt.Errorf("Client.Views must not be negative, got %d", c.Client.Views)
	}
	return nil
}
