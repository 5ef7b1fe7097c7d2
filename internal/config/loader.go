package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"svcbroker/internal/logger"
)

// rawConfig is used for JSON unmarshaling with duration strings.
type rawConfig struct {
	Services       []string         `json:"Services"`
	Monitor        rawMonitorConfig `json:"Monitor"`
	Client         rawClientConfig  `json:"Client"`
	MetricsAddress string           `json:"MetricsAddress"`
}

// rawClientConfig keeps an explicit zero apart from an absent value.
type rawClientConfig struct {
	Views *int `json:"Views"`
}

type rawMonitorConfig struct {
	Interval     string `json:"Interval"`
	WriteTimeout string `json:"WriteTimeout"`
}

type rawLoggingConfig struct {
	Level      string `json:"Level"`
	FilePath   string `json:"FilePath"`
	MaxSizeMB  int    `json:"MaxSizeMB"`
	MaxBackups int    `json:"MaxBackups"`
	MaxAgeDays int    `json:"MaxAgeDays"`
	Compress   *bool  `json:"Compress"`
	Console    bool   `json:"Console"`
	Format     string `json:"Format"`
}

// Load reads configuration from the specified file path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse parses configuration from JSON bytes.
func Parse(data []byte) (*Config, error) {
	var raw rawConfig
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	cfg := DefaultConfig()
	parsed, err := convertRawConfig(&raw)
	if err != nil {
		return nil, err
	}

	cfg.Merge(parsed)
	if raw.Client.Views != nil {
		cfg.Client.Views = *raw.Client.Views
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func convertRawConfig(raw *rawConfig) (*Config, error) {
	cfg := &Config{
		Services:       raw.Services,
		MetricsAddress: raw.MetricsAddress,
	}

	var err error
	if cfg.Monitor.Interval, err = parseDuration("Monitor.Interval", raw.Monitor.Interval); err != nil {
		return nil, err
	}
	if cfg.Monitor.WriteTimeout, err = parseDuration("Monitor.WriteTimeout", raw.Monitor.WriteTimeout); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parseDuration returns zero for an empty value so the default is kept.
func parseDuration(field, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s duration: %w", field, err)
	}
	return d, nil
}

// LoadLogging reads logging configuration from the specified file path.
func LoadLogging(path string) (*logger.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read logging config file: %w", err)
	}
	return ParseLogging(data)
}

// ParseLogging parses logging configuration from JSON bytes.
func ParseLogging(data []byte) (*logger.Config, error) {
	var raw rawLoggingConfig
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse logging config JSON: %w", err)
	}

	def := logger.DefaultConfig()

	// Merge: apply non-zero parsed values over defaults
	if raw.Level != "" {
		def.Level = raw.Level
	}
	if raw.FilePath != "" {
		def.FilePath = raw.FilePath
	}
	if raw.MaxSizeMB != 0 {
		def.MaxSizeMB = raw.MaxSizeMB
	}
	if raw.MaxBackups != 0 {
		def.MaxBackups = raw.MaxBackups
	}
	if raw.MaxAgeDays != 0 {
		def.MaxAgeDays = raw.MaxAgeDays
	}
	if raw.Compress != nil {
		def.Compress = *raw.Compress
	}
	def.Console = raw.Console
	switch raw.Format {
	case "":
	case "json", "fixed":
		def.Format = raw.Format
	default:
		return nil, fmt.Errorf("invalid logging Format %q (want \"json\" or \"fixed\")", raw.Format)
	}

	return &def, nil
}

// LoadSplit loads configuration from two separate files:
// configPath (Broker.json) and loggingPath (Logging.json).
func LoadSplit(configPath, loggingPath string) (*Config, *logger.Config, error) {
	cfg, err := Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	lc, err := LoadLogging(loggingPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load logging config: %w", err)
	}

	return cfg, lc, nil
}
