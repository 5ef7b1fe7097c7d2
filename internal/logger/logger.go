// Package logger provides the process-wide structured logger with file rotation.
package logger

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config holds the logger configuration (Logging.json).
type Config struct {
	Level      string `json:"Level"`
	FilePath   string `json:"FilePath"`
	MaxSizeMB  int    `json:"MaxSizeMB"`
	MaxBackups int    `json:"MaxBackups"`
	MaxAgeDays int    `json:"MaxAgeDays"`
	Compress   bool   `json:"Compress"`
	Console    bool   `json:"Console"`
	Format     string `json:"Format"` // "json" or "fixed"
}

// DefaultConfig returns the defaults applied before Logging.json is merged.
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		FilePath:   "log/svcbroker/svcbroker.log",
		MaxSizeMB:  10,
		MaxBackups: 5,
		MaxAgeDays: 30,
		Compress:   true,
		Console:    false,
		Format:     "json",
	}
}

var (
	mu            sync.RWMutex
	globalLogger  = zerolog.Nop()
	activeFile    io.Closer
	activeConsole *asyncWriter

	// serviceMode suppresses console output when no terminal is attached.
	serviceMode bool
)

// SetServiceMode turns console output off for this and every later Init,
// whatever Config.Console says.
func SetServiceMode(enabled bool) {
	mu.Lock()
	defer mu.Unlock()
	serviceMode = enabled
}

// ParseLevel maps a configured level name to a zerolog level.
// Unknown names fall back to info.
func ParseLevel(name string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "disabled", "off", "none":
		return zerolog.Disabled
	}
	level, err := zerolog.ParseLevel(strings.ToLower(name))
	if err != nil || name == "" {
		return zerolog.InfoLevel
	}
	return level
}

// Init (re)configures the global logger. It is safe to call again on hot reload;
// writers opened by the previous call are closed after the swap.
func Init(cfg Config) error {
	level := ParseLevel(cfg.Level)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	var writers []io.Writer
	var fileWriter *lumberjack.Logger
	var consoleAsync *asyncWriter

	if cfg.FilePath != "" && level != zerolog.Disabled {
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0755); err != nil {
			return err
		}
		fileWriter = &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		if strings.EqualFold(cfg.Format, "fixed") {
			writers = append(writers, NewFixedFormatWriter(fileWriter))
		} else {
			writers = append(writers, fileWriter)
		}
	}

	// Console goes through the async writer so a stalled terminal never blocks file output.
	mu.RLock()
	console := cfg.Console && !serviceMode
	mu.RUnlock()
	if console && level != zerolog.Disabled {
		consoleAsync = newAsyncWriter(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}, 1000)
		writers = append(writers, consoleAsync)
	}

	var output io.Writer
	switch len(writers) {
	case 0:
		output = io.Discard
	case 1:
		output = writers[0]
	default:
		output = zerolog.MultiLevelWriter(writers...)
	}

	next := zerolog.New(output).Level(level).With().Timestamp().Logger()

	mu.Lock()
	prevFile, prevConsole := activeFile, activeConsole
	globalLogger = next
	activeFile = nil
	if fileWriter != nil {
		activeFile = fileWriter
	}
	activeConsole = consoleAsync
	mu.Unlock()

	if prevFile != nil {
		prevFile.Close()
	}
	if prevConsole != nil {
		prevConsole.Close()
	}
	return nil
}

// InitWriter points the global logger at w. Used by tests and by the driver
// before Logging.json has been read.
func InitWriter(w io.Writer, level string) {
	next := zerolog.New(w).Level(ParseLevel(level)).With().Timestamp().Logger()
	mu.Lock()
	globalLogger = next
	mu.Unlock()
}

// Close flushes and closes the writers opened by Init.
func Close() {
	mu.Lock()
	prevFile, prevConsole := activeFile, activeConsole
	activeFile, activeConsole = nil, nil
	globalLogger = zerolog.Nop()
	mu.Unlock()

	if prevFile != nil {
		prevFile.Close()
	}
	if prevConsole != nil {
		prevConsole.Close()
	}
}

// Logger returns a copy of the global logger.
func Logger() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return globalLogger
}

// WithComponent returns a logger with the component field set.
func WithComponent(component string) zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return globalLogger.With().Str("component", component).Logger()
}

// WithService returns a component logger that also carries the service name.
func WithService(component, service string) zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return globalLogger.With().Str("component", component).Str("service", service).Logger()
}
