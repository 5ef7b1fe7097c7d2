// Package main is the entry point for svcbroker.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"svcbroker/internal/config"
	"svcbroker/internal/daemon"
	"svcbroker/internal/logger"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

const (
	serviceName        = "svcbroker"
	startupErrorLogDir = "log/svcbroker"
)

func main() {
	var (
		configPath  = flag.String("config", "conf/svcbroker/Broker.json", "Path to broker configuration file")
		loggingPath = flag.String("logging", "conf/svcbroker/Logging.json", "Path to logging configuration file")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("svcbroker %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	// An absolute config path means service mode, where the working directory
	// is not the install directory: conf/svcbroker/Broker.json is three
	// levels below it.
	if filepath.IsAbs(*configPath) {
		basePath := filepath.Dir(filepath.Dir(filepath.Dir(*configPath)))
		if err := os.Chdir(basePath); err != nil {
			startupFailed(fmt.Errorf("failed to chdir to %s: %w", basePath, err))
		}
	}

	// no console output without a terminal
	if probe := daemon.NewRunner(serviceName, nil); probe.IsService() {
		logger.SetServiceMode(true)
	}

	cfg, lc, err := config.LoadSplit(*configPath, *loggingPath)
	if err != nil {
		startupFailed(err)
	}

	if err := logger.Init(*lc); err != nil {
		startupFailed(fmt.Errorf("failed to initialize logger: %w", err))
	}
	defer logger.Close()

	log := logger.WithComponent("main")
	log.Info().
		Str("version", version).
		Str("config", *configPath).
		Str("logging", *loggingPath).
		Strs("services", cfg.Services).
		Msg("Starting svcbroker")

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	runner := daemon.NewRunner(serviceName, func(ctx context.Context) error {
		return run(ctx, cfg, *loggingPath, reg)
	})

	if err := runner.Run(context.Background()); err != nil {
		log.Error().Err(err).Msg("svcbroker exited with error")
		logger.Close()
		os.Exit(1)
	}

	log.Info().Msg("svcbroker stopped")
}

// startupFailed reports an error that happened before logging was set up
// and exits.
func startupFailed(err error) {
	daemon.ReportStartupError(serviceName, err)
	if fileErr := daemon.WriteStartupErrorFile(startupErrorLogDir, err); fileErr != nil {
		fmt.Fprintf(os.Stderr, "Failed to write startup error file: %v\n", fileErr)
	}
	fmt.Fprintf(os.Stderr, "Failed to start: %v\n", err)
	os.Exit(1)
}
