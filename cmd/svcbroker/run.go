package main

import (
	"bufio"
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"

	"svcbroker/internal/broker"
	"svcbroker/internal/config"
	"svcbroker/internal/logger"
	"svcbroker/internal/services/client"
	"svcbroker/internal/services/monitor"
)

// run loads and starts the configured services in order, waits until the
// client's entry point finishes or ctx is cancelled, then stops and unloads
// them in reverse order.
func run(ctx context.Context, cfg *config.Config, loggingPath string, reg *prometheus.Registry) error {
	log := logger.WithComponent("main")

	b := broker.New(broker.WithMetrics(broker.NewMetrics(reg)))

	ready := make(chan struct{})
	mon := monitor.New(
		monitor.WithInterval(cfg.Monitor.Interval),
		monitor.WithWriteTimeout(cfg.Monitor.WriteTimeout),
	)
	cli := client.New(viewMonitor(b, mon.Descriptor(), cfg.Client.Views, ready))

	known := map[string]*broker.Descriptor{
		client.Name:  cli.Descriptor(),
		monitor.Name: mon.Descriptor(),
	}
	order := make([]*broker.Descriptor, 0, len(cfg.Services))
	hostsClient := false
	for _, name := range cfg.Services {
		d, ok := known[name]
		if !ok {
			return fmt.Errorf("unknown service %q", name)
		}
		order = append(order, d)
		hostsClient = hostsClient || name == client.Name
	}

	if cfg.MetricsAddress != "" {
		ms, err := startMetricsServer(cfg.MetricsAddress, reg)
		if err != nil {
			return err
		}
		defer ms.Stop()
	}

	if loggingPath != "" {
		cleanupWatcher := setupLoggingWatcher(loggingPath)
		defer cleanupWatcher()
	}

	loaded, err := loadAll(b, order)
	if err != nil {
		return multierror.Append(err, unloadAll(b, loaded)).ErrorOrNil()
	}

	started, err := startAll(b, order)
	if err != nil {
		result := multierror.Append(err, stopAll(b, started), unloadAll(b, loaded))
		return result.ErrorOrNil()
	}
	close(ready)
	log.Info().Strs("services", b.Loaded()).Msg("All services started")

	var clientDone <-chan struct{}
	if hostsClient {
		clientDone = cli.Done()
	}
	select {
	case <-ctx.Done():
		log.Info().Msg("Received shutdown signal")
	case <-clientDone:
		if err := cli.Err(); err != nil {
			log.Error().Err(err).Msg("Entry point failed")
		} else {
			log.Info().Msg("Entry point finished")
		}
	}

	var result *multierror.Error
	result = multierror.Append(result, stopAll(b, started), unloadAll(b, loaded))
	if hostsClient {
		if err := cli.Err(); err != nil && ctx.Err() == nil {
			result = multierror.Append(result, fmt.Errorf("entry point: %w", err))
		}
	}
	return result.ErrorOrNil()
}

func loadAll(b *broker.Broker, order []*broker.Descriptor) ([]*broker.Descriptor, error) {
	var loaded []*broker.Descriptor
	for _, d := range order {
		if err := b.Load(d); err != nil {
			return loaded, err
		}
		loaded = append(loaded, d)
	}
	return loaded, nil
}

func startAll(b *broker.Broker, order []*broker.Descriptor) ([]*broker.Descriptor, error) {
	var started []*broker.Descriptor
	for _, d := range order {
		if err := b.Start(d); err != nil {
			return started, err
		}
		started = append(started, d)
	}
	return started, nil
}

// stopAll stops ds in reverse order and returns every failure.
func stopAll(b *broker.Broker, ds []*broker.Descriptor) error {
	var result *multierror.Error
	for i := len(ds) - 1; i >= 0; i-- {
		if err := b.Stop(ds[i]); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// unloadAll unloads ds in reverse order and returns every failure.
func unloadAll(b *broker.Broker, ds []*broker.Descriptor) error {
	var result *multierror.Error
	for i := len(ds) - 1; i >= 0; i-- {
		if err := b.Unload(ds[i]); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

// viewMonitor is the client's entry point. Once every service is started it
// connects to the monitor and reads views until it has read n of them (n == 0
// reads until cancelled), then disconnects.
func viewMonitor(b *broker.Broker, d *broker.Descriptor, n int, ready <-chan struct{}) client.Entry {
	return func(ctx context.Context) error {
		select {
		case <-ready:
		case <-ctx.Done():
			return nil
		}

		conn, err := b.Connect(d)
		if err != nil {
			return fmt.Errorf("connect to %s: %w", d.Name, err)
		}
		defer func() {
			if err := b.Disconnect(conn); err != nil {
				log := logger.WithService("client", client.Name)
				log.Warn().Err(err).Msg("Disconnect from monitor was not clean")
			}
		}()

		// unblock a pending read on cancellation
		stopRead := context.AfterFunc(ctx, func() {
			if rd, ok := conn.ClientReader().(readDeadliner); ok {
				_ = rd.SetReadDeadline(time.Now())
			}
		})
		defer stopRead()

		r := bufio.NewReader(conn.ClientReader())
		for i := 0; n == 0 || i < n; i++ {
			v, err := monitor.ReadView(r)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("read monitor view: %w", err)
			}
			// fetched per view so a logging reload takes effect
			log := logger.WithService("client", client.Name)
			log.Info().Uint64("seq", v.Seq).Time("taken", v.Taken).Msg("Received monitor view")
			for _, line := range v.Lines {
				log.Debug().Uint64("seq", v.Seq).Msg(line)
			}
		}
		return nil
	}
}

// setupLoggingWatcher reloads Logging.json while running. It returns a
// cleanup function that stops the watcher.
func setupLoggingWatcher(loggingPath string) func() {
	log := logger.WithComponent("main")

	watcher, err := config.NewLoggingWatcher(loggingPath, func(newLC *logger.Config) {
		log := logger.WithComponent("main")
		log.Info().Msg("Applying logging configuration changes")
		if err := logger.Init(*newLC); err != nil {
			log.Error().Err(err).Msg("Failed to update logging configuration")
			return
		}

		// the previous logger's writers are closed by Init
		log = logger.WithComponent("main")
		log.Info().Str("level", newLC.Level).Msg("Logging configuration updated")
	})
	if err != nil {
		log.Warn().Err(err).Msg("Failed to create logging watcher, hot reload disabled")
		return func() {}
	}
	if err := watcher.Start(); err != nil {
		log.Warn().Err(err).Msg("Failed to start logging watcher")
		_ = watcher.Stop()
		return func() {}
	}

	return func() {
		log := logger.WithComponent("main")
		log.Info().Msg("Stopping logging watcher")
		if err := watcher.Stop(); err != nil {
			log.Error().Err(err).Msg("Error stopping logging watcher")
		}
	}
}
