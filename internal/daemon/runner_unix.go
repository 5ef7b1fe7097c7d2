//go:build !windows

package daemon

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"svcbroker/internal/logger"
)

// unixRunner stops the driver on SIGINT or SIGTERM. A second signal while
// the driver is shutting down returns without waiting for it.
type unixRunner struct {
	name    string
	runFunc RunFunc

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped bool
}

// NewRunner creates the runner for the current platform.
func NewRunner(name string, runFunc RunFunc) Runner {
	return &unixRunner{name: name, runFunc: runFunc}
}

func (r *unixRunner) Run(ctx context.Context) error {
	log := logger.WithComponent("daemon")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	r.mu.Lock()
	r.cancel = cancel
	stopped := r.stopped
	r.mu.Unlock()
	if stopped {
		cancel()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	done := make(chan error, 1)
	go func() {
		done <- r.runFunc(ctx)
	}()

	log.Info().Str("name", r.name).Int("pid", os.Getpid()).Msg("Process started")

	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		_ = r.Stop()

		select {
		case err := <-done:
			return err
		case sig := <-sigChan:
			log.Warn().Str("signal", sig.String()).Msg("Received second signal, forcing exit")
			return nil
		}

	case err := <-done:
		return err
	}
}

func (r *unixRunner) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.stopped {
		r.stopped = true
		if r.cancel != nil {
			r.cancel()
		}
	}
	return nil
}

// IsService reports whether stdin is not a terminal, as under systemd.
func (r *unixRunner) IsService() bool {
	fi, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) == 0
}
