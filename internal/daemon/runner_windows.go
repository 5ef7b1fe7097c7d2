//go:build windows

package daemon

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sys/windows/svc"

	"svcbroker/internal/logger"
)

// windowsRunner hosts the driver under the service control manager, or
// directly when started from a console.
type windowsRunner struct {
	name    string
	runFunc RunFunc

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped bool
}

// NewRunner creates the runner for the current platform.
func NewRunner(name string, runFunc RunFunc) Runner {
	return &windowsRunner{name: name, runFunc: runFunc}
}

func (r *windowsRunner) Run(ctx context.Context) error {
	if !r.IsService() {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		r.setCancel(cancel)
		return r.runFunc(ctx)
	}
	return svc.Run(r.name, r)
}

func (r *windowsRunner) setCancel(cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancel = cancel
	if r.stopped {
		cancel()
	}
}

func (r *windowsRunner) Stop() error {
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

func (r *windowsRunner) IsService() bool {
	isService, err := svc.IsWindowsService()
	if err != nil {
		return false
	}
	return isService
}

// Execute implements svc.Handler.
func (r *windowsRunner) Execute(args []string, req <-chan svc.ChangeRequest, changes chan<- svc.Status) (svcSpecificEC bool, exitCode uint32) {
	log := logger.WithComponent("daemon")

	const acceptedCommands = svc.AcceptStop | svc.AcceptShutdown

	changes <- svc.Status{State: svc.StartPending}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.setCancel(cancel)

	done := make(chan error, 1)
	go func() {
		done <- r.runFunc(ctx)
	}()

	changes <- svc.Status{State: svc.Running, Accepts: acceptedCommands}
	log.Info().Str("name", r.name).Msg("Windows service started")

	for {
		select {
		case c := <-req:
			switch c.Cmd {
			case svc.Interrogate:
				changes <- c.CurrentStatus
				// Respond twice as per documentation
				time.Sleep(100 * time.Millisecond)
				changes <- c.CurrentStatus

			case svc.Stop, svc.Shutdown:
				log.Info().Msg("Received stop request from the service control manager")
				changes <- svc.Status{State: svc.StopPending}
				_ = r.Stop()

				// Wait for the driver to stop and unload the services
				select {
				case <-done:
				case <-time.After(30 * time.Second):
					log.Warn().Msg("Timeout waiting for services to stop")
				}

				changes <- svc.Status{State: svc.Stopped}
				return false, 0

			default:
				log.Warn().Int("cmd", int(c.Cmd)).Msg("Unexpected service control command")
			}

		case err := <-done:
			if err != nil {
				log.Error().Err(err).Msg("Driver exited with error")
				changes <- svc.Status{State: svc.Stopped}
				return true, 1
			}
			changes <- svc.Status{State: svc.Stopped}
			return false, 0
		}
	}
}
