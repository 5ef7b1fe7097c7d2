// Package worker runs the background goroutine of a started service.
//
// A Worker is started from a service's OnStart hook and joined from its
// OnStop hook, so that once Stop returns the goroutine has fully exited.
package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"vawter.tech/stopper"

	"svcbroker/internal/logger"
)

// Func is the body of a worker. It must return once ctx is cancelled.
type Func func(ctx context.Context) error

// Worker is a single background goroutine with a cooperative stop.
type Worker struct {
	name   string
	sctx   *stopper.Context
	cancel context.CancelFunc
	done   chan struct{}

	stopOnce sync.Once
	err      error
	exited   atomic.Bool
}

// Start launches fn on a new goroutine. The context passed to fn is derived
// from ctx and is cancelled by Stop.
func Start(ctx context.Context, name string, fn Func) *Worker {
	runCtx, cancel := context.WithCancel(ctx)
	w := &Worker{
		name:   name,
		sctx:   stopper.WithContext(ctx),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	log := logger.WithComponent("worker").With().Str("worker", name).Logger()
	log.Debug().Msg("Starting worker")

	w.sctx.Go(func(*stopper.Context) error {
		defer close(w.done)
		defer w.exited.Store(true)

		err := fn(runCtx)
		if err != nil && runCtx.Err() == nil {
			log.Error().Err(err).Msg("Worker exited with error")
		} else {
			log.Debug().Msg("Worker exited")
		}
		w.err = err
		return nil
	})

	return w
}

// Name returns the name the worker was started with.
func (w *Worker) Name() string {
	return w.name
}

// Done is closed once the worker's function has returned.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Exited reports whether the worker's function has returned.
func (w *Worker) Exited() bool {
	return w.exited.Load()
}

// Err returns the worker's result once it has exited, or nil before that.
func (w *Worker) Err() error {
	select {
	case <-w.done:
		return w.err
	default:
		return nil
	}
}

// Stop cancels the worker and blocks until it has exited. It returns the
// error the worker's function returned, if any. Calling Stop again returns
// the same result.
func (w *Worker) Stop() error {
	w.stopOnce.Do(func() {
		log := logger.WithComponent("worker").With().Str("worker", w.name).Logger()
		log.Debug().Msg("Stopping worker")

		w.cancel()
		w.sctx.Stop(0)
		_ = w.sctx.Wait()
		<-w.done

		log.Debug().Msg("Worker stopped")
	})
	if errors.Is(w.err, context.Canceled) {
		return nil
	}
	return w.err
}
