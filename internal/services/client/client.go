// Package client implements the "client" service. Starting it calls the
// entry point on a background worker; stopping it cancels the entry point
// and waits for it to return.
package client

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"svcbroker/internal/broker"
	"svcbroker/internal/logger"
	"svcbroker/internal/worker"
)

const (
	Name        = "client"
	Description = "The client service hosts the Python interpreter and calls the entry point."
)

// Entry is the program the client service hosts. It runs until it is done
// or ctx is cancelled.
type Entry func(ctx context.Context) error

// Service is the client service.
type Service struct {
	entry Entry
	desc  *broker.Descriptor

	mu      sync.Mutex
	worker  *worker.Worker
	lastErr error
	done    chan struct{}
}

// New creates a client service that calls entry when started. A nil entry
// returns immediately.
func New(entry Entry) *Service {
	if entry == nil {
		entry = func(context.Context) error { return nil }
	}
	s := &Service{entry: entry, done: make(chan struct{})}
	s.desc = &broker.Descriptor{Name: Name, Description: Description, Impl: s}
	return s
}

// Descriptor returns the descriptor to register with a broker.
func (s *Service) Descriptor() *broker.Descriptor {
	return s.desc
}

// Done is closed when the entry point of the current run has returned. Before
// the first start it never closes.
func (s *Service) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Err returns what the entry point returned on the last completed run.
func (s *Service) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *Service) log() *zerolog.Logger {
	l := logger.WithService("client", Name)
	return &l
}

func (s *Service) OnLoad(*broker.Descriptor) {
	s.log().Trace().Msg("Client service loaded")
}

func (s *Service) OnUnload(*broker.Descriptor) {
	s.log().Trace().Msg("Client service unloading")
}

func (s *Service) OnStart(*broker.Descriptor) {
	s.log().Trace().Msg("Client service started")

	w := worker.Start(context.Background(), Name, worker.Func(s.entry))

	s.mu.Lock()
	s.worker = w
	done := make(chan struct{})
	s.done = done
	s.mu.Unlock()

	go func() {
		<-w.Done()
		s.mu.Lock()
		s.lastErr = w.Err()
		s.mu.Unlock()
		close(done)
	}()
}

// OnStop cancels the entry point and returns once it has.
func (s *Service) OnStop(*broker.Descriptor) {
	s.log().Trace().Msg("Client service stopping")

	s.mu.Lock()
	w := s.worker
	s.worker = nil
	done := s.done
	s.mu.Unlock()
	if w == nil {
		return
	}

	if err := w.Stop(); err != nil {
		s.log().Error().Err(err).Msg("Entry point failed")
	}
	<-done
}
