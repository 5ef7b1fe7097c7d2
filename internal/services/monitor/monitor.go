// Package monitor implements the "monitor" service. While started it renders
// a monitor view on every tick and writes it to each connected viewer.
package monitor

import (
	"bytes"
	"context"
	"io"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"svcbroker/internal/broker"
	"svcbroker/internal/logger"
	"svcbroker/internal/worker"
)

const (
	Name        = "monitor"
	Description = "The monitor service renders monitor views."

	DefaultInterval     = 2 * time.Second
	DefaultWriteTimeout = time.Second
)

// Option configures a Service.
type Option func(*Service)

// WithInterval sets the time between two views.
func WithInterval(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithWriteTimeout bounds how long a view write to one viewer may block.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.writeTimeout = d
		}
	}
}

// WithClock replaces the clock that drives the view ticker.
func WithClock(c clock.Clock) Option {
	return func(s *Service) {
		s.clock = c
	}
}

// WithSampler replaces the host sampler.
func WithSampler(sampler Sampler) Option {
	return func(s *Service) {
		s.sampler = sampler
	}
}

// viewer is the attachment of a monitor connection.
type viewer struct {
	mu      sync.Mutex
	w       io.Writer
	dropped bool
}

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// Service is the monitor service.
type Service struct {
	interval     time.Duration
	writeTimeout time.Duration
	clock        clock.Clock
	sampler      Sampler
	desc         *broker.Descriptor

	mu      sync.Mutex
	viewers map[*viewer]struct{}
	seq     uint64

	// set by OnStart, cleared by OnStop
	ticker *clock.Ticker
	worker *worker.Worker
}

// New creates a monitor service.
func New(opts ...Option) *Service {
	s := &Service{
		interval:     DefaultInterval,
		writeTimeout: DefaultWriteTimeout,
		clock:        clock.New(),
		viewers:      make(map[*viewer]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.sampler == nil {
		s.sampler = NewHostSampler()
	}
	s.desc = &broker.Descriptor{Name: Name, Description: Description, Impl: s}
	return s
}

// Descriptor returns the descriptor to register with a broker. It is the
// same value on every call.
func (s *Service) Descriptor() *broker.Descriptor {
	return s.desc
}

// Viewers returns the number of viewers that still receive views.
func (s *Service) Viewers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.viewers)
}

func (s *Service) log() *zerolog.Logger {
	l := logger.WithService("monitor", Name)
	return &l
}

func (s *Service) OnLoad(*broker.Descriptor) {
	s.log().Trace().Msg("Monitor service loaded")
}

func (s *Service) OnUnload(*broker.Descriptor) {
	s.log().Trace().Msg("Monitor service unloading")
}

// OnStart creates the ticker before the worker runs, so no tick is missed
// between Start returning and the worker's first select.
func (s *Service) OnStart(*broker.Descriptor) {
	s.log().Trace().Msg("Monitor service started")

	s.ticker = s.clock.Ticker(s.interval)
	s.worker = worker.Start(context.Background(), Name, s.run(s.ticker))
}

// OnStop blocks until the view worker has exited.
func (s *Service) OnStop(*broker.Descriptor) {
	s.log().Trace().Msg("Monitor service stopping")

	if s.worker != nil {
		if err := s.worker.Stop(); err != nil {
			s.log().Error().Err(err).Msg("Monitor worker failed")
		}
		s.worker = nil
	}
	if s.ticker != nil {
		s.ticker.Stop()
		s.ticker = nil
	}
}

func (s *Service) OnConnect(_ *broker.Descriptor, c *broker.Connection) any {
	v := &viewer{w: c.ServiceWriter()}

	s.mu.Lock()
	s.viewers[v] = struct{}{}
	n := len(s.viewers)
	s.mu.Unlock()

	s.log().Debug().Int("viewers", n).Msg("Viewer attached")
	return v
}

func (s *Service) OnDisconnect(_ *broker.Descriptor, _ *broker.Connection, attachment any) {
	v, ok := attachment.(*viewer)
	if !ok {
		return
	}

	// wait for an in-flight write so the endpoint is not closed under it
	v.mu.Lock()
	v.dropped = true
	v.mu.Unlock()

	s.mu.Lock()
	delete(s.viewers, v)
	n := len(s.viewers)
	s.mu.Unlock()

	s.log().Debug().Int("viewers", n).Msg("Viewer detached")
}

func (s *Service) run(ticker *clock.Ticker) worker.Func {
	return func(ctx context.Context) error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				s.render(ctx)
			}
		}
	}
}

// render samples once and writes the resulting view to every viewer.
func (s *Service) render(ctx context.Context) {
	log := s.log()

	sample, err := s.sampler.Sample(ctx)
	if err != nil {
		log.Debug().Err(err).Msg("Some monitor values could not be sampled")
	}

	s.mu.Lock()
	s.seq++
	seq := s.seq
	viewers := make([]*viewer, 0, len(s.viewers))
	for v := range s.viewers {
		viewers = append(viewers, v)
	}
	s.mu.Unlock()

	var frame bytes.Buffer
	if err := renderView(&frame, seq, s.clock.Now(), len(viewers), sample); err != nil {
		log.Error().Err(err).Msg("Failed to render monitor view")
		return
	}

	for _, v := range viewers {
		if ctx.Err() != nil {
			return
		}
		if err := s.deliver(v, frame.Bytes()); err != nil {
			log.Warn().Err(err).Uint64("seq", seq).Msg("Viewer is not reading, dropping it")
			s.mu.Lock()
			delete(s.viewers, v)
			s.mu.Unlock()
		}
	}
	log.Trace().Uint64("seq", seq).Int("viewers", len(viewers)).Msg("Rendered monitor view")
}

func (s *Service) deliver(v *viewer, frame []byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.dropped {
		return nil
	}
	if d, ok := v.w.(writeDeadliner); ok {
		// deadlines are wall-clock, independent of the view clock
		_ = d.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	}
	if _, err := v.w.Write(frame); err != nil {
		v.dropped = true
		return err
	}
	return nil
}
