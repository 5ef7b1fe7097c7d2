// Package broker loads, starts, stops and unloads in-process services and
// opens byte-stream connections to the ones that are running.
//
// A Broker owns one state record per loaded service. Records are created by
// Load and destroyed by Unload; a service's hooks observe its status only
// through the order in which they are called.
package broker

import (
	"sort"
	"sync"
	"sync/atomic"

	"svcbroker/internal/logger"
)

// serviceState is the mutable record that exists while a descriptor is loaded.
type serviceState struct {
	desc *Descriptor

	// mu serializes lifecycle transitions on this record. Connect and
	// Disconnect do not take it, so a slow Stop does not block them.
	mu       sync.Mutex
	unloaded bool

	status      atomic.Int32
	connections atomic.Int64
}

func (st *serviceState) loadStatus() Status {
	return Status(st.status.Load())
}

// Broker is the lifecycle state machine for a set of services.
type Broker struct {
	mu      sync.Mutex
	states  map[string]*serviceState
	metrics *Metrics
}

// Option configures a Broker.
type Option func(*Broker)

// WithMetrics records transitions and connection counts in m.
func WithMetrics(m *Metrics) Option {
	return func(b *Broker) {
		b.metrics = m
	}
}

// New creates an empty broker.
func New(opts ...Option) *Broker {
	b := &Broker{
		states: make(map[string]*serviceState),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// lookup returns the live state record for d, or nil.
func (b *Broker) lookup(d *Descriptor) *serviceState {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := b.states[d.Name]
	if st == nil || st.desc != d {
		return nil
	}
	return st
}

// acquire returns the state record for d with its transition lock held.
func (b *Broker) acquire(d *Descriptor) *serviceState {
	st := b.lookup(d)
	if st == nil {
		return nil
	}
	st.mu.Lock()
	if st.unloaded {
		st.mu.Unlock()
		return nil
	}
	return st
}

func (b *Broker) fail(op Op, d *Descriptor, err error) error {
	opErr := &OpError{Op: op, Err: err}
	if d != nil {
		opErr.Service = d.Name
	}
	b.metrics.RecordTransition(op, err)
	return opErr
}

// Load creates the state record for d (status Ready, no connections) and
// calls its OnLoad hook. Loading a service twice without an Unload in
// between fails with ErrAlreadyLoaded.
func (b *Broker) Load(d *Descriptor) error {
	if !d.valid() {
		return b.fail(OpLoad, d, ErrInvalidArgument)
	}

	log := logger.WithService("broker", d.Name)
	log.Debug().Msg("Request to load service")

	st := &serviceState{desc: d}
	st.status.Store(int32(StatusReady))
	st.mu.Lock()
	defer st.mu.Unlock()

	b.mu.Lock()
	if _, exists := b.states[d.Name]; exists {
		b.mu.Unlock()
		log.Error().Msg("Service is already loaded")
		return b.fail(OpLoad, d, ErrAlreadyLoaded)
	}
	b.states[d.Name] = st
	loaded := len(b.states)
	b.mu.Unlock()

	d.onLoad()

	b.metrics.RecordTransition(OpLoad, nil)
	b.metrics.SetLoaded(loaded)
	b.metrics.SetStatus(d.Name, StatusReady)
	b.metrics.SetOpenConnections(d.Name, 0)
	log.Info().Msg("Service was loaded successfully")
	return nil
}

// Unload calls the OnUnload hook of d and frees its state record. Any status
// is accepted: unloading a started service does not call OnStop, and its
// open connections are abandoned.
func (b *Broker) Unload(d *Descriptor) error {
	if !d.valid() {
		return b.fail(OpUnload, d, ErrInvalidArgument)
	}

	log := logger.WithService("broker", d.Name)
	log.Debug().Msg("Request to unload service")

	st := b.acquire(d)
	if st == nil {
		log.Error().Msg("Service is not loaded")
		return b.fail(OpUnload, d, ErrNotLoaded)
	}
	defer st.mu.Unlock()

	if st.loadStatus() == StatusStarted {
		// OnStop is deliberately skipped here; callers that want a clean
		// shutdown must Stop first.
		log.Warn().Msg("Unloading a started service without stopping it")
	}
	if n := st.connections.Load(); n > 0 {
		log.Warn().Int64("connections", n).Msg("Unloading service with outstanding connections")
	}

	d.onUnload()

	b.mu.Lock()
	delete(b.states, d.Name)
	loaded := len(b.states)
	b.metrics.RemoveService(d.Name)
	b.mu.Unlock()
	st.unloaded = true

	b.metrics.RecordTransition(OpUnload, nil)
	b.metrics.SetLoaded(loaded)
	log.Info().Msg("Service was unloaded successfully")
	return nil
}

// Start calls the OnStart hook of d and marks it Started. It fails with
// ErrNotReady when d is not loaded or already started.
func (b *Broker) Start(d *Descriptor) error {
	if !d.valid() {
		return b.fail(OpStart, d, ErrInvalidArgument)
	}

	log := logger.WithService("broker", d.Name)
	log.Debug().Msg("Request to start service")

	st := b.acquire(d)
	if st == nil {
		log.Error().Msg("Service is not ready")
		return b.fail(OpStart, d, ErrNotReady)
	}
	defer st.mu.Unlock()

	if st.loadStatus() == StatusStarted {
		log.Error().Msg("Service is not ready")
		return b.fail(OpStart, d, ErrNotReady)
	}

	d.onStart()
	st.status.Store(int32(StatusStarted))

	b.metrics.RecordTransition(OpStart, nil)
	b.metrics.SetStatus(d.Name, StatusStarted)
	log.Info().Str("description", d.Description).Msg("Service was started successfully")
	return nil
}

// Stop calls the OnStop hook of d and marks it Stopped. OnStop may block
// until the service's worker exits; Stop has no timeout.
//
// Connections still open at this point are abandoned: a warning is logged,
// the connection count is left as is and Stop still succeeds.
func (b *Broker) Stop(d *Descriptor) error {
	if !d.valid() {
		return b.fail(OpStop, d, ErrInvalidArgument)
	}

	log := logger.WithService("broker", d.Name)
	log.Debug().Msg("Request to stop service")

	st := b.acquire(d)
	if st == nil {
		log.Error().Msg("Service is not started")
		return b.fail(OpStop, d, ErrNotStarted)
	}
	defer st.mu.Unlock()

	if st.loadStatus() != StatusStarted {
		log.Error().Str("status", st.loadStatus().String()).Msg("Service is not started")
		return b.fail(OpStop, d, ErrNotStarted)
	}

	if n := st.connections.Load(); n > 0 {
		log.Warn().Int64("connections", n).Msg("Service has outstanding connections, abandoning them")
	}

	d.onStop()
	st.status.Store(int32(StatusStopped))

	b.metrics.RecordTransition(OpStop, nil)
	b.metrics.SetStatus(d.Name, StatusStopped)
	log.Info().Msg("Service was stopped successfully")
	return nil
}

// Status reports the status of d. ok is false when d is not loaded.
func (b *Broker) Status(d *Descriptor) (status Status, ok bool) {
	if !d.valid() {
		return 0, false
	}
	st := b.lookup(d)
	if st == nil {
		return 0, false
	}
	return st.loadStatus(), true
}

// Connections reports the number of open connections to d, or 0 when d is not loaded.
func (b *Broker) Connections(d *Descriptor) int64 {
	if !d.valid() {
		return 0
	}
	st := b.lookup(d)
	if st == nil {
		return 0
	}
	return st.connections.Load()
}

// Loaded returns the names of all loaded services, sorted.
func (b *Broker) Loaded() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	names := make([]string, 0, len(b.states))
	for name := range b.states {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
