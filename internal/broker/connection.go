package broker

import (
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"github.com/hashicorp/go-multierror"

	"svcbroker/internal/logger"
)

// newPipe creates one unidirectional stream. Replaced in tests.
var newPipe = os.Pipe

// stream is a unidirectional byte stream backed by an OS pipe.
type stream struct {
	r *os.File
	w *os.File
}

func openStream() (stream, error) {
	r, w, err := newPipe()
	if err != nil {
		return stream{}, err
	}
	return stream{r: r, w: w}, nil
}

func (s stream) close() error {
	var result *multierror.Error
	if err := s.r.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := s.w.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// channel is the bidirectional transport of a connection: two independent
// streams, one per direction.
type channel struct {
	up   stream // client -> service
	down stream // service -> client
}

func openChannel() (*channel, error) {
	up, err := openStream()
	if err != nil {
		return nil, fmt.Errorf("client->service pipe: %w", err)
	}
	down, err := openStream()
	if err != nil {
		_ = up.close()
		return nil, fmt.Errorf("service->client pipe: %w", err)
	}
	return &channel{up: up, down: down}, nil
}

func (ch *channel) close() error {
	var result *multierror.Error
	result = multierror.Append(result, ch.up.close(), ch.down.close())
	return result.ErrorOrNil()
}

// Connection is an open byte-stream pairing between a client and a started
// service. It is created by Broker.Connect and released by Broker.Disconnect.
//
// Clients use ClientReader and ClientWriter; the service side uses
// ServiceReader, ServiceWriter and Attachment. Reading from the endpoint you
// write to is a caller error and is not detected.
type Connection struct {
	desc       *Descriptor
	state      *serviceState
	ch         *channel
	attachment any
	closed     atomic.Bool
}

// Descriptor returns the service this connection belongs to.
func (c *Connection) Descriptor() *Descriptor {
	return c.desc
}

// ClientReader reads what the service wrote.
func (c *Connection) ClientReader() io.ReadCloser {
	return c.ch.down.r
}

// ClientWriter sends bytes to the service. Closing it signals EOF to the
// service, but Disconnect then reports ErrPartialCleanup for the endpoint
// that was already closed.
func (c *Connection) ClientWriter() io.WriteCloser {
	return c.ch.up.w
}

// ServiceReader reads what the client wrote.
func (c *Connection) ServiceReader() io.ReadCloser {
	return c.ch.up.r
}

// ServiceWriter sends bytes to the client. Closing it signals EOF to the
// client, but Disconnect then reports ErrPartialCleanup for the endpoint
// that was already closed.
func (c *Connection) ServiceWriter() io.WriteCloser {
	return c.ch.down.w
}

// Attachment returns the value the service's OnConnect hook produced.
func (c *Connection) Attachment() any {
	return c.attachment
}

// Connect opens a connection to d, which must be started. Both streams are
// created before the OnConnect hook runs; if either cannot be created the
// call fails with ErrResourceExhausted, nothing is left open and OnConnect
// is not called.
//
// If d is stopped or unloaded while OnConnect runs, the connection is
// discarded: OnDisconnect receives the attachment, the streams are closed
// and Connect fails with ErrNotStarted.
func (b *Broker) Connect(d *Descriptor) (*Connection, error) {
	if !d.valid() {
		return nil, b.fail(OpConnect, d, ErrInvalidArgument)
	}

	log := logger.WithService("broker", d.Name)
	log.Debug().Msg("Request to connect to service")

	st := b.lookup(d)
	if st == nil || st.loadStatus() != StatusStarted {
		log.Error().Msg("Service is not running")
		return nil, b.fail(OpConnect, d, ErrNotStarted)
	}

	ch, err := openChannel()
	if err != nil {
		log.Error().Err(err).Msg("Failed to create connection streams")
		return nil, b.fail(OpConnect, d, fmt.Errorf("%w: %w", ErrResourceExhausted, err))
	}

	c := &Connection{desc: d, state: st, ch: ch}
	c.attachment = d.onConnect(c)
	n := st.connections.Add(1)

	// the service may have been stopped or unloaded while OnConnect ran
	if !b.publishConnections(d, st, n, true) {
		st.connections.Add(-1)
		c.closed.Store(true)
		d.onDisconnect(c, c.attachment)
		if err := ch.close(); err != nil {
			log.Error().Err(err).Msg("Failed to close stream endpoints of a discarded connection")
		}
		log.Error().Msg("Service stopped while connecting")
		return nil, b.fail(OpConnect, d, ErrNotStarted)
	}

	b.metrics.RecordTransition(OpConnect, nil)
	log.Info().Int64("connections", n).Msg("Connected to service")
	return c, nil
}

// publishConnections records n as the connection count of d while st is
// still its live record and, if requireStarted is set, d is Started. It
// reports whether the update was made. Holding b.mu orders the update
// before the series removal in Unload.
func (b *Broker) publishConnections(d *Descriptor, st *serviceState, n int64, requireStarted bool) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.states[d.Name] != st || (requireStarted && st.loadStatus() != StatusStarted) {
		return false
	}
	b.metrics.SetOpenConnections(d.Name, n)
	return true
}

// Disconnect calls the service's OnDisconnect hook with the connection's
// attachment, closes all four endpoints and releases the connection.
//
// Close failures are reported as ErrPartialCleanup, but the connection is
// released and the service's connection count decremented regardless.
func (b *Broker) Disconnect(c *Connection) error {
	if c == nil || c.desc == nil || c.ch == nil {
		return b.fail(OpDisconnect, nil, ErrInvalidArgument)
	}
	d := c.desc

	log := logger.WithService("broker", d.Name)
	log.Debug().Msg("Request to disconnect from service")

	if b.lookup(d) != c.state {
		log.Error().Msg("Service is not loaded")
		return b.fail(OpDisconnect, d, ErrNotLoaded)
	}
	if !c.closed.CompareAndSwap(false, true) {
		log.Error().Msg("Connection is already disconnected")
		return b.fail(OpDisconnect, d, ErrInvalidArgument)
	}

	d.onDisconnect(c, c.attachment)
	closeErr := c.ch.close()
	n := c.state.connections.Add(-1)
	b.publishConnections(d, c.state, n, false)
	if closeErr != nil {
		log.Error().Err(closeErr).Int64("connections", n).Msg("Failed to close all stream endpoints")
		return b.fail(OpDisconnect, d, fmt.Errorf("%w: %w", ErrPartialCleanup, closeErr))
	}

	b.metrics.RecordTransition(OpDisconnect, nil)
	log.Info().Int64("connections", n).Msg("Disconnected from service")
	return nil
}
