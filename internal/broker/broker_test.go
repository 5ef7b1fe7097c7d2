package broker

import (
	"bytes"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"svcbroker/internal/logger"
)

// recorder is a service that records the order of its hook calls.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) record(call string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
}

func (r *recorder) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *recorder) OnLoad(*Descriptor)   { r.record("load") }
func (r *recorder) OnUnload(*Descriptor) { r.record("unload") }
func (r *recorder) OnStart(*Descriptor)  { r.record("start") }
func (r *recorder) OnStop(*Descriptor)   { r.record("stop") }

func (r *recorder) OnConnect(*Descriptor, *Connection) any {
	r.record("connect")
	return nil
}

func (r *recorder) OnDisconnect(*Descriptor, *Connection, any) {
	r.record("disconnect")
}

func newRecorded(name string) (*Descriptor, *recorder) {
	r := &recorder{}
	return &Descriptor{Name: name, Description: "records hook calls", Impl: r}, r
}

// captureLogs routes broker logs into a buffer for the duration of the test.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	logger.InitWriter(&buf, "debug")
	t.Cleanup(logger.Close)
	return &buf
}

func TestBroker_LoadUnload(t *testing.T) {
	b := New()
	d, rec := newRecorded("svc")

	require.NoError(t, b.Load(d))
	status, ok := b.Status(d)
	require.True(t, ok)
	assert.Equal(t, StatusReady, status)
	assert.Equal(t, int64(0), b.Connections(d))

	err := b.Load(d)
	assert.ErrorIs(t, err, ErrAlreadyLoaded)

	require.NoError(t, b.Unload(d))
	_, ok = b.Status(d)
	assert.False(t, ok)

	err = b.Unload(d)
	assert.ErrorIs(t, err, ErrNotLoaded)

	assert.Equal(t, []string{"load", "unload"}, rec.Calls())
}

func TestBroker_LoadRejectsDuplicateName(t *testing.T) {
	b := New()
	first, _ := newRecorded("svc")
	second, rec := newRecorded("svc")

	require.NoError(t, b.Load(first))
	assert.ErrorIs(t, b.Load(second), ErrAlreadyLoaded)
	assert.Empty(t, rec.Calls())

	// the second descriptor is not the loaded one
	assert.ErrorIs(t, b.Start(second), ErrNotReady)
	assert.ErrorIs(t, b.Unload(second), ErrNotLoaded)
	require.NoError(t, b.Unload(first))
}

func TestBroker_InvalidArgument(t *testing.T) {
	b := New()
	unnamed := &Descriptor{Description: "no name"}

	for _, d := range []*Descriptor{nil, unnamed} {
		assert.ErrorIs(t, b.Load(d), ErrInvalidArgument)
		assert.ErrorIs(t, b.Unload(d), ErrInvalidArgument)
		assert.ErrorIs(t, b.Start(d), ErrInvalidArgument)
		assert.ErrorIs(t, b.Stop(d), ErrInvalidArgument)

		c, err := b.Connect(d)
		assert.Nil(t, c)
		assert.ErrorIs(t, err, ErrInvalidArgument)
	}

	assert.ErrorIs(t, b.Disconnect(nil), ErrInvalidArgument)
	assert.ErrorIs(t, b.Disconnect(&Connection{}), ErrInvalidArgument)
}

func TestBroker_StartStopTransitions(t *testing.T) {
	b := New()
	d, rec := newRecorded("svc")

	assert.ErrorIs(t, b.Start(d), ErrNotReady, "start before load")
	assert.ErrorIs(t, b.Stop(d), ErrNotStarted, "stop before load")

	require.NoError(t, b.Load(d))
	assert.ErrorIs(t, b.Stop(d), ErrNotStarted, "stop while ready")

	require.NoError(t, b.Start(d))
	assert.ErrorIs(t, b.Start(d), ErrNotReady, "start twice")

	require.NoError(t, b.Stop(d))
	assert.ErrorIs(t, b.Stop(d), ErrNotStarted, "stop twice")
	status, _ := b.Status(d)
	assert.Equal(t, StatusStopped, status)

	// Stopped -> Started is allowed
	require.NoError(t, b.Start(d))
	require.NoError(t, b.Stop(d))
	require.NoError(t, b.Unload(d))

	assert.Equal(t, []string{"load", "start", "stop", "start", "stop", "unload"}, rec.Calls())
}

func TestBroker_StatusWrittenAfterHook(t *testing.T) {
	b := New()
	var d *Descriptor
	var duringStart, duringStop Status

	d = &Descriptor{Name: "observer", Impl: Hooks{
		Start: func(*Descriptor) { duringStart, _ = b.Status(d) },
		Stop:  func(*Descriptor) { duringStop, _ = b.Status(d) },
	}}

	require.NoError(t, b.Load(d))
	require.NoError(t, b.Start(d))
	require.NoError(t, b.Stop(d))

	assert.Equal(t, StatusReady, duringStart)
	assert.Equal(t, StatusStarted, duringStop)
}

func TestBroker_UnloadStartedSkipsStop(t *testing.T) {
	logs := captureLogs(t)
	b := New()
	d, rec := newRecorded("svc")

	require.NoError(t, b.Load(d))
	require.NoError(t, b.Start(d))
	require.NoError(t, b.Unload(d))

	assert.Equal(t, []string{"load", "start", "unload"}, rec.Calls())
	_, ok := b.Status(d)
	assert.False(t, ok)
	assert.Contains(t, logs.String(), "Unloading a started service without stopping it")

	// the descriptor can be loaded again and starts from Ready
	require.NoError(t, b.Load(d))
	status, _ := b.Status(d)
	assert.Equal(t, StatusReady, status)
	require.NoError(t, b.Unload(d))
}

func TestBroker_StopWithOutstandingConnections(t *testing.T) {
	logs := captureLogs(t)
	b := New()
	d, _ := newRecorded("svc")

	require.NoError(t, b.Load(d))
	require.NoError(t, b.Start(d))

	c1, err := b.Connect(d)
	require.NoError(t, err)
	c2, err := b.Connect(d)
	require.NoError(t, err)

	require.NoError(t, b.Stop(d))
	status, _ := b.Status(d)
	assert.Equal(t, StatusStopped, status)
	assert.Equal(t, int64(2), b.Connections(d))
	assert.Contains(t, logs.String(), "outstanding connections")
	assert.Contains(t, logs.String(), `"level":"warn"`)

	// abandoned connections can still be released while the service is loaded
	require.NoError(t, b.Disconnect(c1))
	require.NoError(t, b.Disconnect(c2))
	assert.Equal(t, int64(0), b.Connections(d))
	require.NoError(t, b.Unload(d))
}

func TestBroker_Loaded(t *testing.T) {
	b := New()
	monitor, _ := newRecorded("monitor")
	client, _ := newRecorded("client")

	assert.Empty(t, b.Loaded())
	require.NoError(t, b.Load(monitor))
	require.NoError(t, b.Load(client))
	assert.Equal(t, []string{"client", "monitor"}, b.Loaded())

	require.NoError(t, b.Unload(monitor))
	assert.Equal(t, []string{"client"}, b.Loaded())
	require.NoError(t, b.Unload(client))
}

func TestBroker_SerializesTransitions(t *testing.T) {
	b := New()
	d, _ := newRecorded("svc")
	require.NoError(t, b.Load(d))

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := b.Start(d); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			} else if !errors.Is(err, ErrNotReady) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded, "exactly one concurrent Start should win")
	require.NoError(t, b.Stop(d))
	require.NoError(t, b.Unload(d))
}

func TestOpError_Message(t *testing.T) {
	err := &OpError{Op: OpStart, Service: "monitor", Err: ErrNotReady}
	assert.Equal(t, `broker start "monitor": service not ready`, err.Error())

	err = &OpError{Op: OpDisconnect, Err: ErrInvalidArgument}
	assert.Equal(t, "broker disconnect: invalid argument", err.Error())

	var opErr *OpError
	require.ErrorAs(t, error(err), &opErr)
	assert.Equal(t, OpDisconnect, opErr.Op)
}

func TestStatus_String(t *testing.T) {
	assert.Equal(t, "ready", StatusReady.String())
	assert.Equal(t, "started", StatusStarted.String())
	assert.Equal(t, "stopped", StatusStopped.String())
	assert.Equal(t, "unknown", Status(42).String())
}
