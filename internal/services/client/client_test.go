package client

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"svcbroker/internal/broker"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestService_Descriptor(t *testing.T) {
	s := New(nil)
	assert.Equal(t, "client", s.Descriptor().Name)
	assert.Equal(t, "The client service hosts the Python interpreter and calls the entry point.", s.Descriptor().Description)
}

func TestService_RunsEntryUntilStopped(t *testing.T) {
	var returned atomic.Bool
	entered := make(chan struct{})

	s := New(func(ctx context.Context) error {
		close(entered)
		<-ctx.Done()
		returned.Store(true)
		return nil
	})
	b := broker.New()
	d := s.Descriptor()

	require.NoError(t, b.Load(d))
	require.NoError(t, b.Start(d))
	<-entered
	assert.False(t, returned.Load())

	require.NoError(t, b.Stop(d))
	assert.True(t, returned.Load(), "Stop returned before the entry point")
	select {
	case <-s.Done():
	default:
		t.Fatal("Done not closed after Stop")
	}
	assert.NoError(t, s.Err())
	require.NoError(t, b.Unload(d))
}

func TestService_EntryFinishesOnItsOwn(t *testing.T) {
	boom := errors.New("entry failed")
	s := New(func(ctx context.Context) error { return boom })
	b := broker.New()
	d := s.Descriptor()

	require.NoError(t, b.Load(d))
	require.NoError(t, b.Start(d))

	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("entry point did not finish")
	}
	assert.ErrorIs(t, s.Err(), boom)

	require.NoError(t, b.Stop(d))
	require.NoError(t, b.Unload(d))
}

func TestService_Restart(t *testing.T) {
	var runs atomic.Int32
	s := New(func(ctx context.Context) error {
		runs.Add(1)
		<-ctx.Done()
		return nil
	})
	b := broker.New()
	d := s.Descriptor()

	require.NoError(t, b.Load(d))
	for i := 0; i < 3; i++ {
		require.NoError(t, b.Start(d))
		require.NoError(t, b.Stop(d))
	}
	require.NoError(t, b.Unload(d))
	assert.Equal(t, int32(3), runs.Load())
}

func TestService_StopWithoutStart(t *testing.T) {
	s := New(nil)
	assert.NotPanics(t, func() { s.OnStop(s.Descriptor()) })
}
