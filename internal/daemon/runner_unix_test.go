//go:build !windows

package daemon

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"
)

func TestRunner_ReturnsRunError(t *testing.T) {
	boom := errors.New("boom")
	r := NewRunner("svcbroker", func(ctx context.Context) error { return boom })

	if err := r.Run(context.Background()); !errors.Is(err, boom) {
		t.Errorf("expected %v, got %v", boom, err)
	}
}

func TestRunner_StopCancelsRun(t *testing.T) {
	started := make(chan struct{})
	r := NewRunner("svcbroker", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return nil
	})

	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background()) }()

	<-started
	if err := r.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected nil, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Stop")
	}

	// a second Stop is a no-op
	if err := r.Stop(); err != nil {
		t.Errorf("second Stop failed: %v", err)
	}
}

func TestRunner_StopBeforeRun(t *testing.T) {
	r := NewRunner("svcbroker", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	_ = r.Stop()

	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background()) }()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run ignored an earlier Stop")
	}
}

func TestRunner_ParentContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := NewRunner("svcbroker", func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	})

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after the parent context was cancelled")
	}
}

func TestRunner_IsService(t *testing.T) {
	orig := os.Stdin
	t.Cleanup(func() { os.Stdin = orig })
	r := NewRunner("svcbroker", nil)

	devNull, err := os.Open(os.DevNull)
	if err != nil {
		t.Fatalf("open %s: %v", os.DevNull, err)
	}
	defer devNull.Close()
	os.Stdin = devNull
	if r.IsService() {
		t.Error("expected a character device on stdin to mean foreground")
	}

	pr, pw, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	defer pr.Close()
	defer pw.Close()
	os.Stdin = pr
	if !r.IsService() {
		t.Error("expected a pipe on stdin to mean service mode")
	}
}
