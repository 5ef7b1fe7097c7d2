package logger

import (
	"io"
	"sync"
)

// asyncWriter hands writes to a background goroutine so the caller never
// blocks on a slow terminal. Messages are dropped when the buffer is full.
type asyncWriter struct {
	ch   chan []byte
	w    io.Writer
	done chan struct{}
	once sync.Once

	mu     sync.RWMutex
	closed bool
}

func newAsyncWriter(w io.Writer, bufSize int) *asyncWriter {
	aw := &asyncWriter{
		ch:   make(chan []byte, bufSize),
		w:    w,
		done: make(chan struct{}),
	}
	go aw.drain()
	return aw
}

func (aw *asyncWriter) Write(p []byte) (int, error) {
	aw.mu.RLock()
	defer aw.mu.RUnlock()
	if aw.closed {
		return len(p), nil
	}

	// zerolog reuses p after Write returns
	buf := make([]byte, len(p))
	copy(buf, p)
	select {
	case aw.ch <- buf:
	default:
	}
	return len(p), nil
}

func (aw *asyncWriter) drain() {
	defer close(aw.done)
	for p := range aw.ch {
		_, _ = aw.w.Write(p)
	}
}

// Close stops accepting writes and waits until the buffer has drained.
func (aw *asyncWriter) Close() {
	aw.once.Do(func() {
		aw.mu.Lock()
		aw.closed = true
		aw.mu.Unlock()
		close(aw.ch)
		<-aw.done
	})
}
