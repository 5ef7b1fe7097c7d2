package broker

import (
	"errors"
	"fmt"
)

// Error kinds returned by broker operations. Use errors.Is to test for them.
var (
	// ErrInvalidArgument is returned for a nil descriptor or connection, a
	// descriptor without a name, or a connection that was already disconnected.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrAlreadyLoaded is returned by Load when a service with the same name is loaded.
	ErrAlreadyLoaded = errors.New("service already loaded")

	// ErrNotLoaded is returned by Unload, and by Disconnect when the state
	// record the connection was opened under no longer exists.
	ErrNotLoaded = errors.New("service not loaded")

	// ErrNotReady is returned by Start for an unloaded or already started service.
	ErrNotReady = errors.New("service not ready")

	// ErrNotStarted is returned by Stop and Connect when the service is not started.
	ErrNotStarted = errors.New("service not started")

	// ErrResourceExhausted is returned by Connect when a stream pipe could not be created.
	ErrResourceExhausted = errors.New("stream endpoints unavailable")

	// ErrPartialCleanup is returned by Disconnect when one or more stream
	// endpoints failed to close. The connection is released regardless.
	ErrPartialCleanup = errors.New("stream endpoints failed to close")
)

// Op names a broker operation.
type Op string

const (
	OpLoad       Op = "load"
	OpUnload     Op = "unload"
	OpStart      Op = "start"
	OpStop       Op = "stop"
	OpConnect    Op = "connect"
	OpDisconnect Op = "disconnect"
)

// OpError records the operation and service behind a broker failure.
type OpError struct {
	Op      Op
	Service string
	Err     error
}

func (e *OpError) Error() string {
	if e.Service == "" {
		return fmt.Sprintf("broker %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("broker %s %q: %v", e.Op, e.Service, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// reason returns a short label for err, used for metrics.
func reason(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, ErrAlreadyLoaded):
		return "already_loaded"
	case errors.Is(err, ErrNotLoaded):
		return "not_loaded"
	case errors.Is(err, ErrNotReady):
		return "not_ready"
	case errors.Is(err, ErrNotStarted):
		return "not_started"
	case errors.Is(err, ErrResourceExhausted):
		return "resource_exhausted"
	case errors.Is(err, ErrPartialCleanup):
		return "partial_cleanup"
	default:
		return "error"
	}
}
