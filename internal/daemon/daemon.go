// Package daemon runs the broker driver as a foreground process or as a
// platform service.
package daemon

import "context"

// Runner hosts a RunFunc until it returns or the platform asks it to stop.
type Runner interface {
	// Run starts fn. It blocks until fn returns.
	Run(ctx context.Context) error

	// Stop cancels the context passed to fn.
	Stop() error

	// IsService returns true if running under a service manager.
	IsService() bool
}

// RunFunc is the driver: it loads, starts, stops and unloads the services.
type RunFunc func(ctx context.Context) error
