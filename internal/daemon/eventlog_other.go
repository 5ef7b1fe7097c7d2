//go:build !windows

package daemon

// ReportStartupError is a no-op outside Windows.
func ReportStartupError(serviceName string, err error) {}
