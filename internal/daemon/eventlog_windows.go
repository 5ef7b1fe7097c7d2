//go:build windows

package daemon

import (
	"fmt"

	"golang.org/x/sys/windows/svc/eventlog"
)

// ReportStartupError writes a startup error to the Windows Event Log, so
// "net start" shows it even when logging was never initialized.
func ReportStartupError(serviceName string, err error) {
	_ = eventlog.InstallAsEventCreate(serviceName, eventlog.Error|eventlog.Warning|eventlog.Info)

	elog, openErr := eventlog.Open(serviceName)
	if openErr != nil {
		return
	}
	defer elog.Close()

	_ = elog.Error(1, fmt.Sprintf("Failed to start: %v", err))
}
