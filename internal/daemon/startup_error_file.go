package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// StartupErrorFileName is the file WriteStartupErrorFile writes in logDir.
const StartupErrorFileName = "startup-error.log"

// WriteStartupErrorFile records a startup error next to the logs, for
// failures that happen before the logger is initialized. The file is
// replaced atomically, so only the most recent error is kept and a reader
// never sees a partial write.
func WriteStartupErrorFile(logDir string, err error) error {
	if mkErr := os.MkdirAll(logDir, 0o755); mkErr != nil {
		return fmt.Errorf("create log directory: %w", mkErr)
	}

	ts := time.Now().Format("2006-01-02 15:04:05")
	content := fmt.Sprintf("[%s] STARTUP ERROR\n%v\n", ts, err)

	path := filepath.Join(logDir, StartupErrorFileName)
	if wErr := replaceFile(path, []byte(content)); wErr != nil {
		return fmt.Errorf("write %s: %w", path, wErr)
	}
	return nil
}
