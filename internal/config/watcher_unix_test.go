//go:build !windows

package config

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/renameio/v2"

	"svcbroker/internal/logger"
)

func TestLoggingWatcher_SkipsUnchangedAndInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "Logging.json")
	writeFile(t, path, `{"Level": "info"}`)

	var mu sync.Mutex
	var levels []string
	w, err := NewLoggingWatcher(path, func(lc *logger.Config) {
		mu.Lock()
		defer mu.Unlock()
		levels = append(levels, lc.Level)
	})
	if err != nil {
		t.Fatalf("NewLoggingWatcher failed: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop()

	// whole-file replacements, so no event ever sees a half-written file
	replaceFile(t, path, `{"Level": "info"}`)
	replaceFile(t, path, `{"Format": "xml"}`)
	replaceFile(t, path, `{"Level": "warn"}`)

	deadline := time.Now().Add(5 * time.Second)
	for {
		mu.Lock()
		got := append([]string(nil), levels...)
		mu.Unlock()
		if len(got) > 0 {
			if len(got) != 1 || got[0] != "warn" {
				t.Fatalf("expected only the warn reload, got %v", got)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("watcher did not report the change")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func replaceFile(t *testing.T, path, content string) {
	t.Helper()
	if err := renameio.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("replace %s: %v", path, err)
	}
}
