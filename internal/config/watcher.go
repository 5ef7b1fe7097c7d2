package config

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"svcbroker/internal/logger"
)

// FileWatcher calls onChange with the new contents of one file each time
// they change. Events that leave the contents as they were, such as an
// editor touching the file or writing it in several steps, are ignored.
type FileWatcher struct {
	path     string
	fsw      *fsnotify.Watcher
	onChange func(data []byte)

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	last    []byte
}

// NewFileWatcher creates a watcher for path. Nothing is watched until Start.
func NewFileWatcher(path string, onChange func(data []byte)) (*FileWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &FileWatcher{
		path:     path,
		fsw:      fsw,
		onChange: onChange,
		done:     make(chan struct{}),
	}, nil
}

// Start watches the file's directory, so that a file replaced by rename is
// picked up when it reappears. Calling Start on a running watcher is a no-op.
func (fw *FileWatcher) Start() error {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	if fw.running {
		return nil
	}

	if err := fw.fsw.Add(filepath.Dir(fw.path)); err != nil {
		return err
	}
	// a missing file is not an error; its first appearance counts as a change
	fw.last, _ = os.ReadFile(fw.path)

	ctx, cancel := context.WithCancel(context.Background())
	fw.cancel = cancel
	fw.running = true
	go fw.loop(ctx)

	log := logger.WithService("config", filepath.Base(fw.path))
	log.Info().Str("path", fw.path).Msg("Watching configuration file")
	return nil
}

// Stop releases the fsnotify handle and, if the watcher was started, waits
// for its loop to exit.
func (fw *FileWatcher) Stop() error {
	fw.mu.Lock()
	running := fw.running
	fw.running = false
	cancel := fw.cancel
	fw.mu.Unlock()

	err := fw.fsw.Close()
	if running {
		cancel()
		<-fw.done
	}
	return err
}

// IsRunning reports whether the watcher has been started and not stopped.
func (fw *FileWatcher) IsRunning() bool {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return fw.running
}

func (fw *FileWatcher) loop(ctx context.Context) {
	defer close(fw.done)

	log := logger.WithService("config", filepath.Base(fw.path))
	name := filepath.Base(fw.path)

	for {
		select {
		case <-ctx.Done():
			log.Debug().Msg("Stopped watching configuration file")
			return

		case ev, ok := <-fw.fsw.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != name || !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			fw.reload(ev)

		case err, ok := <-fw.fsw.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("Configuration watch error")
		}
	}
}

// reload reads the file and hands it to onChange if its contents differ from
// the last ones seen.
func (fw *FileWatcher) reload(ev fsnotify.Event) {
	log := logger.WithService("config", filepath.Base(fw.path))

	data, err := os.ReadFile(fw.path)
	if err != nil {
		// replaced by rename; the Create that follows triggers the reload
		log.Debug().Err(err).Str("event", ev.Op.String()).Msg("Configuration file not readable yet")
		return
	}

	fw.mu.Lock()
	unchanged := bytes.Equal(data, fw.last)
	if !unchanged {
		fw.last = data
	}
	fw.mu.Unlock()
	if unchanged {
		return
	}

	log.Info().Str("event", ev.Op.String()).Msg("Configuration file changed")
	if fw.onChange != nil {
		fw.onChange(data)
	}
}

// NewLoggingWatcher parses Logging.json each time it changes and passes the
// result to callback. Contents that fail to parse are logged and skipped,
// leaving the running configuration in place.
func NewLoggingWatcher(path string, callback func(*logger.Config)) (*FileWatcher, error) {
	return NewFileWatcher(path, func(data []byte) {
		lc, err := ParseLogging(data)
		if err != nil {
			log := logger.WithService("config", filepath.Base(path))
			log.Error().Err(err).Msg("Ignoring invalid logging configuration")
			return
		}
		if callback != nil {
			callback(lc)
		}
	})
}
