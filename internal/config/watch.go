package config

import (
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/go-logr/logr"
)

// Watcher holds the live Config behind an atomic pointer so readers never
// observe a torn write, and reloads it whenever the backing file changes.
// A reload that fails validation is logged and discarded; the previous,
// known-good Config stays in effect.
type Watcher struct {
	path    string
	current atomic.Pointer[Config]
	logger  logr.Logger
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewWatcher loads path once and returns a Watcher serving it. Call Start
// to begin watching for changes.
func NewWatcher(path string, logger logr.Logger) (*Watcher, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	w := &Watcher{path: path, logger: logger, done: make(chan struct{})}
	w.current.Store(cfg)
	return w, nil
}

// Get returns the currently active Config.
func (w *Watcher) Get() *Config {
	return w.current.Load()
}

// Start begins watching the config file for writes, reloading on each one.
// Call Stop to release the underlying fsnotify watcher.
func (w *Watcher) Start() error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fw.Add(w.path); err != nil {
		fw.Close()
		return err
	}
	w.watcher = fw

	go func() {
		for {
			select {
			case event, ok := <-fw.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				w.reload()
			case err, ok := <-fw.Errors:
				if !ok {
					return
				}
				w.logger.Error(err, "config watcher error")
			case <-w.done:
				return
			}
		}
	}()
	return nil
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Error(err, "config reload failed, keeping previous config", "path", w.path)
		return
	}
	w.current.Store(cfg)
	w.logger.Info("config reloaded", "path", w.path)
}

// Stop releases the fsnotify watcher and the reload goroutine.
func (w *Watcher) Stop() error {
	close(w.done)
	if w.watcher != nil {
		return w.watcher.Close()
	}
	return nil
}
