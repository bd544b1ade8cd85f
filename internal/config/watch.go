package config

import (
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads AppConfig from disk whenever config.yaml changes;
// Get returns the most recently loaded snapshot. Callers that read Get
// only once (as "dashboard serve" does at startup) do not see later
// changes.
type Watcher struct {
	mu      sync.RWMutex
	cfg     AppConfig
	dir     string
	log     *slog.Logger
	watcher *fsnotify.Watcher
	stopCh  chan struct{}
}

// NewWatcher loads dir/config.yaml and starts watching it for changes.
func NewWatcher(dir string, log *slog.Logger) (*Watcher, error) {
	cfg, err := Load(dir)
	if err != nil {
		return nil, err
	}
	if err := EnsureDirs(dir, dir); err != nil {
		return nil, err
	}

	w := &Watcher{cfg: cfg, dir: dir, log: log, stopCh: make(chan struct{})}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, err
	}
	w.watcher = fw
	go w.loop()
	return w, nil
}

// Get returns the current config snapshot.
func (w *Watcher) Get() AppConfig {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cfg
}

// Close stops the watcher goroutine.
func (w *Watcher) Close() {
	close(w.stopCh)
	if w.watcher != nil {
		w.watcher.Close()
	}
}

func (w *Watcher) loop() {
	target := filepath.Join(w.dir, "config.yaml")
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Name != target || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(w.dir)
			if err != nil {
				if w.log != nil {
					w.log.Warn("config: reload failed", "err", err)
				}
				continue
			}
			w.mu.Lock()
			w.cfg = cfg
			w.mu.Unlock()
			if w.log != nil {
				w.log.Info("config: reloaded")
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			if w.log != nil {
				w.log.Warn("config: watcher error", "err", err)
			}
		case <-w.stopCh:
			return
		}
	}
}
