package config

import (
	"context"

	"github.com/fsnotify/fsnotify"

	"github.com/rockerboo/lsp-client-core/logger"
)

// Watcher watches an on-disk config file and invokes a callback with
// the freshly reloaded LSPServerConfig whenever it changes, so an
// embedder can feed a live-reloaded ServerConfig into a Supervisor's
// ServerProvider without restarting the running server.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher
	onLoad  func(*LSPServerConfig)
}

// NewWatcher creates a Watcher for the config file at path. onLoad is
// called once synchronously with the initial load, then again on every
// subsequent write. A load failure is logged and otherwise ignored;
// the previous configuration stays in effect.
func NewWatcher(path string, onLoad func(*LSPServerConfig)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(path); err != nil {
		fw.Close()
		return nil, err
	}

	w := &Watcher{path: path, watcher: fw, onLoad: onLoad}

	if cfg, err := LoadFile(path); err != nil {
		logger.Error("config: initial load failed", "path", path, "error", err)
	} else {
		onLoad(cfg)
	}

	return w, nil
}

// Run blocks, reloading and invoking onLoad on every write to the
// watched file, until ctx is canceled or Close is called.
func (w *Watcher) Run(ctx context.Context) {
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := LoadFile(w.path)
			if err != nil {
				logger.Error("config: reload failed", "path", w.path, "error", err)
				continue
			}
			logger.Info("config: reloaded", "path", w.path)
			w.onLoad(cfg)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logger.Error("config: watcher error", "error", err)

		case <-ctx.Done():
			return
		}
	}
}

// Close stops the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
