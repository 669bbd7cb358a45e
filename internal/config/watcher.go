package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher hot-reloads config.toml and invokes OnReload with the newly
// decoded config whenever it changes on disk, debounced so a burst of
// writes from an external editor triggers one reload. Grounded on
// internal/skills/manager.go's StartWatching/watchLoop debounce shape.
type Watcher struct {
	home     string
	debounce time.Duration
	logger   *slog.Logger

	fsw    *fsnotify.Watcher
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWatcher creates a Watcher over home's config.toml. debounce defaults
// to 250ms (the teacher's default) if zero.
func NewWatcher(home string, debounce time.Duration, logger *slog.Logger) (*Watcher, error) {
	if debounce <= 0 {
		debounce = 250 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(home); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	return &Watcher{home: home, debounce: debounce, logger: logger, fsw: fsw}, nil
}

// Start runs the watch loop until ctx is cancelled or Close is called,
// calling onReload with the freshly loaded config after each debounced
// burst of config.toml changes.
func (w *Watcher) Start(ctx context.Context, onReload func(Config, []FeatureDeprecated)) {
	watchCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		var mu sync.Mutex
		var timer *time.Timer
		schedule := func() {
			mu.Lock()
			defer mu.Unlock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, func() {
				cfg, notices, err := Load(w.home)
				if err != nil {
					w.logger.Warn("config reload failed", "error", err)
					return
				}
				onReload(cfg, notices)
			})
		}

		for {
			select {
			case <-watchCtx.Done():
				return
			case event, ok := <-w.fsw.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != "config.toml" {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					schedule()
				}
			case err, ok := <-w.fsw.Errors:
				if !ok {
					return
				}
				w.logger.Warn("config watch error", "error", err)
			}
		}
	}()
}

// Close stops the watch loop and releases the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	if w.cancel != nil {
		w.cancel()
	}
	err := w.fsw.Close()
	w.wg.Wait()
	return err
}
