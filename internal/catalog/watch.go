package catalog

import (
	"context"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the catalog whenever a workflow file in one of its
// directories changes.
type Watcher struct {
	dirs     []string
	debounce time.Duration
	onReload func(*Catalog)
	watcher  *fsnotify.Watcher
	logger   *slog.Logger
}

func NewWatcher(dirs []string, debounce time.Duration, onReload func(*Catalog), logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	if debounce <= 0 {
		debounce = 250 * time.Millisecond
	}

	return &Watcher{
		dirs:     dirs,
		debounce: debounce,
		onReload: onReload,
		watcher:  fsw,
		logger:   logger.With("component", "catalog-watcher"),
	}, nil
}

// Run watches until ctx is done. Missing directories are skipped.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	for _, dir := range w.dirs {
		if err := w.watcher.Add(dir); err != nil {
			w.logger.Debug("not watching catalog directory", "dir", dir, "error", err)
			continue
		}
		w.logger.Debug("watching catalog directory", "dir", dir)
	}

	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

	dirty := false
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if isWorkflowFile(event.Name) && !event.Has(fsnotify.Chmod) {
				dirty = true
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watcher error", "error", err)

		case <-ticker.C:
			if !dirty {
				continue
			}
			dirty = false
			c, err := Load(w.dirs)
			if err != nil {
				w.logger.Warn("catalog reload failed, keeping previous catalog", "error", err)
				continue
			}
			w.logger.Info("catalog reloaded", "workflows", c.Len())
			w.onReload(c)
		}
	}
}
