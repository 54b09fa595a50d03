package engine

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Mindburn-Labs/force/core/pkg/force"
)

const watchDebounce = 500 * time.Millisecond

// Watch reloads the registry when component files change on disk. Events
// are debounced so an editor save burst triggers one reload. Blocks until
// ctx is cancelled.
func (e *Engine) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return force.WrapError(force.KindInternal, err, "engine: watcher")
	}
	defer watcher.Close()

	for _, kind := range force.Kinds {
		dir := filepath.Join(e.cfg.Root, force.DirFor(kind))
		if err := watcher.Add(dir); err != nil {
			// Absent subtrees are legal; watch what exists.
			e.logger.Debug("engine: not watching", "dir", dir, "error", err)
		}
	}

	var timer *time.Timer
	var timerC <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !relevant(event) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(watchDebounce)
				timerC = timer.C
			} else {
				timer.Reset(watchDebounce)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			e.logger.Warn("engine: watch error", "error", err)

		case <-timerC:
			timer = nil
			timerC = nil
			if _, err := e.Reload(ctx); err != nil {
				e.logger.Error("engine: auto-reload failed", "error", err)
			}
		}
	}
}

// relevant filters out backup churn and non-component files. The fixer's
// own rewrites still trigger a reload, which is what picks the fixes up.
func relevant(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	name := filepath.Base(event.Name)
	if strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".json") {
		return false
	}
	return !strings.Contains(event.Name, string(filepath.Separator)+".backup"+string(filepath.Separator))
}
