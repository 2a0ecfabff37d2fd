package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/luxiaoyu/claw-app/internal/logfields"
)

// pidFileWatcher watches the PID file's directory (files are replaced, not
// edited in place) and calls onChange once per burst of events. While the
// directory does not exist yet, its nearest existing ancestor is watched
// instead and the watch moves down as directories appear. Nothing is created.
type pidFileWatcher struct {
	path     string
	dir      string
	watched  string
	debounce time.Duration
	onChange func()
	logger   *slog.Logger

	watcher  *fsnotify.Watcher
	trigger  chan struct{}
	stopChan chan struct{}
	wg       sync.WaitGroup
}

func newPIDFileWatcher(path string, debounce time.Duration, onChange func(), logger *slog.Logger) (*pidFileWatcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve pid file path: %w", err)
	}
	dir := filepath.Dir(absPath)
	watched := nearestExisting(dir)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := w.Add(watched); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", watched, err)
	}
	if watched != dir {
		logger.Debug("PID file directory missing, watching ancestor", logfields.Path(watched))
	}
	return &pidFileWatcher{
		path:     absPath,
		dir:      dir,
		watched:  watched,
		debounce: debounce,
		onChange: onChange,
		logger:   logger,
		watcher:  w,
		trigger:  make(chan struct{}, 1),
		stopChan: make(chan struct{}),
	}, nil
}

func (w *pidFileWatcher) start(ctx context.Context) {
	w.wg.Add(2)
	go w.watchLoop(ctx)
	go w.debounceLoop(ctx)
}

func (w *pidFileWatcher) stop() {
	close(w.stopChan)
	if err := w.watcher.Close(); err != nil {
		w.logger.Error("Error closing file watcher", logfields.Error(err))
	}
	w.wg.Wait()
}

func (w *pidFileWatcher) watchLoop(ctx context.Context) {
	defer w.wg.Done()
	name := filepath.Base(w.path)
	if w.watched != w.dir {
		w.descend()
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if w.watched != w.dir {
				if event.Op&fsnotify.Create != 0 && leadsTo(w.dir, event.Name) {
					w.descend()
				}
				continue
			}
			if filepath.Dir(event.Name) != w.dir || filepath.Base(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				w.logger.Debug("PID file changed", logfields.Path(event.Name), slog.String("op", event.Op.String()))
				w.fire()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("PID file watcher error", logfields.Error(err))
		}
	}
}

func (w *pidFileWatcher) fire() {
	select {
	case w.trigger <- struct{}{}:
	default:
	}
}

// descend moves the watch down towards the PID file directory. After each
// Add it looks again, since a directory created before the watch was in
// place produces no event. Reaching the directory itself triggers a check,
// since the PID file may already have been written.
func (w *pidFileWatcher) descend() {
	for {
		next := nearestExisting(w.dir)
		if next == w.watched {
			return
		}
		if err := w.watcher.Add(next); err != nil {
			w.logger.Warn("Failed to watch directory", logfields.Path(next), logfields.Error(err))
			return
		}
		_ = w.watcher.Remove(w.watched)
		w.watched = next
		w.logger.Debug("Watching directory", logfields.Path(next))
		if next == w.dir {
			w.fire()
			return
		}
	}
}

// nearestExisting returns dir or its closest ancestor that is a directory.
func nearestExisting(dir string) string {
	for {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return dir
		}
		dir = parent
	}
}

// leadsTo reports whether path is dir or one of its ancestors.
func leadsTo(dir, path string) bool {
	return path == dir || strings.HasPrefix(dir, path+string(filepath.Separator))
}

func (w *pidFileWatcher) debounceLoop(ctx context.Context) {
	defer w.wg.Done()
	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case <-w.stopChan:
			if timer != nil {
				timer.Stop()
			}
			return
		case <-w.trigger:
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			w.onChange()
		}
	}
}
