package safety

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultReloadDebounce = 300 * time.Millisecond

// RulesWatcher rebuilds the classifier's matcher when the rules file changes.
// A file that fails to parse or compile is logged and the active matcher
// stays in place.
type RulesWatcher struct {
	mu         sync.Mutex
	watcher    *fsnotify.Watcher
	path       string
	classifier *Classifier
	debounce   time.Duration
	logger     *slog.Logger
	stopCh     chan struct{}
	doneCh     chan struct{}
	running    bool
	onReload   func(*Matcher, error)
}

// NewRulesWatcher creates a watcher for path.
func NewRulesWatcher(path string, classifier *Classifier, logger *slog.Logger) (*RulesWatcher, error) {
	if path == "" {
		return nil, fmt.Errorf("rules watcher: path is required")
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RulesWatcher{
		watcher:    w,
		path:       filepath.Clean(path),
		classifier: classifier,
		debounce:   defaultReloadDebounce,
		logger:     logger,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}, nil
}

// OnReload registers a callback invoked after every reload attempt.
func (rw *RulesWatcher) OnReload(fn func(*Matcher, error)) {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	rw.onReload = fn
}

// Start watches the rules file's directory. Editors often replace files by
// rename, so the directory is watched rather than the file itself.
func (rw *RulesWatcher) Start(ctx context.Context) error {
	rw.mu.Lock()
	if rw.running {
		rw.mu.Unlock()
		return nil
	}
	rw.running = true
	rw.mu.Unlock()

	if err := rw.watcher.Add(filepath.Dir(rw.path)); err != nil {
		return fmt.Errorf("watch rules dir: %w", err)
	}
	rw.logger.Info("Rules watcher started", "path", rw.path)

	go rw.run(ctx)
	return nil
}

// Stop ends the watch loop and releases the fsnotify watcher.
func (rw *RulesWatcher) Stop() {
	rw.mu.Lock()
	if !rw.running {
		rw.mu.Unlock()
		_ = rw.watcher.Close()
		return
	}
	rw.running = false
	rw.mu.Unlock()

	close(rw.stopCh)
	<-rw.doneCh
	if err := rw.watcher.Close(); err != nil {
		rw.logger.Warn("Failed to close rules watcher", "error", err)
	}
}

func (rw *RulesWatcher) run(ctx context.Context) {
	defer close(rw.doneCh)

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-rw.stopCh:
			return
		case event, ok := <-rw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != rw.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(rw.debounce)
			} else {
				timer.Reset(rw.debounce)
			}
			fire = timer.C
		case err, ok := <-rw.watcher.Errors:
			if !ok {
				return
			}
			rw.logger.Error("Rules watcher error", "error", err)
		case <-fire:
			fire = nil
			rw.reload()
		}
	}
}

func (rw *RulesWatcher) reload() {
	m, err := rw.build()
	if err != nil {
		rw.logger.Error("Rules reload rejected, keeping active rules", "path", rw.path, "error", err)
	} else {
		rw.classifier.SetMatcher(m)
		rw.logger.Info("Rules reloaded", "path", rw.path, "version", m.Version())
	}

	rw.mu.Lock()
	cb := rw.onReload
	rw.mu.Unlock()
	if cb != nil {
		cb(m, err)
	}
}

func (rw *RulesWatcher) build() (*Matcher, error) {
	rs, err := LoadRuleSet(rw.path)
	if err != nil {
		return nil, err
	}
	return NewMatcher(rs)
}
