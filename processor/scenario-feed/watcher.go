package scenariofeed

import (
	"context"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
)

const (
	// requeueBuffer is the size of the re-queue channel.
	requeueBuffer = 64

	// debounceDelay is how long to wait for more changes before re-queueing.
	debounceDelay = 500 * time.Millisecond
)

// scenarioWatcher re-queues scenario files when they are created or
// modified. Removals are ignored; a deleted scenario simply stops being
// replayed.
type scenarioWatcher struct {
	dir      string
	patterns []string
	watcher  *fsnotify.Watcher
	logger   *slog.Logger
	debounce time.Duration

	// Debouncing: collect changes before re-queueing
	pendingMu sync.Mutex
	pending   map[string]bool

	requeue chan string
	dropped atomic.Int64
}

// newScenarioWatcher creates a watcher over one scenario directory.
func newScenarioWatcher(dir string, patterns []string, logger *slog.Logger) (*scenarioWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &scenarioWatcher{
		dir:      dir,
		patterns: patterns,
		watcher:  fsw,
		logger:   logger,
		debounce: debounceDelay,
		pending:  make(map[string]bool),
		requeue:  make(chan string, requeueBuffer),
	}, nil
}

// Requeue returns the channel of scenario files to replay again.
func (w *scenarioWatcher) Requeue() <-chan string {
	return w.requeue
}

// Start begins watching the scenario directory.
func (w *scenarioWatcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(w.dir); err != nil {
		return err
	}

	go w.processEvents(ctx)

	w.logger.Info("Scenario watcher started",
		"directory", w.dir,
		"patterns", w.patterns)
	return nil
}

// Stop stops the watcher.
// The requeue channel is closed by processEvents when it exits.
func (w *scenarioWatcher) Stop() error {
	return w.watcher.Close()
}

// processEvents handles fsnotify events with debouncing.
func (w *scenarioWatcher) processEvents(ctx context.Context) {
	defer close(w.requeue)
	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleFSEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("Watcher error", "error", err)

		case <-ticker.C:
			w.flushPending()
		}
	}
}

// handleFSEvent accumulates created or modified scenario files.
func (w *scenarioWatcher) handleFSEvent(event fsnotify.Event) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return
	}
	if !w.matches(event.Name) {
		return
	}

	w.pendingMu.Lock()
	w.pending[event.Name] = true
	w.pendingMu.Unlock()

	w.logger.Debug("Scenario change detected",
		"path", event.Name,
		"op", event.Op.String())
}

// matches checks a path against the configured glob patterns.
func (w *scenarioWatcher) matches(path string) bool {
	rel, err := filepath.Rel(w.dir, path)
	if err != nil {
		return false
	}
	for _, pattern := range w.patterns {
		if ok, err := doublestar.Match(pattern, filepath.ToSlash(rel)); err == nil && ok {
			return true
		}
	}
	return false
}

// flushPending re-queues accumulated changes, collapsing write bursts to
// the same file into a single replay.
func (w *scenarioWatcher) flushPending() {
	w.pendingMu.Lock()
	if len(w.pending) == 0 {
		w.pendingMu.Unlock()
		return
	}

	toQueue := make([]string, 0, len(w.pending))
	for path := range w.pending {
		toQueue = append(toQueue, path)
	}
	w.pending = make(map[string]bool)
	w.pendingMu.Unlock()

	sort.Strings(toQueue)
	for _, path := range toQueue {
		select {
		case w.requeue <- path:
			w.logger.Debug("Scenario re-queued", "path", path)
		default:
			dropped := w.dropped.Add(1)
			w.logger.Warn("Re-queue channel full, dropping scenario",
				"path", path,
				"total_dropped", dropped)
		}
	}
}
