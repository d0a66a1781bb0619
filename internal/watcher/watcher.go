// Package watcher observes prompt directories for file changes and coalesces
// bursts of events into a single settlement signal.
//
// Every qualifying create/modify event does two things: it fires an
// immediate, synchronous per-file callback (used by the indexed source to
// refresh exactly that resource), and it reschedules a settle timer. A burst
// of N events therefore yields exactly one settle callback, fired one quiet
// delay after the last event. The per-file callback for an event always runs
// to completion before any settle batch that includes it, because it is
// invoked from the event loop while the settle timer is only scheduled there.
package watcher

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/conneroisu/promptweave/internal/logging"
)

// DefaultDebounceDelay is the quiet period after the last qualifying event
// before settlement fires.
const DefaultDebounceDelay = 500 * time.Millisecond

// FileFilter reports whether a path qualifies for change handling.
type FileFilter func(path string) bool

// DebouncedWatcher wraps fsnotify with per-file callbacks and settlement
// debouncing.
type DebouncedWatcher struct {
	fsw      *fsnotify.Watcher
	onFile   func(path string)
	onSettle func()
	delay    time.Duration
	filter   FileFilter
	logger   logging.Logger

	mu      sync.Mutex
	timer   *time.Timer
	watched map[string]struct{}
	closed  bool

	startOnce sync.Once
	closeOnce sync.Once
	done      chan struct{}
}

// New creates a watcher. onFile is called synchronously from the event loop
// for each qualifying file event; onSettle is called once per settled burst.
// A nil filter accepts every path.
func New(onFile func(path string), onSettle func(), delay time.Duration, filter FileFilter, logger logging.Logger) (*DebouncedWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if delay <= 0 {
		delay = DefaultDebounceDelay
	}
	if filter == nil {
		filter = func(string) bool { return true }
	}
	if logger == nil {
		logger = logging.Discard()
	}

	return &DebouncedWatcher{
		fsw:      fsw,
		onFile:   onFile,
		onSettle: onSettle,
		delay:    delay,
		filter:   filter,
		logger:   logger.WithComponent("watcher"),
		watched:  make(map[string]struct{}),
		done:     make(chan struct{}),
	}, nil
}

// Register begins observing a directory. Registering the same canonical path
// twice is a no-op.
func (w *DebouncedWatcher) Register(directory string) error {
	abs, err := filepath.Abs(directory)
	if err != nil {
		return err
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	if _, ok := w.watched[abs]; ok {
		return nil
	}
	if err := w.fsw.Add(abs); err != nil {
		return err
	}
	w.watched[abs] = struct{}{}
	w.logger.Debug(context.Background(), "watching directory", "path", abs)
	return nil
}

// Start launches the event loop on its own goroutine.
func (w *DebouncedWatcher) Start() {
	w.startOnce.Do(func() {
		go w.loop()
	})
}

// Close stops observation, releases the OS watch handles, and cancels any
// pending settle timer so nothing fires after shutdown. Safe to call once.
func (w *DebouncedWatcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		w.mu.Lock()
		w.closed = true
		if w.timer != nil {
			w.timer.Stop()
			w.timer = nil
		}
		w.mu.Unlock()

		close(w.done)
		err = w.fsw.Close()
		w.logger.Info(context.Background(), "file watcher stopped")
	})
	return err
}

func (w *DebouncedWatcher) loop() {
	w.logger.Info(context.Background(), "file watcher started", "debounce", w.delay.String())
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn(context.Background(), err, "watch error")
		}
	}
}

func (w *DebouncedWatcher) handleEvent(event fsnotify.Event) {
	if !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Write) &&
		!event.Op.Has(fsnotify.Remove) && !event.Op.Has(fsnotify.Rename) {
		return
	}
	if ShouldIgnore(event.Name) || !w.filter(event.Name) {
		return
	}

	// Per-file refresh runs synchronously on the event loop, so it is
	// guaranteed to finish before the settle timer this event schedules.
	if w.onFile != nil {
		w.onFile(event.Name)
	}
	w.scheduleSettle()
}

// scheduleSettle cancels the pending settle timer, if any, and starts a new
// one. The settle callback re-checks the closed flag so a timer that was
// already firing during Close does not call out after shutdown.
func (w *DebouncedWatcher) scheduleSettle() {
	if w.onSettle == nil {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.delay, func() {
		w.mu.Lock()
		if w.closed {
			w.mu.Unlock()
			return
		}
		w.timer = nil
		w.mu.Unlock()

		w.onSettle()
	})
}

// ShouldIgnore reports whether a path is a swap or hidden file that never
// qualifies as a prompt change.
func ShouldIgnore(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return true
	}
	if strings.HasSuffix(base, "~") || strings.HasSuffix(base, ".swp") || strings.HasSuffix(base, ".swx") {
		return true
	}
	return false
}
