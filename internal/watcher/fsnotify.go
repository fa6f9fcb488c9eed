package watcher

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
)

// FSNotifyWatcher implements Watcher using fsnotify.
type FSNotifyWatcher struct {
	mu sync.RWMutex

	watcher *fsnotify.Watcher
	config  Config
	paths   map[string]bool

	events chan Event
	errors chan error

	totalEvents int64
	totalErrors int64
	lastError   error

	closed   bool
	closeCh  chan struct{}
	closedWg sync.WaitGroup
}

// NewFSNotifyWatcher creates a new fsnotify-based watcher.
func NewFSNotifyWatcher(opts ...Option) (*FSNotifyWatcher, error) {
	config := DefaultConfig()
	for _, opt := range opts {
		opt(&config)
	}
	for _, p := range config.Ignore {
		if !doublestar.ValidatePattern(p) {
			return nil, errors.New("invalid ignore pattern: " + p)
		}
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	bufSize := config.BufferSize
	if bufSize <= 0 {
		bufSize = 100
	}

	w := &FSNotifyWatcher{
		watcher: fsw,
		config:  config,
		paths:   make(map[string]bool),
		events:  make(chan Event, bufSize),
		errors:  make(chan error, bufSize),
		closeCh: make(chan struct{}),
	}

	w.closedWg.Add(1)
	go w.processLoop()

	return w, nil
}

// watch adds a single directory.
func (w *FSNotifyWatcher) watch(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWatcherClosed
	}
	if w.paths[path] {
		return ErrAlreadyWatching
	}
	if err := w.watcher.Add(path); err != nil {
		return err
	}
	w.paths[path] = true
	return nil
}

// WatchRecursive watches a directory and all subdirectories.
func (w *FSNotifyWatcher) WatchRecursive(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	info, err := os.Stat(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrPathNotExist
		}
		return err
	}
	if !info.IsDir() {
		return w.watch(absPath)
	}

	return filepath.WalkDir(absPath, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if p != absPath && w.shouldIgnore(p) {
			return filepath.SkipDir
		}
		if watchErr := w.watch(p); watchErr != nil && !errors.Is(watchErr, ErrAlreadyWatching) {
			w.recordError(watchErr)
		}
		return nil
	})
}

// Events returns the event channel.
func (w *FSNotifyWatcher) Events() <-chan Event {
	return w.events
}

// Errors returns the error channel.
func (w *FSNotifyWatcher) Errors() <-chan error {
	return w.errors
}

// Close stops the watcher.
func (w *FSNotifyWatcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.closeCh)
	w.mu.Unlock()

	w.closedWg.Wait()

	close(w.events)
	close(w.errors)

	return w.watcher.Close()
}

// Stats returns watcher statistics.
func (w *FSNotifyWatcher) Stats() Stats {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return Stats{
		WatchedPaths:  len(w.paths),
		PendingEvents: len(w.events),
		TotalEvents:   atomic.LoadInt64(&w.totalEvents),
		Errors:        atomic.LoadInt64(&w.totalErrors),
		LastError:     w.lastError,
	}
}

func (w *FSNotifyWatcher) processLoop() {
	defer w.closedWg.Done()

	for {
		select {
		case <-w.closeCh:
			return

		case fsEvent, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleFSEvent(fsEvent)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.recordError(err)
			w.sendError(err)
		}
	}
}

func (w *FSNotifyWatcher) handleFSEvent(fsEvent fsnotify.Event) {
	op := convertOp(fsEvent.Op)
	if op == 0 || w.shouldIgnore(fsEvent.Name) {
		return
	}

	w.sendEvent(Event{
		Path:      fsEvent.Name,
		Op:        op,
		Timestamp: time.Now(),
	})

	// New directories below a watched root are watched too. Files that
	// landed in them before the watch was added are reported as created.
	if op.Has(OpCreate) {
		if info, err := os.Stat(fsEvent.Name); err == nil && info.IsDir() {
			_ = w.WatchRecursive(fsEvent.Name)
			w.reportExisting(fsEvent.Name)
		}
	}
}

func (w *FSNotifyWatcher) reportExisting(dir string) {
	_ = filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil || p == dir {
			return nil
		}
		if w.shouldIgnore(p) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() {
			w.sendEvent(Event{Path: p, Op: OpCreate, Timestamp: time.Now()})
		}
		return nil
	})
}

func convertOp(fsOp fsnotify.Op) Op {
	var op Op
	if fsOp.Has(fsnotify.Create) {
		op |= OpCreate
	}
	if fsOp.Has(fsnotify.Write) {
		op |= OpWrite
	}
	if fsOp.Has(fsnotify.Remove) {
		op |= OpRemove
	}
	if fsOp.Has(fsnotify.Rename) {
		op |= OpRename
	}
	if fsOp.Has(fsnotify.Chmod) {
		op |= OpChmod
	}
	return op
}

func (w *FSNotifyWatcher) shouldIgnore(path string) bool {
	base := filepath.Base(path)
	if w.config.IgnoreHidden && len(base) > 1 && base[0] == '.' {
		return true
	}
	for _, p := range w.config.Ignore {
		if ok, _ := doublestar.Match(p, base); ok {
			return true
		}
	}
	return false
}

func (w *FSNotifyWatcher) sendEvent(event Event) {
	select {
	case w.events <- event:
		atomic.AddInt64(&w.totalEvents, 1)
	default:
		w.recordError(errors.New("event channel full, dropping event"))
	}
}

func (w *FSNotifyWatcher) sendError(err error) {
	select {
	case w.errors <- err:
	default:
	}
}

func (w *FSNotifyWatcher) recordError(err error) {
	atomic.AddInt64(&w.totalErrors, 1)
	w.mu.Lock()
	w.lastError = err
	w.mu.Unlock()
}

var _ Watcher = (*FSNotifyWatcher)(nil)
