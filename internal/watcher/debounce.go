package watcher

import (
	"sync"
	"time"
)

// DefaultDebounce is the delay used when none is configured.
const DefaultDebounce = 100 * time.Millisecond

// DebouncedWatcher wraps a Watcher with event debouncing. Rapid changes to
// the same path are coalesced into one event carrying every op seen.
type DebouncedWatcher struct {
	inner Watcher
	delay time.Duration

	mu       sync.Mutex
	pending  map[string]*pendingEvent
	events   chan Event
	errors   chan error
	closed   bool
	closeCh  chan struct{}
	closedWg sync.WaitGroup
}

type pendingEvent struct {
	event Event
	timer *time.Timer
}

// NewDebouncedWatcher wraps inner. A delay of zero or less selects
// DefaultDebounce.
func NewDebouncedWatcher(inner Watcher, delay time.Duration) *DebouncedWatcher {
	if delay <= 0 {
		delay = DefaultDebounce
	}

	dw := &DebouncedWatcher{
		inner:   inner,
		delay:   delay,
		pending: make(map[string]*pendingEvent),
		events:  make(chan Event, 100),
		errors:  make(chan error, 100),
		closeCh: make(chan struct{}),
	}

	dw.closedWg.Add(1)
	go dw.processLoop()

	return dw
}

// WatchRecursive starts watching a directory recursively.
func (dw *DebouncedWatcher) WatchRecursive(path string) error {
	return dw.inner.WatchRecursive(path)
}

// Events returns the debounced event channel.
func (dw *DebouncedWatcher) Events() <-chan Event {
	return dw.events
}

// Errors returns the error channel.
func (dw *DebouncedWatcher) Errors() <-chan error {
	return dw.errors
}

// Close stops the debounced watcher and the wrapped one.
func (dw *DebouncedWatcher) Close() error {
	dw.mu.Lock()
	if dw.closed {
		dw.mu.Unlock()
		return nil
	}
	dw.closed = true
	close(dw.closeCh)

	for path, p := range dw.pending {
		p.timer.Stop()
		delete(dw.pending, path)
	}
	dw.mu.Unlock()

	err := dw.inner.Close()
	dw.closedWg.Wait()

	dw.mu.Lock()
	close(dw.events)
	close(dw.errors)
	dw.mu.Unlock()
	return err
}

// Stats returns watcher statistics.
func (dw *DebouncedWatcher) Stats() Stats {
	dw.mu.Lock()
	pendingCount := len(dw.pending)
	dw.mu.Unlock()

	stats := dw.inner.Stats()
	stats.PendingEvents = pendingCount
	return stats
}

func (dw *DebouncedWatcher) processLoop() {
	defer dw.closedWg.Done()

	events := dw.inner.Events()
	errs := dw.inner.Errors()
	for events != nil || errs != nil {
		select {
		case <-dw.closeCh:
			return

		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			dw.handleEvent(event)

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			dw.forwardError(err)
		}
	}
}

func (dw *DebouncedWatcher) handleEvent(event Event) {
	dw.mu.Lock()
	defer dw.mu.Unlock()

	if dw.closed {
		return
	}

	if p, exists := dw.pending[event.Path]; exists {
		p.event.Op |= event.Op
		p.event.Timestamp = event.Timestamp
		p.timer.Reset(dw.delay)
		return
	}

	p := &pendingEvent{event: event}
	p.timer = time.AfterFunc(dw.delay, func() {
		dw.fireEvent(event.Path)
	})
	dw.pending[event.Path] = p
}

// fireEvent sends a pending event and removes it from the map.
func (dw *DebouncedWatcher) fireEvent(path string) {
	dw.mu.Lock()
	defer dw.mu.Unlock()
	p, exists := dw.pending[path]
	if !exists || dw.closed {
		return
	}
	delete(dw.pending, path)

	select {
	case dw.events <- p.event:
	default:
		// Channel full, drop event
	}
}

func (dw *DebouncedWatcher) forwardError(err error) {
	select {
	case dw.errors <- err:
	case <-dw.closeCh:
	default:
	}
}

// Flush immediately fires all pending events.
func (dw *DebouncedWatcher) Flush() {
	dw.mu.Lock()
	paths := make([]string, 0, len(dw.pending))
	for path, p := range dw.pending {
		p.timer.Stop()
		paths = append(paths, path)
	}
	dw.mu.Unlock()

	for _, path := range paths {
		dw.fireEvent(path)
	}
}

// PendingCount returns the number of pending events.
func (dw *DebouncedWatcher) PendingCount() int {
	dw.mu.Lock()
	defer dw.mu.Unlock()
	return len(dw.pending)
}

var _ Watcher = (*DebouncedWatcher)(nil)
