package event

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Subscription receives events matching its pattern.
type Subscription struct {
	id      string
	pattern Topic
	ch      chan Event
	once    sync.Once
}

// ID returns the subscription identifier.
func (s *Subscription) ID() string { return s.id }

// Pattern returns the subscribed topic pattern.
func (s *Subscription) Pattern() Topic { return s.pattern }

// C returns the delivery channel. It is closed on Unsubscribe or Close.
func (s *Subscription) C() <-chan Event { return s.ch }

func (s *Subscription) close() {
	s.once.Do(func() { close(s.ch) })
}

// Stats are cumulative bus counters.
type Stats struct {
	Published   uint64
	Delivered   uint64
	Dropped     uint64
	Subscribers int
}

// Bus fans published events out to subscribers.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]*Subscription
	closed bool

	published atomic.Uint64
	delivered atomic.Uint64
	dropped   atomic.Uint64
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string]*Subscription)}
}

// Subscribe registers a subscription with a delivery buffer of size buffer.
func (b *Bus) Subscribe(pattern Topic, buffer int) (*Subscription, error) {
	if !pattern.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTopic, pattern)
	}
	if buffer < 1 {
		buffer = 1
	}
	sub := &Subscription{
		id:      uuid.NewString(),
		pattern: pattern,
		ch:      make(chan Event, buffer),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBusClosed
	}
	b.subs[sub.id] = sub
	return sub, nil
}

// Unsubscribe removes sub and closes its channel.
func (b *Bus) Unsubscribe(sub *Subscription) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub.id]; !ok {
		return ErrSubscriptionNotFound
	}
	delete(b.subs, sub.id)
	sub.close()
	return nil
}

// Publish delivers ev to every matching subscriber without blocking.
func (b *Bus) Publish(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !ev.Topic.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidTopic, ev.Topic)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBusClosed
	}
	b.published.Add(1)
	for _, sub := range b.subs {
		if !ev.Topic.Matches(sub.pattern) {
			continue
		}
		select {
		case sub.ch <- ev:
			b.delivered.Add(1)
		default:
			b.dropped.Add(1)
		}
	}
	return nil
}

// Close unsubscribes everyone. Further calls return ErrBusClosed.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBusClosed
	}
	b.closed = true
	for id, sub := range b.subs {
		sub.close()
		delete(b.subs, id)
	}
	return nil
}

// Stats returns the current counters.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	n := len(b.subs)
	b.mu.RUnlock()
	return Stats{
		Published:   b.published.Load(),
		Delivered:   b.delivered.Load(),
		Dropped:     b.dropped.Load(),
		Subscribers: n,
	}
}
