package event

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event announces that a task wrote output.
type Event struct {
	ID    string    `json:"id"`
	Topic Topic     `json:"topic"`
	Task  string    `json:"task"`
	Paths []string  `json:"paths,omitempty"`
	Time  time.Time `json:"time"`
}

// New returns an event with a fresh ID and the current time.
func New(t Topic, task string, paths ...string) Event {
	return Event{
		ID:    uuid.NewString(),
		Topic: t,
		Task:  task,
		Paths: paths,
		Time:  time.Now(),
	}
}

// ReloadTopic picks the reload topic for a set of written files: CSS-only
// changes can be injected without a page reload.
func ReloadTopic(paths []string) Topic {
	if len(paths) == 0 {
		return TopicReloadPage
	}
	for _, p := range paths {
		if !strings.EqualFold(filepath.Ext(p), ".css") {
			return TopicReloadPage
		}
	}
	return TopicReloadCSS
}

// Publisher accepts events.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, ev Event) error

// Publish calls fn.
func (fn PublisherFunc) Publish(ctx context.Context, ev Event) error {
	return fn(ctx, ev)
}

// Discard is a Publisher that drops every event.
var Discard Publisher = PublisherFunc(func(context.Context, Event) error { return nil })
