package event

import "errors"

// Sentinel errors for the event bus.
var (
	// ErrBusClosed is returned when publishing or subscribing on a closed bus.
	ErrBusClosed = errors.New("event bus is closed")

	// ErrInvalidTopic is returned when a topic is empty or malformed.
	ErrInvalidTopic = errors.New("invalid topic")

	// ErrSubscriptionNotFound is returned when unsubscribing twice.
	ErrSubscriptionNotFound = errors.New("subscription not found")
)
