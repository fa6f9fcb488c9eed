// Package event carries live-reload notifications from tasks to the dev
// server.
//
// Events use hierarchical topics with dot notation:
//
//	reload.css    - a stylesheet changed; clients swap <link> tags in place
//	reload.page   - anything else changed; clients reload the page
//
// Subscriptions take a topic pattern where "*" matches exactly one segment
// and "**" matches zero or more:
//
//	sub, _ := bus.Subscribe("reload.*", 8)
//	for ev := range sub.C() {
//	    ...
//	}
//
// Publishing never blocks. A subscriber whose buffer is full misses the
// event; the drop is counted in Stats. Reload events are idempotent, so a
// slow browser tab losing one is harmless.
package event
