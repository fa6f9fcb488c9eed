// Package watcher rebuilds categories when their sources change.
//
// A recursive fsnotify watch covers every bound category source directory.
// Changes are debounced, matched against each binding's glob, and handed to
// one dispatcher per binding which runs the mapped task.
package watcher

import (
	"errors"
	"time"
)

// Common errors returned by watcher operations.
var (
	ErrWatcherClosed   = errors.New("watcher is closed")
	ErrAlreadyWatching = errors.New("path is already being watched")
	ErrPathNotExist    = errors.New("path does not exist")
)

// Op represents the type of file system operation.
type Op uint32

const (
	// OpCreate indicates a file or directory was created.
	OpCreate Op = 1 << iota
	// OpWrite indicates a file was written to.
	OpWrite
	// OpRemove indicates a file or directory was removed.
	OpRemove
	// OpRename indicates a file or directory was renamed.
	OpRename
	// OpChmod indicates file permissions were changed.
	OpChmod
)

// String returns a human-readable representation of the operation.
func (op Op) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpWrite:
		return "WRITE"
	case OpRemove:
		return "REMOVE"
	case OpRename:
		return "RENAME"
	case OpChmod:
		return "CHMOD"
	default:
		return "UNKNOWN"
	}
}

// Has returns true if the operation includes the given op.
func (op Op) Has(o Op) bool {
	return op&o == o
}

// Event represents a file system change event.
type Event struct {
	// Path is the absolute path of the affected file or directory.
	Path string
	// Op is the operation that occurred.
	Op Op
	// Timestamp is when the event occurred.
	Timestamp time.Time
}

// Stats provides watcher status information.
type Stats struct {
	WatchedPaths  int
	PendingEvents int
	TotalEvents   int64
	Errors        int64
	LastError     error
}

// Watcher monitors file system changes.
type Watcher interface {
	// WatchRecursive starts watching a directory and all subdirectories.
	// Returns ErrPathNotExist if the path doesn't exist.
	WatchRecursive(path string) error

	// Events returns the channel of file change events. The channel is
	// closed when the watcher is closed.
	Events() <-chan Event

	// Errors returns the channel of watcher errors.
	Errors() <-chan error

	// Close stops the watcher and releases resources.
	Close() error

	// Stats returns watcher statistics.
	Stats() Stats
}

// Config holds watcher configuration options.
type Config struct {
	// BufferSize is the size of the event and error channels.
	// Default: 100
	BufferSize int

	// IgnoreHidden ignores files and directories starting with a dot.
	IgnoreHidden bool

	// Ignore holds doublestar patterns matched against base names, e.g.
	// editor swap files.
	Ignore []string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		BufferSize:   100,
		IgnoreHidden: true,
		Ignore:       []string{"*~", "*.swp", "*.swx", "#*#"},
	}
}

// Option configures a watcher.
type Option func(*Config)

// WithIgnore replaces the ignore patterns.
func WithIgnore(patterns ...string) Option {
	return func(c *Config) {
		c.Ignore = patterns
	}
}

// WithIgnoreHidden toggles ignoring dot files.
func WithIgnoreHidden(ignore bool) Option {
	return func(c *Config) {
		c.IgnoreHidden = ignore
	}
}
