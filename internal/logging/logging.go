// Package logging provides the structured logger used across assetpipe.
//
// The Logger type is a small facade over zerolog. Components derive child
// loggers with WithComponent or WithField, and all children share the level
// of the logger they were derived from.
package logging

import (
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

// Level represents the severity level of a log message.
type Level int32

const (
	// LevelDebug is for detailed debugging information.
	LevelDebug Level = iota
	// LevelInfo is for general informational messages.
	LevelInfo
	// LevelWarn is for warning messages.
	LevelWarn
	// LevelError is for error messages.
	LevelError
)

// String returns the string representation of the log level.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel parses a string into a Level.
// Unknown values map to LevelInfo.
func ParseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Format selects the output encoding.
type Format string

const (
	// FormatAuto picks console output on a terminal and JSON otherwise.
	FormatAuto Format = ""
	// FormatConsole writes human-readable, optionally colored lines.
	FormatConsole Format = "console"
	// FormatJSON writes one JSON object per line.
	FormatJSON Format = "json"
)

// Config configures the logger.
type Config struct {
	// Level is the minimum log level to output.
	Level Level
	// Format is the output encoding.
	Format Format
	// Output is where logs are written. Defaults to os.Stderr.
	Output io.Writer
}

// DefaultConfig returns the default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Format: FormatAuto,
		Output: os.Stderr,
	}
}

// Logger provides structured logging.
type Logger struct {
	zl    zerolog.Logger
	level *atomic.Int32
}

// New creates a new logger with the given configuration.
func New(cfg Config) *Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}

	level := &atomic.Int32{}
	level.Store(int32(cfg.Level))

	return &Logger{
		zl:    zerolog.New(writerFor(cfg)).With().Timestamp().Logger(),
		level: level,
	}
}

// writerFor builds the zerolog writer for the configured format.
func writerFor(cfg Config) io.Writer {
	format := cfg.Format
	tty := false
	if f, ok := cfg.Output.(*os.File); ok {
		tty = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	if format == FormatAuto {
		if tty {
			format = FormatConsole
		} else {
			format = FormatJSON
		}
	}

	if format == FormatJSON {
		return cfg.Output
	}

	out := cfg.Output
	if f, ok := out.(*os.File); ok && tty {
		out = colorable.NewColorable(f)
	}
	return zerolog.ConsoleWriter{
		Out:        out,
		NoColor:    !tty,
		TimeFormat: time.TimeOnly,
	}
}

// Nop returns a logger that discards all output.
func Nop() *Logger {
	level := &atomic.Int32{}
	level.Store(int32(LevelError + 1))
	return &Logger{zl: zerolog.Nop(), level: level}
}

// WithField returns a new logger with the given field added.
func (l *Logger) WithField(key string, value any) *Logger {
	return &Logger{
		zl:    l.zl.With().Interface(key, value).Logger(),
		level: l.level,
	}
}

// WithFields returns a new logger with the given fields added.
func (l *Logger) WithFields(fields map[string]any) *Logger {
	return &Logger{
		zl:    l.zl.With().Fields(fields).Logger(),
		level: l.level,
	}
}

// WithComponent returns a new logger with the component field set.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		zl:    l.zl.With().Str("component", component).Logger(),
		level: l.level,
	}
}

// SetLevel sets the minimum log level for this logger and every logger
// derived from it.
func (l *Logger) SetLevel(level Level) {
	l.level.Store(int32(level))
}

// Level returns the current minimum level.
func (l *Logger) Level() Level {
	return Level(l.level.Load())
}

// Debug logs a debug message with optional key/value pairs.
func (l *Logger) Debug(msg string, keyvals ...any) {
	l.log(LevelDebug, msg, keyvals)
}

// Info logs an info message with optional key/value pairs.
func (l *Logger) Info(msg string, keyvals ...any) {
	l.log(LevelInfo, msg, keyvals)
}

// Warn logs a warning message with optional key/value pairs.
func (l *Logger) Warn(msg string, keyvals ...any) {
	l.log(LevelWarn, msg, keyvals)
}

// Error logs an error message with optional key/value pairs.
func (l *Logger) Error(msg string, keyvals ...any) {
	l.log(LevelError, msg, keyvals)
}

// log writes a log message if the level is enabled.
func (l *Logger) log(level Level, msg string, keyvals []any) {
	if level < Level(l.level.Load()) {
		return
	}

	var ev *zerolog.Event
	switch level {
	case LevelDebug:
		ev = l.zl.Debug()
	case LevelInfo:
		ev = l.zl.Info()
	case LevelWarn:
		ev = l.zl.Warn()
	default:
		ev = l.zl.Error()
	}

	// A dangling key gets an explicit marker rather than being dropped.
	if len(keyvals)%2 != 0 {
		keyvals = append(keyvals, "(MISSING)")
	}
	if len(keyvals) > 0 {
		ev = ev.Fields(keyvals)
	}
	ev.Msg(msg)
}

var (
	defaultLogger     *Logger
	defaultLoggerOnce sync.Once
	defaultMu         sync.RWMutex
)

// Default returns the process-wide logger.
// Creates a logger from DefaultConfig on first call if none was set.
func Default() *Logger {
	defaultLoggerOnce.Do(func() {
		defaultMu.Lock()
		if defaultLogger == nil {
			defaultLogger = New(DefaultConfig())
		}
		defaultMu.Unlock()
	})
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

// SetDefault sets the process-wide logger.
// Should be called early in startup.
func SetDefault(l *Logger) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultLogger = l
}
