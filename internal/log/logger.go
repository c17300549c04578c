// SPDX-License-Identifier: MIT
/*
Package log is the application's levelled logger.

The level is held in an atomic so it can be changed at runtime from the
config layer. Records are emitted through a log/slog text handler so every
line carries a timestamp, level and optional component attribute.

Nothing in this package may be called from the real-time capture callback:
formatting allocates and the handler writes to an io.Writer under a lock.
*/
package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

// LogLevel defines the severity of a log message.
type LogLevel uint32

// Constants for log levels.
const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

// String returns the string representation of the LogLevel.
func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelFatal:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// slogLevel maps a LogLevel onto the slog scale. Fatal sits above Error.
func (l LogLevel) slogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelError + 4
	}
}

// ParseLevel converts a string (case-insensitive) to a LogLevel.
// Returns LevelInfo and false if the string is not recognized.
func ParseLevel(levelStr string) (LogLevel, bool) {
	switch strings.ToUpper(levelStr) {
	case "DEBUG":
		return LevelDebug, true
	case "INFO":
		return LevelInfo, true
	case "WARN", "WARNING":
		return LevelWarn, true
	case "ERROR":
		return LevelError, true
	case "FATAL":
		return LevelFatal, true
	default:
		return LevelInfo, false
	}
}

// --- Global Logger State ---

// currentLevel holds the current global log level atomically.
var currentLevel atomic.Uint32

// handler receives every record that passes the level check. The handler
// itself logs everything; filtering happens in shouldLog.
var handler atomic.Pointer[slog.Logger]

// exit is replaced in tests so Fatal paths can be observed.
var exit = os.Exit

func init() {
	SetOutput(os.Stderr)
	SetLevel(LevelInfo)
}

// SetOutput redirects all log output to w.
func SetOutput(w io.Writer) {
	h := slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug})
	handler.Store(slog.New(h))
}

// SetLevel sets the global logging level atomically.
func SetLevel(level LogLevel) {
	currentLevel.Store(uint32(level))
}

// GetLevel gets the current global logging level atomically.
func GetLevel() LogLevel {
	return LogLevel(currentLevel.Load())
}

// shouldLog checks if a message at the given level should be logged based on the current global level.
func shouldLog(level LogLevel) bool {
	return level >= GetLevel()
}

func emit(level LogLevel, msg string, attrs ...slog.Attr) {
	handler.Load().LogAttrs(context.Background(), level.slogLevel(), msg, attrs...)
}

// --- Public Logging Functions ---

// Debugf logs a formatted debug message if the level is appropriate.
func Debugf(format string, v ...any) {
	if shouldLog(LevelDebug) {
		emit(LevelDebug, fmt.Sprintf(format, v...))
	}
}

// Infof logs a formatted info message if the level is appropriate.
func Infof(format string, v ...any) {
	if shouldLog(LevelInfo) {
		emit(LevelInfo, fmt.Sprintf(format, v...))
	}
}

// Warnf logs a formatted warning message if the level is appropriate.
func Warnf(format string, v ...any) {
	if shouldLog(LevelWarn) {
		emit(LevelWarn, fmt.Sprintf(format, v...))
	}
}

// Errorf logs a formatted error message if the level is appropriate.
func Errorf(format string, v ...any) {
	if shouldLog(LevelError) {
		emit(LevelError, fmt.Sprintf(format, v...))
	}
}

// Fatalf logs a formatted fatal message and exits the application.
// Fatal messages are always logged regardless of the current level.
func Fatalf(format string, v ...any) {
	emit(LevelFatal, fmt.Sprintf(format, v...))
	exit(1)
}

// --- Component loggers ---

// Logger is a component-scoped view of the global logger. It shares the
// global level and output, and tags every record with component=<name>.
type Logger struct {
	component string
}

// Component returns a logger that tags records with the given name.
func Component(name string) Logger {
	return Logger{component: name}
}

func (l Logger) logf(level LogLevel, format string, v []any) {
	if shouldLog(level) {
		emit(level, fmt.Sprintf(format, v...), slog.String("component", l.component))
	}
}

// Debugf logs a formatted debug message for the component.
func (l Logger) Debugf(format string, v ...any) { l.logf(LevelDebug, format, v) }

// Infof logs a formatted info message for the component.
func (l Logger) Infof(format string, v ...any) { l.logf(LevelInfo, format, v) }

// Warnf logs a formatted warning message for the component.
func (l Logger) Warnf(format string, v ...any) { l.logf(LevelWarn, format, v) }

// Errorf logs a formatted error message for the component.
func (l Logger) Errorf(format string, v ...any) { l.logf(LevelError, format, v) }
