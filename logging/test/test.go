// Package test provides a buffering Logger for assertions in tests that
// exercise logging behavior without parsing text output.
package test

import (
	"fmt"
	"sync"

	"github.com/dirlayer/fdbdirectory/logging"
)

// LogEntry is one buffered log message.
type LogEntry struct {
	Level   logging.Level
	Fields  map[string]interface{}
	Message string
}

// Logger buffers every entry logged through it instead of writing it
// anywhere, so a test can assert on exactly what was logged.
type Logger struct {
	level   logging.Level
	fields  map[string]interface{}
	entries *[]LogEntry
	mu      *sync.Mutex
}

// New returns an empty buffering Logger at Info level.
func New() *Logger {
	return &Logger{
		level:   logging.Info,
		entries: &[]LogEntry{},
		mu:      &sync.Mutex{},
	}
}

// WithFields returns a copy of l carrying fields merged on top of its own,
// sharing the same entry buffer.
func (l *Logger) WithFields(fields map[string]interface{}) logging.Logger {
	l.mu.Lock()
	defer l.mu.Unlock()

	merged := make(map[string]interface{}, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &Logger{level: l.level, fields: merged, entries: l.entries, mu: l.mu}
}

// GetFields returns l's currently configured fields.
func (l *Logger) GetFields() map[string]interface{} { return l.fields }

func (l *Logger) Debug(f string, a ...interface{}) { l.append(logging.Debug, f, a...) }
func (l *Logger) Info(f string, a ...interface{})  { l.append(logging.Info, f, a...) }
func (l *Logger) Warn(f string, a ...interface{})  { l.append(logging.Warn, f, a...) }
func (l *Logger) Error(f string, a ...interface{}) { l.append(logging.Error, f, a...) }

// SetLevel sets the buffering threshold; entries below it are dropped.
func (l *Logger) SetLevel(level logging.Level) { l.level = level }

// GetLevel returns the current buffering threshold.
func (l *Logger) GetLevel() logging.Level { return l.level }

// Entries returns every entry buffered so far, at or above the configured
// level.
func (l *Logger) Entries() []LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]LogEntry, len(*l.entries))
	copy(out, *l.entries)
	return out
}

func (l *Logger) append(lvl logging.Level, f string, a ...interface{}) {
	if lvl > l.level {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	*l.entries = append(*l.entries, LogEntry{
		Level:   lvl,
		Fields:  l.fields,
		Message: fmt.Sprintf(f, a...),
	})
}
