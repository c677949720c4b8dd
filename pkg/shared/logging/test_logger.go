package logging

import (
	"fmt"
	"sync"
	"testing"
)

// Entry is one record captured by a TestLogger.
type Entry struct {
	Level   Level
	Module  string
	Message string
	Args    []interface{}
}

// TestLogger is a Logger for tests. It records every entry so tests can
// assert on what was logged, and mirrors entries to t.Logf when created with
// NewTestLoggerVerbose.
type TestLogger struct {
	module string
	t      *testing.T
	sink   *entrySink
}

type entrySink struct {
	mu      sync.Mutex
	entries []Entry
}

// NewTestLogger creates a silent recording logger.
func NewTestLogger() *TestLogger {
	return &TestLogger{module: "test", sink: &entrySink{}}
}

// NewTestLoggerVerbose creates a recording logger that also writes to t.Logf.
func NewTestLoggerVerbose(t *testing.T) *TestLogger {
	return &TestLogger{module: "test", t: t, sink: &entrySink{}}
}

func (l *TestLogger) record(level Level, msg string, args []interface{}) {
	l.sink.mu.Lock()
	l.sink.entries = append(l.sink.entries, Entry{Level: level, Module: l.module, Message: msg, Args: args})
	l.sink.mu.Unlock()

	if l.t != nil {
		l.t.Logf("[%s] %s: %s %v", l.module, level, msg, args)
	}
}

// Entries returns a copy of everything logged through this logger and the
// loggers derived from it with WithModule.
func (l *TestLogger) Entries() []Entry {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	return append([]Entry(nil), l.sink.entries...)
}

// Has reports whether an entry with the given level and message was logged.
func (l *TestLogger) Has(level Level, msg string) bool {
	for _, e := range l.Entries() {
		if e.Level == level && e.Message == msg {
			return true
		}
	}
	return false
}

func (l *TestLogger) Debug(msg string, args ...interface{}) { l.record(LevelDebug, msg, args) }
func (l *TestLogger) Info(msg string, args ...interface{})  { l.record(LevelInfo, msg, args) }
func (l *TestLogger) Warn(msg string, args ...interface{})  { l.record(LevelWarn, msg, args) }
func (l *TestLogger) Error(msg string, args ...interface{}) { l.record(LevelError, msg, args) }

// Fatal records the entry and fails the test instead of exiting.
func (l *TestLogger) Fatal(msg string, args ...interface{}) {
	l.record(LevelFatal, msg, args)
	if l.t != nil {
		l.t.Fatal(fmt.Sprintf("[%s] FATAL: %s", l.module, msg))
	}
}

// WithModule returns a logger sharing the same record sink.
func (l *TestLogger) WithModule(module string) Logger {
	name := module
	if l.module != "" {
		name = l.module + "/" + module
	}
	return &TestLogger{module: name, t: l.t, sink: l.sink}
}
