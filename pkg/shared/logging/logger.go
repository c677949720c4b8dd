// Package logging provides the leveled, module-scoped logger used across the
// service. Records are written through zerolog: human readable on a terminal,
// JSON everywhere else.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Level represents log level
type Level int

const (
	// LevelDebug is for debug messages
	LevelDebug Level = iota
	// LevelInfo is for informational messages
	LevelInfo
	// LevelWarn is for warning messages
	LevelWarn
	// LevelError is for error messages
	LevelError
	// LevelFatal is for fatal error messages
	LevelFatal
)

// String returns the string representation of the log level
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
	case LevelFatal:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

func (l Level) zerolog() zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	case LevelFatal:
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// ParseLevel parses a string into a Level. Unknown values map to LevelInfo.
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
	case "fatal":
		return LevelFatal
	default:
		return LevelInfo
	}
}

// Logger is the interface for logging. Arguments after msg are alternating
// key/value pairs.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	Fatal(msg string, args ...interface{})
	WithModule(module string) Logger
}

// ZerologLogger implements Logger on top of a zerolog.Logger.
type ZerologLogger struct {
	module string
	zl     zerolog.Logger
}

// NewLogger creates a logger writing to stdout. Colored console output is
// used only when useColors is set and stdout is a terminal.
func NewLogger(module string, level Level, useColors bool) *ZerologLogger {
	var w io.Writer = os.Stdout
	if isTerminal(os.Stdout) {
		w = zerolog.ConsoleWriter{Out: os.Stdout, NoColor: !useColors, TimeFormat: time.DateTime}
	}
	return NewLoggerWithWriter(module, level, w)
}

// NewLoggerWithWriter creates a logger writing JSON records to w (or console
// records when w is a zerolog.ConsoleWriter).
func NewLoggerWithWriter(module string, level Level, w io.Writer) *ZerologLogger {
	zl := zerolog.New(w).Level(level.zerolog()).With().Timestamp().Logger()
	return &ZerologLogger{module: module, zl: zl}
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

func (l *ZerologLogger) emit(e *zerolog.Event, msg string, args []interface{}) {
	if e == nil {
		return
	}
	if l.module != "" {
		e = e.Str("module", l.module)
	}
	for i := 0; i < len(args); i += 2 {
		key := fmt.Sprint(args[i])
		if i+1 >= len(args) {
			e = e.Interface("!BADKEY", args[i])
			break
		}
		switch v := args[i+1].(type) {
		case error:
			e = e.AnErr(key, v)
		case string:
			e = e.Str(key, v)
		default:
			e = e.Interface(key, v)
		}
	}
	e.Msg(msg)
}

// Debug logs a debug message
func (l *ZerologLogger) Debug(msg string, args ...interface{}) {
	l.emit(l.zl.Debug(), msg, args)
}

// Info logs an informational message
func (l *ZerologLogger) Info(msg string, args ...interface{}) {
	l.emit(l.zl.Info(), msg, args)
}

// Warn logs a warning message
func (l *ZerologLogger) Warn(msg string, args ...interface{}) {
	l.emit(l.zl.Warn(), msg, args)
}

// Error logs an error message
func (l *ZerologLogger) Error(msg string, args ...interface{}) {
	l.emit(l.zl.Error(), msg, args)
}

// Fatal logs a fatal error message and exits the process
func (l *ZerologLogger) Fatal(msg string, args ...interface{}) {
	l.emit(l.zl.Fatal(), msg, args)
}

// WithModule returns a logger for a sub-component. Module names nest with
// "/" (e.g. "gate/session").
func (l *ZerologLogger) WithModule(module string) Logger {
	name := module
	if l.module != "" {
		name = l.module + "/" + module
	}
	return &ZerologLogger{module: name, zl: l.zl}
}

// Mask shortens a sensitive value (token, session id, BSN) for logging,
// keeping only its first and last characters.
func Mask(s string) string {
	switch {
	case s == "":
		return ""
	case len(s) <= 4:
		return "****"
	default:
		return s[:2] + "****" + s[len(s)-2:]
	}
}
