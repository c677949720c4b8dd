package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// FileRotationConfig contains file logging rotation settings
type FileRotationConfig struct {
	Path       string // Log file path (required)
	MaxSizeMB  int    // Maximum size in megabytes before rotation (default: 100)
	MaxBackups int    // Maximum number of old log files to retain (default: 3)
	MaxAge     int    // Maximum number of days to retain old log files (default: 28)
	Compress   bool   // Whether to compress rotated log files (default: false)
}

func (c *FileRotationConfig) writer() *lumberjack.Logger {
	w := &lumberjack.Logger{
		Filename:   c.Path,
		MaxSize:    c.MaxSizeMB,
		MaxBackups: c.MaxBackups,
		MaxAge:     c.MaxAge,
		Compress:   c.Compress,
	}
	if w.MaxSize == 0 {
		w.MaxSize = 100
	}
	if w.MaxBackups == 0 {
		w.MaxBackups = 3
	}
	if w.MaxAge == 0 {
		w.MaxAge = 28
	}
	return w
}

// NewLoggerWithFile creates a logger writing to stdout and, when fileConfig
// names a path, to a rotated JSON log file as well.
func NewLoggerWithFile(module string, level Level, useColors bool, fileConfig *FileRotationConfig) (*ZerologLogger, error) {
	if fileConfig == nil || fileConfig.Path == "" {
		return NewLogger(module, level, useColors), nil
	}

	var console io.Writer = os.Stdout
	if isTerminal(os.Stdout) {
		console = zerolog.ConsoleWriter{Out: os.Stdout, NoColor: !useColors, TimeFormat: time.DateTime}
	}

	return NewLoggerWithWriter(module, level, zerolog.MultiLevelWriter(console, fileConfig.writer())), nil
}
