package observability

import (
	"fmt"
	"log"
	"os"
	"strings"
)

// StdLogger writes structured lines through the standard library's *log.Logger.
// The teacher never reaches for a third-party logging library anywhere in its
// tree (see DESIGN.md), so the default logging implementation here follows
// that same choice rather than importing one gratuitously.
type StdLogger struct {
	logger *log.Logger
	level  Level
}

// Level controls the minimum severity StdLogger emits.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// NewStdLogger constructs a StdLogger writing to os.Stderr with the given
// minimum level.
func NewStdLogger(prefix string, level Level) *StdLogger {
	return &StdLogger{
		logger: log.New(os.Stderr, prefix, log.LstdFlags|log.Lmicroseconds),
		level:  level,
	}
}

func (l *StdLogger) Debug(msg string, fields ...Field) { l.emit(LevelDebug, "DEBUG", msg, fields) }
func (l *StdLogger) Info(msg string, fields ...Field)  { l.emit(LevelInfo, "INFO", msg, fields) }
func (l *StdLogger) Warn(msg string, fields ...Field)  { l.emit(LevelWarn, "WARN", msg, fields) }
func (l *StdLogger) Error(msg string, fields ...Field) { l.emit(LevelError, "ERROR", msg, fields) }

func (l *StdLogger) emit(level Level, tag, msg string, fields []Field) {
	if level < l.level {
		return
	}
	if len(fields) == 0 {
		l.logger.Printf("%s %s", tag, msg)
		return
	}
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, fmt.Sprintf("%s=%v", f.Key, f.Value))
	}
	l.logger.Printf("%s %s %s", tag, msg, strings.Join(parts, " "))
}
