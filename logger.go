package guestcore

import (
	"io"
	"log"
	"os"
	"strconv"
	"strings"
)

// LogLevel orders diagnostics from least to most verbose.
type LogLevel int

const (
	LogError LogLevel = iota
	LogInfo
	LogTrace
)

func (l LogLevel) String() string {
	switch l {
	case LogError:
		return "error"
	case LogInfo:
		return "info"
	case LogTrace:
		return "trace"
	default:
		return "level(" + strconv.Itoa(int(l)) + ")"
	}
}

// ParseLogLevel accepts a level name or a boolean ("1" means trace, "0"
// means error only).
func ParseLogLevel(s string) (LogLevel, bool) {
	switch strings.ToLower(s) {
	case "error", "err":
		return LogError, true
	case "info":
		return LogInfo, true
	case "trace", "debug":
		return LogTrace, true
	}
	if b, err := strconv.ParseBool(s); err == nil {
		if b {
			return LogTrace, true
		}
		return LogError, true
	}
	return 0, false
}

// Logger is a levelled wrapper around the standard logger. Every line is
// tagged with the subsystem that produced it.
type Logger struct {
	out   *log.Logger
	level LogLevel
}

// NewLogger writes to w (stderr when nil).
func NewLogger(w io.Writer, level LogLevel) *Logger {
	if w == nil {
		w = os.Stderr
	}
	return &Logger{out: log.New(w, "", log.Ltime|log.Lmicroseconds), level: level}
}

// DiscardLogger drops everything; used by tests that do not care.
func DiscardLogger() *Logger {
	return &Logger{out: log.New(io.Discard, "", 0), level: LogError}
}

func (l *Logger) Level() LogLevel { return l.level }

func (l *Logger) Enabled(level LogLevel) bool {
	return l != nil && level <= l.level
}

func (l *Logger) logf(level LogLevel, sys, format string, args ...any) {
	if !l.Enabled(level) {
		return
	}
	l.out.Printf(sys+": "+format, args...)
}

func (l *Logger) Errorf(sys, format string, args ...any) { l.logf(LogError, sys, format, args...) }
func (l *Logger) Infof(sys, format string, args ...any)  { l.logf(LogInfo, sys, format, args...) }
func (l *Logger) Tracef(sys, format string, args ...any) { l.logf(LogTrace, sys, format, args...) }
