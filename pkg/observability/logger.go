// Package observability provides the structured logging capability used
// throughout the nsql-gateway core. It follows a single, consistent
// approach: leveled logging with structured fields, no hidden global
// state.
package observability

import (
	"fmt"
	"log"
	"os"
	"time"
)

// LogLevel is the severity of a log line.
type LogLevel string

const (
	LogLevelDebug LogLevel = "DEBUG"
	LogLevelInfo  LogLevel = "INFO"
	LogLevelWarn  LogLevel = "WARN"
	LogLevelError LogLevel = "ERROR"
	LogLevelFatal LogLevel = "FATAL"
)

var levelOrder = map[LogLevel]int{
	LogLevelDebug: 0,
	LogLevelInfo:  1,
	LogLevelWarn:  2,
	LogLevelError: 3,
	LogLevelFatal: 4,
}

// Logger is the structured logging capability every component in this
// repository takes as a dependency, never a global.
type Logger interface {
	Debug(msg string, fields map[string]any)
	Info(msg string, fields map[string]any)
	Warn(msg string, fields map[string]any)
	Error(msg string, fields map[string]any)
	Fatal(msg string, fields map[string]any)
	With(fields map[string]any) Logger
	WithPrefix(prefix string) Logger
}

// StandardLogger writes leveled, structured lines to stderr.
type StandardLogger struct {
	prefix string
	level  LogLevel
	fields map[string]any
	logger *log.Logger
}

// NewStandardLogger creates a Logger writing to stderr at LogLevelInfo.
func NewStandardLogger(prefix string) Logger {
	return &StandardLogger{
		prefix: prefix,
		level:  LogLevelInfo,
		logger: log.New(os.Stderr, "", 0),
	}
}

// WithLevel returns a copy of the logger at a different minimum level.
func (l *StandardLogger) WithLevel(level LogLevel) *StandardLogger {
	cp := *l
	cp.level = level
	return &cp
}

func (l *StandardLogger) Debug(msg string, fields map[string]any) { l.log(LogLevelDebug, msg, fields) }
func (l *StandardLogger) Info(msg string, fields map[string]any)  { l.log(LogLevelInfo, msg, fields) }
func (l *StandardLogger) Warn(msg string, fields map[string]any)  { l.log(LogLevelWarn, msg, fields) }
func (l *StandardLogger) Error(msg string, fields map[string]any) { l.log(LogLevelError, msg, fields) }

func (l *StandardLogger) Fatal(msg string, fields map[string]any) {
	l.log(LogLevelFatal, msg, fields)
	os.Exit(1)
}

func (l *StandardLogger) With(fields map[string]any) Logger {
	merged := make(map[string]any, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	cp := *l
	cp.fields = merged
	return &cp
}

func (l *StandardLogger) WithPrefix(prefix string) Logger {
	cp := *l
	cp.prefix = prefix
	return &cp
}

func (l *StandardLogger) levelEnabled(level LogLevel) bool {
	return levelOrder[level] >= levelOrder[l.level]
}

func (l *StandardLogger) log(level LogLevel, msg string, fields map[string]any) {
	if !l.levelEnabled(level) {
		return
	}
	timestamp := time.Now().Format("2006-01-02T15:04:05.000Z07:00")
	all := l.fields
	if len(fields) > 0 {
		all = make(map[string]any, len(l.fields)+len(fields))
		for k, v := range l.fields {
			all[k] = v
		}
		for k, v := range fields {
			all[k] = v
		}
	}
	l.logger.Printf("%s [%s] [%s] %s%s", timestamp, level, l.prefix, msg, formatFields(all))
	if level == LogLevelFatal {
		os.Exit(1)
	}
}

func formatFields(fields map[string]any) string {
	if len(fields) == 0 {
		return ""
	}
	out := ""
	for k, v := range fields {
		out += fmt.Sprintf(" %s=%v", k, v)
	}
	return out
}

// NoopLogger discards everything. Used as the zero-value default in
// tests and wherever the caller has not wired a real logger.
type NoopLogger struct{}

func (NoopLogger) Debug(string, map[string]any)   {}
func (NoopLogger) Info(string, map[string]any)    {}
func (NoopLogger) Warn(string, map[string]any)    {}
func (NoopLogger) Error(string, map[string]any)   {}
func (NoopLogger) Fatal(string, map[string]any)   {}
func (l NoopLogger) With(map[string]any) Logger   { return l }
func (l NoopLogger) WithPrefix(string) Logger     { return l }

// NewNoopLogger returns a Logger that discards everything.
func NewNoopLogger() Logger { return NoopLogger{} }

// NewLogger is the primary factory used throughout the repository.
func NewLogger(prefix string) Logger {
	if prefix == "" {
		prefix = "nsql"
	}
	return NewStandardLogger(prefix)
}
