// Package logging provides ORION's structured logger: JSON lines on
// stdout when running headless, human-readable text for local
// development, with an interface every component depends on instead of
// the standard library's log package directly.
package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

// Logger is the structured logging contract used throughout ORION.
// Context-aware variants let callers thread a request/incident id
// without every caller remembering to add it to fields by hand.
type Logger interface {
	Debug(msg string, fields map[string]interface{})
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})

	DebugContext(ctx context.Context, msg string, fields map[string]interface{})
	InfoContext(ctx context.Context, msg string, fields map[string]interface{})
	WarnContext(ctx context.Context, msg string, fields map[string]interface{})
	ErrorContext(ctx context.Context, msg string, fields map[string]interface{})

	// With returns a logger that always includes the given fields.
	With(fields map[string]interface{}) Logger
}

type ctxKey struct{}

// WithCorrelationID returns a context carrying an id that the Logger's
// *Context methods merge into every log line derived from it.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

func correlationID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(ctxKey{}).(string)
	return v, ok
}

// StdLogger is the default Logger implementation: JSON when
// ORION_LOG_FORMAT=json, text otherwise (the local-development
// default), one line per call, written straight to stdout.
type StdLogger struct {
	mu      sync.RWMutex
	service string
	level   level
	format  string
	fields  map[string]interface{}
}

type level int

const (
	levelDebug level = iota
	levelInfo
	levelWarn
	levelError
)

func parseLevel(s string) level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return levelDebug
	case "WARN", "WARNING":
		return levelWarn
	case "ERROR":
		return levelError
	default:
		return levelInfo
	}
}

// New builds the root logger for a service (e.g. "orion-brain",
// "orion-edge"). Level and format are read from ORION_LOG_LEVEL /
// ORION_LOG_FORMAT with sane defaults matching local development.
func New(service string) *StdLogger {
	lvl := os.Getenv("ORION_LOG_LEVEL")
	if lvl == "" {
		lvl = "INFO"
	}
	format := os.Getenv("ORION_LOG_FORMAT")
	if format == "" {
		format = "text"
	}
	return &StdLogger{
		service: service,
		level:   parseLevel(lvl),
		format:  format,
		fields:  map[string]interface{}{},
	}
}

func (l *StdLogger) clone() *StdLogger {
	l.mu.RLock()
	defer l.mu.RUnlock()
	fields := make(map[string]interface{}, len(l.fields))
	for k, v := range l.fields {
		fields[k] = v
	}
	return &StdLogger{service: l.service, level: l.level, format: l.format, fields: fields}
}

func (l *StdLogger) With(fields map[string]interface{}) Logger {
	n := l.clone()
	for k, v := range fields {
		n.fields[k] = v
	}
	return n
}

func (l *StdLogger) Debug(msg string, fields map[string]interface{}) { l.log(levelDebug, msg, fields) }
func (l *StdLogger) Info(msg string, fields map[string]interface{})  { l.log(levelInfo, msg, fields) }
func (l *StdLogger) Warn(msg string, fields map[string]interface{})  { l.log(levelWarn, msg, fields) }
func (l *StdLogger) Error(msg string, fields map[string]interface{}) { l.log(levelError, msg, fields) }

func (l *StdLogger) DebugContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.logCtx(ctx, levelDebug, msg, fields)
}
func (l *StdLogger) InfoContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.logCtx(ctx, levelInfo, msg, fields)
}
func (l *StdLogger) WarnContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.logCtx(ctx, levelWarn, msg, fields)
}
func (l *StdLogger) ErrorContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.logCtx(ctx, levelError, msg, fields)
}

func (l *StdLogger) logCtx(ctx context.Context, lvl level, msg string, fields map[string]interface{}) {
	if id, ok := correlationID(ctx); ok {
		merged := make(map[string]interface{}, len(fields)+1)
		for k, v := range fields {
			merged[k] = v
		}
		merged["correlation_id"] = id
		l.log(lvl, msg, merged)
		return
	}
	l.log(lvl, msg, fields)
}

func (l *StdLogger) log(lvl level, msg string, fields map[string]interface{}) {
	l.mu.RLock()
	if lvl < l.level {
		l.mu.RUnlock()
		return
	}
	format := l.format
	base := l.fields
	service := l.service
	l.mu.RUnlock()

	merged := make(map[string]interface{}, len(base)+len(fields))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}

	if format == "json" {
		entry := map[string]interface{}{
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
			"level":     levelName(lvl),
			"service":   service,
			"message":   msg,
		}
		for k, v := range merged {
			entry[k] = v
		}
		if data, err := json.Marshal(entry); err == nil {
			fmt.Fprintln(os.Stdout, string(data))
		}
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s] [%s] %s", time.Now().UTC().Format(time.RFC3339), levelName(lvl), service, msg)
	for k, v := range merged {
		fmt.Fprintf(&b, " %s=%v", k, v)
	}
	fmt.Fprintln(os.Stdout, b.String())
}

func levelName(l level) string {
	switch l {
	case levelDebug:
		return "DEBUG"
	case levelWarn:
		return "WARN"
	case levelError:
		return "ERROR"
	default:
		return "INFO"
	}
}
