// Package logger provides the engine-wide structured logger. It wraps
// log/slog with a custom TRACE severity (below DEBUG) and a handler that
// renders either a logfmt-style text line or a single-line JSON record,
// matching the severity names used throughout the rest of the engine's
// diagnostics.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// LevelTrace sits below slog.LevelDebug so per-operation detail (lock
// acquisition order, arena offsets) can be filtered out independently of
// DEBUG-level component chatter (rebalance triggers, checkpoint timing).
const LevelTrace = slog.Level(-8)

var severityNames = map[slog.Leveler]string{
	LevelTrace:      "TRACE",
	slog.LevelDebug: "DEBUG",
	slog.LevelInfo:  "INFO",
	slog.LevelWarn:  "WARNING",
	slog.LevelError: "ERROR",
}

type loggerFactory struct {
	format string // "text" or "json"
	level  *slog.LevelVar
}

var defaultLoggerFactory = &loggerFactory{
	format: "text",
	level:  new(slog.LevelVar),
}

var defaultLogger = slog.New(defaultLoggerFactory.createHandler(os.Stderr))

// Init (re)configures the package-level logger. format is "text" or "json";
// level is one of "trace", "debug", "info", "warn", "error", "off".
func Init(format string, level string) {
	defaultLoggerFactory.format = format
	setLevel(level, defaultLoggerFactory.level)
	defaultLogger = slog.New(defaultLoggerFactory.createHandler(os.Stderr))
}

func setLevel(level string, v *slog.LevelVar) {
	switch strings.ToLower(level) {
	case "trace":
		v.Set(LevelTrace)
	case "debug":
		v.Set(slog.LevelDebug)
	case "info":
		v.Set(slog.LevelInfo)
	case "warn", "warning":
		v.Set(slog.LevelWarn)
	case "error":
		v.Set(slog.LevelError)
	case "off":
		v.Set(slog.Level(1 << 20))
	default:
		v.Set(slog.LevelInfo)
	}
}

func (f *loggerFactory) createHandler(w io.Writer) slog.Handler {
	opts := &slog.HandlerOptions{
		Level: f.level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				lvl := a.Value.Any().(slog.Level)
				name, ok := severityNames[lvl]
				if !ok {
					name = lvl.String()
				}
				return slog.String("severity", name)
			}
			return a
		},
	}

	if f.format == "json" {
		return &jsonTimestampHandler{slog.NewJSONHandler(w, opts)}
	}
	return slog.NewTextHandler(w, opts)
}

// jsonTimestampHandler rewrites slog's default "time" RFC3339 attr into the
// engine's on-disk {seconds, nanos} shape so log records and WAL timestamps
// read the same way in tooling.
type jsonTimestampHandler struct {
	slog.Handler
}

func (h *jsonTimestampHandler) Handle(ctx context.Context, r slog.Record) error {
	t := r.Time
	r.Time = time.Time{}
	r.AddAttrs(slog.Group("timestamp",
		slog.Int64("seconds", t.Unix()),
		slog.Int64("nanos", int64(t.Nanosecond())),
	))
	return h.Handler.Handle(ctx, r)
}

func log(level slog.Level, format string, v ...interface{}) {
	defaultLogger.Log(context.Background(), level, fmt.Sprintf(format, v...))
}

func Tracef(format string, v ...interface{}) { log(LevelTrace, format, v...) }
func Debugf(format string, v ...interface{}) { log(slog.LevelDebug, format, v...) }
func Infof(format string, v ...interface{})  { log(slog.LevelInfo, format, v...) }
func Warnf(format string, v ...interface{})  { log(slog.LevelWarn, format, v...) }
func Errorf(format string, v ...interface{}) { log(slog.LevelError, format, v...) }

// Default returns the shared package-level logger for components that want
// a *slog.Logger directly (e.g. to attach With(...) fields).
func Default() *slog.Logger { return defaultLogger }
