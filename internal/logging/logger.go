// Package logging defines a minimal structured-logging interface used across
// the project. Two backends are provided: log/slog JSON (the production
// default) and zerolog console output. Both redact the values of sensitive
// keys.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// Logger is a context-aware, structured logger.
//
// The variadic args are interpreted as key–value pairs, e.g.:
//
//	log.Info(ctx, "cycle finished", "observations", n, "transitions", len(events))
type Logger interface {
	// Debug logs verbose diagnostics, disabled by default.
	Debug(ctx context.Context, msg string, args ...any)

	// Info logs an informational message.
	Info(ctx context.Context, msg string, args ...any)

	// Warn logs a warning message for unusual but non-fatal conditions.
	Warn(ctx context.Context, msg string, args ...any)

	// Error logs an error message for failures.
	Error(ctx context.Context, msg string, args ...any)

	// With returns a child logger that always includes the given key–value pairs.
	With(args ...any) Logger
}

// New builds a Logger for the given format ("json" or "console") and level
// ("debug", "info", "warn", "error").
func New(format, level string, w io.Writer) (Logger, error) {
	lvl, err := parseLevel(level)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(format) {
	case "", "json":
		h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})
		return &jsonLogger{l: slog.New(h)}, nil
	case "console":
		return NewConsoleLogger(w, lvl), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}

func parseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", level)
	}
}

// Nop returns a Logger that discards everything.
func Nop() Logger {
	return &jsonLogger{l: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

const redacted = "[redacted]"

// sensitiveKeys never reach the output with their values: channel targets,
// OTP codes, session or unsubscribe tokens and key material.
var sensitiveKeys = map[string]bool{
	"target": true,
	"code":   true,
	"otp":    true,
	"token":  true,
	"key":    true,
	"secret": true,
}

// redact returns args with the values of sensitive keys replaced. args is
// left untouched.
func redact(args []any) []any {
	var out []any
	for i := 0; i+1 < len(args); i += 2 {
		k, ok := args[i].(string)
		if !ok || !sensitiveKeys[strings.ToLower(k)] {
			continue
		}
		if out == nil {
			out = append([]any(nil), args...)
		}
		out[i+1] = redacted
	}
	if out == nil {
		return args
	}
	return out
}

// jsonLogger adapts *slog.Logger to Logger.
type jsonLogger struct {
	l *slog.Logger
}

func (s *jsonLogger) Debug(ctx context.Context, msg string, args ...any) {
	s.l.DebugContext(ctx, msg, redact(args)...)
}

func (s *jsonLogger) Info(ctx context.Context, msg string, args ...any) {
	s.l.InfoContext(ctx, msg, redact(args)...)
}

func (s *jsonLogger) Warn(ctx context.Context, msg string, args ...any) {
	s.l.WarnContext(ctx, msg, redact(args)...)
}

func (s *jsonLogger) Error(ctx context.Context, msg string, args ...any) {
	s.l.ErrorContext(ctx, msg, redact(args)...)
}

func (s *jsonLogger) With(args ...any) Logger {
	return &jsonLogger{l: s.l.With(redact(args)...)}
}
