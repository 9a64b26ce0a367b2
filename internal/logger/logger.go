// Package logger builds the slog handlers shared by every fundlaunch command.
package logger

import (
	"errors"
	"io"
	"log/slog"
	"strings"
)

// TimestampKey replaces slog's default "time" key.
const TimestampKey = "timestamp"

// ParseLevel maps "debug", "info", "warn" and "error" to slog levels.
func ParseLevel(logLevel string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(logLevel)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, errors.New("invalid logLevel: " + logLevel)
	}
}

// NewHandler returns a JSON or text handler writing to w.
func NewHandler(w io.Writer, level slog.Level, logFormat string) (slog.Handler, error) {
	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{Key: TimestampKey, Value: a.Value}
			}
			return a
		},
	}

	switch strings.ToLower(strings.TrimSpace(logFormat)) {
	case "json":
		return slog.NewJSONHandler(w, opts), nil
	case "text":
		return slog.NewTextHandler(w, opts), nil
	default:
		return nil, errors.New("invalid logFormat: " + logFormat)
	}
}
