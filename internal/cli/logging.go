package cli

import (
	"io"
	"log/slog"

	"github.com/clean-dependency-project/fundlaunch/internal/logger"
)

// NewLoggers creates the progress and error loggers used by every command.
// Both write to w (stderr in production) so stdout stays with the child
// process and with machine-readable command output.
func NewLoggers(w io.Writer, level slog.Level, format string) (*slog.Logger, *slog.Logger, error) {
	handler, err := logger.NewHandler(w, level, format)
	if err != nil {
		return nil, nil, err
	}

	stdout := slog.New(handler)
	stderr := slog.New(handler).With("stream", "stderr")
	slog.SetDefault(stdout)

	return stdout, stderr, nil
}

// ParseLogLevelOrDefault parses a log level string or returns a default level.
func ParseLogLevelOrDefault(levelStr string) slog.Level {
	level, err := logger.ParseLevel(levelStr)
	if err != nil {
		return slog.LevelInfo
	}
	return level
}
