// Package logging configures the process-wide slog logger
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// ParseLevel maps LOG_LEVEL values to slog levels, defaulting to info
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// New builds a text or json logger writing to stdout and every extra sink
func New(format, level string, sinks ...io.Writer) *slog.Logger {
	var out io.Writer = os.Stdout
	if len(sinks) > 0 {
		out = io.MultiWriter(append([]io.Writer{os.Stdout}, sinks...)...)
	}
	return newLogger(out, format, level)
}

func newLogger(out io.Writer, format, level string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(out, opts))
	}
	return slog.New(slog.NewTextHandler(out, opts))
}

// Setup installs the logger as slog's default and returns it
func Setup(format, level string, sinks ...io.Writer) *slog.Logger {
	logger := New(format, level, sinks...)
	slog.SetDefault(logger)
	return logger
}
