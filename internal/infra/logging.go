// Package infra provides shared infrastructure: the slog bootstrap and a
// small TTL cache used by the datasource layer.
package infra

import (
	"log/slog"
	"os"
	"strings"
)

// NewLogger builds a slog.Logger from the logging config. Unknown levels
// fall back to info, unknown formats to text. Output goes to stderr so
// reports and progress on stdout stay clean.
func NewLogger(level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

// ParseLevel maps a config string to a slog level.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetDefault installs the configured logger process-wide, so packages that
// log through slog.Default pick it up.
func SetDefault(level, format string) *slog.Logger {
	logger := NewLogger(level, format)
	slog.SetDefault(logger)
	return logger
}
