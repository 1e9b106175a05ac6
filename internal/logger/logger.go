package logger

import (
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// Setup installs the process-wide logger. The engine logs sparingly
// (persistence failures, skipped events), so debug level additionally
// annotates call sites.
func Setup(level string) {
	parsed := ParseLevel(level)

	handler := tint.NewHandler(os.Stderr, &tint.Options{
		Level:      parsed,
		TimeFormat: time.TimeOnly,
		AddSource:  parsed == slog.LevelDebug,
	})

	slog.SetDefault(slog.New(handler))
}

// ParseLevel maps a config string to a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
