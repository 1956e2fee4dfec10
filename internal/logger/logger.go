// Package logger provides structured logging setup for genrelay.
package logger

import (
	"log/slog"
	"os"
	"strings"

	"github.com/avolkov-dev/genrelay/internal/config"
)

// New builds the process logger: JSON records on stdout, tagged with the
// service name so co-located api and worker logs stay distinguishable.
func New(cfg config.Logging) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.Level),
	})
	return slog.New(handler).With("service", cfg.Service)
}

// parseLevel maps a configured level name to slog.Level. Unknown names fall
// back to info rather than failing startup.
func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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
