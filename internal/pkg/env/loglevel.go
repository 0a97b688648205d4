package env

import (
	"log/slog"
	"strings"
)

// ParseLogLevel reads LOG_LEVEL ("debug", "info", "warn", "error") and falls
// back to the provided default if it is empty or unrecognised.
func ParseLogLevel(fallback slog.Level) slog.Level {
	return LevelFromString(Get("LOG_LEVEL", ""), fallback)
}

// LevelFromString maps a level name to slog.Level.
func LevelFromString(raw string, fallback slog.Level) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return fallback
	}
}
