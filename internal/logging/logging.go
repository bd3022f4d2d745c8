package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Init installs the default logger for the CLI. Only errors are shown unless
// LOG_LEVEL says otherwise.
func Init() {
	slog.SetDefault(New(os.Stderr, Level(os.Getenv("LOG_LEVEL"), slog.LevelError), false))
}

// InitServer installs the default logger for the relay server. It logs at
// info by default and switches to JSON when LOG_FORMAT=json.
func InitServer() {
	json := strings.EqualFold(os.Getenv("LOG_FORMAT"), "json")
	slog.SetDefault(New(os.Stderr, Level(os.Getenv("LOG_LEVEL"), slog.LevelInfo), json))
}

// New builds a logger writing to w.
func New(w io.Writer, level slog.Level, json bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if json {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Level maps a LOG_LEVEL value to a slog level, falling back to def.
func Level(value string, def slog.Level) slog.Level {
	switch strings.ToLower(value) {
	case "dev", "development", "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error", "production", "prod":
		return slog.LevelError
	default:
		return def
	}
}
