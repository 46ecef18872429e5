package logging

import (
	"log/slog"
	"os"
	"strings"
)

// NewLogger builds the JSON logger every binary shares. The service,
// env and release attrs line up with the tracer's resource identity so
// logs and spans correlate in the backend.
func NewLogger(level string, serviceName string, env string) *slog.Logger {
	lvl := parseLevel(level)
	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	logger := slog.New(h).With(
		slog.String("service", serviceName),
		slog.String("env", env),
	)
	if release := os.Getenv("JOINDIN_RELEASE"); release != "" {
		logger = logger.With(slog.String("release", release))
	}
	return logger
}

func parseLevel(level string) slog.Level {
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
