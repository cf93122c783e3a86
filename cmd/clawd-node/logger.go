package main

import (
	"log/slog"
	"os"
	"strings"
)

const defaultLogLevel = "info"

type LogConfig struct {
	Level string `mapstructure:"level"`
}

var logLevels = map[string]slog.Level{
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

// parseLogLevel is case-insensitive. Unknown names fall back to info and
// report false.
func parseLogLevel(name string) (slog.Level, bool) {
	level, ok := logLevels[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return slog.LevelInfo, false
	}
	return level, true
}

// initLogger replaces the default slog logger. It runs again on config
// reload when log.level changes. Debug output carries source locations.
func initLogger(name string) {
	level, ok := parseLogLevel(name)
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	})
	slog.SetDefault(slog.New(handler))

	if !ok && name != "" {
		slog.Warn("Unknown log level, using info", "level", name)
	}
}
