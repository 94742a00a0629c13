// SPDX-License-Identifier: Apache-2.0

// Package logging builds the slog loggers the engine binaries share.
package logging

import (
	"log/slog"
	"os"
	"strings"
)

// NewLogger builds the process-wide logger. Production output is JSON for
// the log pipeline; any other environment gets human-readable text with
// source locations. LOG_LEVEL picks the level, defaulting to info.
func NewLogger(env string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: parseLevel(os.Getenv("LOG_LEVEL")),
	}

	if strings.EqualFold(strings.TrimSpace(env), "prod") {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}

	opts.AddSource = true
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func parseLevel(raw string) slog.Level {
	name := strings.ToLower(strings.TrimSpace(raw))
	if name == "warning" {
		name = "warn"
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return slog.LevelInfo
	}
	return level
}
