// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package logx configures the shared zerolog logger used across the engine.
package logx

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Log is the shared logger. Packages derive child loggers from it with
// their own component fields.
var Log = log.Logger

// Configure sets the global log level and switches output to a
// human-readable console writer on stderr.
func Configure(level string) {
	zerolog.SetGlobalLevel(parseLevel(level))
	Log = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}

// parseLevel converts a level string to a zerolog level. Tolerant of
// case and common synonyms; unknown values default to info.
func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "", "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "none", "off", "quiet":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}
