// Package logging configures the zerolog base logger and hands out
// per-component sub-loggers.
package logging

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// New builds the base logger at the given level. Any name
// zerolog.ParseLevel accepts ("trace", "debug", "info", "warn", "error",
// "fatal", "panic", "disabled", or "" for no level) is used as is; a name
// it rejects falls back to info.
func New(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).
		Level(lvl).
		With().Timestamp().Logger()
}

// Component returns a sub-logger tagged with the given component name, e.g.
// logging.Component(base, "queue").
func Component(base zerolog.Logger, name string) zerolog.Logger {
	return base.With().Str("component", name).Logger()
}
