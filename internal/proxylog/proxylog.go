// Package proxylog builds the process-wide structured logger, in the same
// style ldap-manager's cmd/ldap-manager/main.go wires up zerolog: a console
// writer to stderr, level selected once at startup, and every component
// logging through the resulting zerolog.Logger instead of fmt/log.
package proxylog

import (
	"os"

	"github.com/rs/zerolog"
)

// New builds the process logger. debug raises the level to zerolog.DebugLevel;
// otherwise the logger runs at zerolog.InfoLevel, matching the CLI's -d flag.
func New(debug bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}

	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).
		Level(level).
		With().
		Timestamp().
		Logger()
}
