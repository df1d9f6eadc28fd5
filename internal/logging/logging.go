// Package logging centralizes zerolog setup so every component gets the
// same console writer and timestamp conventions.
package logging

import (
	"os"

	"github.com/rs/zerolog"
)

// New returns a root logger writing to stderr in the teacher's console
// format, with the given component name attached.
func New(component string) zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		With().
		Timestamp().
		Str("component", component).
		Logger()
}
