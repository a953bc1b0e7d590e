package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New builds the process logger. pretty selects the console writer used in
// local development; otherwise output is one JSON object per line.
func New(level string, pretty bool) zerolog.Logger {
	var out io.Writer = os.Stdout
	if pretty {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	logger := zerolog.New(out).With().Timestamp().Logger()
	zerolog.DefaultContextLogger = &logger
	return logger
}

// Nop is a logger for tests and optional dependencies.
func Nop() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}
