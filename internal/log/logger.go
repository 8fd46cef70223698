package log

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Option adjusts the logger built by New.
type Option func(*settings)

type settings struct {
	out  io.Writer
	json bool
}

// WithOutput sends log lines to w instead of stdout.
func WithOutput(w io.Writer) Option {
	return func(s *settings) { s.out = w }
}

// WithJSON writes raw JSON lines instead of the human console format.
func WithJSON() Option {
	return func(s *settings) { s.json = true }
}

// New builds a zerolog logger with the given level string (debug, info, warn, error).
func New(level string, opts ...Option) *zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	s := settings{out: os.Stdout}
	for _, opt := range opts {
		opt(&s)
	}

	out := s.out
	if !s.json {
		out = zerolog.ConsoleWriter{
			Out:        s.out,
			TimeFormat: time.RFC3339,
		}
	}

	logger := zerolog.New(out).Level(ParseLevel(level)).With().Timestamp().Logger()
	return &logger
}

// Component derives a child logger tagged with the component name.
func Component(l *zerolog.Logger, name string) *zerolog.Logger {
	child := l.With().Str("component", name).Logger()
	return &child
}

// ParseLevel maps a level name to a zerolog level; unknown names mean info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "off", "disabled":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}
