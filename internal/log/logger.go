package log

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New builds a console zerolog logger with the given level string (debug, info, warn, error).
func New(level string) *zerolog.Logger {
	return NewWithWriter(level, zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	})
}

// NewJSON logs structured lines to w, for log shippers.
func NewJSON(level string, w io.Writer) *zerolog.Logger {
	return NewWithWriter(level, w)
}

// NewWithWriter builds a logger writing to w.
func NewWithWriter(level string, w io.Writer) *zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	logger := zerolog.New(w).Level(ParseLevel(level)).With().Timestamp().Logger()
	return &logger
}

// ParseLevel maps a level name to zerolog, defaulting to info.
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
	case "disabled", "off":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}
