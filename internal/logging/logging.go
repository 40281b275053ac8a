// Package logging defines the leveled logger the decision core reports through.
// The core only ever emits (level, message) pairs; the zerolog implementation
// is what the server wires in, tests use a recording logger instead.
package logging

import (
	"io"

	"github.com/rs/zerolog"
)

// Level is a log severity understood by the decision core.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarning
	LevelError
)

// String returns the canonical upper-case name of the level.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarning:
		return "WARNING"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Logger is the logging collaborator injected into the config index and the
// decision engine. Implementations must be safe for concurrent use.
type Logger interface {
	Debug(msg string)
	Info(msg string)
	Warning(msg string)
	Error(msg string)
}

// zerologLogger adapts a zerolog.Logger to the Logger interface.
type zerologLogger struct {
	l zerolog.Logger
}

// NewZerolog returns a Logger writing structured log lines to w.
// Messages below minLevel are dropped.
func NewZerolog(w io.Writer, minLevel Level) Logger {
	zl := zerolog.New(w).With().Timestamp().Logger()
	switch minLevel {
	case LevelDebug:
		zl = zl.Level(zerolog.DebugLevel)
	case LevelInfo:
		zl = zl.Level(zerolog.InfoLevel)
	case LevelWarning:
		zl = zl.Level(zerolog.WarnLevel)
	case LevelError:
		zl = zl.Level(zerolog.ErrorLevel)
	}
	return &zerologLogger{l: zl}
}

func (z *zerologLogger) Debug(msg string)   { z.l.Debug().Msg(msg) }
func (z *zerologLogger) Info(msg string)    { z.l.Info().Msg(msg) }
func (z *zerologLogger) Warning(msg string) { z.l.Warn().Msg(msg) }
func (z *zerologLogger) Error(msg string)   { z.l.Error().Msg(msg) }

// nopLogger discards everything.
type nopLogger struct{}

// NewNop returns a Logger that discards all messages.
func NewNop() Logger { return nopLogger{} }

func (nopLogger) Debug(string)   {}
func (nopLogger) Info(string)    {}
func (nopLogger) Warning(string) {}
func (nopLogger) Error(string)   {}

// ParseLevel maps a level name ("debug", "info", ...) to a Level.
// Unknown names default to LevelInfo.
func ParseLevel(name string) Level {
	switch name {
	case "debug", "DEBUG":
		return LevelDebug
	case "warn", "warning", "WARNING":
		return LevelWarning
	case "error", "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}
