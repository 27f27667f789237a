// Package logging configures structured logging for the engine and adapts
// it to the narrow Logger interface the subsystems accept.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the interface for structured logging across the engine.
// It enables dependency injection of loggers for testability.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

var (
	// Root is the global logger instance.
	Root zerolog.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
)

// Level represents log level.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config holds logging configuration.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// Init initializes the global logger.
func Init(cfg Config) {
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case InfoLevel:
		level = zerolog.InfoLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	if cfg.JSONOutput {
		Root = zerolog.New(output).With().Timestamp().Logger()
	} else {
		Root = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}
}

// WithComponent creates a child logger with a component field.
func WithComponent(component string) zerolog.Logger {
	return Root.With().Str("component", component).Logger()
}

// ForComponent returns a Logger for the named component backed by the global
// zerolog logger.
func ForComponent(component string) Logger {
	return &zerologAdapter{logger: WithComponent(component)}
}

// Noop returns a logger that discards all output.
func Noop() Logger {
	return &noopLogger{}
}

// zerologAdapter bridges zerolog to the engine Logger interface.
type zerologAdapter struct {
	logger zerolog.Logger
}

func (a *zerologAdapter) Debug(msg string, keysAndValues ...any) {
	a.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (a *zerologAdapter) Info(msg string, keysAndValues ...any) {
	a.logger.Info().Fields(keysAndValues).Msg(msg)
}

func (a *zerologAdapter) Warn(msg string, keysAndValues ...any) {
	a.logger.Warn().Fields(keysAndValues).Msg(msg)
}

func (a *zerologAdapter) Error(msg string, keysAndValues ...any) {
	a.logger.Error().Fields(keysAndValues).Msg(msg)
}

// noopLogger discards all output.
type noopLogger struct{}

func (l *noopLogger) Debug(msg string, keysAndValues ...any) {}
func (l *noopLogger) Info(msg string, keysAndValues ...any)  {}
func (l *noopLogger) Warn(msg string, keysAndValues ...any)  {}
func (l *noopLogger) Error(msg string, keysAndValues ...any) {}
