package coaptcp

import (
	"fmt"
	"log/slog"

	"github.com/rs/zerolog"
)

// Logger is the interface for structured logging.
// It is designed to be compatible with *slog.Logger from the standard library.
// Applications can provide their own implementation or use the default slog logger.
type Logger interface {
	// Debug logs a debug-level message with optional key-value pairs.
	Debug(msg string, args ...any)
	// Info logs an info-level message with optional key-value pairs.
	Info(msg string, args ...any)
	// Warn logs a warning-level message with optional key-value pairs.
	Warn(msg string, args ...any)
	// Error logs an error-level message with optional key-value pairs.
	Error(msg string, args ...any)
}

// defaultLogger returns the default slog logger from the standard library.
func defaultLogger() Logger {
	return slog.Default()
}

// zerologLogger adapts a zerolog.Logger to the Logger interface.
type zerologLogger struct {
	logger zerolog.Logger
}

// NewZerologLogger wraps a zerolog logger so it can be passed via
// LoggerOption.
func NewZerologLogger(logger zerolog.Logger) Logger {
	return zerologLogger{logger: logger}
}

// fields converts slog-style alternating key-value args into a map.
func (z zerologLogger) fields(args []any) map[string]any {
	if len(args) == 0 {
		return nil
	}
	m := make(map[string]any, len(args)/2)
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprint(args[i])
		}
		m[key] = args[i+1]
	}
	return m
}

func (z zerologLogger) Debug(msg string, args ...any) {
	z.logger.Debug().Fields(z.fields(args)).Msg(msg)
}

func (z zerologLogger) Info(msg string, args ...any) {
	z.logger.Info().Fields(z.fields(args)).Msg(msg)
}

func (z zerologLogger) Warn(msg string, args ...any) {
	z.logger.Warn().Fields(z.fields(args)).Msg(msg)
}

func (z zerologLogger) Error(msg string, args ...any) {
	z.logger.Error().Fields(z.fields(args)).Msg(msg)
}
