// Package logging builds the zap loggers used by the solver, the MPC
// wrapper and the CLI.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a production JSON logger with ISO8601 timestamps, or a
// human-readable development logger.
func New(level string, development bool) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, err)
	}

	config := zap.NewProductionConfig()
	if development {
		config = zap.NewDevelopmentConfig()
	}
	config.Level = zap.NewAtomicLevelAt(lvl)
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return config.Build()
}

// MustNew is New that falls back to a no-op logger.
func MustNew(level string, development bool) *zap.Logger {
	l, err := New(level, development)
	if err != nil {
		return zap.NewNop()
	}
	return l
}

func NewNop() *zap.Logger { return zap.NewNop() }
