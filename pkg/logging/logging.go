// Package logging provides the injectable logger handle used throughout
// UDPCP. Every stateful component takes a *zap.Logger rather than reaching
// for a package-level global, so a caller embedding the engine controls
// where the logs go.
package logging

import (
	"os"

	"go.uber.org/zap"
)

// NewFromEnv builds a *zap.Logger configured from LOG_LEVEL and LOG_FORMAT
// environment variables (defaults: info, console), for use by command-line
// entry points that don't otherwise need their own zap.Config.
func NewFromEnv() (*zap.Logger, error) {
	return New(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))
}

// New builds a *zap.Logger for the given level ("debug", "info", "warn",
// "error"; default "info") and format ("console" or "json"; default "console").
func New(level, format string) (*zap.Logger, error) {
	if level == "" {
		level = "info"
	}
	if format == "" {
		format = "console"
	}

	config := zap.NewProductionConfig()

	switch level {
	case "debug":
		config.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		config.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		config.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		config.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		config.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	if format == "console" {
		config.Development = true
		config.Encoding = "console"
		config.EncoderConfig.TimeKey = ""
		config.EncoderConfig.CallerKey = ""
	} else {
		config.Encoding = "json"
	}

	return config.Build()
}

// Nop returns a logger that discards everything, for tests and callers that
// don't want to wire up a real sink.
func Nop() *zap.Logger {
	return zap.NewNop()
}
