// Package logging builds the shared zap logger for cass-mem. All components
// receive a *zap.Logger and attach their own fields with With.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New constructs a logger. When jsonOut is true the logger emits structured
// JSON suitable for piping; otherwise it uses the console encoder. verbose
// lowers the level to debug.
func New(verbose, jsonOut bool) *zap.Logger {
	level := zapcore.InfoLevel
	if verbose {
		level = zapcore.DebugLevel
	}

	var cfg zap.Config
	if jsonOut {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.DisableStacktrace = true
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	// Logs go to stderr so stdout stays clean for command output.
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// Nop returns a no-op logger for tests and silent callers.
func Nop() *zap.Logger {
	return zap.NewNop()
}
