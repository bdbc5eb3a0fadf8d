// Package logger builds the process-wide zap logger from a verbosity
// string. Components receive named children of this logger.
package logger

import (
	"go.uber.org/zap"
)

// New constructs a production zap logger at the given verbosity
// ("debug", "info", "warn", "error").
func New(verbosity string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	level, err := zap.ParseAtomicLevel(verbosity)
	if err != nil {
		return nil, err
	}
	cfg.Level = level
	cfg.DisableStacktrace = true
	return cfg.Build()
}
