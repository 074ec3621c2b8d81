// Package logging builds the pipeline's base zap logger and adapts it to
// github.com/go-logr/logr for the one component (the lease manager) that
// takes a logr.Logger by k8s-ecosystem convention.
package logging

import (
	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a production zap logger at the given level ("debug", "info",
// "warn", "error"), with ISO8601 timestamps and the service name attached
// to every record.
func New(service, level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.With(zap.String("service", service)), nil
}

// ForRun derives a child logger scoped to one run.
func ForRun(base *zap.Logger, runID string) *zap.Logger {
	return base.With(zap.String("run_id", runID))
}

// ForJob derives a child logger scoped to one job within a run.
func ForJob(base *zap.Logger, runID, jobID, jobType string) *zap.Logger {
	return base.With(
		zap.String("run_id", runID),
		zap.String("job_id", jobID),
		zap.String("job_type", jobType),
	)
}

// AsLogr adapts a zap logger to logr.Logger for components shaped after
// k8s ecosystem lease/lock code (internal/cache's lease manager).
func AsLogr(base *zap.Logger) logr.Logger {
	return zapr.NewLogger(base)
}
