package telemetry

import (
	"context"

	"go.uber.org/zap"
)

// RunLogWriter persists one log line for a run.
type RunLogWriter interface {
	AppendRunLog(ctx context.Context, runID, level, message string) error
}

// RunLogger duplicates operator-facing log lines into the run's append-only
// log trail. Structured fields stay on the zap side; the stored message is
// the rendered line.
type RunLogger struct {
	runID string
	store RunLogWriter
	log   *zap.Logger
}

func NewRunLogger(runID string, store RunLogWriter, log *zap.Logger) *RunLogger {
	if log == nil {
		log = zap.NewNop()
	}
	return &RunLogger{runID: runID, store: store, log: log}
}

func (l *RunLogger) Info(ctx context.Context, msg string, fields ...zap.Field) {
	l.log.Info(msg, fields...)
	l.persist(ctx, "info", msg)
}

func (l *RunLogger) Warn(ctx context.Context, msg string, fields ...zap.Field) {
	l.log.Warn(msg, fields...)
	l.persist(ctx, "warn", msg)
}

func (l *RunLogger) Error(ctx context.Context, msg string, fields ...zap.Field) {
	l.log.Error(msg, fields...)
	l.persist(ctx, "error", msg)
}

func (l *RunLogger) persist(ctx context.Context, level, msg string) {
	if l.store == nil {
		return
	}
	if err := l.store.AppendRunLog(ctx, l.runID, level, msg); err != nil {
		l.log.Warn("failed to persist run log entry", zap.Error(err))
	}
}
