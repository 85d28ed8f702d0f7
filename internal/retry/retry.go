// Package retry provides the exponential backoff and retryable-vs-fatal
// error taxonomy shared by every outbound call in the pipeline.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// Options controls backoff behavior. Attempt counting starts at 1 and
// includes the first try.
type Options struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultOptions matches the pipeline-wide retry policy.
func DefaultOptions() Options {
	return Options{MaxAttempts: 5, BaseDelay: 500 * time.Millisecond, MaxDelay: 10 * time.Second}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = d.MaxAttempts
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = d.BaseDelay
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = d.MaxDelay
	}
	return o
}

const jitterMax = 100 * time.Millisecond

// sleep is swapped in tests to avoid real delays.
var sleep = func(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// backoffDelay computes the pre-jitter delay before retry number attempt
// (attempt 1 produced the first failure).
func backoffDelay(opts Options, attempt int) time.Duration {
	d := opts.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= opts.MaxDelay {
			return opts.MaxDelay
		}
	}
	if d > opts.MaxDelay {
		return opts.MaxDelay
	}
	return d
}

// Permanent marks err so WithBackoff stops retrying and returns the
// original error immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// WithBackoff invokes op, retrying with exponential backoff plus jitter
// while attempts remain. The final failure propagates unchanged.
func WithBackoff(ctx context.Context, opts Options, op func() error) error {
	opts = opts.withDefaults()
	var lastErr error
	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		var pe *permanentError
		if errors.As(lastErr, &pe) {
			return pe.err
		}
		if attempt == opts.MaxAttempts {
			break
		}
		wait := backoffDelay(opts, attempt) + time.Duration(rand.Int63n(int64(jitterMax)))
		if err := sleep(ctx, wait); err != nil {
			return lastErr
		}
	}
	return lastErr
}

// StageError carries a pipeline stage name and the retryable decision made
// when the failure was classified, so upper layers never re-inspect text.
type StageError struct {
	Stage     string
	Retryable bool
	Err       error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// WrapStage classifies err and attaches the stage name for operator-facing logs.
func WrapStage(stage string, err error) *StageError {
	return &StageError{Stage: stage, Retryable: IsRetryable(err), Err: err}
}
