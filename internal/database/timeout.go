package database

import (
	"context"
	"time"

	"adventure-bot/internal/metrics"
	"adventure-bot/internal/models"

	"go.uber.org/zap"
)

// OperationTimer races operations against a deadline. A timed-out operation is
// abandoned, not cancelled: it keeps running in its goroutine and its result is dropped.
type OperationTimer struct {
	logger    *zap.Logger
	metrics   *metrics.Collectors
	heartbeat time.Duration
}

// NewOperationTimer returns a timer. heartbeat <= 0 disables progress logging.
func NewOperationTimer(logger *zap.Logger, m *metrics.Collectors, heartbeat time.Duration) *OperationTimer {
	if m == nil {
		m = metrics.New(nil)
	}
	return &OperationTimer{
		logger:    logger.Named("OperationTimer"),
		metrics:   m,
		heartbeat: heartbeat,
	}
}

type timedResult[T any] struct {
	val T
	err error
}

// WithTimeout runs op and returns its result, or a *models.TimeoutError if op has not
// finished within timeout. timeout <= 0 waits indefinitely. The caller's context is
// passed to op unchanged; its cancellation is honoured on both sides.
func WithTimeout[T any](ctx context.Context, t *OperationTimer, label string, timeout time.Duration, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	start := time.Now()
	logFields := []zap.Field{zap.String("label", label), zap.Duration("timeout", timeout)}

	inFlight := t.metrics.OperationsInFlight.WithLabelValues(label)
	inFlight.Inc()
	// Buffered so an abandoned op can always deliver and exit.
	done := make(chan timedResult[T], 1)
	go func() {
		defer inFlight.Dec()
		v, err := op(ctx)
		done <- timedResult[T]{val: v, err: err}
	}()

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}
	var beat <-chan time.Time
	if t.heartbeat > 0 {
		ticker := time.NewTicker(t.heartbeat)
		defer ticker.Stop()
		beat = ticker.C
	}

	for {
		select {
		case res := <-done:
			t.metrics.OperationDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())
			return res.val, res.err
		case <-beat:
			t.metrics.OperationHeartbeats.WithLabelValues(label).Inc()
			t.logger.Info("Operation still running", append(logFields, zap.Duration("elapsed", time.Since(start)))...)
		case <-deadline:
			elapsed := time.Since(start)
			t.metrics.OperationTimeouts.WithLabelValues(label).Inc()
			t.logger.Warn("Operation timed out, abandoning", append(logFields, zap.Duration("elapsed", elapsed))...)
			return zero, &models.TimeoutError{Label: label, Elapsed: elapsed}
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

// Run is WithTimeout for operations without a result.
func (t *OperationTimer) Run(ctx context.Context, label string, timeout time.Duration, op func(ctx context.Context) error) error {
	_, err := WithTimeout(ctx, t, label, timeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}
