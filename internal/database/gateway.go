package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"adventure-bot/internal/interfaces"
	"adventure-bot/internal/metrics"
	"adventure-bot/internal/models"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

var errAbandoned = errors.New("transaction abandoned after timeout")

// Gateway runs units of work against the pool managed by a ConnectionManager.
type Gateway struct {
	conn    *ConnectionManager
	cfg     Config
	logger  *zap.Logger
	metrics *metrics.Collectors

	open   atomic.Int64
	closed atomic.Bool
}

var _ interfaces.TxRunner = (*Gateway)(nil)

// NewGateway returns a Gateway using conn's settings.
func NewGateway(conn *ConnectionManager, logger *zap.Logger, m *metrics.Collectors) *Gateway {
	if m == nil {
		m = conn.metrics
	}
	return &Gateway{
		conn:    conn,
		cfg:     conn.cfg,
		logger:  logger.Named("Gateway"),
		metrics: m,
	}
}

// WithTransaction runs fn in a READ COMMITTED transaction. fn is retried with linear
// backoff when it fails with a transient store error; every other error is returned as is
// after rollback. A unit of work exceeding OperationTimeout fails with
// *models.TimeoutError, but only after its transaction has rolled back or the resolve
// grace period has passed.
func (g *Gateway) WithTransaction(ctx context.Context, label string, fn interfaces.TxFunc) error {
	if g.closed.Load() {
		return fmt.Errorf("%w: gateway is closed", models.ErrConnection)
	}

	attempts := 0
	op := func() error {
		attempts++
		retrySafe, err := g.attempt(ctx, label, fn)
		if err == nil {
			return nil
		}
		if retrySafe && IsTransient(err) {
			return err
		}
		return backoff.Permanent(err)
	}
	notify := func(err error, wait time.Duration) {
		g.metrics.TxAttempts.WithLabelValues(label, "retried").Inc()
		g.logger.Warn("Transient failure in transaction, retrying",
			zap.String("label", label),
			zap.Int("attempt", attempts),
			zap.Duration("retry_delay", wait),
			zap.Error(err),
		)
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(NewLinearBackOff(g.cfg.TxRetryBackoff), uint64(g.cfg.TxMaxAttempts-1)),
		ctx,
	)

	err := backoff.RetryNotify(op, policy, notify)
	if err != nil && IsTransient(err) && !errors.Is(err, models.ErrTransientStore) {
		return fmt.Errorf("%w: %s failed after %d attempts: %w", models.ErrTransientStore, label, attempts, err)
	}
	return err
}

type txOutcome struct {
	err       error
	retrySafe bool
	panicked  any
}

type txRun struct {
	done    chan struct{}
	outcome txOutcome
}

func (g *Gateway) attempt(ctx context.Context, label string, fn interfaces.TxFunc) (bool, error) {
	pool, err := g.conn.Acquire(ctx)
	if err != nil {
		return false, err
	}

	beginCtx, cancel := context.WithTimeout(ctx, g.cfg.AcquireTimeout)
	tx, err := pool.BeginTx(beginCtx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	acquireTimedOut := errors.Is(beginCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
	cancel()
	if err != nil {
		if acquireTimedOut {
			return false, fmt.Errorf("%w: no connection available within %s", models.ErrTransientStore, g.cfg.AcquireTimeout)
		}
		return true, fmt.Errorf("failed to begin transaction: %w", err)
	}

	g.trackOpen(1)
	var abandoned atomic.Bool
	run := &txRun{done: make(chan struct{})}
	go func() {
		run.outcome = g.execute(ctx, tx, label, fn, &abandoned)
		g.trackOpen(-1)
		close(run.done)
	}()

	_, err = WithTimeout(ctx, g.conn.Timer(), label, g.cfg.OperationTimeout, func(context.Context) (struct{}, error) {
		<-run.done
		return struct{}{}, nil
	})
	if err != nil {
		abandoned.Store(true)
		grace := time.NewTimer(g.cfg.ResolveGrace)
		defer grace.Stop()
		select {
		case <-run.done:
			if run.outcome.err == nil && run.outcome.panicked == nil {
				// Committed before it could be stopped.
				return false, nil
			}
		case <-grace.C:
			g.metrics.OrphanedTransactions.Inc()
			g.logger.Error("Transaction did not resolve within grace period",
				zap.String("label", label),
				zap.Duration("grace", g.cfg.ResolveGrace),
				zap.Error(err),
			)
		}
		return false, err
	}

	out := run.outcome
	if out.panicked != nil {
		panic(out.panicked)
	}
	if out.err != nil {
		return out.retrySafe, out.err
	}
	g.metrics.TxAttempts.WithLabelValues(label, "committed").Inc()
	return false, nil
}

func (g *Gateway) execute(ctx context.Context, tx pgx.Tx, label string, fn interfaces.TxFunc, abandoned *atomic.Bool) (out txOutcome) {
	rollback := func(cause error) {
		g.metrics.TxAttempts.WithLabelValues(label, "rolled_back").Inc()
		if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			g.logger.Error("Failed to rollback transaction",
				zap.String("label", label),
				zap.Error(rbErr),
				zap.NamedError("original_error", cause),
			)
		}
	}

	defer func() {
		if p := recover(); p != nil {
			rollback(fmt.Errorf("panic: %v", p))
			out = txOutcome{panicked: p}
		}
	}()

	if err := fn(ctx, tx); err != nil {
		rollback(err)
		return txOutcome{err: err, retrySafe: true}
	}
	if abandoned.Load() {
		rollback(errAbandoned)
		return txOutcome{err: errAbandoned}
	}
	if err := tx.Commit(ctx); err != nil {
		// A server-side rejection or an unsent commit leaves nothing committed.
		var pgErr *pgconn.PgError
		return txOutcome{
			err:       fmt.Errorf("failed to commit transaction: %w", err),
			retrySafe: pgconn.SafeToRetry(err) || errors.As(err, &pgErr),
		}
	}
	return txOutcome{}
}

func (g *Gateway) trackOpen(delta int64) {
	g.open.Add(delta)
	g.metrics.OpenTransactions.Add(float64(delta))
}

// OpenTransactions returns the number of transactions not yet committed or rolled back.
func (g *Gateway) OpenTransactions() int64 {
	return g.open.Load()
}

// Close stops accepting work, waits for open transactions until ctx is done, and
// then closes the pool. Transactions still open at that point are reported as orphaned.
func (g *Gateway) Close(ctx context.Context) error {
	if !g.closed.CompareAndSwap(false, true) {
		return nil
	}
	defer g.conn.Close()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for g.open.Load() > 0 {
		select {
		case <-ctx.Done():
			n := g.open.Load()
			if n == 0 {
				return nil
			}
			g.metrics.OrphanedTransactions.Add(float64(n))
			g.logger.Error("Closing with orphaned transactions", zap.Int64("open_transactions", n))
			return fmt.Errorf("closed with %d open transactions", n)
		case <-ticker.C:
		}
	}
	return nil
}

// IsTransient reports whether err is a store failure worth retrying: serialization
// failures, deadlocks, lost connections and errors pgconn marks safe to retry.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, models.ErrOperationTimeout) || errors.Is(err, models.ErrConnection) {
		return false
	}
	if errors.Is(err, models.ErrTransientStore) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03", "57P01", "53300":
			return true
		}
		return strings.HasPrefix(pgErr.Code, "08")
	}
	return pgconn.SafeToRetry(err)
}

// InTx runs fn in a unit of work and returns its value.
func InTx[T any](ctx context.Context, runner interfaces.TxRunner, label string, fn func(ctx context.Context, tx interfaces.DBTX) (T, error)) (T, error) {
	var out T
	err := runner.WithTransaction(ctx, label, func(ctx context.Context, tx interfaces.DBTX) error {
		v, err := fn(ctx, tx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}
