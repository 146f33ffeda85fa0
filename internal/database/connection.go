package database

import (
	"context"
	"fmt"
	"sync"
	"time"

	"adventure-bot/internal/metrics"
	"adventure-bot/internal/models"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Pool is the subset of *pgxpool.Pool the engine depends on.
type Pool interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// Dialer creates a new pool. It is called at most once per successful connect.
type Dialer func(ctx context.Context) (Pool, error)

// PgxDialer builds a pgxpool-backed Dialer from cfg.
func PgxDialer(cfg Config) Dialer {
	cfg.setDefaults()
	return func(ctx context.Context) (Pool, error) {
		poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to parse database connection string: %w", err)
		}
		poolConfig.MaxConns = cfg.MaxConns
		poolConfig.MinConns = cfg.MinConns
		poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
		poolConfig.HealthCheckPeriod = defaultHealthCheckPeriod
		poolConfig.ConnConfig.ConnectTimeout = cfg.AcquireTimeout

		pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to create database connection pool: %w", err)
		}
		return pool, nil
	}
}

// ConnectionManager owns the lifecycle of the shared pool. The pool is created lazily
// on first Acquire; concurrent callers share one in-flight connect.
type ConnectionManager struct {
	cfg     Config
	dial    Dialer
	logger  *zap.Logger
	metrics *metrics.Collectors
	timer   *OperationTimer

	group singleflight.Group

	mu     sync.RWMutex
	pool   Pool
	closed bool
}

// NewConnectionManager returns a manager that dials PostgreSQL with pgxpool.
func NewConnectionManager(cfg Config, logger *zap.Logger, m *metrics.Collectors) *ConnectionManager {
	return NewConnectionManagerWithDialer(cfg, PgxDialer(cfg), logger, m)
}

// NewConnectionManagerWithDialer is NewConnectionManager with a custom dialer.
func NewConnectionManagerWithDialer(cfg Config, dial Dialer, logger *zap.Logger, m *metrics.Collectors) *ConnectionManager {
	cfg.setDefaults()
	if m == nil {
		m = metrics.New(nil)
	}
	logger = logger.Named("ConnectionManager")
	return &ConnectionManager{
		cfg:     cfg,
		dial:    dial,
		logger:  logger,
		metrics: m,
		timer:   NewOperationTimer(logger, m, cfg.HeartbeatInterval),
	}
}

// Timer returns the timeout helper bound to this manager's logger and metrics.
func (m *ConnectionManager) Timer() *OperationTimer { return m.timer }

// Acquire returns the shared pool, connecting if needed.
func (m *ConnectionManager) Acquire(ctx context.Context) (Pool, error) {
	m.mu.RLock()
	pool, closed := m.pool, m.closed
	m.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("%w: connection manager is closed", models.ErrConnection)
	}
	if pool != nil {
		return pool, nil
	}

	// The connect outlives any single caller's context; each caller only stops waiting.
	ch := m.group.DoChan("connect", func() (interface{}, error) {
		return m.connect(context.WithoutCancel(ctx))
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(Pool), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// PgxPool returns the underlying *pgxpool.Pool, for migrations.
func (m *ConnectionManager) PgxPool(ctx context.Context) (*pgxpool.Pool, error) {
	pool, err := m.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	pgxPool, ok := pool.(*pgxpool.Pool)
	if !ok {
		return nil, fmt.Errorf("pool is %T, not *pgxpool.Pool", pool)
	}
	return pgxPool, nil
}

func (m *ConnectionManager) connect(ctx context.Context) (Pool, error) {
	m.mu.RLock()
	if m.pool != nil {
		pool := m.pool
		m.mu.RUnlock()
		return pool, nil
	}
	m.mu.RUnlock()

	attempts := 0
	var pool Pool
	op := func() error {
		attempts++
		dialCtx, cancel := context.WithTimeout(ctx, m.cfg.AcquireTimeout)
		defer cancel()

		p, err := m.dial(dialCtx)
		if err == nil {
			if err = p.Ping(dialCtx); err != nil {
				p.Close()
				err = fmt.Errorf("failed to ping database: %w", err)
			}
		}
		if err != nil {
			m.metrics.ConnectAttempts.WithLabelValues("failure").Inc()
			return err
		}
		m.metrics.ConnectAttempts.WithLabelValues("success").Inc()
		pool = p
		return nil
	}
	notify := func(err error, wait time.Duration) {
		m.logger.Warn("Failed to connect to database, retrying",
			zap.Int("attempt", attempts),
			zap.Int("max_attempts", m.cfg.ConnectAttempts),
			zap.Duration("retry_delay", wait),
			zap.Error(err),
		)
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(NewLinearBackOff(m.cfg.ConnectBackoff), uint64(m.cfg.ConnectAttempts-1)),
		ctx,
	)
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		m.logger.Error("Giving up connecting to database", zap.Int("attempts", attempts), zap.Error(err))
		return nil, &models.ConnectionError{Attempts: attempts, Err: err}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		pool.Close()
		return nil, fmt.Errorf("%w: connection manager closed while connecting", models.ErrConnection)
	}
	m.pool = pool
	m.logger.Info("Database connection established", zap.Int("attempts", attempts))
	return pool, nil
}

// Ping checks the pool, connecting if needed.
func (m *ConnectionManager) Ping(ctx context.Context) error {
	pool, err := m.Acquire(ctx)
	if err != nil {
		return err
	}
	return pool.Ping(ctx)
}

// Close releases the pool. Later Acquire calls fail with models.ErrConnection.
func (m *ConnectionManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	if m.pool != nil {
		m.pool.Close()
		m.pool = nil
		m.logger.Info("Database connection closed")
	}
}

// LinearBackOff waits step, 2*step, 3*step, ... between attempts.
type LinearBackOff struct {
	step time.Duration
	n    int
}

var _ backoff.BackOff = (*LinearBackOff)(nil)

// NewLinearBackOff returns a linear policy with the given step.
func NewLinearBackOff(step time.Duration) *LinearBackOff {
	return &LinearBackOff{step: step}
}

func (b *LinearBackOff) NextBackOff() time.Duration {
	b.n++
	return time.Duration(b.n) * b.step
}

func (b *LinearBackOff) Reset() { b.n = 0 }
