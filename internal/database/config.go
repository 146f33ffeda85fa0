package database

import "time"

const (
	defaultMaxConns          = 10
	defaultMinConns          = 1
	defaultMaxConnIdleTime   = 5 * time.Minute
	defaultHealthCheckPeriod = time.Minute
	defaultAcquireTimeout    = 5 * time.Second
	defaultConnectAttempts   = 5
	defaultConnectBackoff    = time.Second
	defaultTxMaxAttempts     = 3
	defaultTxRetryBackoff    = 50 * time.Millisecond
	defaultOperationTimeout  = 30 * time.Second
	defaultResolveGrace      = 5 * time.Second
)

// Config holds pool, connect and unit-of-work settings.
type Config struct {
	DSN               string
	MaxConns          int32
	MinConns          int32
	MaxConnIdleTime   time.Duration
	AcquireTimeout    time.Duration
	ConnectAttempts   int
	ConnectBackoff    time.Duration
	HeartbeatInterval time.Duration

	// TxMaxAttempts bounds how often a unit of work runs when it fails transiently.
	TxMaxAttempts  int
	TxRetryBackoff time.Duration
	// OperationTimeout bounds a single unit of work, generator calls included.
	// Zero selects the default; a negative value disables the bound.
	OperationTimeout time.Duration
	// ResolveGrace is how long a timed-out transaction may take to roll back
	// before it is reported as orphaned.
	ResolveGrace time.Duration
}

func (c *Config) setDefaults() {
	if c.MaxConns <= 0 {
		c.MaxConns = defaultMaxConns
	}
	if c.MinConns <= 0 {
		c.MinConns = defaultMinConns
	}
	if c.MinConns > c.MaxConns {
		c.MinConns = c.MaxConns
	}
	if c.MaxConnIdleTime <= 0 {
		c.MaxConnIdleTime = defaultMaxConnIdleTime
	}
	if c.AcquireTimeout <= 0 {
		c.AcquireTimeout = defaultAcquireTimeout
	}
	if c.ConnectAttempts <= 0 {
		c.ConnectAttempts = defaultConnectAttempts
	}
	if c.ConnectBackoff <= 0 {
		c.ConnectBackoff = defaultConnectBackoff
	}
	if c.TxMaxAttempts <= 0 {
		c.TxMaxAttempts = defaultTxMaxAttempts
	}
	if c.TxRetryBackoff <= 0 {
		c.TxRetryBackoff = defaultTxRetryBackoff
	}
	if c.OperationTimeout == 0 {
		c.OperationTimeout = defaultOperationTimeout
	}
	if c.ResolveGrace <= 0 {
		c.ResolveGrace = defaultResolveGrace
	}
}
