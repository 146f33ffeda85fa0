package interfaces

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TxFunc is the body of a unit of work.
type TxFunc func(ctx context.Context, tx DBTX) error

// TxRunner runs a unit of work: commit on nil, rollback on error or panic.
// Implementations may retry fn on transient failures, so fn must be free of
// side effects outside tx.
type TxRunner interface {
	WithTransaction(ctx context.Context, label string, fn TxFunc) error
}
