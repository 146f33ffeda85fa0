package database_test

import (
	"context"
	"sync"
	"sync/atomic"

	"adventure-bot/internal/database"

	"github.com/jackc/pgx/v5"
)

// fakeTx records how a transaction ended. Only Commit and Rollback are implemented.
type fakeTx struct {
	pgx.Tx
	commitErr  error
	committed  atomic.Bool
	rolledBack atomic.Bool
}

func (tx *fakeTx) Commit(context.Context) error {
	if tx.commitErr != nil {
		return tx.commitErr
	}
	tx.committed.Store(true)
	return nil
}

func (tx *fakeTx) Rollback(context.Context) error {
	if tx.committed.Load() {
		return pgx.ErrTxClosed
	}
	tx.rolledBack.Store(true)
	return nil
}

// fakePool hands out fakeTx values. commitErrs are consumed by successive transactions.
type fakePool struct {
	mu         sync.Mutex
	txs        []*fakeTx
	commitErrs []error
	beginErr   error
	// blockBegin makes BeginTx wait for its context, like an exhausted pool.
	blockBegin bool
	pingErr    error
	closed     atomic.Bool
	begins     atomic.Int32
}

var _ database.Pool = (*fakePool)(nil)

func (p *fakePool) BeginTx(ctx context.Context, _ pgx.TxOptions) (pgx.Tx, error) {
	p.begins.Add(1)
	if p.blockBegin {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if p.beginErr != nil {
		return nil, p.beginErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	tx := &fakeTx{}
	if len(p.commitErrs) > 0 {
		tx.commitErr = p.commitErrs[0]
		p.commitErrs = p.commitErrs[1:]
	}
	p.txs = append(p.txs, tx)
	return tx, nil
}

func (p *fakePool) Ping(context.Context) error { return p.pingErr }

func (p *fakePool) Close() { p.closed.Store(true) }

func (p *fakePool) lastTx() *fakeTx {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.txs) == 0 {
		return nil
	}
	return p.txs[len(p.txs)-1]
}

func dialerFor(pool database.Pool) database.Dialer {
	return func(context.Context) (database.Pool, error) { return pool, nil }
}
