package database_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"adventure-bot/internal/database"
	"adventure-bot/internal/metrics"
	"adventure-bot/internal/models"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func fastConnectConfig(attempts int) database.Config {
	return database.Config{
		ConnectAttempts: attempts,
		ConnectBackoff:  time.Millisecond,
		AcquireTimeout:  time.Second,
	}
}

func TestConnectionManager_Acquire(t *testing.T) {
	ctx := context.Background()

	t.Run("Concurrent callers share one connect", func(t *testing.T) {
		pool := &fakePool{}
		var dials atomic.Int32
		dial := func(context.Context) (database.Pool, error) {
			dials.Add(1)
			time.Sleep(20 * time.Millisecond)
			return pool, nil
		}
		m := database.NewConnectionManagerWithDialer(fastConnectConfig(3), dial, zap.NewNop(), nil)
		defer m.Close()

		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				got, err := m.Acquire(ctx)
				assert.NoError(t, err)
				assert.Same(t, pool, got)
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), dials.Load())

		// Later calls reuse the pool without dialing.
		_, err := m.Acquire(ctx)
		require.NoError(t, err)
		assert.Equal(t, int32(1), dials.Load())
	})

	t.Run("Retries then succeeds", func(t *testing.T) {
		pool := &fakePool{}
		reg := metrics.New(nil)
		var dials atomic.Int32
		dial := func(context.Context) (database.Pool, error) {
			if dials.Add(1) < 3 {
				return nil, errors.New("connection refused")
			}
			return pool, nil
		}
		m := database.NewConnectionManagerWithDialer(fastConnectConfig(5), dial, zap.NewNop(), reg)
		defer m.Close()

		got, err := m.Acquire(ctx)
		require.NoError(t, err)
		assert.Same(t, pool, got)
		assert.Equal(t, int32(3), dials.Load())
		assert.Equal(t, float64(2), testutil.ToFloat64(reg.ConnectAttempts.WithLabelValues("failure")))
		assert.Equal(t, float64(1), testutil.ToFloat64(reg.ConnectAttempts.WithLabelValues("success")))
	})

	t.Run("Gives up with a connection error", func(t *testing.T) {
		var dials atomic.Int32
		refused := errors.New("connection refused")
		dial := func(context.Context) (database.Pool, error) {
			dials.Add(1)
			return nil, refused
		}
		m := database.NewConnectionManagerWithDialer(fastConnectConfig(3), dial, zap.NewNop(), nil)
		defer m.Close()

		_, err := m.Acquire(ctx)
		require.Error(t, err)
		assert.ErrorIs(t, err, models.ErrConnection)
		assert.ErrorIs(t, err, refused)
		var connErr *models.ConnectionError
		require.True(t, errors.As(err, &connErr))
		assert.Equal(t, 3, connErr.Attempts)
		assert.Equal(t, int32(3), dials.Load())
		assert.True(t, models.KindOf(err).Retryable())
	})

	t.Run("Failed ping closes the new pool and retries", func(t *testing.T) {
		bad := &fakePool{pingErr: errors.New("server closed the connection")}
		good := &fakePool{}
		var dials atomic.Int32
		dial := func(context.Context) (database.Pool, error) {
			if dials.Add(1) == 1 {
				return bad, nil
			}
			return good, nil
		}
		m := database.NewConnectionManagerWithDialer(fastConnectConfig(3), dial, zap.NewNop(), nil)
		defer m.Close()

		got, err := m.Acquire(ctx)
		require.NoError(t, err)
		assert.Same(t, good, got)
		assert.True(t, bad.closed.Load())
	})

	t.Run("Caller may stop waiting while the connect continues", func(t *testing.T) {
		pool := &fakePool{}
		dial := func(context.Context) (database.Pool, error) {
			time.Sleep(100 * time.Millisecond)
			return pool, nil
		}
		m := database.NewConnectionManagerWithDialer(fastConnectConfig(1), dial, zap.NewNop(), nil)
		defer m.Close()

		short, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
		defer cancel()
		_, err := m.Acquire(short)
		assert.ErrorIs(t, err, context.DeadlineExceeded)

		got, err := m.Acquire(ctx)
		require.NoError(t, err)
		assert.Same(t, pool, got)
	})
}

func TestConnectionManager_PingAndClose(t *testing.T) {
	ctx := context.Background()
	pool := &fakePool{}
	m := database.NewConnectionManagerWithDialer(fastConnectConfig(1), dialerFor(pool), zap.NewNop(), nil)

	require.NoError(t, m.Ping(ctx))

	pool.pingErr = errors.New("gone")
	assert.Error(t, m.Ping(ctx))

	m.Close()
	assert.True(t, pool.closed.Load())
	_, err := m.Acquire(ctx)
	assert.ErrorIs(t, err, models.ErrConnection)

	// Close is idempotent.
	m.Close()
}

func TestConnectionManager_PgxPoolRequiresPgx(t *testing.T) {
	m := database.NewConnectionManagerWithDialer(fastConnectConfig(1), dialerFor(&fakePool{}), zap.NewNop(), nil)
	defer m.Close()

	_, err := m.PgxPool(context.Background())
	assert.Error(t, err)
}

func TestLinearBackOff(t *testing.T) {
	b := database.NewLinearBackOff(10 * time.Millisecond)
	assert.Equal(t, 10*time.Millisecond, b.NextBackOff())
	assert.Equal(t, 20*time.Millisecond, b.NextBackOff())
	assert.Equal(t, 30*time.Millisecond, b.NextBackOff())
	b.Reset()
	assert.Equal(t, 10*time.Millisecond, b.NextBackOff())
}
