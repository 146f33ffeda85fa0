package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"adventure-bot/internal/interfaces"
	"adventure-bot/internal/models"
	"adventure-bot/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// gatedCache holds back the first Set of a party seating userID until release is closed.
type gatedCache struct {
	interfaces.PartyCache
	userID  string
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func newGatedCache(inner interfaces.PartyCache, userID string) *gatedCache {
	return &gatedCache{
		PartyCache: inner,
		userID:     userID,
		entered:    make(chan struct{}),
		release:    make(chan struct{}),
	}
}

func (c *gatedCache) Set(ctx context.Context, party *models.Party) {
	if _, seated := party.Member(c.userID); seated {
		held := false
		c.once.Do(func() { held = true })
		if held {
			close(c.entered)
			<-c.release
		}
	}
	c.PartyCache.Set(ctx, party)
}

func newGatedParties(t *testing.T, userID string) (*fixture, *gatedCache, service.PartyService) {
	t.Helper()
	f := newFixture(t, service.Config{})
	gated := newGatedCache(f.cache, userID)
	parties := service.NewPartyService(service.Deps{
		Tx:     f.store,
		Repos:  f.store.Repositories(),
		Cache:  gated,
		Events: f.events,
		Logger: zap.NewNop(),
		Now:    func() time.Time { return fixedNow },
	}, service.Config{})
	return f, gated, parties
}

func TestLateCacheWrites(t *testing.T) {
	ctx := context.Background()

	t.Run("Join snapshot cached after disband is dropped", func(t *testing.T) {
		f, gated, parties := newGatedParties(t, "bo")
		party, err := parties.CreateParty(ctx, "ada", "Ada", "", nil)
		require.NoError(t, err)

		joined := make(chan error, 1)
		go func() {
			_, err := parties.AddMember(ctx, party.ID, "bo", "Bo", "")
			joined <- err
		}()
		<-gated.entered

		disbanded, err := parties.DisbandParty(ctx, party.ID, "ada")
		require.NoError(t, err)
		assert.Equal(t, models.PartyStatusDisbanded, disbanded.Status)

		close(gated.release)
		require.NoError(t, <-joined)

		_, err = parties.FindPartyByMember(ctx, "bo")
		assert.ErrorIs(t, err, models.ErrNotFound)
		_, ok := f.cache.GetByID(ctx, party.ID)
		assert.False(t, ok)

		got, err := parties.GetParty(ctx, party.ID)
		require.NoError(t, err)
		assert.Equal(t, models.PartyStatusDisbanded, got.Status)
		for _, m := range got.Members {
			assert.NotNil(t, m.RemovedAt, m.UserID)
		}
	})

	t.Run("Join snapshot cached after a leave is dropped", func(t *testing.T) {
		f, gated, parties := newGatedParties(t, "bo")
		party, err := parties.CreateParty(ctx, "ada", "Ada", "", nil)
		require.NoError(t, err)

		joined := make(chan error, 1)
		go func() {
			_, err := parties.AddMember(ctx, party.ID, "bo", "Bo", "")
			joined <- err
		}()
		<-gated.entered

		left, err := parties.RemoveMember(ctx, party.ID, "bo", "bo")
		require.NoError(t, err)
		assert.Len(t, left.Members, 1)

		close(gated.release)
		require.NoError(t, <-joined)

		_, err = parties.FindPartyByMember(ctx, "bo")
		assert.ErrorIs(t, err, models.ErrNotFound)
		cached, ok := f.cache.GetByID(ctx, party.ID)
		require.True(t, ok)
		assert.Equal(t, left.Revision, cached.Revision)
		assert.Len(t, cached.Members, 1)
	})
}

func TestPartyRevision(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, service.Config{})

	party, err := f.parties.CreateParty(ctx, "ada", "Ada", "", nil)
	require.NoError(t, err)
	created := party.Revision

	joined, err := f.parties.AddMember(ctx, party.ID, "bo", "Bo", "")
	require.NoError(t, err)
	assert.Greater(t, joined.Revision, created)

	left, err := f.parties.RemoveMember(ctx, party.ID, "bo", "bo")
	require.NoError(t, err)
	assert.Greater(t, left.Revision, joined.Revision)

	disbanded, err := f.parties.DisbandParty(ctx, party.ID, "ada")
	require.NoError(t, err)
	assert.Greater(t, disbanded.Revision, left.Revision)
}
