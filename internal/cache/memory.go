package cache

import (
	"context"
	"sync"
	"time"

	"adventure-bot/internal/interfaces"
	"adventure-bot/internal/metrics"
	"adventure-bot/internal/models"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
)

const (
	DefaultSize = 1024
	DefaultTTL  = 30 * time.Minute
)

var _ interfaces.PartyCache = (*Memory)(nil)

// Memory is an in-process PartyCache with a bounded size and an inactivity TTL:
// every hit re-adds the entry, so parties idle for longer than ttl are dropped.
//
// Set keeps the highest party revision and refuses parties evicted within the last ttl,
// so a write that lost the race to a disband cannot bring the party back.
type Memory struct {
	mu         sync.Mutex
	parties    *expirable.LRU[int64, *models.Party]
	members    *expirable.LRU[string, int64]
	tombstones *expirable.LRU[int64, struct{}]
	logger     *zap.Logger
	metrics    *metrics.Collectors
}

// NewMemory returns a cache holding up to size parties for ttl of inactivity.
func NewMemory(size int, ttl time.Duration, logger *zap.Logger, m *metrics.Collectors) *Memory {
	if size <= 0 {
		size = DefaultSize
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if m == nil {
		m = metrics.New(nil)
	}
	c := &Memory{
		members:    expirable.NewLRU[string, int64](size*8, nil, ttl),
		tombstones: expirable.NewLRU[int64, struct{}](size*8, nil, ttl),
		logger:     logger.Named("PartyCache"),
		metrics:    m,
	}
	c.parties = expirable.NewLRU[int64, *models.Party](size, c.onEvict, ttl)
	return c
}

// Member keys of an evicted party point nowhere; drop them with it.
func (c *Memory) onEvict(_ int64, party *models.Party) {
	for _, m := range party.Members {
		if id, ok := c.members.Peek(m.UserID); ok && id == party.ID {
			c.members.Remove(m.UserID)
		}
	}
}

func (c *Memory) GetByID(_ context.Context, partyID int64) (*models.Party, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.get(partyID)
}

func (c *Memory) get(partyID int64) (*models.Party, bool) {
	party, ok := c.parties.Get(partyID)
	if !ok {
		c.metrics.CacheLookups.WithLabelValues("miss").Inc()
		return nil, false
	}
	c.parties.Add(partyID, party)
	c.metrics.CacheLookups.WithLabelValues("hit").Inc()
	return party.Clone(), true
}

func (c *Memory) GetByMember(_ context.Context, userID string) (*models.Party, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	partyID, ok := c.members.Get(userID)
	if !ok {
		c.metrics.CacheLookups.WithLabelValues("miss").Inc()
		return nil, false
	}
	party, ok := c.get(partyID)
	if !ok {
		c.members.Remove(userID)
		return nil, false
	}
	if _, seated := party.Member(userID); !seated {
		c.members.Remove(userID)
		return nil, false
	}
	c.members.Add(userID, partyID)
	return party, true
}

func (c *Memory) Set(_ context.Context, party *models.Party) {
	if party == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tombstones.Contains(party.ID) {
		c.logger.Debug("Skipping evicted party", zap.Int64("party_id", party.ID), zap.Int64("revision", party.Revision))
		return
	}
	stored := party.Clone()
	if prev, ok := c.parties.Peek(party.ID); ok {
		if prev.Revision > stored.Revision {
			c.logger.Debug("Skipping stale party",
				zap.Int64("party_id", party.ID),
				zap.Int64("revision", party.Revision),
				zap.Int64("cached_revision", prev.Revision),
			)
			return
		}
		for _, m := range prev.Members {
			if _, still := stored.Member(m.UserID); !still {
				c.members.Remove(m.UserID)
			}
		}
	}
	c.parties.Add(stored.ID, stored)
	for _, m := range stored.Members {
		c.members.Add(m.UserID, stored.ID)
	}
	c.logger.Debug("Party cached", zap.Int64("party_id", party.ID), zap.Int("members", len(party.Members)))
}

func (c *Memory) Evict(_ context.Context, partyID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.tombstones.Add(partyID, struct{}{})
	// Remove triggers onEvict, which drops the member keys.
	if c.parties.Remove(partyID) {
		c.logger.Debug("Party evicted", zap.Int64("party_id", partyID))
	}
}

func (c *Memory) EvictMember(_ context.Context, userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.members.Remove(userID)
}

// Len returns the number of cached parties.
func (c *Memory) Len() int {
	return c.parties.Len()
}
