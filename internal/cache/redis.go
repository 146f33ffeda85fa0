package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"adventure-bot/internal/interfaces"
	"adventure-bot/internal/metrics"
	"adventure-bot/internal/models"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var _ interfaces.PartyCache = (*Redis)(nil)

// Redis is a PartyCache shared between instances. Failures are logged and treated as misses.
// Like Memory it keeps the highest party revision and leaves a tombstone on Evict.
type Redis struct {
	client  *redis.Client
	ttl     time.Duration
	logger  *zap.Logger
	metrics *metrics.Collectors
}

// NewRedis returns a Redis-backed cache with an inactivity TTL.
func NewRedis(client *redis.Client, ttl time.Duration, logger *zap.Logger, m *metrics.Collectors) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if m == nil {
		m = metrics.New(nil)
	}
	return &Redis{
		client:  client,
		ttl:     ttl,
		logger:  logger.Named("RedisPartyCache"),
		metrics: m,
	}
}

func partyKey(partyID int64) string     { return fmt.Sprintf("party:%d", partyID) }
func memberKey(userID string) string    { return fmt.Sprintf("party_member:%s", userID) }
func tombstoneKey(partyID int64) string { return fmt.Sprintf("party_evicted:%d", partyID) }

// setPartyScript writes the party and its member keys unless the party was evicted
// or a higher revision is already cached.
//
// KEYS: party key, tombstone key, member keys...
// ARGV: encoded party, revision, ttl in milliseconds, party id.
var setPartyScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[2]) == 1 then
	return 0
end
local cur = redis.call('GET', KEYS[1])
if cur then
	local ok, cached = pcall(cjson.decode, cur)
	if ok and type(cached) == 'table' and tonumber(cached.revision) and tonumber(cached.revision) > tonumber(ARGV[2]) then
		return 0
	end
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
for i = 3, #KEYS do
	redis.call('SET', KEYS[i], ARGV[4], 'PX', ARGV[3])
end
return 1
`)

func (c *Redis) GetByID(ctx context.Context, partyID int64) (*models.Party, bool) {
	// GETEX refreshes the TTL on every hit.
	raw, err := c.client.GetEx(ctx, partyKey(partyID), c.ttl).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("Failed to read party from redis", zap.Int64("party_id", partyID), zap.Error(err))
		}
		c.metrics.CacheLookups.WithLabelValues("miss").Inc()
		return nil, false
	}
	var party models.Party
	if err := json.Unmarshal(raw, &party); err != nil {
		c.logger.Warn("Dropping undecodable cached party", zap.Int64("party_id", partyID), zap.Error(err))
		c.client.Del(ctx, partyKey(partyID))
		c.metrics.CacheLookups.WithLabelValues("miss").Inc()
		return nil, false
	}
	c.metrics.CacheLookups.WithLabelValues("hit").Inc()
	return &party, true
}

func (c *Redis) GetByMember(ctx context.Context, userID string) (*models.Party, bool) {
	idStr, err := c.client.GetEx(ctx, memberKey(userID), c.ttl).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("Failed to read member key from redis", zap.String("user_id", userID), zap.Error(err))
		}
		c.metrics.CacheLookups.WithLabelValues("miss").Inc()
		return nil, false
	}
	partyID, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		c.EvictMember(ctx, userID)
		return nil, false
	}
	party, ok := c.GetByID(ctx, partyID)
	if !ok {
		c.EvictMember(ctx, userID)
		return nil, false
	}
	if _, seated := party.Member(userID); !seated {
		c.EvictMember(ctx, userID)
		return nil, false
	}
	return party, true
}

func (c *Redis) Set(ctx context.Context, party *models.Party) {
	if party == nil {
		return
	}
	raw, err := json.Marshal(party)
	if err != nil {
		c.logger.Error("Failed to encode party for redis", zap.Int64("party_id", party.ID), zap.Error(err))
		return
	}
	keys := make([]string, 0, len(party.Members)+2)
	keys = append(keys, partyKey(party.ID), tombstoneKey(party.ID))
	for _, m := range party.Members {
		keys = append(keys, memberKey(m.UserID))
	}
	stored, err := setPartyScript.Run(ctx, c.client, keys, raw, party.Revision, c.ttl.Milliseconds(), party.ID).Int()
	if err != nil {
		c.logger.Warn("Failed to cache party in redis", zap.Int64("party_id", party.ID), zap.Error(err))
		return
	}
	if stored == 0 {
		c.logger.Debug("Skipping stale or evicted party", zap.Int64("party_id", party.ID), zap.Int64("revision", party.Revision))
	}
}

func (c *Redis) Evict(ctx context.Context, partyID int64) {
	keys := []string{partyKey(partyID)}
	if party, ok := c.peek(ctx, partyID); ok {
		for _, m := range party.Members {
			keys = append(keys, memberKey(m.UserID))
		}
	}
	pipe := c.client.TxPipeline()
	pipe.Set(ctx, tombstoneKey(partyID), 1, c.ttl)
	pipe.Del(ctx, keys...)
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Warn("Failed to evict party from redis", zap.Int64("party_id", partyID), zap.Error(err))
	}
}

func (c *Redis) EvictMember(ctx context.Context, userID string) {
	if err := c.client.Del(ctx, memberKey(userID)).Err(); err != nil {
		c.logger.Warn("Failed to evict member key from redis", zap.String("user_id", userID), zap.Error(err))
	}
}

// peek reads without touching the TTL or the lookup metrics.
func (c *Redis) peek(ctx context.Context, partyID int64) (*models.Party, bool) {
	raw, err := c.client.Get(ctx, partyKey(partyID)).Bytes()
	if err != nil {
		return nil, false
	}
	var party models.Party
	if err := json.Unmarshal(raw, &party); err != nil {
		return nil, false
	}
	return &party, true
}
