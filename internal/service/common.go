package service

import (
	"context"
	"errors"
	"time"

	"adventure-bot/internal/interfaces"
	"adventure-bot/internal/models"

	"go.uber.org/zap"
)

// Config holds the party and adventure rules.
type Config struct {
	DefaultMaxSize    int
	DefaultMinSize    int
	AutoStartWhenFull bool
	DefaultTheme      string

	RecentEvents    int
	RecentDecisions int
	// GenerateTimeout bounds one content generator call; <= 0 waits indefinitely.
	GenerateTimeout time.Duration
}

func (c *Config) setDefaults() {
	if c.DefaultMaxSize <= 0 {
		c.DefaultMaxSize = 4
	}
	if c.DefaultMinSize <= 0 {
		c.DefaultMinSize = 1
	}
	if c.DefaultMinSize > c.DefaultMaxSize {
		c.DefaultMinSize = c.DefaultMaxSize
	}
	if c.DefaultTheme == "" {
		c.DefaultTheme = "classic fantasy"
	}
	if c.RecentEvents <= 0 {
		c.RecentEvents = models.DefaultRecentEvents
	}
	if c.RecentDecisions < 0 {
		c.RecentDecisions = 0
	}
}

// Deps are the collaborators shared by the services.
type Deps struct {
	Tx     interfaces.TxRunner
	Repos  interfaces.Repositories
	Cache  interfaces.PartyCache
	Events interfaces.EventPublisher
	Logger *zap.Logger
	// Now defaults to time.Now().UTC.
	Now func() time.Time
}

func (d *Deps) setDefaults() {
	if d.Now == nil {
		d.Now = func() time.Time { return time.Now().UTC() }
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Cache == nil {
		d.Cache = nopCache{}
	}
}

type nopCache struct{}

func (nopCache) GetByID(context.Context, int64) (*models.Party, bool)      { return nil, false }
func (nopCache) GetByMember(context.Context, string) (*models.Party, bool) { return nil, false }
func (nopCache) Set(context.Context, *models.Party)                        {}
func (nopCache) Evict(context.Context, int64)                              {}
func (nopCache) EvictMember(context.Context, string)                       {}

// publish sends an event after a commit. Failures are logged, never returned.
func publish(ctx context.Context, events interfaces.EventPublisher, logger *zap.Logger, event models.Event) {
	if events == nil {
		return
	}
	if err := events.Publish(ctx, event); err != nil {
		logger.Warn("Failed to publish event",
			zap.String("type", string(event.Type)),
			zap.Int64("party_id", event.PartyID),
			zap.Error(err),
		)
	}
}

// loadMembers fills party.Members. Terminal parties have released their seats, so their
// roster is read including removed members.
func loadMembers(ctx context.Context, tx interfaces.DBTX, members interfaces.MemberRepository, party *models.Party) error {
	list, err := members.ListByParty(ctx, tx, party.ID, party.Status.IsTerminal())
	if err != nil {
		return err
	}
	party.Members = list
	return nil
}

func isNotFound(err error) bool {
	return errors.Is(err, models.ErrNotFound)
}
