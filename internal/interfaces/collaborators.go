package interfaces

import (
	"context"

	"adventure-bot/internal/models"
)

// PartyCache is a best-effort read accelerator keyed by party id and member user id.
// It is never the source of truth.
type PartyCache interface {
	GetByID(ctx context.Context, partyID int64) (*models.Party, bool)
	GetByMember(ctx context.Context, userID string) (*models.Party, bool)
	// Set stores the party under its id and every member's user id. A party whose
	// Revision is lower than the cached one, or that was evicted, is not stored.
	Set(ctx context.Context, party *models.Party)
	// Evict drops the party and all of its member keys. Later Sets of the party are ignored.
	Evict(ctx context.Context, partyID int64)
	// EvictMember drops a single member key.
	EvictMember(ctx context.Context, userID string)
}

// EventPublisher delivers domain events to the command layer.
type EventPublisher interface {
	Publish(ctx context.Context, event models.Event) error
}

// ContentGenerator produces the narrative consequence and next choices of a turn.
//
//go:generate mockery --name ContentGenerator --output ./mocks --outpkg mocks --case=underscore
type ContentGenerator interface {
	GenerateTurn(ctx context.Context, turn models.TurnContext) (*models.TurnResult, error)
}
