package interfaces

import (
	"context"
	"time"

	"adventure-bot/internal/models"
)

// PartyRepository persists rows of the parties table.
type PartyRepository interface {
	// Create inserts the party and fills ID, CreatedAt, LastUpdated and Revision.
	Create(ctx context.Context, querier DBTX, party *models.Party) error
	// GetByID returns models.ErrNotFound if the party does not exist. Members are not loaded.
	GetByID(ctx context.Context, querier DBTX, id int64) (*models.Party, error)
	// GetByIDForUpdate is GetByID with a row lock held until the transaction ends.
	GetByIDForUpdate(ctx context.Context, querier DBTX, id int64) (*models.Party, error)
	// UpdateStatus sets status and isActive, bumps the revision and writes the new row
	// values back into party.
	UpdateStatus(ctx context.Context, querier DBTX, party *models.Party, status models.PartyStatus, isActive bool) error
	// Touch records a seat change: it bumps the revision and last_updated of party.
	Touch(ctx context.Context, querier DBTX, party *models.Party) error
}

// MemberRepository persists rows of the party_members table.
type MemberRepository interface {
	// Add inserts the member. Returns models.ErrAlreadyInParty if the user already
	// holds an active seat in any party.
	Add(ctx context.Context, querier DBTX, member *models.PartyMember) error
	// ListByParty returns members ordered by join time. Removed seats are included only
	// when includeRemoved is set.
	ListByParty(ctx context.Context, querier DBTX, partyID int64, includeRemoved bool) ([]models.PartyMember, error)
	// FindActiveByUser returns the user's unreleased seat or models.ErrNotFound.
	FindActiveByUser(ctx context.Context, querier DBTX, userID string) (*models.PartyMember, error)
	CountActive(ctx context.Context, querier DBTX, partyID int64) (int, error)
	// Remove soft-deletes one seat. Returns models.ErrNotFound if the user has no active seat in the party.
	Remove(ctx context.Context, querier DBTX, partyID int64, userID string, at time.Time) error
	// RemoveAll releases every active seat of the party.
	RemoveAll(ctx context.Context, querier DBTX, partyID int64, at time.Time) (int64, error)
}

// AdventureRepository persists rows of the adventures table.
type AdventureRepository interface {
	Create(ctx context.Context, querier DBTX, adventure *models.Adventure) error
	GetByID(ctx context.Context, querier DBTX, id int64) (*models.Adventure, error)
	GetByIDForUpdate(ctx context.Context, querier DBTX, id int64) (*models.Adventure, error)
	// GetActiveByParty returns the party's active adventure or models.ErrNotFound.
	GetActiveByParty(ctx context.Context, querier DBTX, partyID int64) (*models.Adventure, error)
	// GetLatestByParty returns the most recent adventure in any status or models.ErrNotFound.
	GetLatestByParty(ctx context.Context, querier DBTX, partyID int64) (*models.Adventure, error)
	UpdateState(ctx context.Context, querier DBTX, id int64, state models.AdventureState) error
	Finish(ctx context.Context, querier DBTX, id int64, status models.AdventureStatus, at time.Time) error
	// FailActiveByParty marks any active adventure of the party failed.
	FailActiveByParty(ctx context.Context, querier DBTX, partyID int64, at time.Time) (int64, error)
}

// AdventurerStateRepository persists rows of the adventurer_states table.
type AdventurerStateRepository interface {
	Create(ctx context.Context, querier DBTX, state *models.AdventurerState) error
	ListByAdventure(ctx context.Context, querier DBTX, adventureID int64) ([]models.AdventurerState, error)
	Update(ctx context.Context, querier DBTX, state *models.AdventurerState) error
	// ListTurnOrder joins members and states of the adventure, ordered by join time.
	ListTurnOrder(ctx context.Context, querier DBTX, adventureID int64) ([]models.TurnSlot, error)
}

// DecisionPointRepository persists rows of the decision_points table.
type DecisionPointRepository interface {
	// Insert adds an unresolved decision. Returns models.ErrState if one is already pending.
	Insert(ctx context.Context, querier DBTX, dp *models.DecisionPoint) error
	// GetPending returns the unresolved decision of the adventure, locked, or models.ErrNoPendingDecision.
	GetPending(ctx context.Context, querier DBTX, adventureID int64) (*models.DecisionPoint, error)
	// FindPending is GetPending without the row lock, for read paths.
	FindPending(ctx context.Context, querier DBTX, adventureID int64) (*models.DecisionPoint, error)
	// Resolve records the choice. Returns models.ErrNoPendingDecision if the row was already resolved.
	Resolve(ctx context.Context, querier DBTX, id int64, choice string, consequence models.Consequence, at time.Time) error
	// ListRecent returns up to limit resolved decisions, newest first.
	ListRecent(ctx context.Context, querier DBTX, adventureID int64, limit int) ([]models.DecisionPoint, error)
}

// Repositories groups the five entity accessors.
type Repositories struct {
	Parties    PartyRepository
	Members    MemberRepository
	Adventures AdventureRepository
	States     AdventurerStateRepository
	Decisions  DecisionPointRepository
}
