package database

import (
	"context"
	"fmt"
	"time"

	"adventure-bot/internal/interfaces"
	"adventure-bot/internal/models"

	"github.com/georgysavva/scany/v2/pgxscan"
	"go.uber.org/zap"
)

var _ interfaces.AdventurerStateRepository = (*pgAdventurerStateRepository)(nil)

const (
	createAdventurerStateQuery = `
INSERT INTO adventurer_states (adventure_id, party_member_id, health, status, conditions, inventory)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING last_updated`

	listAdventurerStatesQuery = `
SELECT s.adventure_id, s.party_member_id, s.health, s.status, s.conditions, s.inventory, s.last_updated
FROM adventurer_states s
JOIN party_members m ON m.id = s.party_member_id
WHERE s.adventure_id = $1
ORDER BY m.joined_at, m.id`

	updateAdventurerStateQuery = `
UPDATE adventurer_states
SET health = $3, status = $4, conditions = $5, inventory = $6, last_updated = NOW()
WHERE adventure_id = $1 AND party_member_id = $2
RETURNING last_updated`

	// Turn order: join order over the adventure's roster.
	listTurnOrderQuery = `
SELECT m.id AS party_member_id, m.user_id, m.joined_at, s.status
FROM adventurer_states s
JOIN party_members m ON m.id = s.party_member_id
WHERE s.adventure_id = $1
ORDER BY m.joined_at, m.id`
)

type adventurerStateRow struct {
	AdventureID   int64     `db:"adventure_id"`
	PartyMemberID int64     `db:"party_member_id"`
	Health        int       `db:"health"`
	Status        string    `db:"status"`
	Conditions    []string  `db:"conditions"`
	Inventory     []string  `db:"inventory"`
	LastUpdated   time.Time `db:"last_updated"`
}

type pgAdventurerStateRepository struct {
	logger *zap.Logger
}

// NewPgAdventurerStateRepository returns a PostgreSQL AdventurerStateRepository.
func NewPgAdventurerStateRepository(logger *zap.Logger) interfaces.AdventurerStateRepository {
	return &pgAdventurerStateRepository{logger: logger.Named("PgAdventurerStateRepo")}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func (r *pgAdventurerStateRepository) Create(ctx context.Context, querier interfaces.DBTX, state *models.AdventurerState) error {
	state.Health = models.ClampHealth(state.Health)
	state.Conditions = nonNil(state.Conditions)
	state.Inventory = nonNil(state.Inventory)

	err := querier.QueryRow(ctx, createAdventurerStateQuery,
		state.AdventureID,
		state.PartyMemberID,
		state.Health,
		string(state.Status),
		state.Conditions,
		state.Inventory,
	).Scan(&state.LastUpdated)
	if err != nil {
		r.logger.Error("Failed to create adventurer state",
			zap.Int64("adventure_id", state.AdventureID),
			zap.Int64("member_id", state.PartyMemberID),
			zap.Error(err),
		)
		return fmt.Errorf("failed to create adventurer state: %w", err)
	}
	return nil
}

func (r *pgAdventurerStateRepository) ListByAdventure(ctx context.Context, querier interfaces.DBTX, adventureID int64) ([]models.AdventurerState, error) {
	var rows []adventurerStateRow
	if err := pgxscan.Select(ctx, querier, &rows, listAdventurerStatesQuery, adventureID); err != nil {
		r.logger.Error("Failed to list adventurer states", zap.Int64("adventure_id", adventureID), zap.Error(err))
		return nil, fmt.Errorf("failed to list states of adventure %d: %w", adventureID, err)
	}
	states := make([]models.AdventurerState, 0, len(rows))
	for _, row := range rows {
		status := models.AdventurerStatus(row.Status)
		if !status.Valid() {
			return nil, fmt.Errorf("adventurer state %d/%d: unknown status %q", row.AdventureID, row.PartyMemberID, row.Status)
		}
		states = append(states, models.AdventurerState{
			AdventureID:   row.AdventureID,
			PartyMemberID: row.PartyMemberID,
			Health:        models.ClampHealth(row.Health),
			Status:        status,
			Conditions:    nonNil(row.Conditions),
			Inventory:     nonNil(row.Inventory),
			LastUpdated:   row.LastUpdated,
		})
	}
	return states, nil
}

func (r *pgAdventurerStateRepository) Update(ctx context.Context, querier interfaces.DBTX, state *models.AdventurerState) error {
	state.Health = models.ClampHealth(state.Health)
	err := querier.QueryRow(ctx, updateAdventurerStateQuery,
		state.AdventureID,
		state.PartyMemberID,
		state.Health,
		string(state.Status),
		nonNil(state.Conditions),
		nonNil(state.Inventory),
	).Scan(&state.LastUpdated)
	if err != nil {
		if isNoRows(err) {
			return fmt.Errorf("%w: adventurer state %d/%d", models.ErrNotFound, state.AdventureID, state.PartyMemberID)
		}
		r.logger.Error("Failed to update adventurer state",
			zap.Int64("adventure_id", state.AdventureID),
			zap.Int64("member_id", state.PartyMemberID),
			zap.Error(err),
		)
		return fmt.Errorf("failed to update adventurer state: %w", err)
	}
	return nil
}

func (r *pgAdventurerStateRepository) ListTurnOrder(ctx context.Context, querier interfaces.DBTX, adventureID int64) ([]models.TurnSlot, error) {
	var slots []models.TurnSlot
	if err := pgxscan.Select(ctx, querier, &slots, listTurnOrderQuery, adventureID); err != nil {
		r.logger.Error("Failed to load turn order", zap.Int64("adventure_id", adventureID), zap.Error(err))
		return nil, fmt.Errorf("failed to load turn order of adventure %d: %w", adventureID, err)
	}
	return slots, nil
}
