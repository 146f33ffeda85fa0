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

var _ interfaces.AdventureRepository = (*pgAdventureRepository)(nil)

const (
	activeAdventureConstraint = "ux_adventures_active_party"

	adventureColumns = `id, party_id, theme, plot_summary, win_condition, current_state, status, created_at, completed_at`

	createAdventureQuery = `
INSERT INTO adventures (party_id, theme, plot_summary, win_condition, current_state, status)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id, created_at`

	getAdventureByIDQuery          = `SELECT ` + adventureColumns + ` FROM adventures WHERE id = $1`
	getAdventureByIDForUpdateQuery = getAdventureByIDQuery + ` FOR UPDATE`

	getActiveAdventureByPartyQuery = `
SELECT ` + adventureColumns + `
FROM adventures
WHERE party_id = $1 AND status = 'active'`

	getLatestAdventureByPartyQuery = `
SELECT ` + adventureColumns + `
FROM adventures
WHERE party_id = $1
ORDER BY created_at DESC, id DESC
LIMIT 1`

	updateAdventureStateQuery = `UPDATE adventures SET current_state = $2 WHERE id = $1`

	finishAdventureQuery = `
UPDATE adventures SET status = $2, completed_at = $3
WHERE id = $1 AND status = 'active'`

	failActiveAdventuresQuery = `
UPDATE adventures SET status = 'failed', completed_at = $2
WHERE party_id = $1 AND status = 'active'`
)

type adventureRow struct {
	ID           int64      `db:"id"`
	PartyID      int64      `db:"party_id"`
	Theme        string     `db:"theme"`
	PlotSummary  string     `db:"plot_summary"`
	WinCondition string     `db:"win_condition"`
	CurrentState []byte     `db:"current_state"`
	Status       string     `db:"status"`
	CreatedAt    time.Time  `db:"created_at"`
	CompletedAt  *time.Time `db:"completed_at"`
}

type pgAdventureRepository struct {
	logger       *zap.Logger
	recentEvents int
}

// NewPgAdventureRepository returns a PostgreSQL AdventureRepository. recentEvents bounds
// the event ring of loaded states.
func NewPgAdventureRepository(logger *zap.Logger, recentEvents int) interfaces.AdventureRepository {
	if recentEvents <= 0 {
		recentEvents = models.DefaultRecentEvents
	}
	return &pgAdventureRepository{logger: logger.Named("PgAdventureRepo"), recentEvents: recentEvents}
}

func (r *pgAdventureRepository) toModel(row adventureRow) (*models.Adventure, error) {
	state, err := models.DecodeAdventureState(row.CurrentState, r.recentEvents)
	if err != nil {
		return nil, fmt.Errorf("adventure %d: %w", row.ID, err)
	}
	return &models.Adventure{
		ID:           row.ID,
		PartyID:      row.PartyID,
		Theme:        row.Theme,
		PlotSummary:  row.PlotSummary,
		WinCondition: row.WinCondition,
		CurrentState: state,
		Status:       models.AdventureStatus(row.Status),
		CreatedAt:    row.CreatedAt,
		CompletedAt:  row.CompletedAt,
	}, nil
}

func (r *pgAdventureRepository) Create(ctx context.Context, querier interfaces.DBTX, adventure *models.Adventure) error {
	adventure.CurrentState.PushEvent("", r.recentEvents)
	state, err := models.EncodeAdventureState(adventure.CurrentState)
	if err != nil {
		return fmt.Errorf("failed to encode adventure state: %w", err)
	}
	err = querier.QueryRow(ctx, createAdventureQuery,
		adventure.PartyID,
		adventure.Theme,
		adventure.PlotSummary,
		adventure.WinCondition,
		state,
		string(adventure.Status),
	).Scan(&adventure.ID, &adventure.CreatedAt)
	if err != nil {
		if isUniqueViolation(err, activeAdventureConstraint) {
			return fmt.Errorf("%w: party %d already has an active adventure", models.ErrState, adventure.PartyID)
		}
		r.logger.Error("Failed to create adventure", zap.Int64("party_id", adventure.PartyID), zap.Error(err))
		return fmt.Errorf("failed to create adventure: %w", err)
	}
	return nil
}

func (r *pgAdventureRepository) GetByID(ctx context.Context, querier interfaces.DBTX, id int64) (*models.Adventure, error) {
	return r.get(ctx, querier, getAdventureByIDQuery, id, fmt.Sprintf("adventure %d", id))
}

func (r *pgAdventureRepository) GetByIDForUpdate(ctx context.Context, querier interfaces.DBTX, id int64) (*models.Adventure, error) {
	return r.get(ctx, querier, getAdventureByIDForUpdateQuery, id, fmt.Sprintf("adventure %d", id))
}

func (r *pgAdventureRepository) GetActiveByParty(ctx context.Context, querier interfaces.DBTX, partyID int64) (*models.Adventure, error) {
	return r.get(ctx, querier, getActiveAdventureByPartyQuery, partyID, fmt.Sprintf("active adventure of party %d", partyID))
}

func (r *pgAdventureRepository) GetLatestByParty(ctx context.Context, querier interfaces.DBTX, partyID int64) (*models.Adventure, error) {
	return r.get(ctx, querier, getLatestAdventureByPartyQuery, partyID, fmt.Sprintf("adventure of party %d", partyID))
}

func (r *pgAdventureRepository) get(ctx context.Context, querier interfaces.DBTX, query string, arg int64, what string) (*models.Adventure, error) {
	var row adventureRow
	if err := pgxscan.Get(ctx, querier, &row, query, arg); err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("%w: %s", models.ErrNotFound, what)
		}
		r.logger.Error("Failed to get adventure", zap.String("what", what), zap.Error(err))
		return nil, fmt.Errorf("failed to get %s: %w", what, err)
	}
	return r.toModel(row)
}

func (r *pgAdventureRepository) UpdateState(ctx context.Context, querier interfaces.DBTX, id int64, state models.AdventureState) error {
	state.PushEvent("", r.recentEvents)
	raw, err := models.EncodeAdventureState(state)
	if err != nil {
		return fmt.Errorf("failed to encode adventure state: %w", err)
	}
	tag, err := querier.Exec(ctx, updateAdventureStateQuery, id, raw)
	if err != nil {
		r.logger.Error("Failed to update adventure state", zap.Int64("adventure_id", id), zap.Error(err))
		return fmt.Errorf("failed to update adventure %d state: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: adventure %d", models.ErrNotFound, id)
	}
	return nil
}

func (r *pgAdventureRepository) Finish(ctx context.Context, querier interfaces.DBTX, id int64, status models.AdventureStatus, at time.Time) error {
	tag, err := querier.Exec(ctx, finishAdventureQuery, id, string(status), at)
	if err != nil {
		r.logger.Error("Failed to finish adventure", zap.Int64("adventure_id", id), zap.Error(err))
		return fmt.Errorf("failed to finish adventure %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: adventure %d", models.ErrAdventureNotActive, id)
	}
	return nil
}

func (r *pgAdventureRepository) FailActiveByParty(ctx context.Context, querier interfaces.DBTX, partyID int64, at time.Time) (int64, error) {
	tag, err := querier.Exec(ctx, failActiveAdventuresQuery, partyID, at)
	if err != nil {
		r.logger.Error("Failed to fail active adventures", zap.Int64("party_id", partyID), zap.Error(err))
		return 0, fmt.Errorf("failed to fail adventures of party %d: %w", partyID, err)
	}
	return tag.RowsAffected(), nil
}
