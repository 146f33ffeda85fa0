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

var _ interfaces.DecisionPointRepository = (*pgDecisionPointRepository)(nil)

const (
	pendingDecisionConstraint = "ux_decision_points_pending"

	decisionColumns = `id, adventure_id, party_member_id, situation, choices, choice_made, consequence, created_at, resolved_at`

	insertDecisionQuery = `
INSERT INTO decision_points (adventure_id, party_member_id, situation, choices)
VALUES ($1, $2, $3, $4)
RETURNING id, created_at`

	findPendingDecisionQuery = `
SELECT ` + decisionColumns + `
FROM decision_points
WHERE adventure_id = $1 AND resolved_at IS NULL`

	getPendingDecisionQuery = findPendingDecisionQuery + `
FOR UPDATE`

	resolveDecisionQuery = `
UPDATE decision_points SET choice_made = $2, consequence = $3, resolved_at = $4
WHERE id = $1 AND resolved_at IS NULL`

	listRecentDecisionsQuery = `
SELECT ` + decisionColumns + `
FROM decision_points
WHERE adventure_id = $1 AND resolved_at IS NOT NULL
ORDER BY resolved_at DESC, id DESC
LIMIT $2`
)

type decisionRow struct {
	ID            int64      `db:"id"`
	AdventureID   int64      `db:"adventure_id"`
	PartyMemberID int64      `db:"party_member_id"`
	Situation     string     `db:"situation"`
	Choices       []string   `db:"choices"`
	ChoiceMade    *string    `db:"choice_made"`
	Consequence   []byte     `db:"consequence"`
	CreatedAt     time.Time  `db:"created_at"`
	ResolvedAt    *time.Time `db:"resolved_at"`
}

func (r decisionRow) toModel() (*models.DecisionPoint, error) {
	dp := &models.DecisionPoint{
		ID:            r.ID,
		AdventureID:   r.AdventureID,
		PartyMemberID: r.PartyMemberID,
		Situation:     r.Situation,
		Choices:       nonNil(r.Choices),
		ChoiceMade:    r.ChoiceMade,
		CreatedAt:     r.CreatedAt,
		ResolvedAt:    r.ResolvedAt,
	}
	if len(r.Consequence) > 0 {
		c, err := models.DecodeConsequence(r.Consequence)
		if err != nil {
			return nil, fmt.Errorf("decision point %d: %w", r.ID, err)
		}
		dp.Consequence = &c
	}
	return dp, nil
}

type pgDecisionPointRepository struct {
	logger *zap.Logger
}

// NewPgDecisionPointRepository returns a PostgreSQL DecisionPointRepository.
func NewPgDecisionPointRepository(logger *zap.Logger) interfaces.DecisionPointRepository {
	return &pgDecisionPointRepository{logger: logger.Named("PgDecisionPointRepo")}
}

func (r *pgDecisionPointRepository) Insert(ctx context.Context, querier interfaces.DBTX, dp *models.DecisionPoint) error {
	if len(dp.Choices) == 0 {
		return fmt.Errorf("%w: decision point needs at least one choice", models.ErrValidation)
	}
	err := querier.QueryRow(ctx, insertDecisionQuery, dp.AdventureID, dp.PartyMemberID, dp.Situation, dp.Choices).
		Scan(&dp.ID, &dp.CreatedAt)
	if err != nil {
		if isUniqueViolation(err, pendingDecisionConstraint) {
			return fmt.Errorf("%w: adventure %d already has a pending decision", models.ErrState, dp.AdventureID)
		}
		r.logger.Error("Failed to insert decision point", zap.Int64("adventure_id", dp.AdventureID), zap.Error(err))
		return fmt.Errorf("failed to insert decision point: %w", err)
	}
	r.logger.Debug("Decision point inserted",
		zap.Int64("adventure_id", dp.AdventureID),
		zap.Int64("decision_id", dp.ID),
		zap.Int64("member_id", dp.PartyMemberID),
	)
	return nil
}

func (r *pgDecisionPointRepository) GetPending(ctx context.Context, querier interfaces.DBTX, adventureID int64) (*models.DecisionPoint, error) {
	return r.pending(ctx, querier, getPendingDecisionQuery, adventureID)
}

func (r *pgDecisionPointRepository) FindPending(ctx context.Context, querier interfaces.DBTX, adventureID int64) (*models.DecisionPoint, error) {
	return r.pending(ctx, querier, findPendingDecisionQuery, adventureID)
}

func (r *pgDecisionPointRepository) pending(ctx context.Context, querier interfaces.DBTX, query string, adventureID int64) (*models.DecisionPoint, error) {
	var row decisionRow
	if err := pgxscan.Get(ctx, querier, &row, query, adventureID); err != nil {
		if isNoRows(err) {
			return nil, models.ErrNoPendingDecision
		}
		r.logger.Error("Failed to get pending decision", zap.Int64("adventure_id", adventureID), zap.Error(err))
		return nil, fmt.Errorf("failed to get pending decision of adventure %d: %w", adventureID, err)
	}
	return row.toModel()
}

func (r *pgDecisionPointRepository) Resolve(ctx context.Context, querier interfaces.DBTX, id int64, choice string, consequence models.Consequence, at time.Time) error {
	raw, err := models.EncodeConsequence(consequence)
	if err != nil {
		return fmt.Errorf("failed to encode consequence: %w", err)
	}
	tag, err := querier.Exec(ctx, resolveDecisionQuery, id, choice, raw, at)
	if err != nil {
		r.logger.Error("Failed to resolve decision point", zap.Int64("decision_id", id), zap.Error(err))
		return fmt.Errorf("failed to resolve decision point %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNoPendingDecision
	}
	return nil
}

func (r *pgDecisionPointRepository) ListRecent(ctx context.Context, querier interfaces.DBTX, adventureID int64, limit int) ([]models.DecisionPoint, error) {
	if limit <= 0 {
		return []models.DecisionPoint{}, nil
	}
	var rows []decisionRow
	if err := pgxscan.Select(ctx, querier, &rows, listRecentDecisionsQuery, adventureID, limit); err != nil {
		r.logger.Error("Failed to list recent decisions", zap.Int64("adventure_id", adventureID), zap.Error(err))
		return nil, fmt.Errorf("failed to list decisions of adventure %d: %w", adventureID, err)
	}
	out := make([]models.DecisionPoint, 0, len(rows))
	for _, row := range rows {
		dp, err := row.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, *dp)
	}
	return out, nil
}
