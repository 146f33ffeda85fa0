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

var _ interfaces.PartyRepository = (*pgPartyRepository)(nil)

const (
	partyColumns = `id, leader_id, status, is_active, settings, created_at, last_updated, revision`

	createPartyQuery = `
INSERT INTO parties (leader_id, status, is_active, settings)
VALUES ($1, $2, $3, $4)
RETURNING id, created_at, last_updated, revision`

	getPartyByIDQuery          = `SELECT ` + partyColumns + ` FROM parties WHERE id = $1`
	getPartyByIDForUpdateQuery = getPartyByIDQuery + ` FOR UPDATE`

	updatePartyStatusQuery = `
UPDATE parties SET status = $2, is_active = $3, revision = revision + 1, last_updated = NOW()
WHERE id = $1
RETURNING status, is_active, revision, last_updated`

	touchPartyQuery = `
UPDATE parties SET revision = revision + 1, last_updated = NOW()
WHERE id = $1
RETURNING revision, last_updated`
)

type partyRow struct {
	ID          int64     `db:"id"`
	LeaderID    string    `db:"leader_id"`
	Status      string    `db:"status"`
	IsActive    bool      `db:"is_active"`
	Settings    []byte    `db:"settings"`
	CreatedAt   time.Time `db:"created_at"`
	LastUpdated time.Time `db:"last_updated"`
	Revision    int64     `db:"revision"`
}

func (r partyRow) toModel() (*models.Party, error) {
	settings, err := models.DecodePartySettings(r.Settings)
	if err != nil {
		return nil, fmt.Errorf("party %d: %w", r.ID, err)
	}
	status := models.PartyStatus(r.Status)
	if !status.Valid() {
		return nil, fmt.Errorf("party %d: unknown status %q", r.ID, r.Status)
	}
	return &models.Party{
		ID:          r.ID,
		LeaderID:    r.LeaderID,
		Status:      status,
		IsActive:    r.IsActive,
		Settings:    settings,
		CreatedAt:   r.CreatedAt,
		LastUpdated: r.LastUpdated,
		Revision:    r.Revision,
	}, nil
}

type pgPartyRepository struct {
	logger *zap.Logger
}

// NewPgPartyRepository returns a PostgreSQL PartyRepository.
func NewPgPartyRepository(logger *zap.Logger) interfaces.PartyRepository {
	return &pgPartyRepository{logger: logger.Named("PgPartyRepo")}
}

func (r *pgPartyRepository) Create(ctx context.Context, querier interfaces.DBTX, party *models.Party) error {
	settings, err := models.EncodePartySettings(party.Settings)
	if err != nil {
		return fmt.Errorf("failed to encode party settings: %w", err)
	}
	err = querier.QueryRow(ctx, createPartyQuery, party.LeaderID, string(party.Status), party.IsActive, settings).
		Scan(&party.ID, &party.CreatedAt, &party.LastUpdated, &party.Revision)
	if err != nil {
		r.logger.Error("Failed to create party", zap.String("leader_id", party.LeaderID), zap.Error(err))
		return fmt.Errorf("failed to create party: %w", err)
	}
	r.logger.Debug("Party created", zap.Int64("party_id", party.ID), zap.String("leader_id", party.LeaderID))
	return nil
}

func (r *pgPartyRepository) GetByID(ctx context.Context, querier interfaces.DBTX, id int64) (*models.Party, error) {
	return r.get(ctx, querier, getPartyByIDQuery, id)
}

func (r *pgPartyRepository) GetByIDForUpdate(ctx context.Context, querier interfaces.DBTX, id int64) (*models.Party, error) {
	return r.get(ctx, querier, getPartyByIDForUpdateQuery, id)
}

func (r *pgPartyRepository) get(ctx context.Context, querier interfaces.DBTX, query string, id int64) (*models.Party, error) {
	var row partyRow
	if err := pgxscan.Get(ctx, querier, &row, query, id); err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("%w: party %d", models.ErrNotFound, id)
		}
		r.logger.Error("Failed to get party", zap.Int64("party_id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get party %d: %w", id, err)
	}
	return row.toModel()
}

func (r *pgPartyRepository) UpdateStatus(ctx context.Context, querier interfaces.DBTX, party *models.Party, status models.PartyStatus, isActive bool) error {
	var storedStatus string
	err := querier.QueryRow(ctx, updatePartyStatusQuery, party.ID, string(status), isActive).
		Scan(&storedStatus, &party.IsActive, &party.Revision, &party.LastUpdated)
	if err != nil {
		if isNoRows(err) {
			return fmt.Errorf("%w: party %d", models.ErrNotFound, party.ID)
		}
		r.logger.Error("Failed to update party status", zap.Int64("party_id", party.ID), zap.String("status", string(status)), zap.Error(err))
		return fmt.Errorf("failed to update party %d status: %w", party.ID, err)
	}
	party.Status = models.PartyStatus(storedStatus)
	return nil
}

func (r *pgPartyRepository) Touch(ctx context.Context, querier interfaces.DBTX, party *models.Party) error {
	err := querier.QueryRow(ctx, touchPartyQuery, party.ID).Scan(&party.Revision, &party.LastUpdated)
	if err != nil {
		if isNoRows(err) {
			return fmt.Errorf("%w: party %d", models.ErrNotFound, party.ID)
		}
		r.logger.Error("Failed to touch party", zap.Int64("party_id", party.ID), zap.Error(err))
		return fmt.Errorf("failed to touch party %d: %w", party.ID, err)
	}
	return nil
}
