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

var _ interfaces.MemberRepository = (*pgMemberRepository)(nil)

const (
	activeUserConstraint = "ux_party_members_active_user"

	memberColumns = `id, party_id, user_id, adventurer_name, backstory, role, joined_at, removed_at`

	addMemberQuery = `
INSERT INTO party_members (party_id, user_id, adventurer_name, backstory, role)
VALUES ($1, $2, $3, $4, $5)
RETURNING id, joined_at`

	listMembersQuery = `
SELECT ` + memberColumns + `
FROM party_members
WHERE party_id = $1 AND ($2 OR removed_at IS NULL)
ORDER BY joined_at, id`

	findActiveMemberByUserQuery = `
SELECT ` + memberColumns + `
FROM party_members
WHERE user_id = $1 AND removed_at IS NULL`

	countActiveMembersQuery = `SELECT COUNT(*) FROM party_members WHERE party_id = $1 AND removed_at IS NULL`

	removeMemberQuery = `
UPDATE party_members SET removed_at = $3
WHERE party_id = $1 AND user_id = $2 AND removed_at IS NULL`

	removeAllMembersQuery = `
UPDATE party_members SET removed_at = $2
WHERE party_id = $1 AND removed_at IS NULL`
)

type pgMemberRepository struct {
	logger *zap.Logger
}

// NewPgMemberRepository returns a PostgreSQL MemberRepository.
func NewPgMemberRepository(logger *zap.Logger) interfaces.MemberRepository {
	return &pgMemberRepository{logger: logger.Named("PgMemberRepo")}
}

func (r *pgMemberRepository) Add(ctx context.Context, querier interfaces.DBTX, member *models.PartyMember) error {
	logFields := []zap.Field{zap.Int64("party_id", member.PartyID), zap.String("user_id", member.UserID)}

	err := querier.QueryRow(ctx, addMemberQuery,
		member.PartyID,
		member.UserID,
		member.AdventurerName,
		member.Backstory,
		string(member.Role),
	).Scan(&member.ID, &member.JoinedAt)
	if err != nil {
		if isUniqueViolation(err, activeUserConstraint) {
			r.logger.Info("User already holds a seat", logFields...)
			return fmt.Errorf("%w: user %s", models.ErrAlreadyInParty, member.UserID)
		}
		r.logger.Error("Failed to add party member", append(logFields, zap.Error(err))...)
		return fmt.Errorf("failed to add member to party %d: %w", member.PartyID, err)
	}
	return nil
}

func (r *pgMemberRepository) ListByParty(ctx context.Context, querier interfaces.DBTX, partyID int64, includeRemoved bool) ([]models.PartyMember, error) {
	var members []models.PartyMember
	if err := pgxscan.Select(ctx, querier, &members, listMembersQuery, partyID, includeRemoved); err != nil {
		r.logger.Error("Failed to list party members", zap.Int64("party_id", partyID), zap.Error(err))
		return nil, fmt.Errorf("failed to list members of party %d: %w", partyID, err)
	}
	return members, nil
}

func (r *pgMemberRepository) FindActiveByUser(ctx context.Context, querier interfaces.DBTX, userID string) (*models.PartyMember, error) {
	var member models.PartyMember
	if err := pgxscan.Get(ctx, querier, &member, findActiveMemberByUserQuery, userID); err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("%w: no party for user %s", models.ErrNotFound, userID)
		}
		r.logger.Error("Failed to find member by user", zap.String("user_id", userID), zap.Error(err))
		return nil, fmt.Errorf("failed to find party of user %s: %w", userID, err)
	}
	return &member, nil
}

func (r *pgMemberRepository) CountActive(ctx context.Context, querier interfaces.DBTX, partyID int64) (int, error) {
	var n int
	if err := querier.QueryRow(ctx, countActiveMembersQuery, partyID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count members of party %d: %w", partyID, err)
	}
	return n, nil
}

func (r *pgMemberRepository) Remove(ctx context.Context, querier interfaces.DBTX, partyID int64, userID string, at time.Time) error {
	tag, err := querier.Exec(ctx, removeMemberQuery, partyID, userID, at)
	if err != nil {
		r.logger.Error("Failed to remove party member", zap.Int64("party_id", partyID), zap.String("user_id", userID), zap.Error(err))
		return fmt.Errorf("failed to remove member from party %d: %w", partyID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: user %s is not a member of party %d", models.ErrNotFound, userID, partyID)
	}
	return nil
}

func (r *pgMemberRepository) RemoveAll(ctx context.Context, querier interfaces.DBTX, partyID int64, at time.Time) (int64, error) {
	tag, err := querier.Exec(ctx, removeAllMembersQuery, partyID, at)
	if err != nil {
		r.logger.Error("Failed to release party seats", zap.Int64("party_id", partyID), zap.Error(err))
		return 0, fmt.Errorf("failed to release seats of party %d: %w", partyID, err)
	}
	return tag.RowsAffected(), nil
}
