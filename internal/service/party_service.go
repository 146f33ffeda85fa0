package service

import (
	"context"
	"fmt"
	"strings"

	"adventure-bot/internal/database"
	"adventure-bot/internal/interfaces"
	"adventure-bot/internal/models"

	"go.uber.org/zap"
)

// PartyService manages party membership and the recruiting side of the party lifecycle.
type PartyService interface {
	// CreateParty creates a RECRUITING party led by leaderID. A nil settings uses the
	// configured defaults.
	CreateParty(ctx context.Context, leaderID, adventurerName, backstory string, settings *models.PartySettings) (*models.Party, error)
	AddMember(ctx context.Context, partyID int64, userID, adventurerName, backstory string) (*models.Party, error)
	// RemoveMember lets a member leave, or the leader remove another member, while recruiting.
	RemoveMember(ctx context.Context, partyID int64, requesterID, userID string) (*models.Party, error)
	DisbandParty(ctx context.Context, partyID int64, requesterID string) (*models.Party, error)
	FindPartyByMember(ctx context.Context, userID string) (*models.Party, error)
	GetParty(ctx context.Context, partyID int64) (*models.Party, error)
}

type partyServiceImpl struct {
	Deps
	cfg    Config
	logger *zap.Logger
}

// NewPartyService creates a PartyService.
func NewPartyService(deps Deps, cfg Config) PartyService {
	deps.setDefaults()
	cfg.setDefaults()
	return &partyServiceImpl{
		Deps:   deps,
		cfg:    cfg,
		logger: deps.Logger.Named("PartyService"),
	}
}

func (s *partyServiceImpl) settingsFor(in *models.PartySettings) (models.PartySettings, error) {
	if in == nil {
		return models.PartySettings{
			MaxSize:           s.cfg.DefaultMaxSize,
			MinPartySize:      s.cfg.DefaultMinSize,
			AutoStartWhenFull: s.cfg.AutoStartWhenFull,
		}, nil
	}
	out := *in
	if out.MaxSize == 0 {
		out.MaxSize = s.cfg.DefaultMaxSize
	}
	if out.MinPartySize == 0 {
		out.MinPartySize = min(s.cfg.DefaultMinSize, out.MaxSize)
	}
	out.Theme = strings.TrimSpace(out.Theme)
	if err := out.Validate(); err != nil {
		return models.PartySettings{}, err
	}
	return out, nil
}

func (s *partyServiceImpl) CreateParty(ctx context.Context, leaderID, adventurerName, backstory string, settings *models.PartySettings) (*models.Party, error) {
	logFields := []zap.Field{zap.String("leader_id", leaderID)}

	if strings.TrimSpace(leaderID) == "" {
		return nil, fmt.Errorf("%w: leader id must not be empty", models.ErrValidation)
	}
	name, err := models.NormalizeAdventurerName(adventurerName)
	if err != nil {
		return nil, err
	}
	partySettings, err := s.settingsFor(settings)
	if err != nil {
		return nil, err
	}

	party, err := database.InTx(ctx, s.Tx, "create_party", func(ctx context.Context, tx interfaces.DBTX) (*models.Party, error) {
		// 1. One active seat per user.
		if _, err := s.Repos.Members.FindActiveByUser(ctx, tx, leaderID); err == nil {
			return nil, fmt.Errorf("%w: user %s", models.ErrAlreadyInParty, leaderID)
		} else if !isNotFound(err) {
			return nil, err
		}

		// 2. Party row, then the leader's seat. The unique seat index backs up step 1.
		party := &models.Party{
			LeaderID: leaderID,
			Status:   models.PartyStatusRecruiting,
			IsActive: true,
			Settings: partySettings,
		}
		if err := s.Repos.Parties.Create(ctx, tx, party); err != nil {
			return nil, err
		}
		leader := models.PartyMember{
			PartyID:        party.ID,
			UserID:         leaderID,
			AdventurerName: name,
			Backstory:      models.NormalizeBackstory(backstory),
			Role:           models.RoleLeader,
		}
		if err := s.Repos.Members.Add(ctx, tx, &leader); err != nil {
			return nil, err
		}
		party.Members = []models.PartyMember{leader}
		return party, nil
	})
	if err != nil {
		s.logger.Info("Party creation rejected", append(logFields, zap.Error(err))...)
		return nil, err
	}

	s.Cache.Set(ctx, party)
	s.logger.Info("Party created", append(logFields, zap.Int64("party_id", party.ID))...)
	publish(ctx, s.Events, s.logger, models.Event{
		Type:       models.EventPartyCreated,
		PartyID:    party.ID,
		UserID:     leaderID,
		OccurredAt: s.Now(),
	})
	return party, nil
}

func (s *partyServiceImpl) AddMember(ctx context.Context, partyID int64, userID, adventurerName, backstory string) (*models.Party, error) {
	logFields := []zap.Field{zap.Int64("party_id", partyID), zap.String("user_id", userID)}

	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user id must not be empty", models.ErrValidation)
	}
	name, err := models.NormalizeAdventurerName(adventurerName)
	if err != nil {
		return nil, err
	}

	party, err := database.InTx(ctx, s.Tx, "add_member", func(ctx context.Context, tx interfaces.DBTX) (*models.Party, error) {
		// 1. The party row lock serializes concurrent joins, so the capacity check below
		//    sees every committed seat.
		party, err := s.Repos.Parties.GetByIDForUpdate(ctx, tx, partyID)
		if err != nil {
			return nil, err
		}
		if party.Status != models.PartyStatusRecruiting {
			return nil, models.ErrPartyNotRecruiting
		}

		// 2. Seat rules.
		if existing, err := s.Repos.Members.FindActiveByUser(ctx, tx, userID); err == nil {
			if existing.PartyID == partyID {
				return nil, fmt.Errorf("%w: user %s is already a member of party %d", models.ErrAlreadyInParty, userID, partyID)
			}
			return nil, fmt.Errorf("%w: user %s", models.ErrAlreadyInParty, userID)
		} else if !isNotFound(err) {
			return nil, err
		}
		count, err := s.Repos.Members.CountActive(ctx, tx, partyID)
		if err != nil {
			return nil, err
		}
		if count >= party.Settings.MaxSize {
			return nil, fmt.Errorf("%w: party %d has %d/%d members", models.ErrCapacity, partyID, count, party.Settings.MaxSize)
		}

		// 3. Seat.
		member := models.PartyMember{
			PartyID:        partyID,
			UserID:         userID,
			AdventurerName: name,
			Backstory:      models.NormalizeBackstory(backstory),
			Role:           models.RoleMember,
		}
		if err := s.Repos.Members.Add(ctx, tx, &member); err != nil {
			return nil, err
		}
		if err := s.Repos.Parties.Touch(ctx, tx, party); err != nil {
			return nil, err
		}
		if err := loadMembers(ctx, tx, s.Repos.Members, party); err != nil {
			return nil, err
		}
		return party, nil
	})
	if err != nil {
		s.logger.Info("Join rejected", append(logFields, zap.Error(err))...)
		return nil, err
	}

	s.Cache.Set(ctx, party)
	s.logger.Info("Member joined party", append(logFields, zap.Int("members", len(party.Members)))...)
	publish(ctx, s.Events, s.logger, models.Event{
		Type:       models.EventPartyMemberJoined,
		PartyID:    partyID,
		UserID:     userID,
		OccurredAt: s.Now(),
	})
	return party, nil
}

func (s *partyServiceImpl) RemoveMember(ctx context.Context, partyID int64, requesterID, userID string) (*models.Party, error) {
	logFields := []zap.Field{
		zap.Int64("party_id", partyID),
		zap.String("requester_id", requesterID),
		zap.String("user_id", userID),
	}

	party, err := database.InTx(ctx, s.Tx, "remove_member", func(ctx context.Context, tx interfaces.DBTX) (*models.Party, error) {
		party, err := s.Repos.Parties.GetByIDForUpdate(ctx, tx, partyID)
		if err != nil {
			return nil, err
		}
		if party.Status != models.PartyStatusRecruiting {
			return nil, fmt.Errorf("%w: members can only leave while the party is recruiting", models.ErrState)
		}
		if err := loadMembers(ctx, tx, s.Repos.Members, party); err != nil {
			return nil, err
		}

		if _, ok := party.Member(requesterID); !ok {
			return nil, fmt.Errorf("%w: user %s is not a member of party %d", models.ErrForbidden, requesterID, partyID)
		}
		if _, ok := party.Member(userID); !ok {
			return nil, fmt.Errorf("%w: user %s is not a member of party %d", models.ErrNotFound, userID, partyID)
		}
		if requesterID != userID && requesterID != party.LeaderID {
			return nil, fmt.Errorf("%w: only the leader can remove other members", models.ErrForbidden)
		}
		if userID == party.LeaderID {
			return nil, fmt.Errorf("%w: the leader cannot leave, disband the party instead", models.ErrForbidden)
		}

		if err := s.Repos.Members.Remove(ctx, tx, partyID, userID, s.Now()); err != nil {
			return nil, err
		}
		if err := s.Repos.Parties.Touch(ctx, tx, party); err != nil {
			return nil, err
		}
		if err := loadMembers(ctx, tx, s.Repos.Members, party); err != nil {
			return nil, err
		}
		return party, nil
	})
	if err != nil {
		s.logger.Info("Member removal rejected", append(logFields, zap.Error(err))...)
		return nil, err
	}

	s.Cache.Set(ctx, party)
	s.Cache.EvictMember(ctx, userID)
	s.logger.Info("Member left party", logFields...)
	publish(ctx, s.Events, s.logger, models.Event{
		Type:       models.EventPartyMemberLeft,
		PartyID:    partyID,
		UserID:     userID,
		OccurredAt: s.Now(),
	})
	return party, nil
}

func (s *partyServiceImpl) DisbandParty(ctx context.Context, partyID int64, requesterID string) (*models.Party, error) {
	logFields := []zap.Field{zap.Int64("party_id", partyID), zap.String("requester_id", requesterID)}

	var seated []models.PartyMember
	party, err := database.InTx(ctx, s.Tx, "disband_party", func(ctx context.Context, tx interfaces.DBTX) (*models.Party, error) {
		party, err := s.Repos.Parties.GetByIDForUpdate(ctx, tx, partyID)
		if err != nil {
			return nil, err
		}
		if party.LeaderID != requesterID {
			return nil, fmt.Errorf("%w: only the leader can disband the party", models.ErrForbidden)
		}
		if !party.Status.CanTransition(models.PartyStatusDisbanded) {
			return nil, fmt.Errorf("%w: party %d is already %s", models.ErrState, partyID, party.Status)
		}

		seated, err = s.Repos.Members.ListByParty(ctx, tx, partyID, false)
		if err != nil {
			return nil, err
		}

		// Seats, the running adventure and the party flip together.
		now := s.Now()
		if _, err := s.Repos.Members.RemoveAll(ctx, tx, partyID, now); err != nil {
			return nil, err
		}
		failed, err := s.Repos.Adventures.FailActiveByParty(ctx, tx, partyID, now)
		if err != nil {
			return nil, err
		}
		if failed > 0 {
			s.logger.Info("Active adventure failed by disband", logFields...)
		}
		if err := s.Repos.Parties.UpdateStatus(ctx, tx, party, models.PartyStatusDisbanded, false); err != nil {
			return nil, err
		}
		if err := loadMembers(ctx, tx, s.Repos.Members, party); err != nil {
			return nil, err
		}
		return party, nil
	})
	if err != nil {
		s.logger.Info("Disband rejected", append(logFields, zap.Error(err))...)
		return nil, err
	}

	s.Cache.Evict(ctx, partyID)
	for _, m := range seated {
		s.Cache.EvictMember(ctx, m.UserID)
	}
	s.logger.Info("Party disbanded", append(logFields, zap.Int("released_seats", len(seated)))...)
	publish(ctx, s.Events, s.logger, models.Event{
		Type:       models.EventPartyDisbanded,
		PartyID:    partyID,
		UserID:     requesterID,
		OccurredAt: s.Now(),
	})
	return party, nil
}

func (s *partyServiceImpl) FindPartyByMember(ctx context.Context, userID string) (*models.Party, error) {
	if party, ok := s.Cache.GetByMember(ctx, userID); ok {
		return party, nil
	}

	party, err := database.InTx(ctx, s.Tx, "find_party_by_member", func(ctx context.Context, tx interfaces.DBTX) (*models.Party, error) {
		member, err := s.Repos.Members.FindActiveByUser(ctx, tx, userID)
		if err != nil {
			return nil, err
		}
		party, err := s.Repos.Parties.GetByID(ctx, tx, member.PartyID)
		if err != nil {
			return nil, err
		}
		if err := loadMembers(ctx, tx, s.Repos.Members, party); err != nil {
			return nil, err
		}
		return party, nil
	})
	if err != nil {
		return nil, err
	}
	s.cacheParty(ctx, party)
	return party, nil
}

func (s *partyServiceImpl) GetParty(ctx context.Context, partyID int64) (*models.Party, error) {
	if party, ok := s.Cache.GetByID(ctx, partyID); ok {
		return party, nil
	}

	party, err := database.InTx(ctx, s.Tx, "get_party", func(ctx context.Context, tx interfaces.DBTX) (*models.Party, error) {
		party, err := s.Repos.Parties.GetByID(ctx, tx, partyID)
		if err != nil {
			return nil, err
		}
		if err := loadMembers(ctx, tx, s.Repos.Members, party); err != nil {
			return nil, err
		}
		return party, nil
	})
	if err != nil {
		return nil, err
	}
	s.cacheParty(ctx, party)
	return party, nil
}

// cacheParty caches parties that still hold seats.
func (s *partyServiceImpl) cacheParty(ctx context.Context, party *models.Party) {
	if party.Status.IsTerminal() {
		return
	}
	s.Cache.Set(ctx, party)
}
