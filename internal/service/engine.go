package service

import (
	"context"
	"errors"

	"adventure-bot/internal/models"

	"go.uber.org/zap"
)

// Engine is the command-layer entry point. Every operation is addressed by party id and
// platform user id.
type Engine struct {
	parties    PartyService
	adventures AdventureService
	logger     *zap.Logger
}

// NewEngine wires the facade.
func NewEngine(parties PartyService, adventures AdventureService, logger *zap.Logger) *Engine {
	return &Engine{
		parties:    parties,
		adventures: adventures,
		logger:     logger.Named("Engine"),
	}
}

func (e *Engine) CreateParty(ctx context.Context, leaderID, adventurerName, backstory string, settings *models.PartySettings) (*models.Party, error) {
	return e.parties.CreateParty(ctx, leaderID, adventurerName, backstory, settings)
}

// JoinParty seats the user. If that fills a party whose settings ask for it, the
// adventure is started on the leader's behalf; a failed auto-start leaves the join in
// place and the party recruiting.
func (e *Engine) JoinParty(ctx context.Context, partyID int64, userID, adventurerName, backstory string) (*models.JoinResult, error) {
	party, err := e.parties.AddMember(ctx, partyID, userID, adventurerName, backstory)
	if err != nil {
		return nil, err
	}
	result := &models.JoinResult{Party: party}
	if !party.Settings.AutoStartWhenFull || !party.IsFull() {
		return result, nil
	}

	view, err := e.adventures.StartAdventure(ctx, partyID, party.LeaderID, AdventureSeed{})
	if err != nil {
		e.logger.Warn("Auto-start failed", zap.Int64("party_id", partyID), zap.Error(err))
		return result, nil
	}
	result.Party = view.Party
	result.Adventure = view.Adventure
	return result, nil
}

// LeaveParty removes userID from the party; requesterID is the user asking.
func (e *Engine) LeaveParty(ctx context.Context, partyID int64, requesterID, userID string) (*models.Party, error) {
	return e.parties.RemoveMember(ctx, partyID, requesterID, userID)
}

func (e *Engine) DisbandParty(ctx context.Context, partyID int64, requesterID string) (*models.Party, error) {
	return e.parties.DisbandParty(ctx, partyID, requesterID)
}

func (e *Engine) GetPartyStatus(ctx context.Context, partyID int64, userID string) (*models.PartyStatusView, error) {
	return e.adventures.GetStatus(ctx, partyID, userID)
}

func (e *Engine) FindPartyByMember(ctx context.Context, userID string) (*models.Party, error) {
	return e.parties.FindPartyByMember(ctx, userID)
}

func (e *Engine) StartAdventure(ctx context.Context, partyID int64, requesterID string, seed AdventureSeed) (*models.PartyStatusView, error) {
	return e.adventures.StartAdventure(ctx, partyID, requesterID, seed)
}

func (e *Engine) ResolveDecision(ctx context.Context, partyID int64, userID string, choiceIndex int) (*models.TurnOutcome, error) {
	outcome, err := e.adventures.ResolveForUser(ctx, partyID, userID, choiceIndex)
	if err != nil && errors.Is(err, models.ErrOperationTimeout) {
		e.logger.Warn("Turn resolution timed out, the turn is still pending",
			zap.Int64("party_id", partyID),
			zap.String("user_id", userID),
		)
	}
	return outcome, err
}
