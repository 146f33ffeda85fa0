package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"adventure-bot/internal/database"
	"adventure-bot/internal/interfaces"
	"adventure-bot/internal/metrics"
	"adventure-bot/internal/models"

	"go.uber.org/zap"
)

// AdventureSeed sets up a new adventure. Empty fields fall back to the party's theme or
// the configured default theme.
type AdventureSeed struct {
	Theme        string `json:"theme"`
	PlotSummary  string `json:"plotSummary"`
	WinCondition string `json:"winCondition"`
}

// AdventureService runs adventures: the opening turn, decision resolution and status reads.
type AdventureService interface {
	StartAdventure(ctx context.Context, partyID int64, requesterID string, seed AdventureSeed) (*models.PartyStatusView, error)
	// ResolveDecision resolves the pending decision of an adventure on behalf of actingMemberID.
	ResolveDecision(ctx context.Context, adventureID, actingMemberID int64, choiceIndex int) (*models.TurnOutcome, error)
	// ResolveForUser is ResolveDecision addressed by party id and user id.
	ResolveForUser(ctx context.Context, partyID int64, userID string, choiceIndex int) (*models.TurnOutcome, error)
	GetStatus(ctx context.Context, partyID int64, userID string) (*models.PartyStatusView, error)
}

type adventureServiceImpl struct {
	Deps
	cfg       Config
	generator interfaces.ContentGenerator
	timer     *database.OperationTimer
	metrics   *metrics.Collectors
	logger    *zap.Logger
}

// NewAdventureService creates an AdventureService. Generator calls are raced against
// cfg.GenerateTimeout on timer.
func NewAdventureService(deps Deps, cfg Config, generator interfaces.ContentGenerator, timer *database.OperationTimer, m *metrics.Collectors) AdventureService {
	deps.setDefaults()
	cfg.setDefaults()
	if m == nil {
		m = metrics.New(nil)
	}
	if timer == nil {
		timer = database.NewOperationTimer(deps.Logger, m, 0)
	}
	return &adventureServiceImpl{
		Deps:      deps,
		cfg:       cfg,
		generator: generator,
		timer:     timer,
		metrics:   m,
		logger:    deps.Logger.Named("AdventureService"),
	}
}

func (s *adventureServiceImpl) StartAdventure(ctx context.Context, partyID int64, requesterID string, seed AdventureSeed) (*models.PartyStatusView, error) {
	logFields := []zap.Field{zap.Int64("party_id", partyID), zap.String("requester_id", requesterID)}

	view, err := database.InTx(ctx, s.Tx, "start_adventure", func(ctx context.Context, tx interfaces.DBTX) (*models.PartyStatusView, error) {
		// 1. Party checks.
		party, err := s.Repos.Parties.GetByIDForUpdate(ctx, tx, partyID)
		if err != nil {
			return nil, err
		}
		if party.LeaderID != requesterID {
			return nil, fmt.Errorf("%w: only the leader can start the adventure", models.ErrForbidden)
		}
		switch party.Status {
		case models.PartyStatusRecruiting:
		case models.PartyStatusActive:
			return nil, fmt.Errorf("%w: party %d already has an adventure in progress", models.ErrState, partyID)
		default:
			return nil, models.ErrPartyNotRecruiting
		}
		if err := loadMembers(ctx, tx, s.Repos.Members, party); err != nil {
			return nil, err
		}
		if len(party.Members) < party.Settings.MinPartySize {
			return nil, fmt.Errorf("%w: party needs at least %d members to start, has %d",
				models.ErrState, party.Settings.MinPartySize, len(party.Members))
		}

		// 2. Opening turn.
		adventure := &models.Adventure{
			PartyID:      partyID,
			Theme:        s.themeFor(party, seed),
			PlotSummary:  strings.TrimSpace(seed.PlotSummary),
			WinCondition: strings.TrimSpace(seed.WinCondition),
			Status:       models.AdventureStatusActive,
		}
		states := make([]models.AdventurerState, len(party.Members))
		for i, m := range party.Members {
			states[i] = models.NewAdventurerState(0, m.ID)
		}
		roster := memberStatuses(party.Members, states)
		turn := models.TurnContext{
			Opening:      true,
			Theme:        adventure.Theme,
			PlotSummary:  adventure.PlotSummary,
			WinCondition: adventure.WinCondition,
			Party:        roster,
			Actor:        &roster[0],
		}
		result, err := s.generate(ctx, "generate_opening", turn, memberIDs(party.Members))
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(result.Location) == "" {
			return nil, fmt.Errorf("%w: location is required for the opening turn", models.ErrMalformedContent)
		}
		adventure.CurrentState = models.AdventureState{
			Location:       result.Location,
			Environment:    result.Environment,
			ActiveElements: result.ActiveElements,
		}

		// 3. Rows.
		if err := s.Repos.Adventures.Create(ctx, tx, adventure); err != nil {
			return nil, err
		}
		applyDeltas(states, result.StateDeltas)
		for i := range states {
			states[i].AdventureID = adventure.ID
			if err := s.Repos.States.Create(ctx, tx, &states[i]); err != nil {
				return nil, err
			}
		}
		first, ok := FirstActor(turnSlots(party.Members, states))
		if !ok {
			return nil, fmt.Errorf("%w: opening turn leaves nobody able to act", models.ErrMalformedContent)
		}
		decision := &models.DecisionPoint{
			AdventureID:   adventure.ID,
			PartyMemberID: first.PartyMemberID,
			Situation:     result.NextSituation,
			Choices:       result.NextChoices,
		}
		if err := s.Repos.Decisions.Insert(ctx, tx, decision); err != nil {
			return nil, err
		}
		if err := s.Repos.Parties.UpdateStatus(ctx, tx, party, models.PartyStatusActive, true); err != nil {
			return nil, err
		}

		return &models.PartyStatusView{
			Party:           party,
			Adventure:       adventure,
			States:          states,
			PendingDecision: decision,
			YourTurn:        first.UserID == requesterID,
		}, nil
	})
	if err != nil {
		s.logger.Warn("Adventure start failed", append(logFields, zap.Error(err))...)
		return nil, err
	}

	s.Cache.Set(ctx, view.Party)
	s.logger.Info("Adventure started", append(logFields,
		zap.Int64("adventure_id", view.Adventure.ID),
		zap.Int64("first_member_id", view.PendingDecision.PartyMemberID),
	)...)
	publish(ctx, s.Events, s.logger, models.Event{
		Type:         models.EventAdventureStarted,
		PartyID:      partyID,
		AdventureID:  view.Adventure.ID,
		NextMemberID: view.PendingDecision.PartyMemberID,
		OccurredAt:   s.Now(),
	})
	return view, nil
}

func (s *adventureServiceImpl) themeFor(party *models.Party, seed AdventureSeed) string {
	if theme := strings.TrimSpace(seed.Theme); theme != "" {
		return theme
	}
	if party.Settings.Theme != "" {
		return party.Settings.Theme
	}
	return s.cfg.DefaultTheme
}

// turnTarget addresses a decision either by adventure and member id, or by party and user id.
type turnTarget struct {
	adventureID int64
	memberID    int64
	partyID     int64
	userID      string
}

func (s *adventureServiceImpl) ResolveDecision(ctx context.Context, adventureID, actingMemberID int64, choiceIndex int) (*models.TurnOutcome, error) {
	return s.resolve(ctx, turnTarget{adventureID: adventureID, memberID: actingMemberID}, choiceIndex)
}

func (s *adventureServiceImpl) ResolveForUser(ctx context.Context, partyID int64, userID string, choiceIndex int) (*models.TurnOutcome, error) {
	return s.resolve(ctx, turnTarget{partyID: partyID, userID: userID}, choiceIndex)
}

// resolvedTurn carries what the post-commit steps need out of the transaction.
type resolvedTurn struct {
	outcome *models.TurnOutcome
	partyID int64
	seated  []models.PartyMember
}

func (s *adventureServiceImpl) resolve(ctx context.Context, target turnTarget, choiceIndex int) (*models.TurnOutcome, error) {
	logFields := []zap.Field{
		zap.Int64("adventure_id", target.adventureID),
		zap.Int64("member_id", target.memberID),
		zap.Int64("party_id", target.partyID),
		zap.String("user_id", target.userID),
		zap.Int("choice", choiceIndex),
	}

	observed, err := s.observePending(ctx, target)
	if err != nil {
		return nil, err
	}

	turn, err := database.InTx(ctx, s.Tx, "resolve_decision", func(ctx context.Context, tx interfaces.DBTX) (*resolvedTurn, error) {
		// 1. Locks: party, then adventure, then the pending decision.
		party, adventure, err := s.lockAdventure(ctx, tx, target)
		if err != nil {
			return nil, err
		}
		if err := loadMembers(ctx, tx, s.Repos.Members, party); err != nil {
			return nil, err
		}
		actingMemberID := target.memberID
		if target.userID != "" {
			m, ok := party.Member(target.userID)
			if !ok {
				return nil, fmt.Errorf("%w: user %s is not a member of party %d", models.ErrForbidden, target.userID, party.ID)
			}
			actingMemberID = m.ID
		}

		// 2. Turn token.
		decision, err := s.Repos.Decisions.GetPending(ctx, tx, adventure.ID)
		if err != nil {
			return nil, err
		}
		if observed != 0 && decision.ID != observed {
			return nil, fmt.Errorf("%w: decision %d was resolved by a concurrent call", models.ErrState, observed)
		}
		if decision.PartyMemberID != actingMemberID {
			return nil, fmt.Errorf("%w: waiting for member %d", models.ErrTurn, decision.PartyMemberID)
		}
		if choiceIndex < 0 || choiceIndex >= len(decision.Choices) {
			return nil, fmt.Errorf("%w: choice %d is out of range [0, %d)", models.ErrValidation, choiceIndex, len(decision.Choices))
		}
		choice := decision.Choices[choiceIndex]

		// 3. Consequence.
		states, err := s.Repos.States.ListByAdventure(ctx, tx, adventure.ID)
		if err != nil {
			return nil, err
		}
		roster := memberStatuses(party.Members, states)
		turnCtx := models.TurnContext{
			Theme:        adventure.Theme,
			PlotSummary:  adventure.PlotSummary,
			WinCondition: adventure.WinCondition,
			State:        adventure.CurrentState,
			Party:        roster,
			Situation:    decision.Situation,
			Choice:       choice,
		}
		for i := range roster {
			if roster[i].PartyMemberID == actingMemberID {
				turnCtx.Actor = &roster[i]
			}
		}
		result, err := s.generate(ctx, "generate_turn", turnCtx, stateIDs(states))
		if err != nil {
			return nil, err
		}

		// 4. Adventurer states.
		for _, i := range applyDeltas(states, result.StateDeltas) {
			if err := s.Repos.States.Update(ctx, tx, &states[i]); err != nil {
				return nil, err
			}
		}

		// 5. Ending or next actor.
		ended, endType := result.Ending()
		var next models.TurnSlot
		if !ended {
			slots, err := s.Repos.States.ListTurnOrder(ctx, tx, adventure.ID)
			if err != nil {
				return nil, err
			}
			var ok bool
			if next, ok = NextActor(slots, decision.PartyMemberID); !ok {
				s.logger.Info("No adventurer left able to act, ending in defeat", logFields...)
				ended, endType = true, models.EndTypeDefeat
			}
		}

		now := s.Now()
		consequence := models.Consequence{Narrative: result.Consequence, Deltas: result.StateDeltas}
		if ended {
			consequence.EndType = &endType
		}
		if err := s.Repos.Decisions.Resolve(ctx, tx, decision.ID, choice, consequence, now); err != nil {
			return nil, err
		}
		decision.ChoiceMade = &choice
		decision.Consequence = &consequence
		decision.ResolvedAt = &now

		state := mergeState(adventure.CurrentState, result)
		state.PushEvent(result.Consequence, s.cfg.RecentEvents)
		if err := s.Repos.Adventures.UpdateState(ctx, tx, adventure.ID, state); err != nil {
			return nil, err
		}
		adventure.CurrentState = state

		outcome := &models.TurnOutcome{
			Adventure:   adventure,
			Resolved:    decision,
			States:      states,
			Ended:       ended,
			PartyStatus: party.Status,
		}

		// 6. Terminal transition or the next turn token.
		if ended {
			adventureStatus, partyStatus := endType.Outcome()
			if !party.Status.CanTransition(partyStatus) {
				return nil, fmt.Errorf("%w: party %d cannot move from %s to %s", models.ErrState, party.ID, party.Status, partyStatus)
			}
			if err := s.Repos.Adventures.Finish(ctx, tx, adventure.ID, adventureStatus, now); err != nil {
				return nil, err
			}
			if err := s.Repos.Parties.UpdateStatus(ctx, tx, party, partyStatus, false); err != nil {
				return nil, err
			}
			if _, err := s.Repos.Members.RemoveAll(ctx, tx, party.ID, now); err != nil {
				return nil, err
			}
			adventure.Status = adventureStatus
			adventure.CompletedAt = &now
			outcome.EndType = endType
			outcome.PartyStatus = partyStatus
		} else {
			nextDecision := &models.DecisionPoint{
				AdventureID:   adventure.ID,
				PartyMemberID: next.PartyMemberID,
				Situation:     result.NextSituation,
				Choices:       result.NextChoices,
			}
			if err := s.Repos.Decisions.Insert(ctx, tx, nextDecision); err != nil {
				return nil, err
			}
			outcome.Next = nextDecision
		}
		return &resolvedTurn{outcome: outcome, partyID: party.ID, seated: party.Members}, nil
	})
	if err != nil {
		s.logger.Info("Decision not resolved", append(logFields, zap.Error(err))...)
		return nil, err
	}

	outcome := turn.outcome
	now := s.Now()
	event := models.Event{
		Type:        models.EventAdventureTurn,
		PartyID:     turn.partyID,
		AdventureID: outcome.Adventure.ID,
		UserID:      target.userID,
		OccurredAt:  now,
	}
	if outcome.Ended {
		s.metrics.Turns.WithLabelValues(strings.ToLower(string(outcome.EndType))).Inc()
		s.Cache.Evict(ctx, turn.partyID)
		for _, m := range turn.seated {
			s.Cache.EvictMember(ctx, m.UserID)
		}
		s.logger.Info("Adventure ended", append(logFields, zap.String("end_type", string(outcome.EndType)))...)
		publish(ctx, s.Events, s.logger, event)
		event.Type = models.EventAdventureEnded
		event.EndType = outcome.EndType
		publish(ctx, s.Events, s.logger, event)
		return outcome, nil
	}

	s.metrics.Turns.WithLabelValues("continued").Inc()
	s.logger.Debug("Decision resolved", append(logFields, zap.Int64("next_member_id", outcome.Next.PartyMemberID))...)
	event.NextMemberID = outcome.Next.PartyMemberID
	publish(ctx, s.Events, s.logger, event)
	return outcome, nil
}

// observePending returns the id of the decision pending when the call arrived, or 0 if
// there is none. The caller answers that decision and no later one.
func (s *adventureServiceImpl) observePending(ctx context.Context, target turnTarget) (int64, error) {
	return database.InTx(ctx, s.Tx, "observe_turn", func(ctx context.Context, tx interfaces.DBTX) (int64, error) {
		adventureID := target.adventureID
		if adventureID == 0 {
			adventure, err := s.Repos.Adventures.GetActiveByParty(ctx, tx, target.partyID)
			if isNotFound(err) {
				return 0, nil
			}
			if err != nil {
				return 0, err
			}
			adventureID = adventure.ID
		}
		decision, err := s.Repos.Decisions.FindPending(ctx, tx, adventureID)
		if errors.Is(err, models.ErrNoPendingDecision) {
			return 0, nil
		}
		if err != nil {
			return 0, err
		}
		return decision.ID, nil
	})
}

// lockAdventure locks the party row, then the adventure row, and checks both are in play.
func (s *adventureServiceImpl) lockAdventure(ctx context.Context, tx interfaces.DBTX, target turnTarget) (*models.Party, *models.Adventure, error) {
	partyID := target.partyID
	if partyID == 0 {
		adventure, err := s.Repos.Adventures.GetByID(ctx, tx, target.adventureID)
		if err != nil {
			return nil, nil, err
		}
		partyID = adventure.PartyID
	}

	party, err := s.Repos.Parties.GetByIDForUpdate(ctx, tx, partyID)
	if err != nil {
		return nil, nil, err
	}

	var adventure *models.Adventure
	if target.adventureID != 0 {
		adventure, err = s.Repos.Adventures.GetByIDForUpdate(ctx, tx, target.adventureID)
	} else {
		adventure, err = s.Repos.Adventures.GetActiveByParty(ctx, tx, partyID)
		if isNotFound(err) {
			return nil, nil, models.ErrAdventureNotActive
		}
		if err == nil {
			adventure, err = s.Repos.Adventures.GetByIDForUpdate(ctx, tx, adventure.ID)
		}
	}
	if err != nil {
		return nil, nil, err
	}
	if adventure.Status != models.AdventureStatusActive || party.Status != models.PartyStatusActive {
		return nil, nil, models.ErrAdventureNotActive
	}
	return party, adventure, nil
}

func (s *adventureServiceImpl) generate(ctx context.Context, label string, turn models.TurnContext, known map[int64]bool) (*models.TurnResult, error) {
	result, err := database.WithTimeout(ctx, s.timer, label, s.cfg.GenerateTimeout, func(ctx context.Context) (*models.TurnResult, error) {
		return s.generator.GenerateTurn(ctx, turn)
	})
	if err != nil {
		return nil, err
	}
	if err := result.Validate(known, turn.Opening); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *adventureServiceImpl) GetStatus(ctx context.Context, partyID int64, userID string) (*models.PartyStatusView, error) {
	return database.InTx(ctx, s.Tx, "get_party_status", func(ctx context.Context, tx interfaces.DBTX) (*models.PartyStatusView, error) {
		party, err := s.Repos.Parties.GetByID(ctx, tx, partyID)
		if err != nil {
			return nil, err
		}
		if err := loadMembers(ctx, tx, s.Repos.Members, party); err != nil {
			return nil, err
		}
		view := &models.PartyStatusView{Party: party}

		adventure, err := s.Repos.Adventures.GetLatestByParty(ctx, tx, partyID)
		if isNotFound(err) {
			return view, nil
		}
		if err != nil {
			return nil, err
		}
		view.Adventure = adventure

		if view.States, err = s.Repos.States.ListByAdventure(ctx, tx, adventure.ID); err != nil {
			return nil, err
		}
		if adventure.Status == models.AdventureStatusActive {
			pending, err := s.Repos.Decisions.FindPending(ctx, tx, adventure.ID)
			switch {
			case err == nil:
				view.PendingDecision = pending
			case !errors.Is(err, models.ErrNoPendingDecision):
				return nil, err
			}
		}
		if view.RecentDecisions, err = s.Repos.Decisions.ListRecent(ctx, tx, adventure.ID, s.cfg.RecentDecisions); err != nil {
			return nil, err
		}

		if view.PendingDecision != nil {
			if m, ok := party.Member(userID); ok && m.RemovedAt == nil {
				view.YourTurn = m.ID == view.PendingDecision.PartyMemberID
			}
		}
		return view, nil
	})
}

// applyDeltas applies each delta to its state and returns the indexes of changed states.
func applyDeltas(states []models.AdventurerState, deltas []models.StateDelta) []int {
	var changed []int
	seen := make(map[int]bool, len(deltas))
	for _, d := range deltas {
		for i := range states {
			if states[i].PartyMemberID != d.PartyMemberID {
				continue
			}
			states[i].Apply(d)
			if !seen[i] {
				seen[i] = true
				changed = append(changed, i)
			}
		}
	}
	return changed
}

// mergeState carries the world fields a turn result reports into the next state.
// Blank fields keep their previous value.
func mergeState(prev models.AdventureState, result *models.TurnResult) models.AdventureState {
	next := prev
	next.ActiveElements = append([]string{}, prev.ActiveElements...)
	next.RecentEvents = append([]string{}, prev.RecentEvents...)
	if loc := strings.TrimSpace(result.Location); loc != "" {
		next.Location = loc
	}
	if env := strings.TrimSpace(result.Environment); env != "" {
		next.Environment = env
	}
	if result.ActiveElements != nil {
		next.ActiveElements = append([]string{}, result.ActiveElements...)
	}
	return next
}

func memberStatuses(members []models.PartyMember, states []models.AdventurerState) []models.MemberStatus {
	byID := make(map[int64]models.PartyMember, len(members))
	for _, m := range members {
		byID[m.ID] = m
	}
	out := make([]models.MemberStatus, 0, len(states))
	for _, st := range states {
		ms := models.MemberStatus{
			PartyMemberID: st.PartyMemberID,
			Health:        st.Health,
			Status:        st.Status,
			Conditions:    st.Conditions,
			Inventory:     st.Inventory,
		}
		if m, ok := byID[st.PartyMemberID]; ok {
			ms.AdventurerName = m.AdventurerName
			if m.Backstory != nil {
				ms.Backstory = *m.Backstory
			}
		}
		out = append(out, ms)
	}
	return out
}

func turnSlots(members []models.PartyMember, states []models.AdventurerState) []models.TurnSlot {
	status := make(map[int64]models.AdventurerStatus, len(states))
	for _, st := range states {
		status[st.PartyMemberID] = st.Status
	}
	slots := make([]models.TurnSlot, 0, len(members))
	for _, m := range members {
		if st, ok := status[m.ID]; ok {
			slots = append(slots, models.TurnSlot{PartyMemberID: m.ID, UserID: m.UserID, JoinedAt: m.JoinedAt, Status: st})
		}
	}
	return slots
}

func memberIDs(members []models.PartyMember) map[int64]bool {
	ids := make(map[int64]bool, len(members))
	for _, m := range members {
		ids[m.ID] = true
	}
	return ids
}

func stateIDs(states []models.AdventurerState) map[int64]bool {
	ids := make(map[int64]bool, len(states))
	for _, st := range states {
		ids[st.PartyMemberID] = true
	}
	return ids
}
