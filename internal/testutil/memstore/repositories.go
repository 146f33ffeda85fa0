package memstore

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"adventure-bot/internal/interfaces"
	"adventure-bot/internal/models"
)

var (
	_ interfaces.PartyRepository           = (*partyRepo)(nil)
	_ interfaces.MemberRepository          = (*memberRepo)(nil)
	_ interfaces.AdventureRepository       = (*adventureRepo)(nil)
	_ interfaces.AdventurerStateRepository = (*stateRepo)(nil)
	_ interfaces.DecisionPointRepository   = (*decisionRepo)(nil)
)

func cloneStrings(in []string) []string {
	if in == nil {
		return []string{}
	}
	return append([]string{}, in...)
}

type partyRepo struct{ s *Store }

func (r *partyRepo) Create(_ context.Context, _ interfaces.DBTX, party *models.Party) error {
	id, now := r.s.nextID()
	party.ID = id
	party.CreatedAt = now
	party.LastUpdated = now
	party.Revision = 1
	stored := *party
	stored.Members = nil
	r.s.data.parties[id] = stored
	return nil
}

func (r *partyRepo) GetByID(_ context.Context, _ interfaces.DBTX, id int64) (*models.Party, error) {
	p, ok := r.s.data.parties[id]
	if !ok {
		return nil, fmt.Errorf("%w: party %d", models.ErrNotFound, id)
	}
	return &p, nil
}

func (r *partyRepo) GetByIDForUpdate(ctx context.Context, tx interfaces.DBTX, id int64) (*models.Party, error) {
	return r.GetByID(ctx, tx, id)
}

func (r *partyRepo) UpdateStatus(_ context.Context, _ interfaces.DBTX, party *models.Party, status models.PartyStatus, isActive bool) error {
	p, ok := r.s.data.parties[party.ID]
	if !ok {
		return fmt.Errorf("%w: party %d", models.ErrNotFound, party.ID)
	}
	_, now := r.s.nextID()
	p.Status = status
	p.IsActive = isActive
	p.Revision++
	p.LastUpdated = now
	r.s.data.parties[party.ID] = p
	party.Status, party.IsActive, party.Revision, party.LastUpdated = p.Status, p.IsActive, p.Revision, p.LastUpdated
	return nil
}

func (r *partyRepo) Touch(_ context.Context, _ interfaces.DBTX, party *models.Party) error {
	p, ok := r.s.data.parties[party.ID]
	if !ok {
		return fmt.Errorf("%w: party %d", models.ErrNotFound, party.ID)
	}
	_, now := r.s.nextID()
	p.Revision++
	p.LastUpdated = now
	r.s.data.parties[party.ID] = p
	party.Revision, party.LastUpdated = p.Revision, p.LastUpdated
	return nil
}

type memberRepo struct{ s *Store }

func (r *memberRepo) Add(_ context.Context, _ interfaces.DBTX, member *models.PartyMember) error {
	for _, m := range r.s.data.members {
		if m.UserID == member.UserID && m.RemovedAt == nil {
			return fmt.Errorf("%w: user %s", models.ErrAlreadyInParty, member.UserID)
		}
	}
	id, now := r.s.nextID()
	member.ID = id
	member.JoinedAt = now
	member.RemovedAt = nil
	r.s.data.members[id] = *member
	return nil
}

func byJoinOrder(a, b models.PartyMember) int {
	if c := a.JoinedAt.Compare(b.JoinedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

func (r *memberRepo) ListByParty(_ context.Context, _ interfaces.DBTX, partyID int64, includeRemoved bool) ([]models.PartyMember, error) {
	var out []models.PartyMember
	for _, m := range r.s.data.members {
		if m.PartyID == partyID && (includeRemoved || m.RemovedAt == nil) {
			out = append(out, m)
		}
	}
	slices.SortFunc(out, byJoinOrder)
	return out, nil
}

func (r *memberRepo) FindActiveByUser(_ context.Context, _ interfaces.DBTX, userID string) (*models.PartyMember, error) {
	for _, m := range r.s.data.members {
		if m.UserID == userID && m.RemovedAt == nil {
			return &m, nil
		}
	}
	return nil, fmt.Errorf("%w: no party for user %s", models.ErrNotFound, userID)
}

func (r *memberRepo) CountActive(_ context.Context, _ interfaces.DBTX, partyID int64) (int, error) {
	n := 0
	for _, m := range r.s.data.members {
		if m.PartyID == partyID && m.RemovedAt == nil {
			n++
		}
	}
	return n, nil
}

func (r *memberRepo) Remove(_ context.Context, _ interfaces.DBTX, partyID int64, userID string, at time.Time) error {
	for id, m := range r.s.data.members {
		if m.PartyID == partyID && m.UserID == userID && m.RemovedAt == nil {
			m.RemovedAt = &at
			r.s.data.members[id] = m
			return nil
		}
	}
	return fmt.Errorf("%w: user %s is not a member of party %d", models.ErrNotFound, userID, partyID)
}

func (r *memberRepo) RemoveAll(_ context.Context, _ interfaces.DBTX, partyID int64, at time.Time) (int64, error) {
	var n int64
	for id, m := range r.s.data.members {
		if m.PartyID == partyID && m.RemovedAt == nil {
			m.RemovedAt = &at
			r.s.data.members[id] = m
			n++
		}
	}
	return n, nil
}

type adventureRepo struct{ s *Store }

func (r *adventureRepo) store(a models.Adventure) {
	a.CurrentState.ActiveElements = cloneStrings(a.CurrentState.ActiveElements)
	a.CurrentState.RecentEvents = cloneStrings(a.CurrentState.RecentEvents)
	a.CurrentState.PushEvent("", r.s.RecentEvents)
	r.s.data.adventures[a.ID] = a
}

func (r *adventureRepo) load(a models.Adventure) *models.Adventure {
	a.CurrentState.ActiveElements = cloneStrings(a.CurrentState.ActiveElements)
	a.CurrentState.RecentEvents = cloneStrings(a.CurrentState.RecentEvents)
	return &a
}

func (r *adventureRepo) Create(_ context.Context, _ interfaces.DBTX, adventure *models.Adventure) error {
	if adventure.CurrentState.Location == "" {
		return fmt.Errorf("encode adventure state: location is required")
	}
	for _, a := range r.s.data.adventures {
		if a.PartyID == adventure.PartyID && a.Status == models.AdventureStatusActive && adventure.Status == models.AdventureStatusActive {
			return fmt.Errorf("%w: party %d already has an active adventure", models.ErrState, adventure.PartyID)
		}
	}
	id, now := r.s.nextID()
	adventure.ID = id
	adventure.CreatedAt = now
	adventure.CurrentState.PushEvent("", r.s.RecentEvents)
	r.store(*adventure)
	return nil
}

func (r *adventureRepo) GetByID(_ context.Context, _ interfaces.DBTX, id int64) (*models.Adventure, error) {
	a, ok := r.s.data.adventures[id]
	if !ok {
		return nil, fmt.Errorf("%w: adventure %d", models.ErrNotFound, id)
	}
	return r.load(a), nil
}

func (r *adventureRepo) GetByIDForUpdate(ctx context.Context, tx interfaces.DBTX, id int64) (*models.Adventure, error) {
	return r.GetByID(ctx, tx, id)
}

func (r *adventureRepo) GetActiveByParty(_ context.Context, _ interfaces.DBTX, partyID int64) (*models.Adventure, error) {
	for _, a := range r.s.data.adventures {
		if a.PartyID == partyID && a.Status == models.AdventureStatusActive {
			return r.load(a), nil
		}
	}
	return nil, fmt.Errorf("%w: active adventure of party %d", models.ErrNotFound, partyID)
}

func (r *adventureRepo) GetLatestByParty(_ context.Context, _ interfaces.DBTX, partyID int64) (*models.Adventure, error) {
	var latest *models.Adventure
	for _, a := range r.s.data.adventures {
		if a.PartyID != partyID {
			continue
		}
		if latest == nil || a.CreatedAt.After(latest.CreatedAt) || (a.CreatedAt.Equal(latest.CreatedAt) && a.ID > latest.ID) {
			latest = r.load(a)
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("%w: adventure of party %d", models.ErrNotFound, partyID)
	}
	return latest, nil
}

func (r *adventureRepo) UpdateState(_ context.Context, _ interfaces.DBTX, id int64, state models.AdventureState) error {
	a, ok := r.s.data.adventures[id]
	if !ok {
		return fmt.Errorf("%w: adventure %d", models.ErrNotFound, id)
	}
	a.CurrentState = state
	r.store(a)
	return nil
}

func (r *adventureRepo) Finish(_ context.Context, _ interfaces.DBTX, id int64, status models.AdventureStatus, at time.Time) error {
	a, ok := r.s.data.adventures[id]
	if !ok || a.Status != models.AdventureStatusActive {
		return fmt.Errorf("%w: adventure %d", models.ErrAdventureNotActive, id)
	}
	a.Status = status
	a.CompletedAt = &at
	r.store(a)
	return nil
}

func (r *adventureRepo) FailActiveByParty(_ context.Context, _ interfaces.DBTX, partyID int64, at time.Time) (int64, error) {
	var n int64
	for _, a := range r.s.data.adventures {
		if a.PartyID == partyID && a.Status == models.AdventureStatusActive {
			a.Status = models.AdventureStatusFailed
			a.CompletedAt = &at
			r.store(a)
			n++
		}
	}
	return n, nil
}

type stateRepo struct{ s *Store }

func (r *stateRepo) put(st models.AdventurerState) {
	_, now := r.s.nextID()
	st.Health = models.ClampHealth(st.Health)
	st.Conditions = cloneStrings(st.Conditions)
	st.Inventory = cloneStrings(st.Inventory)
	st.LastUpdated = now
	r.s.data.states[stateKey{st.AdventureID, st.PartyMemberID}] = st
}

func (r *stateRepo) Create(_ context.Context, _ interfaces.DBTX, state *models.AdventurerState) error {
	key := stateKey{state.AdventureID, state.PartyMemberID}
	if _, exists := r.s.data.states[key]; exists {
		return fmt.Errorf("adventurer state %d/%d already exists", state.AdventureID, state.PartyMemberID)
	}
	r.put(*state)
	*state = r.s.data.states[key]
	return nil
}

// ordered returns the adventure's states in the join order of their members.
func (r *stateRepo) ordered(adventureID int64) []models.AdventurerState {
	var out []models.AdventurerState
	for k, st := range r.s.data.states {
		if k.adventureID == adventureID {
			st.Conditions = cloneStrings(st.Conditions)
			st.Inventory = cloneStrings(st.Inventory)
			out = append(out, st)
		}
	}
	slices.SortFunc(out, func(a, b models.AdventurerState) int {
		return byJoinOrder(r.s.data.members[a.PartyMemberID], r.s.data.members[b.PartyMemberID])
	})
	return out
}

func (r *stateRepo) ListByAdventure(_ context.Context, _ interfaces.DBTX, adventureID int64) ([]models.AdventurerState, error) {
	return r.ordered(adventureID), nil
}

func (r *stateRepo) Update(_ context.Context, _ interfaces.DBTX, state *models.AdventurerState) error {
	key := stateKey{state.AdventureID, state.PartyMemberID}
	if _, ok := r.s.data.states[key]; !ok {
		return fmt.Errorf("%w: adventurer state %d/%d", models.ErrNotFound, state.AdventureID, state.PartyMemberID)
	}
	r.put(*state)
	state.Health = models.ClampHealth(state.Health)
	state.LastUpdated = r.s.data.states[key].LastUpdated
	return nil
}

func (r *stateRepo) ListTurnOrder(_ context.Context, _ interfaces.DBTX, adventureID int64) ([]models.TurnSlot, error) {
	states := r.ordered(adventureID)
	slots := make([]models.TurnSlot, 0, len(states))
	for _, st := range states {
		m := r.s.data.members[st.PartyMemberID]
		slots = append(slots, models.TurnSlot{
			PartyMemberID: m.ID,
			UserID:        m.UserID,
			JoinedAt:      m.JoinedAt,
			Status:        st.Status,
		})
	}
	return slots, nil
}

type decisionRepo struct{ s *Store }

func (r *decisionRepo) Insert(_ context.Context, _ interfaces.DBTX, dp *models.DecisionPoint) error {
	if len(dp.Choices) == 0 {
		return fmt.Errorf("%w: decision point needs at least one choice", models.ErrValidation)
	}
	for _, d := range r.s.data.decisions {
		if d.AdventureID == dp.AdventureID && d.ResolvedAt == nil {
			return fmt.Errorf("%w: adventure %d already has a pending decision", models.ErrState, dp.AdventureID)
		}
	}
	id, now := r.s.nextID()
	dp.ID = id
	dp.CreatedAt = now
	stored := *dp
	stored.Choices = cloneStrings(dp.Choices)
	stored.ChoiceMade = nil
	stored.Consequence = nil
	stored.ResolvedAt = nil
	r.s.data.decisions[id] = stored
	return nil
}

func (r *decisionRepo) load(d models.DecisionPoint) *models.DecisionPoint {
	d.Choices = cloneStrings(d.Choices)
	return &d
}

func (r *decisionRepo) GetPending(_ context.Context, _ interfaces.DBTX, adventureID int64) (*models.DecisionPoint, error) {
	for _, d := range r.s.data.decisions {
		if d.AdventureID == adventureID && d.ResolvedAt == nil {
			return r.load(d), nil
		}
	}
	return nil, models.ErrNoPendingDecision
}

func (r *decisionRepo) FindPending(ctx context.Context, tx interfaces.DBTX, adventureID int64) (*models.DecisionPoint, error) {
	return r.GetPending(ctx, tx, adventureID)
}

func (r *decisionRepo) Resolve(_ context.Context, _ interfaces.DBTX, id int64, choice string, consequence models.Consequence, at time.Time) error {
	d, ok := r.s.data.decisions[id]
	if !ok || d.ResolvedAt != nil {
		return models.ErrNoPendingDecision
	}
	d.ChoiceMade = &choice
	d.Consequence = &consequence
	d.ResolvedAt = &at
	r.s.data.decisions[id] = d
	return nil
}

func (r *decisionRepo) ListRecent(_ context.Context, _ interfaces.DBTX, adventureID int64, limit int) ([]models.DecisionPoint, error) {
	if limit <= 0 {
		return []models.DecisionPoint{}, nil
	}
	var out []models.DecisionPoint
	for _, d := range r.s.data.decisions {
		if d.AdventureID == adventureID && d.ResolvedAt != nil {
			out = append(out, *r.load(d))
		}
	}
	slices.SortFunc(out, func(a, b models.DecisionPoint) int {
		if c := b.ResolvedAt.Compare(*a.ResolvedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
