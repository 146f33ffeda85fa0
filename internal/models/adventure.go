package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// AdventureStatus matches the adventures.status column.
type AdventureStatus string

const (
	AdventureStatusActive    AdventureStatus = "active"
	AdventureStatusCompleted AdventureStatus = "completed"
	AdventureStatusFailed    AdventureStatus = "failed"
)

// EndType is the kind of ending reported by the content generator.
type EndType string

const (
	EndTypeVictory EndType = "VICTORY"
	EndTypeDefeat  EndType = "DEFEAT"
	EndTypePartial EndType = "PARTIAL"
)

// Valid reports whether e is a known end type.
func (e EndType) Valid() bool {
	switch e {
	case EndTypeVictory, EndTypeDefeat, EndTypePartial:
		return true
	}
	return false
}

// Outcome maps an ending onto the adventure and party terminal statuses.
func (e EndType) Outcome() (AdventureStatus, PartyStatus) {
	if e == EndTypeDefeat {
		return AdventureStatusFailed, PartyStatusFailed
	}
	return AdventureStatusCompleted, PartyStatusCompleted
}

// DefaultRecentEvents bounds AdventureState.RecentEvents when no limit is configured.
const DefaultRecentEvents = 5

const adventureStateVersion = 1

// AdventureState is the persisted world state of an adventure.
type AdventureState struct {
	Location       string   `json:"location"`
	Environment    string   `json:"environment"`
	ActiveElements []string `json:"activeElements"`
	RecentEvents   []string `json:"recentEvents"`
}

// PushEvent prepends an event and truncates the ring to limit entries.
func (s *AdventureState) PushEvent(event string, limit int) {
	if limit <= 0 {
		limit = DefaultRecentEvents
	}
	if event != "" {
		s.RecentEvents = append([]string{event}, s.RecentEvents...)
	}
	if len(s.RecentEvents) > limit {
		s.RecentEvents = s.RecentEvents[:limit]
	}
}

type adventureStateEnvelope struct {
	Version int `json:"v"`
	AdventureState
}

// EncodeAdventureState serializes state with a version tag.
func EncodeAdventureState(s AdventureState) ([]byte, error) {
	if s.ActiveElements == nil {
		s.ActiveElements = []string{}
	}
	if s.RecentEvents == nil {
		s.RecentEvents = []string{}
	}
	return json.Marshal(adventureStateEnvelope{Version: adventureStateVersion, AdventureState: s})
}

// DecodeAdventureState parses a stored state blob and truncates the event ring to limit.
func DecodeAdventureState(raw []byte, limit int) (AdventureState, error) {
	var env adventureStateEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return AdventureState{}, fmt.Errorf("decode adventure state: %w", err)
	}
	if env.Version != adventureStateVersion {
		return AdventureState{}, fmt.Errorf("decode adventure state: unsupported version %d", env.Version)
	}
	if env.Location == "" {
		return AdventureState{}, fmt.Errorf("decode adventure state: location is required")
	}
	st := env.AdventureState
	if st.ActiveElements == nil {
		st.ActiveElements = []string{}
	}
	if st.RecentEvents == nil {
		st.RecentEvents = []string{}
	}
	st.PushEvent("", limit)
	return st, nil
}

// Adventure is one narrative session owned by a party.
type Adventure struct {
	ID           int64           `json:"id"`
	PartyID      int64           `json:"partyId"`
	Theme        string          `json:"theme"`
	PlotSummary  string          `json:"plotSummary"`
	WinCondition string          `json:"winCondition"`
	CurrentState AdventureState  `json:"currentState"`
	Status       AdventureStatus `json:"status"`
	CreatedAt    time.Time       `json:"createdAt"`
	CompletedAt  *time.Time      `json:"completedAt,omitempty"`
}

// AdventurerStatus is a member's in-adventure condition.
type AdventurerStatus string

const (
	AdventurerActive        AdventurerStatus = "ACTIVE"
	AdventurerInjured       AdventurerStatus = "INJURED"
	AdventurerIncapacitated AdventurerStatus = "INCAPACITATED"
	AdventurerDead          AdventurerStatus = "DEAD"
)

// Valid reports whether s is a known adventurer status.
func (s AdventurerStatus) Valid() bool {
	switch s {
	case AdventurerActive, AdventurerInjured, AdventurerIncapacitated, AdventurerDead:
		return true
	}
	return false
}

// CanAct reports whether an adventurer in this status takes turns.
func (s AdventurerStatus) CanAct() bool {
	return s != AdventurerDead && s != AdventurerIncapacitated
}

const (
	MinHealth = 0
	MaxHealth = 100
)

// ClampHealth bounds h to [MinHealth, MaxHealth].
func ClampHealth(h int) int {
	if h < MinHealth {
		return MinHealth
	}
	if h > MaxHealth {
		return MaxHealth
	}
	return h
}

// AdventurerState is a party member's character state within one adventure.
type AdventurerState struct {
	AdventureID   int64            `json:"adventureId"`
	PartyMemberID int64            `json:"partyMemberId"`
	Health        int              `json:"health"`
	Status        AdventurerStatus `json:"status"`
	Conditions    []string         `json:"conditions"`
	Inventory     []string         `json:"inventory"`
	LastUpdated   time.Time        `json:"lastUpdated"`
}

// NewAdventurerState returns the starting state for a member.
func NewAdventurerState(adventureID, memberID int64) AdventurerState {
	return AdventurerState{
		AdventureID:   adventureID,
		PartyMemberID: memberID,
		Health:        MaxHealth,
		Status:        AdventurerActive,
		Conditions:    []string{},
		Inventory:     []string{},
	}
}

// Apply merges a delta. Health is clamped; status, conditions and inventory are replaced.
// A delta that drops health to zero without naming a status kills the adventurer.
func (s *AdventurerState) Apply(d StateDelta) {
	if d.Health != nil {
		s.Health = ClampHealth(*d.Health)
	}
	if d.Status != nil {
		s.Status = *d.Status
	} else if d.Health != nil && s.Health == MinHealth {
		s.Status = AdventurerDead
	}
	if d.Conditions != nil {
		s.Conditions = append([]string{}, d.Conditions...)
	}
	if d.Inventory != nil {
		s.Inventory = append([]string{}, d.Inventory...)
	}
}

// TurnSlot is one row of the turn-order query: a member and its adventurer status.
type TurnSlot struct {
	PartyMemberID int64            `db:"party_member_id"`
	UserID        string           `db:"user_id"`
	JoinedAt      time.Time        `db:"joined_at"`
	Status        AdventurerStatus `db:"status"`
}

// DecisionPoint is the turn token: one open choice awaiting a specific member.
type DecisionPoint struct {
	ID            int64        `json:"id"`
	AdventureID   int64        `json:"adventureId"`
	PartyMemberID int64        `json:"partyMemberId"`
	Situation     string       `json:"situation"`
	Choices       []string     `json:"choices"`
	ChoiceMade    *string      `json:"choiceMade,omitempty"`
	Consequence   *Consequence `json:"consequence,omitempty"`
	CreatedAt     time.Time    `json:"createdAt"`
	ResolvedAt    *time.Time   `json:"resolvedAt,omitempty"`
}

// IsPending reports whether the decision is still the open turn token.
func (d *DecisionPoint) IsPending() bool {
	return d.ResolvedAt == nil
}

const consequenceVersion = 1

// Consequence is stored as JSON in decision_points.consequence.
type Consequence struct {
	Narrative string       `json:"narrative"`
	Deltas    []StateDelta `json:"deltas,omitempty"`
	EndType   *EndType     `json:"endType,omitempty"`
}

type consequenceEnvelope struct {
	Version int `json:"v"`
	Consequence
}

// EncodeConsequence serializes a consequence with a version tag.
func EncodeConsequence(c Consequence) ([]byte, error) {
	return json.Marshal(consequenceEnvelope{Version: consequenceVersion, Consequence: c})
}

// DecodeConsequence parses a stored consequence blob.
func DecodeConsequence(raw []byte) (Consequence, error) {
	var env consequenceEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Consequence{}, fmt.Errorf("decode consequence: %w", err)
	}
	if env.Version != consequenceVersion {
		return Consequence{}, fmt.Errorf("decode consequence: unsupported version %d", env.Version)
	}
	return env.Consequence, nil
}
