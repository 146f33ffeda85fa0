package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// PartyStatus matches the parties.status column.
type PartyStatus string

const (
	PartyStatusRecruiting PartyStatus = "RECRUITING"
	PartyStatusActive     PartyStatus = "ACTIVE"
	PartyStatusCompleted  PartyStatus = "COMPLETED"
	PartyStatusFailed     PartyStatus = "FAILED"
	PartyStatusDisbanded  PartyStatus = "DISBANDED"
)

// partyTransitions lists every allowed edge of the party state machine.
var partyTransitions = map[PartyStatus][]PartyStatus{
	PartyStatusRecruiting: {PartyStatusActive, PartyStatusDisbanded},
	PartyStatusActive:     {PartyStatusCompleted, PartyStatusFailed, PartyStatusDisbanded},
}

// CanTransition reports whether a party may move from one status to another.
func (s PartyStatus) CanTransition(to PartyStatus) bool {
	for _, next := range partyTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are possible.
func (s PartyStatus) IsTerminal() bool {
	return len(partyTransitions[s]) == 0
}

// Valid reports whether s is a known status.
func (s PartyStatus) Valid() bool {
	switch s {
	case PartyStatusRecruiting, PartyStatusActive, PartyStatusCompleted, PartyStatusFailed, PartyStatusDisbanded:
		return true
	}
	return false
}

// MemberRole is the role of a party member.
type MemberRole string

const (
	RoleLeader MemberRole = "leader"
	RoleMember MemberRole = "member"
)

const partySettingsVersion = 1

// PartySettings is stored as JSON in parties.settings.
type PartySettings struct {
	MaxSize           int    `json:"maxSize"`
	MinPartySize      int    `json:"minPartySize"`
	AutoStartWhenFull bool   `json:"autoStartWhenFull,omitempty"`
	Theme             string `json:"theme,omitempty"`
}

// Validate checks size bounds.
func (s PartySettings) Validate() error {
	if s.MaxSize < 1 {
		return fmt.Errorf("%w: maxSize must be at least 1, got %d", ErrValidation, s.MaxSize)
	}
	if s.MinPartySize < 1 || s.MinPartySize > s.MaxSize {
		return fmt.Errorf("%w: minPartySize must be within [1, %d], got %d", ErrValidation, s.MaxSize, s.MinPartySize)
	}
	return nil
}

type partySettingsEnvelope struct {
	Version int `json:"v"`
	PartySettings
}

// EncodePartySettings serializes settings with a version tag.
func EncodePartySettings(s PartySettings) ([]byte, error) {
	return json.Marshal(partySettingsEnvelope{Version: partySettingsVersion, PartySettings: s})
}

// DecodePartySettings parses and validates a stored settings blob.
func DecodePartySettings(raw []byte) (PartySettings, error) {
	var env partySettingsEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return PartySettings{}, fmt.Errorf("decode party settings: %w", err)
	}
	if env.Version != partySettingsVersion {
		return PartySettings{}, fmt.Errorf("decode party settings: unsupported version %d", env.Version)
	}
	if err := env.PartySettings.Validate(); err != nil {
		return PartySettings{}, fmt.Errorf("decode party settings: %w", err)
	}
	return env.PartySettings, nil
}

// Party is a group of players sharing one adventure session.
type Party struct {
	ID          int64         `json:"id"`
	LeaderID    string        `json:"leaderId"`
	Status      PartyStatus   `json:"status"`
	IsActive    bool          `json:"isActive"`
	Settings    PartySettings `json:"settings"`
	CreatedAt   time.Time     `json:"createdAt"`
	LastUpdated time.Time     `json:"lastUpdated"`
	// Revision grows with every seat or status change. Caches keep the highest one.
	Revision    int64         `json:"revision"`
	Members     []PartyMember `json:"members,omitempty"`
}

// IsFull reports whether the member list has reached MaxSize.
func (p *Party) IsFull() bool {
	return len(p.Members) >= p.Settings.MaxSize
}

// Member returns the member with the given user id.
func (p *Party) Member(userID string) (PartyMember, bool) {
	for _, m := range p.Members {
		if m.UserID == userID {
			return m, true
		}
	}
	return PartyMember{}, false
}

// Clone returns a copy that does not share the member slice.
func (p *Party) Clone() *Party {
	if p == nil {
		return nil
	}
	c := *p
	c.Members = append([]PartyMember(nil), p.Members...)
	return &c
}

// PartyMember is a user's seat in a party.
type PartyMember struct {
	ID             int64      `json:"id" db:"id"`
	PartyID        int64      `json:"partyId" db:"party_id"`
	UserID         string     `json:"userId" db:"user_id"`
	AdventurerName string     `json:"adventurerName" db:"adventurer_name"`
	Backstory      *string    `json:"backstory,omitempty" db:"backstory"`
	Role           MemberRole `json:"role" db:"role"`
	JoinedAt       time.Time  `json:"joinedAt" db:"joined_at"`
	RemovedAt      *time.Time `json:"removedAt,omitempty" db:"removed_at"`
}

// NormalizeAdventurerName trims the name and rejects blank input.
func NormalizeAdventurerName(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", fmt.Errorf("%w: adventurer name must not be empty", ErrValidation)
	}
	return trimmed, nil
}

// NormalizeBackstory returns nil for blank backstories.
func NormalizeBackstory(backstory string) *string {
	trimmed := strings.TrimSpace(backstory)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
