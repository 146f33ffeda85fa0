package models

import (
	"fmt"
	"strings"
)

// StateDelta is a per-member change produced by the content generator.
// Nil fields are left untouched.
type StateDelta struct {
	PartyMemberID int64             `json:"partyMemberId"`
	Health        *int              `json:"health,omitempty"`
	Status        *AdventurerStatus `json:"status,omitempty"`
	Conditions    []string          `json:"conditions,omitempty"`
	Inventory     []string          `json:"inventory,omitempty"`
}

// MemberStatus describes one party member to the content generator.
type MemberStatus struct {
	PartyMemberID  int64            `json:"partyMemberId"`
	AdventurerName string           `json:"adventurerName"`
	Backstory      string           `json:"backstory,omitempty"`
	Health         int              `json:"health"`
	Status         AdventurerStatus `json:"status"`
	Conditions     []string         `json:"conditions"`
	Inventory      []string         `json:"inventory"`
}

// TurnContext is everything the generator sees for one turn.
// Opening is set for the first turn of an adventure, when no choice has been made.
type TurnContext struct {
	Opening      bool           `json:"opening"`
	Theme        string         `json:"theme"`
	PlotSummary  string         `json:"plotSummary"`
	WinCondition string         `json:"winCondition"`
	State        AdventureState `json:"state"`
	Party        []MemberStatus `json:"party"`
	Actor        *MemberStatus  `json:"actor,omitempty"`
	Situation    string         `json:"situation,omitempty"`
	Choice       string         `json:"choice,omitempty"`
}

// TurnResult is the structured output of the content generator.
// IsEnding and EndType are pointers so that a missing field is distinguishable from false.
type TurnResult struct {
	Consequence    string       `json:"consequence"`
	StateDeltas    []StateDelta `json:"stateDeltas"`
	NextSituation  string       `json:"nextSituation"`
	NextChoices    []string     `json:"nextChoices"`
	Location       string       `json:"location,omitempty"`
	Environment    string       `json:"environment,omitempty"`
	ActiveElements []string     `json:"activeElements,omitempty"`
	IsEnding       *bool        `json:"isEnding"`
	EndType        *EndType     `json:"endType"`
}

// Ending reports the validated ending flag and type.
func (r *TurnResult) Ending() (bool, EndType) {
	if r.IsEnding == nil || !*r.IsEnding || r.EndType == nil {
		return false, ""
	}
	return true, *r.EndType
}

// Validate checks required fields. memberIDs lists the members deltas may reference;
// opening results need no consequence and may not end the adventure.
func (r *TurnResult) Validate(memberIDs map[int64]bool, opening bool) error {
	if r == nil {
		return fmt.Errorf("%w: empty turn result", ErrMalformedContent)
	}
	if r.IsEnding == nil {
		return fmt.Errorf("%w: isEnding is required", ErrMalformedContent)
	}
	if !opening && strings.TrimSpace(r.Consequence) == "" {
		return fmt.Errorf("%w: consequence is required", ErrMalformedContent)
	}
	if *r.IsEnding {
		if opening {
			return fmt.Errorf("%w: opening turn cannot end the adventure", ErrMalformedContent)
		}
		if r.EndType == nil {
			return fmt.Errorf("%w: endType is required when isEnding is true", ErrMalformedContent)
		}
		if !r.EndType.Valid() {
			return fmt.Errorf("%w: unknown endType %q", ErrMalformedContent, *r.EndType)
		}
	} else {
		if strings.TrimSpace(r.NextSituation) == "" {
			return fmt.Errorf("%w: nextSituation is required", ErrMalformedContent)
		}
		if len(r.NextChoices) == 0 {
			return fmt.Errorf("%w: at least one next choice is required", ErrMalformedContent)
		}
		for i, c := range r.NextChoices {
			if strings.TrimSpace(c) == "" {
				return fmt.Errorf("%w: next choice %d is empty", ErrMalformedContent, i)
			}
		}
	}
	for _, d := range r.StateDeltas {
		if !memberIDs[d.PartyMemberID] {
			return fmt.Errorf("%w: state delta references unknown member %d", ErrMalformedContent, d.PartyMemberID)
		}
		if d.Status != nil && !d.Status.Valid() {
			return fmt.Errorf("%w: unknown adventurer status %q", ErrMalformedContent, *d.Status)
		}
	}
	return nil
}
