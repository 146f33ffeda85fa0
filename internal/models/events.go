package models

import "time"

// EventType names a domain event published after a successful commit.
type EventType string

const (
	EventPartyCreated      EventType = "party.created"
	EventPartyMemberJoined EventType = "party.member_joined"
	EventPartyMemberLeft   EventType = "party.member_left"
	EventPartyDisbanded    EventType = "party.disbanded"
	EventAdventureStarted  EventType = "adventure.started"
	EventAdventureTurn     EventType = "adventure.turn_resolved"
	EventAdventureEnded    EventType = "adventure.ended"
)

// Event is the payload sent to the command layer.
// NextMemberID is the member whose turn it is after the event.
type Event struct {
	Type         EventType `json:"type"`
	PartyID      int64     `json:"partyId"`
	AdventureID  int64     `json:"adventureId,omitempty"`
	UserID       string    `json:"userId,omitempty"`
	NextMemberID int64     `json:"nextMemberId,omitempty"`
	EndType      EndType   `json:"endType,omitempty"`
	OccurredAt   time.Time `json:"occurredAt"`
}
