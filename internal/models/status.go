package models

// PartyStatusView is the snapshot returned by getPartyStatus.
type PartyStatusView struct {
	Party           *Party            `json:"party"`
	Adventure       *Adventure        `json:"adventure,omitempty"`
	States          []AdventurerState `json:"states,omitempty"`
	PendingDecision *DecisionPoint    `json:"pendingDecision,omitempty"`
	RecentDecisions []DecisionPoint   `json:"recentDecisions,omitempty"`
	YourTurn        bool              `json:"yourTurn"`
}

// JoinResult is returned by joinParty. Adventure is set when joining filled the
// party and the auto-start policy started the adventure.
type JoinResult struct {
	Party     *Party     `json:"party"`
	Adventure *Adventure `json:"adventure,omitempty"`
}

// TurnOutcome is returned by resolveDecision.
type TurnOutcome struct {
	Adventure   *Adventure        `json:"adventure"`
	Resolved    *DecisionPoint    `json:"resolved"`
	Next        *DecisionPoint    `json:"next,omitempty"`
	States      []AdventurerState `json:"states"`
	Ended       bool              `json:"ended"`
	EndType     EndType           `json:"endType,omitempty"`
	PartyStatus PartyStatus       `json:"partyStatus"`
}
