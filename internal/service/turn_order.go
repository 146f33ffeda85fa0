package service

import "adventure-bot/internal/models"

// NextActor picks the member who acts after currentMemberID. Slots must be in join
// order. The search starts right after the current member and wraps around, skipping
// adventurers that cannot act; the current member is considered last. An unknown
// currentMemberID (0 for the opening turn) starts from the first slot.
// Returns false when nobody can act.
func NextActor(slots []models.TurnSlot, currentMemberID int64) (models.TurnSlot, bool) {
	n := len(slots)
	if n == 0 {
		return models.TurnSlot{}, false
	}

	start := 0
	for i, s := range slots {
		if s.PartyMemberID == currentMemberID {
			start = i + 1
			break
		}
	}

	for i := 0; i < n; i++ {
		s := slots[(start+i)%n]
		if s.Status.CanAct() {
			return s, true
		}
	}
	return models.TurnSlot{}, false
}

// FirstActor is the opening-turn actor: the earliest joined member able to act.
func FirstActor(slots []models.TurnSlot) (models.TurnSlot, bool) {
	return NextActor(slots, 0)
}
