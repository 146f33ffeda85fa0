package database

import (
	"adventure-bot/internal/interfaces"

	"go.uber.org/zap"
)

// NewRepositories wires the PostgreSQL implementations.
func NewRepositories(logger *zap.Logger, recentEvents int) interfaces.Repositories {
	return interfaces.Repositories{
		Parties:    NewPgPartyRepository(logger),
		Members:    NewPgMemberRepository(logger),
		Adventures: NewPgAdventureRepository(logger, recentEvents),
		States:     NewPgAdventurerStateRepository(logger),
		Decisions:  NewPgDecisionPointRepository(logger),
	}
}
