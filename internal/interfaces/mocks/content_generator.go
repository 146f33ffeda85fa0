package mocks

import (
	"context"

	"adventure-bot/internal/models"

	"github.com/stretchr/testify/mock"
)

// ContentGenerator is a testify mock of interfaces.ContentGenerator.
type ContentGenerator struct {
	mock.Mock
}

func (m *ContentGenerator) GenerateTurn(ctx context.Context, turn models.TurnContext) (*models.TurnResult, error) {
	args := m.Called(ctx, turn)
	res, _ := args.Get(0).(*models.TurnResult)
	return res, args.Error(1)
}
