package mocks

import (
	"context"

	"adventure-bot/internal/models"

	"github.com/stretchr/testify/mock"
)

// EventPublisher is a testify mock of interfaces.EventPublisher.
type EventPublisher struct {
	mock.Mock
}

func (m *EventPublisher) Publish(ctx context.Context, event models.Event) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}
