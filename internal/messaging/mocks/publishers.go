package mocks

import (
	"context"

	"teledoom/internal/messaging"

	"github.com/stretchr/testify/mock"
)

// Mock CallEventPublisher
type CallEventPublisher struct {
	mock.Mock
}

func (m *CallEventPublisher) PublishCallEvent(ctx context.Context, payload messaging.CallEventPayload) error {
	args := m.Called(ctx, payload)
	return args.Error(0)
}

func (m *CallEventPublisher) Close() error {
	args := m.Called()
	return args.Error(0)
}
