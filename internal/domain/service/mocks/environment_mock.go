package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/turtacn/secstate/internal/domain/models"
)

type MockEnvironmentDetector struct {
	mock.Mock
}

func (m *MockEnvironmentDetector) Attributes(ctx context.Context) (models.DeviceAttributes, error) {
	args := m.Called(ctx)
	return args.Get(0).(models.DeviceAttributes), args.Error(1)
}

type MockEventSink struct {
	mock.Mock
}

func (m *MockEventSink) Publish(ctx context.Context, event models.SecurityEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}
