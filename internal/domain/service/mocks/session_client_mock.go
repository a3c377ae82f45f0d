package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/turtacn/secstate/internal/domain/models"
)

type MockSessionClient struct {
	mock.Mock
}

func (m *MockSessionClient) Refresh(ctx context.Context, refreshToken string) (*models.TokenData, error) {
	args := m.Called(ctx, refreshToken)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.TokenData), args.Error(1)
}

func (m *MockSessionClient) FetchCSRFToken(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}
