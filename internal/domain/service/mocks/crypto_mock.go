package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type MockCipher struct {
	mock.Mock
}

func (m *MockCipher) Encrypt(plaintext []byte) ([]byte, error) {
	args := m.Called(plaintext)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockCipher) Decrypt(ciphertext []byte) ([]byte, error) {
	args := m.Called(ciphertext)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

type MockHasher struct {
	mock.Mock
}

func (m *MockHasher) Hash(ctx context.Context, values []string) (string, error) {
	args := m.Called(ctx, values)
	return args.String(0), args.Error(1)
}
