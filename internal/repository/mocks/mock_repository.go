package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockStateStore is a mock implementation of repository.StateStore.
type MockStateStore struct {
	mock.Mock
}

// NewMockStateStore creates a new MockStateStore instance.
func NewMockStateStore() *MockStateStore {
	return &MockStateStore{}
}

// Load mocks the Load method.
func (m *MockStateStore) Load(ctx context.Context, key string) ([]byte, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

// Save mocks the Save method.
func (m *MockStateStore) Save(ctx context.Context, key string, data []byte) error {
	args := m.Called(ctx, key, data)
	return args.Error(0)
}
