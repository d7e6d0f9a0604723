package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sukryu/gorm-oso/pkg/client"
)

// MockRowFilterer implements client.RowFilterer.
type MockRowFilterer struct {
	mock.Mock
}

func NewMockRowFilterer() *MockRowFilterer {
	return &MockRowFilterer{}
}

func (m *MockRowFilterer) ListLocal(ctx context.Context, actor client.Value, action, resourceType, column string) (string, error) {
	args := m.Called(ctx, actor, action, resourceType, column)
	return args.String(0), args.Error(1)
}
