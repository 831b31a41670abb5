package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/jlk/checkmk-llm-server-sub000/internal/features/history/domain"
)

// MockProvider is a mock implementation of domain.Provider
type MockProvider struct {
	mock.Mock
}

// ExtractHistoricalData mocks the ExtractHistoricalData method
func (m *MockProvider) ExtractHistoricalData(ctx context.Context, period, host, check string) ([]domain.Sample, error) {
	args := m.Called(ctx, period, host, check)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Sample), args.Error(1)
}
