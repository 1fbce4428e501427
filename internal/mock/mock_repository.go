package mock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sizemap/internal/repository"
	"github.com/sizemap/pkg/model"
)

var _ repository.ReportRepository = (*MockReportRepository)(nil)

// MockReportRepository is a mock implementation of repository.ReportRepository.
type MockReportRepository struct {
	mock.Mock
}

// Save mocks the Save method.
func (m *MockReportRepository) Save(ctx context.Context, report *model.Report) error {
	args := m.Called(ctx, report)
	return args.Error(0)
}

// Get mocks the Get method.
func (m *MockReportRepository) Get(ctx context.Context, id string) (*model.Report, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Report), args.Error(1)
}

// List mocks the List method.
func (m *MockReportRepository) List(ctx context.Context, opts repository.ListOptions) ([]*model.Report, error) {
	args := m.Called(ctx, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Report), args.Error(1)
}

// Entries mocks the Entries method.
func (m *MockReportRepository) Entries(ctx context.Context, id string, maxDepth int) ([]model.Entry, error) {
	args := m.Called(ctx, id, maxDepth)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Entry), args.Error(1)
}

// Delete mocks the Delete method.
func (m *MockReportRepository) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}
