package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"storybook-server/internal/models"
	"storybook-server/internal/repository"
)

// MockStoryRepository is a mock type for the StoryRepository type
type MockStoryRepository struct {
	mock.Mock
}

// Create provides a mock function with given fields: ctx, story
func (_m *MockStoryRepository) Create(ctx context.Context, story *models.Story) (string, error) {
	ret := _m.Called(ctx, story)

	var r0 string
	if rf, ok := ret.Get(0).(func(context.Context, *models.Story) string); ok {
		r0 = rf(ctx, story)
	} else {
		r0 = ret.String(0)
	}
	return r0, ret.Error(1)
}

// List provides a mock function with given fields: ctx, ownerID
func (_m *MockStoryRepository) List(ctx context.Context, ownerID string) ([]models.Story, error) {
	ret := _m.Called(ctx, ownerID)

	var r0 []models.Story
	if ret.Get(0) != nil {
		r0 = ret.Get(0).([]models.Story)
	}
	return r0, ret.Error(1)
}

// GetByID provides a mock function with given fields: ctx, ownerID, id
func (_m *MockStoryRepository) GetByID(ctx context.Context, ownerID string, id string) (*models.Story, error) {
	ret := _m.Called(ctx, ownerID, id)

	var r0 *models.Story
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*models.Story)
	}
	return r0, ret.Error(1)
}

// Subscribe provides a mock function with given fields: ctx, ownerID, fn
func (_m *MockStoryRepository) Subscribe(ctx context.Context, ownerID string, fn repository.SnapshotFunc) (repository.Subscription, error) {
	ret := _m.Called(ctx, ownerID, fn)

	var r0 repository.Subscription
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(repository.Subscription)
	}
	return r0, ret.Error(1)
}

// Delete provides a mock function with given fields: ctx, ownerID, id
func (_m *MockStoryRepository) Delete(ctx context.Context, ownerID string, id string) error {
	ret := _m.Called(ctx, ownerID, id)
	return ret.Error(0)
}

// NewMockStoryRepository creates a new instance of MockStoryRepository.
func NewMockStoryRepository(t interface {
	mock.TestingT
	Helper()
}) *MockStoryRepository {
	m := &MockStoryRepository{}
	m.Mock.Test(t)
	t.Helper()
	return m
}

var _ repository.StoryRepository = (*MockStoryRepository)(nil)
