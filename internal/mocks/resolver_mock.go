package mocks

import (
	"github.com/stretchr/testify/mock"

	"storybook-server/internal/models"
	"storybook-server/internal/repository"
	"storybook-server/internal/service"
)

// MockRepositoryResolver is a mock type for the RepositoryResolver type
type MockRepositoryResolver struct {
	mock.Mock
}

// Resolve provides a mock function with given fields: identity
func (_m *MockRepositoryResolver) Resolve(identity models.Identity) (repository.StoryRepository, error) {
	ret := _m.Called(identity)

	var r0 repository.StoryRepository
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(repository.StoryRepository)
	}
	return r0, ret.Error(1)
}

// NewMockRepositoryResolver creates a new instance of MockRepositoryResolver.
func NewMockRepositoryResolver(t interface {
	mock.TestingT
	Helper()
}) *MockRepositoryResolver {
	m := &MockRepositoryResolver{}
	m.Mock.Test(t)
	t.Helper()
	return m
}

var _ service.RepositoryResolver = (*MockRepositoryResolver)(nil)
