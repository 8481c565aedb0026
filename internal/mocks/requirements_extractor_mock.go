package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"storybook-server/internal/models"
	"storybook-server/internal/service"
)

// MockRequirementsExtractor is a mock type for the RequirementsExtractor type
type MockRequirementsExtractor struct {
	mock.Mock
}

// ExtractRequirements provides a mock function with given fields: ctx, prompt
func (_m *MockRequirementsExtractor) ExtractRequirements(ctx context.Context, prompt string) (models.StoryRequirements, error) {
	ret := _m.Called(ctx, prompt)

	var r0 models.StoryRequirements
	if rf, ok := ret.Get(0).(func(context.Context, string) models.StoryRequirements); ok {
		r0 = rf(ctx, prompt)
	} else {
		r0 = ret.Get(0).(models.StoryRequirements)
	}

	var r1 error
	if rf, ok := ret.Get(1).(func(context.Context, string) error); ok {
		r1 = rf(ctx, prompt)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// NewMockRequirementsExtractor creates a new instance of MockRequirementsExtractor.
func NewMockRequirementsExtractor(t interface {
	mock.TestingT
	Helper()
}) *MockRequirementsExtractor {
	m := &MockRequirementsExtractor{}
	m.Mock.Test(t)
	t.Helper()
	return m
}

var _ service.RequirementsExtractor = (*MockRequirementsExtractor)(nil)
