package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"storybook-server/internal/models"
	"storybook-server/internal/service"
)

// MockNarrativeGenerator is a mock type for the NarrativeGenerator type
type MockNarrativeGenerator struct {
	mock.Mock
}

// GenerateNarrative provides a mock function with given fields: ctx, prompt, image
func (_m *MockNarrativeGenerator) GenerateNarrative(ctx context.Context, prompt string, image *models.InspirationImage) (string, error) {
	ret := _m.Called(ctx, prompt, image)

	var r0 string
	if rf, ok := ret.Get(0).(func(context.Context, string, *models.InspirationImage) string); ok {
		r0 = rf(ctx, prompt, image)
	} else {
		r0 = ret.String(0)
	}

	var r1 error
	if rf, ok := ret.Get(1).(func(context.Context, string, *models.InspirationImage) error); ok {
		r1 = rf(ctx, prompt, image)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// NewMockNarrativeGenerator creates a new instance of MockNarrativeGenerator.
func NewMockNarrativeGenerator(t interface {
	mock.TestingT
	Helper()
}) *MockNarrativeGenerator {
	m := &MockNarrativeGenerator{}
	m.Mock.Test(t)
	t.Helper()
	return m
}

var _ service.NarrativeGenerator = (*MockNarrativeGenerator)(nil)
