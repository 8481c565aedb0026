package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"storybook-server/internal/service"
)

// MockIllustrationGenerator is a mock type for the IllustrationGenerator type
type MockIllustrationGenerator struct {
	mock.Mock
}

// GenerateIllustration provides a mock function with given fields: ctx, pageText, styleHint
func (_m *MockIllustrationGenerator) GenerateIllustration(ctx context.Context, pageText string, styleHint bool) (string, error) {
	ret := _m.Called(ctx, pageText, styleHint)

	var r0 string
	if rf, ok := ret.Get(0).(func(context.Context, string, bool) string); ok {
		r0 = rf(ctx, pageText, styleHint)
	} else {
		r0 = ret.String(0)
	}

	var r1 error
	if rf, ok := ret.Get(1).(func(context.Context, string, bool) error); ok {
		r1 = rf(ctx, pageText, styleHint)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// NewMockIllustrationGenerator creates a new instance of MockIllustrationGenerator.
func NewMockIllustrationGenerator(t interface {
	mock.TestingT
	Helper()
}) *MockIllustrationGenerator {
	m := &MockIllustrationGenerator{}
	m.Mock.Test(t)
	t.Helper()
	return m
}

var _ service.IllustrationGenerator = (*MockIllustrationGenerator)(nil)
