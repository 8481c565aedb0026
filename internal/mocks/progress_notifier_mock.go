package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"storybook-server/internal/models"
	"storybook-server/internal/service"
)

// MockProgressNotifier is a mock type for the ProgressNotifier type
type MockProgressNotifier struct {
	mock.Mock
}

// NotifyProgress provides a mock function with given fields: ctx, req, progress
func (_m *MockProgressNotifier) NotifyProgress(ctx context.Context, req models.GenerationRequest, progress models.GenerationProgress) error {
	ret := _m.Called(ctx, req, progress)
	return ret.Error(0)
}

// NewMockProgressNotifier creates a new instance of MockProgressNotifier.
func NewMockProgressNotifier(t interface {
	mock.TestingT
	Helper()
}) *MockProgressNotifier {
	m := &MockProgressNotifier{}
	m.Mock.Test(t)
	t.Helper()
	return m
}

var _ service.ProgressNotifier = (*MockProgressNotifier)(nil)
