package mocks

import (
	"github.com/stretchr/testify/mock"

	"storybook-server/internal/playback"
)

// MockNarrationEngine is a mock type for the NarrationEngine type
type MockNarrationEngine struct {
	mock.Mock
}

// Speak provides a mock function with given fields: text, onDone
func (_m *MockNarrationEngine) Speak(text string, onDone func(error)) (playback.UtteranceID, error) {
	ret := _m.Called(text, onDone)

	var r0 playback.UtteranceID
	if rf, ok := ret.Get(0).(func(string, func(error)) playback.UtteranceID); ok {
		r0 = rf(text, onDone)
	} else {
		r0 = ret.Get(0).(playback.UtteranceID)
	}

	var r1 error
	if rf, ok := ret.Get(1).(func(string, func(error)) error); ok {
		r1 = rf(text, onDone)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// Cancel provides a mock function with given fields: id
func (_m *MockNarrationEngine) Cancel(id playback.UtteranceID) {
	_m.Called(id)
}

// NewMockNarrationEngine creates a new instance of MockNarrationEngine.
func NewMockNarrationEngine(t interface {
	mock.TestingT
	Helper()
}) *MockNarrationEngine {
	m := &MockNarrationEngine{}
	m.Mock.Test(t)
	t.Helper()
	return m
}

var _ playback.NarrationEngine = (*MockNarrationEngine)(nil)
