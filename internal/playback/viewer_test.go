package playback_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"storybook-server/internal/mocks"
	"storybook-server/internal/models"
	"storybook-server/internal/playback"
)

func storyWithPages(n int) *models.Story {
	s := &models.Story{ID: "s1", Title: "T", CoverImageURL: models.DefaultCoverURL}
	for i := 1; i <= n; i++ {
		s.Pages = append(s.Pages, models.Page{Index: i, Text: "text " + string(rune('0'+i)), ImageURL: "img"})
	}
	return s
}

func TestViewer_FivePageBounds(t *testing.T) {
	v := playback.NewViewer(models.DemoStory(), mocks.NewMockNarrationEngine(t), zap.NewNop())

	assert.Equal(t, 0, v.Spread())
	assert.False(t, v.CanPrev())
	assert.False(t, v.Prev(), "prev is not allowed from spread 0")

	require.True(t, v.Next())
	require.True(t, v.Next())
	assert.Equal(t, 2, v.Spread())
	assert.False(t, v.CanNext())
	assert.False(t, v.Next(), "next is not allowed from the last spread")
	assert.Equal(t, 2, v.Spread())

	require.True(t, v.Prev())
	assert.Equal(t, 1, v.Spread())
}

func TestViewer_VisibleAndLabels(t *testing.T) {
	v := playback.NewViewer(storyWithPages(4), nil, zap.NewNop())

	visible := v.Visible()
	require.Len(t, visible, 2)
	assert.True(t, visible[0].IsCover)
	assert.Equal(t, "T", visible[0].Title)
	assert.Equal(t, 1, visible[1].Page.Index)
	assert.Equal(t, "Page 1", v.PageLabel())

	v.Next()
	assert.Equal(t, "Page 2/3", v.PageLabel())

	v.Next()
	visible = v.Visible()
	require.Len(t, visible, 1, "odd tail shows a single page")
	assert.Equal(t, "Page 4", v.PageLabel())
	assert.False(t, v.CanNext())
}

func TestViewer_CoverOnlyLabel(t *testing.T) {
	v := playback.NewViewer(&models.Story{ID: "empty", Title: "Nothing"}, nil, zap.NewNop())
	assert.Equal(t, "Cover", v.PageLabel())
	assert.False(t, v.CanNext())
}

func TestViewer_ToggleTwiceCancelsOnce(t *testing.T) {
	engine := mocks.NewMockNarrationEngine(t)
	story := models.DemoStory()
	engine.On("Speak", story.Pages[0].Text, mock.Anything).Return(playback.UtteranceID("u1"), nil).Once()
	engine.On("Cancel", playback.UtteranceID("u1")).Return().Once()

	v := playback.NewViewer(story, engine, zap.NewNop())

	require.NoError(t, v.ToggleNarration())
	assert.True(t, v.Reading())
	require.NoError(t, v.ToggleNarration())
	assert.False(t, v.Reading())

	engine.AssertExpectations(t)
	engine.AssertNumberOfCalls(t, "Cancel", 1)
}

func TestViewer_ReadsBothPagesOfSpread(t *testing.T) {
	engine := mocks.NewMockNarrationEngine(t)
	engine.On("Speak", "text 2 text 3", mock.Anything).Return(playback.UtteranceID("u1"), nil).Once()

	v := playback.NewViewer(storyWithPages(4), engine, zap.NewNop())
	require.True(t, v.Next())
	require.NoError(t, v.ToggleNarration())

	engine.AssertExpectations(t)
}

func TestViewer_PageTurnCancelsNarration(t *testing.T) {
	engine := mocks.NewMockNarrationEngine(t)
	engine.On("Speak", mock.Anything, mock.Anything).Return(playback.UtteranceID("u1"), nil).Once()
	engine.On("Cancel", playback.UtteranceID("u1")).Return().Once()

	v := playback.NewViewer(storyWithPages(4), engine, zap.NewNop())
	require.NoError(t, v.ToggleNarration())

	require.True(t, v.Next())
	assert.False(t, v.Reading())
	engine.AssertExpectations(t)
}

func TestViewer_DisallowedTurnKeepsReading(t *testing.T) {
	engine := mocks.NewMockNarrationEngine(t)
	engine.On("Speak", mock.Anything, mock.Anything).Return(playback.UtteranceID("u1"), nil).Once()

	v := playback.NewViewer(storyWithPages(2), engine, zap.NewNop())
	require.NoError(t, v.ToggleNarration())

	assert.False(t, v.Prev())
	assert.True(t, v.Reading())
	engine.AssertNotCalled(t, "Cancel", mock.Anything)
}

func TestViewer_NothingToRead(t *testing.T) {
	engine := mocks.NewMockNarrationEngine(t)
	story := &models.Story{ID: "blank", Pages: []models.Page{{Index: 1, Text: "   "}}}
	v := playback.NewViewer(story, engine, zap.NewNop())

	var notices []playback.Notice
	v.OnNotice(func(n playback.Notice) { notices = append(notices, n) })

	require.NoError(t, v.ToggleNarration())
	assert.False(t, v.Reading())
	require.Len(t, notices, 1)
	assert.Equal(t, playback.NarrationNothingToRead, notices[0].Message)
	assert.NoError(t, notices[0].Err)
	engine.AssertNotCalled(t, "Speak", mock.Anything, mock.Anything)
}

func TestViewer_EngineErrorOnStart(t *testing.T) {
	v := playback.NewViewer(storyWithPages(1), playback.UnsupportedEngine{}, zap.NewNop())

	err := v.ToggleNarration()
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrPlayback))
	assert.Equal(t, 1, strings.Count(err.Error(), models.ErrPlayback.Error()), "error is wrapped once: %s", err)
	assert.False(t, v.Reading())
}

func TestViewer_CompletionErrorWrappedOnce(t *testing.T) {
	engine := mocks.NewMockNarrationEngine(t)
	var done func(error)
	engine.On("Speak", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { done = args.Get(1).(func(error)) }).
		Return(playback.UtteranceID("u1"), nil).Once()

	v := playback.NewViewer(storyWithPages(1), engine, zap.NewNop())
	var notices []playback.Notice
	v.OnNotice(func(n playback.Notice) { notices = append(notices, n) })
	require.NoError(t, v.ToggleNarration())

	done(fmt.Errorf("%w: tts exited with code 1", models.ErrPlayback))
	require.Len(t, notices, 1)
	assert.True(t, errors.Is(notices[0].Err, models.ErrPlayback))
	assert.Equal(t, 1, strings.Count(notices[0].Err.Error(), models.ErrPlayback.Error()))
}

func TestViewer_CompletionClearsReading(t *testing.T) {
	engine := mocks.NewMockNarrationEngine(t)
	var done func(error)
	engine.On("Speak", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { done = args.Get(1).(func(error)) }).
		Return(playback.UtteranceID("u1"), nil).Once()

	v := playback.NewViewer(storyWithPages(1), engine, zap.NewNop())
	require.NoError(t, v.ToggleNarration())
	require.NotNil(t, done)

	done(nil)
	assert.False(t, v.Reading())
}

func TestViewer_StaleCompletionIgnored(t *testing.T) {
	engine := mocks.NewMockNarrationEngine(t)
	var callbacks []func(error)
	capture := func(args mock.Arguments) { callbacks = append(callbacks, args.Get(1).(func(error))) }
	engine.On("Speak", mock.Anything, mock.Anything).Run(capture).Return(playback.UtteranceID("u1"), nil).Once()
	engine.On("Speak", mock.Anything, mock.Anything).Run(capture).Return(playback.UtteranceID("u2"), nil).Once()
	engine.On("Cancel", playback.UtteranceID("u1")).Return().Once()

	v := playback.NewViewer(storyWithPages(1), engine, zap.NewNop())
	var notices []playback.Notice
	v.OnNotice(func(n playback.Notice) { notices = append(notices, n) })

	require.NoError(t, v.ToggleNarration())
	require.NoError(t, v.ToggleNarration())
	require.NoError(t, v.ToggleNarration())
	require.Len(t, callbacks, 2)

	callbacks[0](nil)
	assert.True(t, v.Reading(), "completion of a cancelled utterance must be ignored")

	callbacks[1](errors.New("audio device lost"))
	assert.False(t, v.Reading())
	require.Len(t, notices, 1)
	assert.True(t, errors.Is(notices[0].Err, models.ErrPlayback))
}

func TestViewer_CloseCancels(t *testing.T) {
	engine := mocks.NewMockNarrationEngine(t)
	engine.On("Speak", mock.Anything, mock.Anything).Return(playback.UtteranceID("u9"), nil).Once()
	engine.On("Cancel", playback.UtteranceID("u9")).Return().Once()

	v := playback.NewViewer(storyWithPages(3), engine, zap.NewNop())
	require.NoError(t, v.ToggleNarration())
	v.Close()

	assert.False(t, v.Reading())
	engine.AssertExpectations(t)
}

func TestEngineFromCommand_MissingCommand(t *testing.T) {
	engine := playback.EngineFromCommand("definitely-not-a-tts-binary-xyz", zap.NewNop())
	_, ok := engine.(playback.UnsupportedEngine)
	assert.True(t, ok)

	_, err := playback.NewCommandEngine("", zap.NewNop())
	assert.True(t, errors.Is(err, models.ErrPlayback))
}
