package service_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"storybook-server/internal/mocks"
	"storybook-server/internal/models"
	"storybook-server/internal/repository"
	"storybook-server/internal/segmenter"
	"storybook-server/internal/service"
	"storybook-server/internal/session"
)

var (
	para1 = "Milo the mouse lived under the old library and loved to read at night."
	para2 = "One night he found a book that glowed softly whenever he turned a page."
	para3 = "The book led him to a secret garden where the moonflowers sang lullabies."
	fixed = time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)

	authUser = models.Identity{Class: models.IdentityAuthenticated, UserID: "user-42"}
)

type harness struct {
	narrative     *mocks.MockNarrativeGenerator
	illustrations *mocks.MockIllustrationGenerator
	resolver      *mocks.MockRepositoryResolver
	repo          *mocks.MockStoryRepository
	orchestrator  *service.GenerationOrchestrator
}

func newHarness(t *testing.T, notifier service.ProgressNotifier) *harness {
	h := &harness{
		narrative:     mocks.NewMockNarrativeGenerator(t),
		illustrations: mocks.NewMockIllustrationGenerator(t),
		resolver:      mocks.NewMockRepositoryResolver(t),
		repo:          mocks.NewMockStoryRepository(t),
	}
	h.orchestrator = service.NewGenerationOrchestrator(
		h.narrative, h.illustrations, h.resolver, notifier,
		service.OrchestratorConfig{
			Themes:   []string{"a shy octopus"},
			Splitter: segmenter.NewSplitter(30, 5),
			Now:      func() time.Time { return fixed },
			RandIntn: func(int) int { return 7 },
		},
		zap.NewNop(),
	)
	return h
}

func (h *harness) assertAll(t *testing.T) {
	h.narrative.AssertExpectations(t)
	h.illustrations.AssertExpectations(t)
	h.resolver.AssertExpectations(t)
	h.repo.AssertExpectations(t)
}

func threeParagraphs() string {
	return strings.Join([]string{para1, para2, para3}, "\n\n")
}

func TestGenerate_EmptyPromptUsesDefaultThemeAndIllustratesInOrder(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	req := models.GenerationRequest{Identity: authUser}

	h.resolver.On("Resolve", authUser).Return(h.repo, nil)
	h.narrative.On("GenerateNarrative", ctx,
		"A fun and adventurous random story for kids about a shy octopus, told in about 5 short paragraphs.",
		(*models.InspirationImage)(nil),
	).Return(threeParagraphs(), nil).Once()

	var events []models.GenerationProgress
	var order []string
	for i, p := range []string{para1, para2, para3} {
		page := i + 1
		p := p
		h.illustrations.On("GenerateIllustration", ctx, p, false).Run(func(mock.Arguments) {
			// Прогресс предыдущей страницы уже отправлен до следующего вызова.
			require.Len(t, events, page, "progress for page %d must precede its successor", page-1)
			order = append(order, p)
		}).Return("data:image/png;base64,page"+string(rune('0'+page)), nil).Once()
	}
	h.repo.On("Create", ctx, mock.AnythingOfType("*models.Story")).Return("story-1", nil).Once()

	story, err := h.orchestrator.Generate(ctx, req, func(p models.GenerationProgress) {
		events = append(events, p)
	})
	require.NoError(t, err)

	assert.Equal(t, []string{para1, para2, para3}, order)
	require.Len(t, story.Pages, 3)
	for i, p := range story.Pages {
		assert.Equal(t, i+1, p.Index)
	}
	assert.Equal(t, "story-1", story.ID)
	assert.Equal(t, "A Magical Adventure #7", story.Title)
	assert.Equal(t, story.Pages[0].ImageURL, story.CoverImageURL)
	assert.Equal(t, "user-42", story.OwnerID)
	assert.True(t, story.CreatedAt.Equal(fixed))

	require.Len(t, events, 5)
	assert.Equal(t, models.StageNarrativeInFlight, events[0].Stage)
	for i := 1; i <= 3; i++ {
		assert.Equal(t, models.StageIllustratingPage, events[i].Stage)
		assert.Equal(t, i, events[i].CurrentPage)
		assert.Equal(t, 3, events[i].TotalPages)
	}
	assert.Equal(t, models.StageDone, events[4].Stage)
	assert.Equal(t, "story-1", events[4].StoryID)

	h.assertAll(t)
}

func TestGenerate_TitleFromPrompt(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	prompt := "  A tiny turtle who wants to fly to the moon and back again  "

	h.resolver.On("Resolve", authUser).Return(h.repo, nil)
	h.narrative.On("GenerateNarrative", ctx, strings.TrimSpace(prompt), (*models.InspirationImage)(nil)).Return(para1, nil).Once()
	h.illustrations.On("GenerateIllustration", ctx, para1, false).Return("https://img/1.png", nil).Once()
	h.repo.On("Create", ctx, mock.AnythingOfType("*models.Story")).Return("id", nil).Once()

	story, err := h.orchestrator.Generate(ctx, models.GenerationRequest{Prompt: prompt, Identity: authUser}, nil)
	require.NoError(t, err)
	assert.Equal(t, "A tiny turtle who wants to fly to the mo", story.Title)
	h.assertAll(t)
}

func TestGenerate_IllustrationFailureForOnePageUsesPlaceholder(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	h.resolver.On("Resolve", authUser).Return(h.repo, nil)
	h.narrative.On("GenerateNarrative", ctx, "mice", (*models.InspirationImage)(nil)).Return(threeParagraphs(), nil).Once()
	h.illustrations.On("GenerateIllustration", ctx, para1, false).Return("u1", nil).Once()
	h.illustrations.On("GenerateIllustration", ctx, para2, false).Return("", errors.New("quota exceeded")).Once()
	h.illustrations.On("GenerateIllustration", ctx, para3, false).Return("u3", nil).Once()

	var saved *models.Story
	h.repo.On("Create", ctx, mock.AnythingOfType("*models.Story")).Run(func(args mock.Arguments) {
		saved = args.Get(1).(*models.Story)
	}).Return("id", nil).Once()

	story, err := h.orchestrator.Generate(ctx, models.GenerationRequest{Prompt: "mice", Identity: authUser}, nil)
	require.NoError(t, err)
	require.Len(t, story.Pages, 3)
	assert.Equal(t, "u1", story.Pages[0].ImageURL)
	assert.Equal(t, models.PlaceholderIllustrationURL, story.Pages[1].ImageURL)
	assert.Equal(t, "u3", story.Pages[2].ImageURL)
	assert.Equal(t, para2, story.Pages[1].Text)
	assert.Same(t, saved, story)
	h.assertAll(t)
}

func TestGenerate_FirstPagePlaceholderBecomesCover(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	h.resolver.On("Resolve", authUser).Return(h.repo, nil)
	h.narrative.On("GenerateNarrative", ctx, "x", (*models.InspirationImage)(nil)).Return(para1, nil).Once()
	h.illustrations.On("GenerateIllustration", ctx, para1, false).Return("", nil).Once()
	h.repo.On("Create", ctx, mock.Anything).Return("id", nil).Once()

	story, err := h.orchestrator.Generate(ctx, models.GenerationRequest{Prompt: "x", Identity: authUser}, nil)
	require.NoError(t, err)
	assert.Equal(t, models.PlaceholderIllustrationURL, story.CoverImageURL)
}

func TestGenerate_NarrativeFailureIsFatalAndWritesNothing(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	h.resolver.On("Resolve", authUser).Return(h.repo, nil).Once()
	h.narrative.On("GenerateNarrative", ctx, "dragons", (*models.InspirationImage)(nil)).
		Return("", errors.New("upstream 500")).Once()

	var events []models.GenerationProgress
	story, err := h.orchestrator.Generate(ctx, models.GenerationRequest{Prompt: "dragons", Identity: authUser},
		func(p models.GenerationProgress) { events = append(events, p) })

	require.Error(t, err)
	assert.Nil(t, story)
	assert.ErrorIs(t, err, models.ErrNarrativeGeneration)
	h.illustrations.AssertNotCalled(t, "GenerateIllustration", mock.Anything, mock.Anything, mock.Anything)
	h.repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	require.NotEmpty(t, events)
	assert.Equal(t, models.StageFailed, events[len(events)-1].Stage)
	h.assertAll(t)
}

func TestGenerate_NarrativeFailureLeavesGuestCollectionUntouched(t *testing.T) {
	narrative := mocks.NewMockNarrativeGenerator(t)
	illustrations := mocks.NewMockIllustrationGenerator(t)
	sessions := session.NewManager(nil, zap.NewNop())
	guest := sessions.StartGuest()

	o := service.NewGenerationOrchestrator(narrative, illustrations, sessions, nil,
		service.OrchestratorConfig{Splitter: segmenter.NewSplitter(30, 5)}, zap.NewNop())

	narrative.On("GenerateNarrative", mock.Anything, mock.Anything, mock.Anything).
		Return("", models.ErrNarrativeGeneration).Once()

	_, err := o.Generate(context.Background(), models.GenerationRequest{
		Prompt:   "owls",
		Identity: models.Identity{Class: models.IdentityGuest, SessionID: guest.ID},
	}, nil)
	assert.ErrorIs(t, err, models.ErrNarrativeGeneration)
	assert.Equal(t, 1, guest.Stories.Len(), "only the demo story remains")
	narrative.AssertExpectations(t)
}

func TestGenerate_SingleShortResponseFallsBackToOnePage(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	h.resolver.On("Resolve", authUser).Return(h.repo, nil)
	h.narrative.On("GenerateNarrative", ctx, "tiny", (*models.InspirationImage)(nil)).Return("  The end.  \n\n Bye. ", nil).Once()
	h.illustrations.On("GenerateIllustration", ctx, "The end.  \n\n Bye.", false).Return("u", nil).Once()
	h.repo.On("Create", ctx, mock.Anything).Return("id", nil).Once()

	story, err := h.orchestrator.Generate(ctx, models.GenerationRequest{Prompt: "tiny", Identity: authUser}, nil)
	require.NoError(t, err)
	require.Len(t, story.Pages, 1)
	assert.Equal(t, "The end.  \n\n Bye.", story.Pages[0].Text)
	h.assertAll(t)
}

func TestGenerate_WhitespaceResponseIsEmptyGeneration(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	h.resolver.On("Resolve", authUser).Return(h.repo, nil).Once()
	h.narrative.On("GenerateNarrative", ctx, "void", (*models.InspirationImage)(nil)).Return(" \n\n \t", nil).Once()

	story, err := h.orchestrator.Generate(ctx, models.GenerationRequest{Prompt: "void", Identity: authUser}, nil)
	assert.Nil(t, story)
	assert.ErrorIs(t, err, models.ErrEmptyGeneration)
	h.repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	h.assertAll(t)
}

func TestGenerate_OnlyFirstImageSentAndStyleHintSet(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	images := []models.InspirationImage{
		{MimeType: "image/png", Data: []byte{1, 2, 3}, Name: "first.png"},
		{MimeType: "image/jpeg", Data: []byte{4, 5}, Name: "second.jpg"},
	}

	h.resolver.On("Resolve", authUser).Return(h.repo, nil)
	h.narrative.On("GenerateNarrative", ctx, "style", mock.MatchedBy(func(img *models.InspirationImage) bool {
		return img != nil && img.Name == "first.png"
	})).Return(para1, nil).Once()
	h.illustrations.On("GenerateIllustration", ctx, para1, true).Return("u", nil).Once()
	h.repo.On("Create", ctx, mock.Anything).Return("id", nil).Once()

	_, err := h.orchestrator.Generate(ctx, models.GenerationRequest{Prompt: "style", Images: images, Identity: authUser}, nil)
	require.NoError(t, err)
	h.assertAll(t)
}

func TestGenerate_ValidationRejectsBeforeExternalCalls(t *testing.T) {
	tooMany := make([]models.InspirationImage, models.MaxInspirationImages+1)
	for i := range tooMany {
		tooMany[i] = models.InspirationImage{MimeType: "image/png", Data: []byte{1}}
	}

	tests := []struct {
		name string
		req  models.GenerationRequest
	}{
		{"unauthenticated", models.GenerationRequest{Prompt: "x", Identity: models.Identity{Class: models.IdentityUnauthenticated}}},
		{"empty identity", models.GenerationRequest{Prompt: "x"}},
		{"authenticated without user", models.GenerationRequest{Identity: models.Identity{Class: models.IdentityAuthenticated}}},
		{"guest without session", models.GenerationRequest{Identity: models.Identity{Class: models.IdentityGuest}}},
		{"too many images", models.GenerationRequest{Identity: authUser, Images: tooMany}},
		{"image without data", models.GenerationRequest{Identity: authUser, Images: []models.InspirationImage{{MimeType: "image/png"}}}},
		{"image without mime", models.GenerationRequest{Identity: authUser, Images: []models.InspirationImage{{Data: []byte{1}}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			var events []models.GenerationProgress
			_, err := h.orchestrator.Generate(context.Background(), tt.req, func(p models.GenerationProgress) {
				events = append(events, p)
			})
			assert.ErrorIs(t, err, models.ErrValidation)
			assert.Empty(t, events)
			h.narrative.AssertNotCalled(t, "GenerateNarrative", mock.Anything, mock.Anything, mock.Anything)
			h.resolver.AssertNotCalled(t, "Resolve", mock.Anything)
		})
	}
}

func TestGenerate_UnknownGuestSessionRejected(t *testing.T) {
	h := newHarness(t, nil)
	guest := models.Identity{Class: models.IdentityGuest, SessionID: "gone"}
	h.resolver.On("Resolve", guest).Return(nil, models.ErrNotFound).Once()

	_, err := h.orchestrator.Generate(context.Background(), models.GenerationRequest{Identity: guest}, nil)
	assert.ErrorIs(t, err, models.ErrValidation)
	h.assertAll(t)
}

func TestGenerate_PersistenceFailure(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	h.resolver.On("Resolve", authUser).Return(h.repo, nil)
	h.narrative.On("GenerateNarrative", ctx, "x", (*models.InspirationImage)(nil)).Return(para1, nil).Once()
	h.illustrations.On("GenerateIllustration", ctx, para1, false).Return("u", nil).Once()
	h.repo.On("Create", ctx, mock.Anything).Return("", errors.New("connection reset")).Once()

	var last models.GenerationProgress
	story, err := h.orchestrator.Generate(ctx, models.GenerationRequest{Prompt: "x", Identity: authUser},
		func(p models.GenerationProgress) { last = p })
	assert.Nil(t, story)
	assert.ErrorIs(t, err, models.ErrPersistence)
	assert.Equal(t, models.StageFailed, last.Stage)
	h.assertAll(t)
}

func TestGenerate_GuestStoryGoesToGuestCollectionOnly(t *testing.T) {
	narrative := mocks.NewMockNarrativeGenerator(t)
	illustrations := mocks.NewMockIllustrationGenerator(t)
	durable := mocks.NewMockStoryRepository(t)
	sessions := session.NewManager(durable, zap.NewNop())
	guest := sessions.StartGuest()

	o := service.NewGenerationOrchestrator(narrative, illustrations, sessions, nil,
		service.OrchestratorConfig{Splitter: segmenter.NewSplitter(30, 5)}, zap.NewNop())

	narrative.On("GenerateNarrative", mock.Anything, "bees", mock.Anything).Return(para1, nil).Once()
	illustrations.On("GenerateIllustration", mock.Anything, para1, false).Return("u", nil).Once()

	story, err := o.Generate(context.Background(), models.GenerationRequest{
		Prompt:   "bees",
		Identity: models.Identity{Class: models.IdentityGuest, SessionID: guest.ID},
	}, nil)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(story.ID, repository.GuestIDPrefix))
	assert.Empty(t, story.OwnerID)

	list, err := guest.Stories.List(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, story.ID, list[0].ID)
	durable.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)

	sessions.End(guest.ID)
	assert.Equal(t, 0, guest.Stories.Len())
}

func TestGenerate_ProgressIsPublishedToNotifier(t *testing.T) {
	notifier := mocks.NewMockProgressNotifier(t)
	h := newHarness(t, notifier)
	ctx := context.Background()
	req := models.GenerationRequest{Prompt: "x", Identity: authUser, RequestID: "task-1"}

	h.resolver.On("Resolve", authUser).Return(h.repo, nil)
	h.narrative.On("GenerateNarrative", ctx, "x", (*models.InspirationImage)(nil)).Return(para1, nil).Once()
	h.illustrations.On("GenerateIllustration", ctx, para1, false).Return("u", nil).Once()
	h.repo.On("Create", ctx, mock.Anything).Return("id", nil).Once()

	notifier.On("NotifyProgress", ctx, req, mock.MatchedBy(func(p models.GenerationProgress) bool {
		return p.Stage == models.StageNarrativeInFlight
	})).Return(nil).Once()
	notifier.On("NotifyProgress", ctx, req, mock.MatchedBy(func(p models.GenerationProgress) bool {
		return p.Stage == models.StageIllustratingPage
	})).Return(errors.New("broker down")).Once()
	notifier.On("NotifyProgress", ctx, req, mock.MatchedBy(func(p models.GenerationProgress) bool {
		return p.Stage == models.StageDone && p.StoryID == "id"
	})).Return(nil).Once()

	_, err := h.orchestrator.Generate(ctx, req, nil)
	require.NoError(t, err, "notifier failures are never fatal")
	notifier.AssertExpectations(t)
	h.assertAll(t)
}

func fiveParagraphs() string {
	return strings.Join([]string{para1, para2, para3, para1 + " Again.", para2 + " Again."}, "\n\n")
}

func TestGenerate_ExtractedRequirementsEnrichPromptAndLimitPages(t *testing.T) {
	narrative := mocks.NewMockNarrativeGenerator(t)
	illustrations := mocks.NewMockIllustrationGenerator(t)
	resolver := mocks.NewMockRepositoryResolver(t)
	repo := mocks.NewMockStoryRepository(t)
	extractor := mocks.NewMockRequirementsExtractor(t)
	o := service.NewGenerationOrchestrator(narrative, illustrations, resolver, nil,
		service.OrchestratorConfig{
			Splitter:     segmenter.NewSplitter(30, 5),
			Requirements: extractor,
			Now:          func() time.Time { return fixed },
		}, zap.NewNop())

	ctx := context.Background()
	prompt := "A quick story for Emma about a dragon"
	extracted := models.StoryRequirements{
		Ages:       []int{4},
		Length:     "quick",
		Names:      []string{"Emma"},
		Characters: []string{"dragon"},
	}
	extractor.On("ExtractRequirements", ctx, prompt).Return(extracted, nil).Once()
	resolver.On("Resolve", authUser).Return(repo, nil)
	narrative.On("GenerateNarrative", ctx, service.BuildStoryPrompt(prompt, models.LengthShort, nil, &extracted),
		(*models.InspirationImage)(nil)).Return(fiveParagraphs(), nil).Once()
	illustrations.On("GenerateIllustration", ctx, mock.Anything, false).Return("https://img/p.png", nil).Times(3)
	repo.On("Create", ctx, mock.AnythingOfType("*models.Story")).Return("story-short", nil).Once()

	story, err := o.Generate(ctx, models.GenerationRequest{Prompt: prompt, Identity: authUser}, nil)
	require.NoError(t, err)
	assert.Len(t, story.Pages, 3, "a short story is limited to three pages")
	assert.Equal(t, "A quick story for Emma about a dragon", story.Title)

	extractor.AssertExpectations(t)
	narrative.AssertExpectations(t)
	illustrations.AssertExpectations(t)
}

func TestGenerate_RequirementsFailureIsNotFatal(t *testing.T) {
	narrative := mocks.NewMockNarrativeGenerator(t)
	illustrations := mocks.NewMockIllustrationGenerator(t)
	resolver := mocks.NewMockRepositoryResolver(t)
	repo := mocks.NewMockStoryRepository(t)
	extractor := mocks.NewMockRequirementsExtractor(t)
	o := service.NewGenerationOrchestrator(narrative, illustrations, resolver, nil,
		service.OrchestratorConfig{Splitter: segmenter.NewSplitter(30, 5), Requirements: extractor}, zap.NewNop())

	ctx := context.Background()
	prompt := "a turtle who learns to swim"
	extractor.On("ExtractRequirements", ctx, prompt).Return(models.StoryRequirements{}, errors.New("model overloaded")).Once()
	resolver.On("Resolve", authUser).Return(repo, nil)
	narrative.On("GenerateNarrative", ctx, mock.MatchedBy(func(p string) bool {
		return strings.Contains(p, "Follow these instructions: "+prompt)
	}), (*models.InspirationImage)(nil)).Return(para1, nil).Once()
	illustrations.On("GenerateIllustration", ctx, para1, false).Return("https://img/1.png", nil).Once()
	repo.On("Create", ctx, mock.AnythingOfType("*models.Story")).Return("id", nil).Once()

	_, err := o.Generate(ctx, models.GenerationRequest{Prompt: prompt, Identity: authUser}, nil)
	require.NoError(t, err)
	narrative.AssertExpectations(t)
}

func TestGenerate_RequestLengthAndProfile(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	profile := &models.ChildProfile{Name: "Noah", Personality: "brave", Likes: []string{"boats"}}
	req := models.GenerationRequest{
		Prompt:   "a trip to the lighthouse",
		Identity: authUser,
		Length:   models.LengthLong,
		Profile:  profile,
	}

	h.resolver.On("Resolve", authUser).Return(h.repo, nil)
	h.narrative.On("GenerateNarrative", ctx, mock.MatchedBy(func(p string) bool {
		return strings.HasPrefix(p, "Write a story for a child named Noah who is brave and loves boats.") &&
			strings.Contains(p, "about 8 paragraphs")
	}), (*models.InspirationImage)(nil)).Return(fiveParagraphs()+"\n\n"+para3+" The end.", nil).Once()
	h.illustrations.On("GenerateIllustration", ctx, mock.Anything, false).Return("https://img/p.png", nil).Times(6)
	h.repo.On("Create", ctx, mock.AnythingOfType("*models.Story")).Return("story-long", nil).Once()

	story, err := h.orchestrator.Generate(ctx, req, nil)
	require.NoError(t, err)
	assert.Len(t, story.Pages, 6, "a long story is not cut at STORY_MAX_PAGES")
	h.assertAll(t)
}

func TestGenerate_EmptyPromptWithLengthAsksForThatManyParagraphs(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	h.resolver.On("Resolve", authUser).Return(h.repo, nil)
	h.narrative.On("GenerateNarrative", ctx,
		"A fun and adventurous random story for kids about a shy octopus, told in about 3 short paragraphs.",
		(*models.InspirationImage)(nil),
	).Return(fiveParagraphs(), nil).Once()
	h.illustrations.On("GenerateIllustration", ctx, mock.Anything, false).Return("https://img/p.png", nil).Times(3)
	h.repo.On("Create", ctx, mock.AnythingOfType("*models.Story")).Return("id", nil).Once()

	story, err := h.orchestrator.Generate(ctx, models.GenerationRequest{Identity: authUser, Length: models.LengthShort}, nil)
	require.NoError(t, err)
	assert.Len(t, story.Pages, 3)
	h.assertAll(t)
}
