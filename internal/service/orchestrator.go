package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"storybook-server/internal/models"
	"storybook-server/internal/repository"
	"storybook-server/internal/segmenter"
)

const (
	defaultTheme          = "a friendly animal discovering something magical"
	defaultPromptTemplate = "A fun and adventurous random story for kids about %s, told in about %d short paragraphs."
	fallbackTitleTemplate = "A Magical Adventure #%d"
)

var (
	generationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storybook_generations_total",
			Help: "Total number of story generation pipelines by outcome.",
		},
		[]string{"outcome"},
	)
	illustrationPlaceholdersTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "storybook_illustration_placeholders_total",
			Help: "Total number of pages that received a placeholder illustration.",
		},
	)
	generationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storybook_generation_duration_seconds",
			Help:    "Duration of the whole generation pipeline.",
			Buckets: []float64{1, 5, 10, 20, 30, 60, 120, 300},
		},
		[]string{"outcome"},
	)
)

// RepositoryResolver выбирает коллекцию историй по классу вызывающего.
type RepositoryResolver interface {
	Resolve(identity models.Identity) (repository.StoryRepository, error)
}

// ProgressNotifier получает события прогресса вне процесса (например, через брокер).
type ProgressNotifier interface {
	NotifyProgress(ctx context.Context, req models.GenerationRequest, progress models.GenerationProgress) error
}

// ProgressFunc колбэк прогресса одного вызова Generate.
type ProgressFunc func(progress models.GenerationProgress)

// OrchestratorConfig параметры конвейера. Нулевые Now и RandIntn заменяются стандартными.
// Requirements необязателен: без него промпт дополняется только длиной и профилем из запроса.
type OrchestratorConfig struct {
	Themes       []string
	Splitter     segmenter.Splitter
	Requirements RequirementsExtractor
	Now          func() time.Time
	RandIntn     func(n int) int
}

// GenerationOrchestrator собирает иллюстрированную историю из промпта.
type GenerationOrchestrator struct {
	narrative     NarrativeGenerator
	illustrations IllustrationGenerator
	resolver      RepositoryResolver
	notifier      ProgressNotifier
	cfg           OrchestratorConfig
	logger        *zap.Logger
}

// NewGenerationOrchestrator создает оркестратор. notifier может быть nil.
func NewGenerationOrchestrator(
	narrative NarrativeGenerator,
	illustrations IllustrationGenerator,
	resolver RepositoryResolver,
	notifier ProgressNotifier,
	cfg OrchestratorConfig,
	logger *zap.Logger,
) *GenerationOrchestrator {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.RandIntn == nil {
		cfg.RandIntn = rand.Intn
	}
	if len(cfg.Themes) == 0 {
		cfg.Themes = []string{defaultTheme}
	}
	return &GenerationOrchestrator{
		narrative:     narrative,
		illustrations: illustrations,
		resolver:      resolver,
		notifier:      notifier,
		cfg:           cfg,
		logger:        logger.Named("GenerationOrchestrator"),
	}
}

// Generate проводит запрос через все стадии: проверка, текст, страницы, иллюстрации, сохранение.
// Возвращенная история несет идентификатор, присвоенный хранилищем. При любой фатальной
// ошибке ни одна коллекция не изменяется.
func (o *GenerationOrchestrator) Generate(ctx context.Context, req models.GenerationRequest, progressFn ProgressFunc) (*models.Story, error) {
	start := o.cfg.Now()
	log := o.logger.With(
		zap.String("identity_class", string(req.Identity.Class)),
		zap.String("user_id", req.Identity.UserID),
		zap.String("session_id", req.Identity.SessionID),
		zap.String("request_id", req.RequestID),
	)

	if err := o.validate(req); err != nil {
		log.Warn("Generation request rejected", zap.Error(err))
		generationsTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	fail := func(err error) (*models.Story, error) {
		log.Error("Story generation failed", zap.Error(err))
		o.emit(ctx, req, progressFn, models.GenerationProgress{Stage: models.StageFailed, Message: err.Error()})
		generationsTotal.WithLabelValues("failed").Inc()
		generationDuration.WithLabelValues("failed").Observe(time.Since(start).Seconds())
		return nil, err
	}

	prompt := strings.TrimSpace(req.Prompt)
	length := req.Length
	var reqs *models.StoryRequirements
	if prompt != "" && o.cfg.Requirements != nil {
		reqs = o.extractRequirements(ctx, prompt, log)
		if length == "" {
			if l, ok := models.ParseStoryLength(reqs.Length); ok {
				length = l
			}
		}
	}
	splitter := o.splitterFor(length)

	switch {
	case prompt == "":
		prompt = o.defaultPrompt(splitter.MaxPages)
		if !req.Profile.IsZero() {
			prompt = BuildStoryPrompt(prompt, length, req.Profile, nil)
		}
		log.Info("Empty prompt, using default theme prompt", zap.String("prompt", prompt))
	case length != "" || !req.Profile.IsZero() || reqs != nil:
		prompt = BuildStoryPrompt(prompt, length, req.Profile, reqs)
		log.Debug("Prompt enriched", zap.String("length", string(length)), zap.Int("prompt_bytes", len(prompt)))
	}

	// Текст истории. Для текстовой модели используется только первое изображение.
	o.emit(ctx, req, progressFn, models.GenerationProgress{Stage: models.StageNarrativeInFlight})
	var firstImage *models.InspirationImage
	if req.HasImages() {
		firstImage = &req.Images[0]
	}
	text, err := o.narrative.GenerateNarrative(ctx, prompt, firstImage)
	if err != nil {
		if !errors.Is(err, models.ErrNarrativeGeneration) {
			err = fmt.Errorf("%w: %v", models.ErrNarrativeGeneration, err)
		}
		return fail(err)
	}

	texts := splitter.SplitWithFallback(text)
	if len(texts) == 0 {
		return fail(fmt.Errorf("%w: narrative produced no usable text", models.ErrEmptyGeneration))
	}
	log.Info("Narrative segmented", zap.Int("pages", len(texts)), zap.Int("text_length", len(text)))

	// Иллюстрации строго последовательно, так что прогресс монотонен по номеру страницы.
	pages := make([]models.Page, len(texts))
	styleHint := req.HasImages()
	for i, pageText := range texts {
		imageURL, err := o.illustrations.GenerateIllustration(ctx, pageText, styleHint)
		if err != nil || imageURL == "" {
			if err == nil {
				err = fmt.Errorf("%w: empty image reference", models.ErrIllustrationGeneration)
			}
			log.Warn("Illustration failed, using placeholder", zap.Int("page", i+1), zap.Error(err))
			illustrationPlaceholdersTotal.Inc()
			imageURL = models.PlaceholderIllustrationURL
		}
		pages[i] = models.Page{Index: i + 1, Text: pageText, ImageURL: imageURL}
		o.emit(ctx, req, progressFn, models.GenerationProgress{
			Stage:       models.StageIllustratingPage,
			CurrentPage: i + 1,
			TotalPages:  len(texts),
		})
	}

	story := &models.Story{
		Title:         o.title(req.Prompt),
		Pages:         pages,
		CreatedAt:     o.cfg.Now(),
		OwnerID:       req.Identity.OwnerKey(),
		CoverImageURL: pages[0].ImageURL,
	}
	if story.CoverImageURL == "" {
		story.CoverImageURL = models.DefaultCoverURL
	}

	repo, err := o.resolver.Resolve(req.Identity)
	if err != nil {
		return fail(fmt.Errorf("%w: cannot resolve collection: %v", models.ErrPersistence, err))
	}
	id, err := repo.Create(ctx, story)
	if err != nil {
		if !errors.Is(err, models.ErrPersistence) {
			err = fmt.Errorf("%w: %v", models.ErrPersistence, err)
		}
		return fail(err)
	}
	story.ID = id

	o.emit(ctx, req, progressFn, models.GenerationProgress{
		Stage:       models.StageDone,
		CurrentPage: len(pages),
		TotalPages:  len(pages),
		StoryID:     id,
	})
	generationsTotal.WithLabelValues("success").Inc()
	generationDuration.WithLabelValues("success").Observe(time.Since(start).Seconds())
	log.Info("Story generated", zap.String("story_id", id), zap.Int("pages", len(pages)))
	return story, nil
}

func (o *GenerationOrchestrator) validate(req models.GenerationRequest) error {
	switch req.Identity.Class {
	case models.IdentityAuthenticated:
		if req.Identity.UserID == "" {
			return fmt.Errorf("%w: authenticated identity without user id", models.ErrValidation)
		}
	case models.IdentityGuest:
		if req.Identity.SessionID == "" {
			return fmt.Errorf("%w: guest identity without session id", models.ErrValidation)
		}
	default:
		return fmt.Errorf("%w: authentication required to generate stories", models.ErrValidation)
	}

	if len(req.Images) > models.MaxInspirationImages {
		return fmt.Errorf("%w: at most %d inspiration images allowed, got %d",
			models.ErrValidation, models.MaxInspirationImages, len(req.Images))
	}
	for i, img := range req.Images {
		if len(img.Data) == 0 || img.MimeType == "" {
			return fmt.Errorf("%w: inspiration image %d has no data or MIME type", models.ErrValidation, i+1)
		}
	}

	// Неизвестная гостевая сессия отсекается до внешних вызовов.
	if _, err := o.resolver.Resolve(req.Identity); err != nil {
		return fmt.Errorf("%w: %v", models.ErrValidation, err)
	}
	return nil
}

// extractRequirements не бывает фатальным: при ошибке остается исходный промпт.
func (o *GenerationOrchestrator) extractRequirements(ctx context.Context, prompt string, log *zap.Logger) *models.StoryRequirements {
	reqs, err := o.cfg.Requirements.ExtractRequirements(ctx, prompt)
	if err != nil {
		log.Warn("Requirements extraction failed, using prompt as is", zap.Error(err))
		fallback := models.FallbackRequirements(prompt, err)
		return &fallback
	}
	return &reqs
}

// splitterFor: явная длина задает число страниц вместо STORY_MAX_PAGES.
func (o *GenerationOrchestrator) splitterFor(length models.StoryLength) segmenter.Splitter {
	s := o.cfg.Splitter
	if pages := length.Pages(); pages > 0 {
		s.MaxPages = pages
	}
	return s
}

func (o *GenerationOrchestrator) defaultPrompt(paragraphs int) string {
	theme := o.cfg.Themes[o.cfg.RandIntn(len(o.cfg.Themes))]
	if paragraphs <= 0 {
		paragraphs = segmenter.DefaultMaxPages
	}
	return fmt.Sprintf(defaultPromptTemplate, theme, paragraphs)
}

func (o *GenerationOrchestrator) title(prompt string) string {
	if t := models.TitleFromPrompt(prompt); t != "" {
		return t
	}
	return fmt.Sprintf(fallbackTitleTemplate, o.cfg.RandIntn(1000))
}

func (o *GenerationOrchestrator) emit(ctx context.Context, req models.GenerationRequest, fn ProgressFunc, p models.GenerationProgress) {
	if fn != nil {
		fn(p)
	}
	if o.notifier == nil {
		return
	}
	if err := o.notifier.NotifyProgress(ctx, req, p); err != nil {
		o.logger.Warn("Failed to publish progress notification",
			zap.String("request_id", req.RequestID),
			zap.String("stage", string(p.Stage)),
			zap.Error(err),
		)
	}
}
