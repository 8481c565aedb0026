// Package handler HTTP-транспорт сервиса на gin.
package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"storybook-server/internal/models"
	"storybook-server/internal/repository"
	"storybook-server/internal/service"
	"storybook-server/internal/session"
	"storybook-server/internal/taskmanager"
)

// StoryGenerator запускает конвейер генерации.
type StoryGenerator interface {
	Generate(ctx context.Context, req models.GenerationRequest, progressFn service.ProgressFunc) (*models.Story, error)
}

// Sessions управляет гостевыми сессиями и выбирает коллекцию для Identity.
type Sessions interface {
	StartGuest() *session.GuestSession
	End(sessionID string) bool
	Resolve(identity models.Identity) (repository.StoryRepository, error)
}

// GuestTokenIssuer выпускает токены гостевых сессий.
type GuestTokenIssuer interface {
	IssueGuestToken(sessionID string, ttl time.Duration) (string, error)
}

// StoryHandler обрабатывает HTTP запросы к историям.
type StoryHandler struct {
	generator StoryGenerator
	tasks     *taskmanager.TaskManager
	sessions  Sessions
	verifier  IdentityVerifier
	issuer    GuestTokenIssuer
	guestTTL  time.Duration
	upgrader  websocket.Upgrader
	extractor service.RequirementsExtractor
	logger    *zap.Logger
}

// NewStoryHandler создает StoryHandler.
func NewStoryHandler(
	generator StoryGenerator,
	tasks *taskmanager.TaskManager,
	sessions Sessions,
	tokens interface {
		IdentityVerifier
		GuestTokenIssuer
	},
	guestTTL time.Duration,
	logger *zap.Logger,
) *StoryHandler {
	return &StoryHandler{
		generator: generator,
		tasks:     tasks,
		sessions:  sessions,
		verifier:  tokens,
		issuer:    tokens,
		guestTTL:  guestTTL,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Origin проверяется CORS на уровне роутера.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logger.Named("StoryHandler"),
	}
}

// SetRequirementsExtractor включает POST /api/v1/requirements/extract.
func (h *StoryHandler) SetRequirementsExtractor(extractor service.RequirementsExtractor) {
	h.extractor = extractor
}

// RegisterRoutes регистрирует маршруты /api/v1.
func (h *StoryHandler) RegisterRoutes(router gin.IRouter) {
	api := router.Group("/api/v1", IdentityMiddleware(h.verifier, h.logger))
	{
		api.POST("/sessions/guest", h.startGuestSession)
		api.DELETE("/sessions/guest", h.endGuestSession)

		api.POST("/requirements/extract", h.extractRequirements)
		api.POST("/stories/generate", h.generateStory)
		api.GET("/generations/:id", h.getGeneration)

		api.GET("/stories", h.listStories)
		api.GET("/stories/live", h.liveStories)
		api.GET("/stories/:id", h.getStory)
		api.DELETE("/stories/:id", h.deleteStory)
	}
}

func (h *StoryHandler) startGuestSession(c *gin.Context) {
	sess := h.sessions.StartGuest()
	token, err := h.issuer.IssueGuestToken(sess.ID, h.guestTTL)
	if err != nil {
		h.sessions.End(sess.ID)
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, APIError{Message: "Internal server error"})
		return
	}
	c.JSON(http.StatusCreated, guestSessionResponse{
		SessionID: sess.ID,
		Token:     token,
		ExpiresAt: sess.CreatedAt.Add(h.guestTTL),
	})
}

// extractRequirements отвечает 200 и при неудачном извлечении: ошибка уходит в extraction_error.
func (h *StoryHandler) extractRequirements(c *gin.Context) {
	identity := identityFrom(c)
	if identity.Class == models.IdentityUnauthenticated {
		c.JSON(http.StatusUnauthorized, APIError{Message: "Sign in or start a guest session to use this endpoint"})
		return
	}
	if h.extractor == nil {
		c.JSON(http.StatusNotImplemented, APIError{Message: "Requirements extraction is disabled"})
		return
	}

	var body extractRequirementsRequest
	if err := c.ShouldBindJSON(&body); err != nil || strings.TrimSpace(body.Prompt) == "" {
		c.JSON(http.StatusBadRequest, APIError{Message: "Prompt is required"})
		return
	}

	reqs, err := h.extractor.ExtractRequirements(c.Request.Context(), body.Prompt)
	if err != nil {
		h.logger.Warn("Requirements extraction failed", zap.String("identity_class", string(identity.Class)), zap.Error(err))
		reqs = models.FallbackRequirements(body.Prompt, err)
	}
	c.JSON(http.StatusOK, reqs)
}

func (h *StoryHandler) endGuestSession(c *gin.Context) {
	identity := identityFrom(c)
	if identity.Class != models.IdentityGuest {
		c.JSON(http.StatusUnauthorized, APIError{Message: "Guest session token required"})
		return
	}
	if !h.sessions.End(identity.SessionID) {
		c.JSON(http.StatusNotFound, APIError{Message: "Guest session not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *StoryHandler) generateStory(c *gin.Context) {
	identity := identityFrom(c)
	if identity.Class == models.IdentityUnauthenticated {
		c.JSON(http.StatusUnauthorized, APIError{Message: "Sign in or start a guest session to create stories"})
		return
	}

	var body generateStoryRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, APIError{Message: "Invalid request body"})
		return
	}
	images, err := body.toImages()
	if err != nil {
		h.handleError(c, err)
		return
	}
	if len(images) > models.MaxInspirationImages {
		c.JSON(http.StatusBadRequest, APIError{Message: "Too many images"})
		return
	}
	length, err := body.storyLength()
	if err != nil {
		h.handleError(c, err)
		return
	}

	req := models.GenerationRequest{
		Prompt:   body.Prompt,
		Images:   images,
		Identity: identity,
		Length:   length,
		Profile:  body.childProfile(),
	}
	taskID, err := h.tasks.Submit(c.Request.Context(), taskOwner(identity),
		func(ctx context.Context, id uuid.UUID, progress taskmanager.ProgressFunc) (string, error) {
			req.RequestID = id.String()
			story, err := h.generator.Generate(ctx, req, service.ProgressFunc(progress))
			if err != nil {
				return "", err
			}
			return story.ID, nil
		})
	if err != nil {
		if errors.Is(err, taskmanager.ErrTooManyTasks) {
			c.JSON(http.StatusTooManyRequests, APIError{Message: "Too many generations in progress, try again later"})
			return
		}
		h.handleError(c, err)
		return
	}

	h.logger.Info("Generation task submitted",
		zap.String("task_id", taskID.String()),
		zap.String("identity_class", string(identity.Class)),
		zap.Int("images", len(images)),
	)
	c.JSON(http.StatusAccepted, generateStoryResponse{
		TaskID:    taskID.String(),
		StatusURL: "/api/v1/generations/" + taskID.String(),
	})
}

func (h *StoryHandler) getGeneration(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, APIError{Message: "Invalid generation id"})
		return
	}
	task, err := h.tasks.GetTask(id)
	if err != nil || task.Owner != taskOwner(identityFrom(c)) {
		c.JSON(http.StatusNotFound, APIError{Message: "Generation not found"})
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *StoryHandler) listStories(c *gin.Context) {
	identity := identityFrom(c)
	repo, ok := h.resolve(c, identity)
	if !ok {
		return
	}
	stories, err := repo.List(c.Request.Context(), identity.OwnerKey())
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stories": stories})
}

func (h *StoryHandler) getStory(c *gin.Context) {
	identity := identityFrom(c)
	repo, ok := h.resolve(c, identity)
	if !ok {
		return
	}
	story, err := repo.GetByID(c.Request.Context(), identity.OwnerKey(), c.Param("id"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, story)
}

func (h *StoryHandler) deleteStory(c *gin.Context) {
	identity := identityFrom(c)
	repo, ok := h.resolve(c, identity)
	if !ok {
		return
	}
	err := repo.Delete(c.Request.Context(), identity.OwnerKey(), c.Param("id"))
	switch {
	case err == nil:
		c.JSON(http.StatusOK, deleteStoryResponse{Deleted: true})
	case models.IsNotice(err):
		c.JSON(http.StatusOK, deleteStoryResponse{Deleted: false, Notice: noticeText(err)})
	default:
		h.handleError(c, err)
	}
}

// resolve выбирает коллекцию вызывающего; неизвестная сессия или отсутствие токена дают 401.
func (h *StoryHandler) resolve(c *gin.Context, identity models.Identity) (repository.StoryRepository, bool) {
	repo, err := h.sessions.Resolve(identity)
	if err == nil {
		return repo, true
	}
	if errors.Is(err, models.ErrValidation) || errors.Is(err, models.ErrNotFound) {
		c.JSON(http.StatusUnauthorized, APIError{Message: "Sign in or start a guest session"})
		return nil, false
	}
	h.handleError(c, err)
	return nil, false
}

func (h *StoryHandler) handleError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	apiErr := APIError{Message: "Internal server error"}

	switch {
	case errors.Is(err, models.ErrValidation):
		status = http.StatusBadRequest
		apiErr.Message = err.Error()
	case errors.Is(err, models.ErrNotFound):
		status = http.StatusNotFound
		apiErr.Message = "Story not found"
	case errors.Is(err, models.ErrUnsupportedOperation):
		status = http.StatusConflict
		apiErr.Message = err.Error()
	default:
		_ = c.Error(err)
	}
	c.JSON(status, apiErr)
}

func noticeText(err error) string {
	if errors.Is(err, models.ErrUnsupportedOperation) {
		return "Stories in a guest session cannot be deleted"
	}
	return "Story not found"
}

// taskOwner ключ владельца задачи: user id или гостевая сессия.
func taskOwner(identity models.Identity) string {
	switch identity.Class {
	case models.IdentityAuthenticated:
		return "user:" + identity.UserID
	case models.IdentityGuest:
		return "guest:" + identity.SessionID
	default:
		return ""
	}
}
