package repository

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"storybook-server/internal/models"
)

// GuestIDPrefix префикс идентификаторов гостевых историй.
const GuestIDPrefix = "guest-"

var _ StoryRepository = (*GuestStoryRepository)(nil)

// GuestStoryRepository коллекция историй гостевой сессии в памяти.
// Засевается демо-историей, новые истории вставляются в начало.
// ownerID во всех методах игнорируется: коллекция принадлежит одной сессии.
type GuestStoryRepository struct {
	mu          sync.RWMutex
	stories     []models.Story
	subscribers map[int]SnapshotFunc
	nextSubID   int
	closed      bool
	logger      *zap.Logger
}

// NewGuestStoryRepository создает коллекцию с демо-историей.
func NewGuestStoryRepository(logger *zap.Logger) *GuestStoryRepository {
	return &GuestStoryRepository{
		stories:     []models.Story{*models.DemoStory()},
		subscribers: make(map[int]SnapshotFunc),
		logger:      logger.Named("GuestStoryRepo"),
	}
}

func (r *GuestStoryRepository) Create(_ context.Context, story *models.Story) (string, error) {
	if story == nil {
		return "", fmt.Errorf("%w: story is nil", models.ErrPersistence)
	}
	stored := *story.Clone()
	stored.ID = GuestIDPrefix + uuid.NewString()
	stored.OwnerID = ""

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return "", fmt.Errorf("%w: guest session has ended", models.ErrPersistence)
	}
	r.stories = append([]models.Story{stored}, r.stories...)
	snapshot, subs := r.snapshotLocked()
	r.mu.Unlock()

	r.logger.Debug("Guest story added", zap.String("story_id", stored.ID), zap.Int("collection_size", len(snapshot)))
	notify(subs, snapshot)
	return stored.ID, nil
}

func (r *GuestStoryRepository) List(_ context.Context, _ string) ([]models.Story, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return copyStories(r.stories), nil
}

func (r *GuestStoryRepository) GetByID(_ context.Context, _ string, id string) (*models.Story, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i := range r.stories {
		if r.stories[i].ID == id {
			return r.stories[i].Clone(), nil
		}
	}
	return nil, fmt.Errorf("%w: story %s", models.ErrNotFound, id)
}

// Subscribe вызывает fn синхронно с текущим списком и после каждой вставки.
func (r *GuestStoryRepository) Subscribe(_ context.Context, _ string, fn SnapshotFunc) (Subscription, error) {
	r.mu.Lock()
	id := r.nextSubID
	r.nextSubID++
	r.subscribers[id] = fn
	snapshot := copyStories(r.stories)
	r.mu.Unlock()

	fn(snapshot)
	return newSubscription(func() {
		r.mu.Lock()
		delete(r.subscribers, id)
		r.mu.Unlock()
	}), nil
}

// Delete не поддерживается для гостевых историй.
func (r *GuestStoryRepository) Delete(_ context.Context, _ string, id string) error {
	r.logger.Debug("Delete requested for guest story", zap.String("story_id", id))
	return fmt.Errorf("%w: guest stories cannot be deleted", models.ErrUnsupportedOperation)
}

// Clear удаляет все истории и подписчиков и закрывает коллекцию для записи.
// Вызывается при завершении сессии.
func (r *GuestStoryRepository) Clear() {
	r.mu.Lock()
	r.closed = true
	r.stories = nil
	r.subscribers = make(map[int]SnapshotFunc)
	r.mu.Unlock()
}

// Len число историй в коллекции.
func (r *GuestStoryRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.stories)
}

func (r *GuestStoryRepository) snapshotLocked() ([]models.Story, []SnapshotFunc) {
	subs := make([]SnapshotFunc, 0, len(r.subscribers))
	for _, fn := range r.subscribers {
		subs = append(subs, fn)
	}
	return copyStories(r.stories), subs
}

func notify(subs []SnapshotFunc, snapshot []models.Story) {
	for _, fn := range subs {
		fn(copyStories(snapshot))
	}
}

func copyStories(in []models.Story) []models.Story {
	out := make([]models.Story, len(in))
	for i := range in {
		out[i] = *in[i].Clone()
	}
	return out
}
