package repository

import (
	"context"
	"sort"
	"sync"

	"storybook-server/internal/models"
)

// StoryRepository общий набор операций над коллекцией историй одного владельца.
type StoryRepository interface {
	// Create сохраняет историю и возвращает присвоенный идентификатор.
	Create(ctx context.Context, story *models.Story) (string, error)
	// List возвращает истории владельца, новые первыми.
	List(ctx context.Context, ownerID string) ([]models.Story, error)
	GetByID(ctx context.Context, ownerID, id string) (*models.Story, error)
	// Subscribe сразу отдает текущий снимок и затем новый снимок после каждого изменения.
	Subscribe(ctx context.Context, ownerID string, fn SnapshotFunc) (Subscription, error)
	Delete(ctx context.Context, ownerID, id string) error
}

// SnapshotFunc получает полный текущий список историй.
type SnapshotFunc func(stories []models.Story)

// Subscription живой просмотр коллекции.
type Subscription interface {
	Unsubscribe()
}

// subscriptionFunc адаптер функции к Subscription. Повторный вызов безопасен.
type subscriptionFunc struct {
	once sync.Once
	fn   func()
}

func newSubscription(fn func()) *subscriptionFunc {
	return &subscriptionFunc{fn: fn}
}

func (s *subscriptionFunc) Unsubscribe() {
	s.once.Do(s.fn)
}

// sortNewestFirst упорядочивает истории по убыванию CreatedAt, при равенстве по ID.
func sortNewestFirst(stories []models.Story) {
	sort.SliceStable(stories, func(i, j int) bool {
		if stories[i].CreatedAt.Equal(stories[j].CreatedAt) {
			return stories[i].ID > stories[j].ID
		}
		return stories[i].CreatedAt.After(stories[j].CreatedAt)
	})
}
