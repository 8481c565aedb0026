package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"storybook-server/internal/models"
)

// DBTX общий интерфейс для *pgxpool.Pool и pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var _ StoryRepository = (*PgStoryRepository)(nil)

// PgStoryRepository долговременное хранилище историй в PostgreSQL.
type PgStoryRepository struct {
	db     DBTX
	feed   ChangeFeed
	now    func() time.Time
	logger *zap.Logger
}

// NewPgStoryRepository создает репозиторий. feed уведомляет подписчиков об изменениях.
func NewPgStoryRepository(db DBTX, feed ChangeFeed, logger *zap.Logger) *PgStoryRepository {
	return &PgStoryRepository{
		db:     db,
		feed:   feed,
		now:    time.Now,
		logger: logger.Named("PgStoryRepo"),
	}
}

const insertStoryQuery = `
INSERT INTO stories (id, owner_id, title, pages, cover_image_url, is_demo, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`

const listStoriesQuery = `
SELECT id::text AS id, owner_id, title, pages, cover_image_url, is_demo, created_at
FROM stories
WHERE owner_id = $1
ORDER BY created_at DESC, id DESC`

const getStoryQuery = `
SELECT id::text AS id, owner_id, title, pages, cover_image_url, is_demo, created_at
FROM stories
WHERE owner_id = $1 AND id = $2`

const deleteStoryQuery = `DELETE FROM stories WHERE owner_id = $1 AND id = $2`

// storyRow строка таблицы stories.
type storyRow struct {
	ID            string    `db:"id"`
	OwnerID       string    `db:"owner_id"`
	Title         string    `db:"title"`
	Pages         []byte    `db:"pages"`
	CoverImageURL string    `db:"cover_image_url"`
	IsDemo        bool      `db:"is_demo"`
	CreatedAt     time.Time `db:"created_at"`
}

func (r storyRow) toModel() (models.Story, error) {
	s := models.Story{
		ID:            r.ID,
		OwnerID:       r.OwnerID,
		Title:         r.Title,
		CoverImageURL: r.CoverImageURL,
		IsDemo:        r.IsDemo,
		CreatedAt:     r.CreatedAt,
	}
	if err := json.Unmarshal(r.Pages, &s.Pages); err != nil {
		return models.Story{}, fmt.Errorf("ошибка разбора страниц истории %s: %w", r.ID, err)
	}
	return s, nil
}

// Create сохраняет историю и присваивает ей UUID.
func (r *PgStoryRepository) Create(ctx context.Context, story *models.Story) (string, error) {
	if story == nil || story.OwnerID == "" {
		return "", fmt.Errorf("%w: durable story requires owner", models.ErrPersistence)
	}
	pages, err := json.Marshal(story.Pages)
	if err != nil {
		return "", fmt.Errorf("%w: ошибка сериализации страниц: %v", models.ErrPersistence, err)
	}
	id := uuid.New()
	createdAt := story.CreatedAt
	if createdAt.IsZero() {
		createdAt = r.now()
	}

	_, err = r.db.Exec(ctx, insertStoryQuery,
		id,
		story.OwnerID,
		story.Title,
		json.RawMessage(pages),
		story.CoverImageURL,
		story.IsDemo,
		createdAt.UTC(),
	)
	if err != nil {
		r.logger.Error("Failed to create story", zap.String("owner_id", story.OwnerID), zap.Error(err))
		return "", fmt.Errorf("%w: ошибка создания истории: %v", models.ErrPersistence, err)
	}
	r.logger.Info("Story created", zap.String("story_id", id.String()), zap.String("owner_id", story.OwnerID))

	r.publishChange(ctx, story.OwnerID)
	return id.String(), nil
}

// List возвращает истории владельца, новые первыми.
func (r *PgStoryRepository) List(ctx context.Context, ownerID string) ([]models.Story, error) {
	var rows []storyRow
	if err := pgxscan.Select(ctx, r.db, &rows, listStoriesQuery, ownerID); err != nil {
		r.logger.Error("Failed to list stories", zap.String("owner_id", ownerID), zap.Error(err))
		return nil, fmt.Errorf("%w: ошибка получения списка историй: %v", models.ErrPersistence, err)
	}
	stories := make([]models.Story, 0, len(rows))
	for _, row := range rows {
		s, err := row.toModel()
		if err != nil {
			r.logger.Error("Skipping story with corrupted pages", zap.String("story_id", row.ID), zap.Error(err))
			continue
		}
		stories = append(stories, s)
	}
	return stories, nil
}

func (r *PgStoryRepository) GetByID(ctx context.Context, ownerID, id string) (*models.Story, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: story %s", models.ErrNotFound, id)
	}
	var row storyRow
	if err := pgxscan.Get(ctx, r.db, &row, getStoryQuery, ownerID, id); err != nil {
		if pgxscan.NotFound(err) {
			return nil, fmt.Errorf("%w: story %s", models.ErrNotFound, id)
		}
		r.logger.Error("Failed to get story", zap.String("story_id", id), zap.Error(err))
		return nil, fmt.Errorf("%w: ошибка получения истории %s: %v", models.ErrPersistence, id, err)
	}
	s, err := row.toModel()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrPersistence, err)
	}
	return &s, nil
}

// Delete удаляет историю владельца. Отсутствующий id дает ErrNotFound.
func (r *PgStoryRepository) Delete(ctx context.Context, ownerID, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%w: story %s", models.ErrNotFound, id)
	}
	tag, err := r.db.Exec(ctx, deleteStoryQuery, ownerID, id)
	if err != nil {
		r.logger.Error("Failed to delete story", zap.String("story_id", id), zap.Error(err))
		return fmt.Errorf("%w: ошибка удаления истории %s: %v", models.ErrPersistence, id, err)
	}
	if tag.RowsAffected() == 0 {
		r.logger.Info("Story to delete not found", zap.String("story_id", id), zap.String("owner_id", ownerID))
		return fmt.Errorf("%w: story %s", models.ErrNotFound, id)
	}
	r.logger.Info("Story deleted", zap.String("story_id", id), zap.String("owner_id", ownerID))

	r.publishChange(ctx, ownerID)
	return nil
}

// Subscribe отдает снимок сразу и затем на каждое событие ленты изменений.
// Подписка на ленту оформляется до первого снимка, поэтому изменение между ними
// приводит к повторному снимку, а не теряется. Вызовы fn не пересекаются.
func (r *PgStoryRepository) Subscribe(ctx context.Context, ownerID string, fn SnapshotFunc) (Subscription, error) {
	watchCtx, cancel := context.WithCancel(ctx)

	var mu sync.Mutex
	refresh := func() error {
		mu.Lock()
		defer mu.Unlock()
		fresh, err := r.List(watchCtx, ownerID)
		if err != nil {
			return err
		}
		fn(fresh)
		return nil
	}

	watch, err := r.feed.Watch(watchCtx, ownerID, func() {
		if err := refresh(); err != nil && !errors.Is(watchCtx.Err(), context.Canceled) {
			r.logger.Warn("Failed to refresh live story list", zap.String("owner_id", ownerID), zap.Error(err))
		}
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: failed to watch story changes: %v", models.ErrPersistence, err)
	}

	if err := refresh(); err != nil {
		watch.Unsubscribe()
		cancel()
		return nil, err
	}
	return newSubscription(func() {
		watch.Unsubscribe()
		cancel()
	}), nil
}

func (r *PgStoryRepository) publishChange(ctx context.Context, ownerID string) {
	if err := r.feed.Publish(ctx, ownerID); err != nil {
		r.logger.Warn("Failed to publish story change", zap.String("owner_id", ownerID), zap.Error(err))
	}
}
