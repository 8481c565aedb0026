package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"storybook-server/internal/config"
	"storybook-server/internal/models"
)

var _ StoryRepository = (*FirestoreStoryRepository)(nil)

// firestorePage страница в документе Firestore.
type firestorePage struct {
	PageNum  int    `firestore:"pageNum"`
	Text     string `firestore:"text"`
	ImageURL string `firestore:"imageUrl"`
}

// firestoreStory документ истории.
type firestoreStory struct {
	Title         string          `firestore:"title"`
	Pages         []firestorePage `firestore:"pages"`
	CreatedAt     time.Time       `firestore:"createdAt"`
	UserID        string          `firestore:"userId"`
	CoverImageURL string          `firestore:"coverImageUrl"`
	IsDemo        bool            `firestore:"isDemo,omitempty"`
}

func toFirestoreStory(s *models.Story) firestoreStory {
	doc := firestoreStory{
		Title:         s.Title,
		CreatedAt:     s.CreatedAt.UTC(),
		UserID:        s.OwnerID,
		CoverImageURL: s.CoverImageURL,
		IsDemo:        s.IsDemo,
		Pages:         make([]firestorePage, len(s.Pages)),
	}
	for i, p := range s.Pages {
		doc.Pages[i] = firestorePage{PageNum: p.Index, Text: p.Text, ImageURL: p.ImageURL}
	}
	return doc
}

func (d firestoreStory) toModel(id string) models.Story {
	s := models.Story{
		ID:            id,
		Title:         d.Title,
		CreatedAt:     d.CreatedAt,
		OwnerID:       d.UserID,
		CoverImageURL: d.CoverImageURL,
		IsDemo:        d.IsDemo,
		Pages:         make([]models.Page, len(d.Pages)),
	}
	for i, p := range d.Pages {
		s.Pages[i] = models.Page{Index: p.PageNum, Text: p.Text, ImageURL: p.ImageURL}
	}
	return s
}

// FirestoreStoryRepository хранит истории в artifacts/{appID}/users/{ownerID}/stories.
type FirestoreStoryRepository struct {
	client *firestore.Client
	appID  string
	now    func() time.Time
	logger *zap.Logger
}

// NewFirestoreClient инициализирует Firebase App и возвращает клиент Firestore.
func NewFirestoreClient(ctx context.Context, cfg config.FirestoreConfig, logger *zap.Logger) (*firestore.Client, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("ошибка инициализации Firebase App: %w", err)
	}
	client, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения клиента Firestore: %w", err)
	}
	logger.Info("Firestore client initialized", zap.String("project_id", cfg.ProjectID), zap.String("app_id", cfg.AppID))
	return client, nil
}

// NewFirestoreStoryRepository создает репозиторий поверх готового клиента.
func NewFirestoreStoryRepository(client *firestore.Client, appID string, logger *zap.Logger) *FirestoreStoryRepository {
	return &FirestoreStoryRepository{
		client: client,
		appID:  appID,
		now:    time.Now,
		logger: logger.Named("FirestoreStoryRepo"),
	}
}

func (r *FirestoreStoryRepository) collection(ownerID string) *firestore.CollectionRef {
	return r.client.Collection("artifacts").Doc(r.appID).
		Collection("users").Doc(ownerID).
		Collection("stories")
}

func (r *FirestoreStoryRepository) Create(ctx context.Context, story *models.Story) (string, error) {
	if story == nil || story.OwnerID == "" {
		return "", fmt.Errorf("%w: durable story requires owner", models.ErrPersistence)
	}
	doc := toFirestoreStory(story)
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = r.now().UTC()
	}
	ref, _, err := r.collection(story.OwnerID).Add(ctx, doc)
	if err != nil {
		r.logger.Error("Failed to add story document", zap.String("owner_id", story.OwnerID), zap.Error(err))
		return "", fmt.Errorf("%w: %v", models.ErrPersistence, err)
	}
	r.logger.Info("Story created", zap.String("story_id", ref.ID), zap.String("owner_id", story.OwnerID))
	return ref.ID, nil
}

func (r *FirestoreStoryRepository) List(ctx context.Context, ownerID string) ([]models.Story, error) {
	docs, err := r.collection(ownerID).OrderBy("createdAt", firestore.Desc).Documents(ctx).GetAll()
	if err != nil {
		r.logger.Error("Failed to list story documents", zap.String("owner_id", ownerID), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", models.ErrPersistence, err)
	}
	return r.decodeAll(docs), nil
}

func (r *FirestoreStoryRepository) GetByID(ctx context.Context, ownerID, id string) (*models.Story, error) {
	snap, err := r.collection(ownerID).Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, fmt.Errorf("%w: story %s", models.ErrNotFound, id)
		}
		return nil, fmt.Errorf("%w: %v", models.ErrPersistence, err)
	}
	var doc firestoreStory
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("%w: ошибка разбора документа %s: %v", models.ErrPersistence, id, err)
	}
	s := doc.toModel(snap.Ref.ID)
	return &s, nil
}

// Delete удаляет документ. Firestore не сообщает об отсутствии документа при удалении,
// поэтому используется предусловие Exists.
func (r *FirestoreStoryRepository) Delete(ctx context.Context, ownerID, id string) error {
	_, err := r.collection(ownerID).Doc(id).Delete(ctx, firestore.Exists)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			r.logger.Info("Story to delete not found", zap.String("story_id", id), zap.String("owner_id", ownerID))
			return fmt.Errorf("%w: story %s", models.ErrNotFound, id)
		}
		r.logger.Error("Failed to delete story document", zap.String("story_id", id), zap.Error(err))
		return fmt.Errorf("%w: %v", models.ErrPersistence, err)
	}
	r.logger.Info("Story deleted", zap.String("story_id", id), zap.String("owner_id", ownerID))
	return nil
}

// Subscribe слушает снимки запроса Firestore. Первый снимок приходит сразу после подписки.
func (r *FirestoreStoryRepository) Subscribe(ctx context.Context, ownerID string, fn SnapshotFunc) (Subscription, error) {
	watchCtx, cancel := context.WithCancel(ctx)
	it := r.collection(ownerID).OrderBy("createdAt", firestore.Desc).Snapshots(watchCtx)

	go func() {
		defer it.Stop()
		for {
			snap, err := it.Next()
			if err != nil {
				if errors.Is(err, iterator.Done) || status.Code(err) == codes.Canceled || watchCtx.Err() != nil {
					return
				}
				r.logger.Warn("Story snapshot listener stopped", zap.String("owner_id", ownerID), zap.Error(err))
				return
			}
			docs, err := snap.Documents.GetAll()
			if err != nil {
				r.logger.Warn("Failed to read story snapshot", zap.String("owner_id", ownerID), zap.Error(err))
				continue
			}
			fn(r.decodeAll(docs))
		}
	}()

	return newSubscription(cancel), nil
}

func (r *FirestoreStoryRepository) decodeAll(docs []*firestore.DocumentSnapshot) []models.Story {
	stories := make([]models.Story, 0, len(docs))
	for _, d := range docs {
		var doc firestoreStory
		if err := d.DataTo(&doc); err != nil {
			r.logger.Warn("Skipping malformed story document", zap.String("story_id", d.Ref.ID), zap.Error(err))
			continue
		}
		stories = append(stories, doc.toModel(d.Ref.ID))
	}
	sortNewestFirst(stories)
	return stories
}
