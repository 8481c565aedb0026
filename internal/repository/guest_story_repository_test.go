package repository

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"storybook-server/internal/models"
)

func newTestStory(title string, createdAt time.Time) *models.Story {
	return &models.Story{
		Title:         title,
		Pages:         []models.Page{{Index: 1, Text: "Once upon a time there was a tiny cloud.", ImageURL: "data:image/png;base64,AAAA"}},
		CreatedAt:     createdAt,
		CoverImageURL: "data:image/png;base64,AAAA",
	}
}

func TestGuestStoryRepository_SeededWithDemo(t *testing.T) {
	repo := NewGuestStoryRepository(zap.NewNop())

	stories, err := repo.List(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, stories, 1)
	assert.Equal(t, models.DemoStoryID, stories[0].ID)
	assert.True(t, stories[0].IsDemo)
}

func TestGuestStoryRepository_CreateInsertsAtFront(t *testing.T) {
	repo := NewGuestStoryRepository(zap.NewNop())
	ctx := context.Background()

	id1, err := repo.Create(ctx, newTestStory("first", time.Now()))
	require.NoError(t, err)
	id2, err := repo.Create(ctx, newTestStory("second", time.Now()))
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(id1, GuestIDPrefix))
	assert.NotEqual(t, id1, id2)

	stories, err := repo.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, stories, 3)
	assert.Equal(t, id2, stories[0].ID)
	assert.Equal(t, id1, stories[1].ID)
	assert.Equal(t, models.DemoStoryID, stories[2].ID)
	assert.Empty(t, stories[0].OwnerID)
}

func TestGuestStoryRepository_CreateDoesNotAliasInput(t *testing.T) {
	repo := NewGuestStoryRepository(zap.NewNop())
	in := newTestStory("mine", time.Now())
	in.OwnerID = "should-be-dropped"

	id, err := repo.Create(context.Background(), in)
	require.NoError(t, err)
	in.Pages[0].Text = "mutated"

	got, err := repo.GetByID(context.Background(), "", id)
	require.NoError(t, err)
	assert.Equal(t, "Once upon a time there was a tiny cloud.", got.Pages[0].Text)
	assert.Empty(t, got.OwnerID)
	assert.Empty(t, in.ID, "caller's story must keep its own id")
}

func TestGuestStoryRepository_GetByIDNotFound(t *testing.T) {
	repo := NewGuestStoryRepository(zap.NewNop())
	_, err := repo.GetByID(context.Background(), "", "nope")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestGuestStoryRepository_DeleteUnsupported(t *testing.T) {
	repo := NewGuestStoryRepository(zap.NewNop())
	err := repo.Delete(context.Background(), "", models.DemoStoryID)
	assert.ErrorIs(t, err, models.ErrUnsupportedOperation)
	assert.Equal(t, 1, repo.Len())
}

func TestGuestStoryRepository_Subscribe(t *testing.T) {
	repo := NewGuestStoryRepository(zap.NewNop())
	ctx := context.Background()

	var mu sync.Mutex
	var snapshots [][]models.Story
	sub, err := repo.Subscribe(ctx, "", func(s []models.Story) {
		mu.Lock()
		snapshots = append(snapshots, s)
		mu.Unlock()
	})
	require.NoError(t, err)

	// Первый снимок приходит синхронно.
	require.Len(t, snapshots, 1)
	assert.Len(t, snapshots[0], 1)

	_, err = repo.Create(ctx, newTestStory("new", time.Now()))
	require.NoError(t, err)
	require.Len(t, snapshots, 2)
	assert.Len(t, snapshots[1], 2)

	sub.Unsubscribe()
	sub.Unsubscribe()
	_, err = repo.Create(ctx, newTestStory("after", time.Now()))
	require.NoError(t, err)
	assert.Len(t, snapshots, 2)
}

func TestGuestStoryRepository_Clear(t *testing.T) {
	repo := NewGuestStoryRepository(zap.NewNop())
	_, err := repo.Create(context.Background(), newTestStory("x", time.Now()))
	require.NoError(t, err)

	calls := 0
	_, err = repo.Subscribe(context.Background(), "", func([]models.Story) { calls++ })
	require.NoError(t, err)

	repo.Clear()
	assert.Equal(t, 0, repo.Len())

	_, err = repo.Create(context.Background(), newTestStory("y", time.Now()))
	assert.ErrorIs(t, err, models.ErrPersistence, "a cleared collection rejects writes")
	assert.Equal(t, 0, repo.Len())
	assert.Equal(t, 1, calls, "subscribers are dropped on clear")
}

func TestGuestStoryRepository_CreateNil(t *testing.T) {
	repo := NewGuestStoryRepository(zap.NewNop())
	_, err := repo.Create(context.Background(), nil)
	assert.ErrorIs(t, err, models.ErrPersistence)
}
