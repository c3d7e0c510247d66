package repository

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/fyerfyer/lang-data/internal/database"
	"github.com/fyerfyer/lang-data/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := database.Open(&database.Config{Type: "sqlite", DSN: ":memory:"}, logrus.New())
	require.NoError(t, err, "Failed to open in-memory database")
	t.Cleanup(func() { database.Close(db) })
	return db
}

func newSource(t *testing.T, collection, source string, ids ...string) *models.Source {
	src := &models.Source{
		Collection: collection,
		Source:     source,
		FileName:   source,
		Status:     models.SourceStatusCompleted,
	}
	require.NoError(t, src.SetIDs(ids))
	return src
}

func TestSourceRepository_SaveAndGet(t *testing.T) {
	ctx := context.Background()
	repo := NewSourceRepository(setupTestDB(t))

	src := newSource(t, "docs", "a.txt", "id-1", "id-2")
	require.NoError(t, repo.Save(ctx, src))
	assert.NotEmpty(t, src.ID)

	got, err := repo.Get(ctx, "docs", "a.txt")
	require.NoError(t, err)
	assert.Equal(t, src.ID, got.ID)
	assert.Equal(t, 2, got.ChunkCount)
	ids, err := got.IDs()
	require.NoError(t, err)
	assert.Equal(t, []string{"id-1", "id-2"}, ids)

	byID, err := repo.GetByID(ctx, src.ID)
	require.NoError(t, err)
	assert.Equal(t, "a.txt", byID.Source)
}

func TestSourceRepository_SaveOverwrites(t *testing.T) {
	ctx := context.Background()
	repo := NewSourceRepository(setupTestDB(t))

	first := newSource(t, "docs", "a.txt", "old")
	require.NoError(t, repo.Save(ctx, first))

	second := newSource(t, "docs", "a.txt", "new-1", "new-2", "new-3")
	require.NoError(t, repo.Save(ctx, second))
	assert.Equal(t, first.ID, second.ID)

	got, err := repo.Get(ctx, "docs", "a.txt")
	require.NoError(t, err)
	assert.Equal(t, 3, got.ChunkCount)

	// 同一来源在不同集合中是独立记录
	other := newSource(t, "other", "a.txt", "x")
	require.NoError(t, repo.Save(ctx, other))
	assert.NotEqual(t, first.ID, other.ID)
}

func TestSourceRepository_NotFound(t *testing.T) {
	ctx := context.Background()
	repo := NewSourceRepository(setupTestDB(t))

	_, err := repo.Get(ctx, "docs", "missing")
	assert.True(t, errors.Is(err, models.ErrSourceNotFound))

	_, err = repo.GetByID(ctx, "missing")
	assert.True(t, errors.Is(err, models.ErrSourceNotFound))

	err = repo.Delete(ctx, "docs", "missing")
	assert.True(t, errors.Is(err, models.ErrSourceNotFound))

	err = repo.UpdateStatus(ctx, "missing", models.SourceStatusFailed, "boom")
	assert.True(t, errors.Is(err, models.ErrSourceNotFound))
}

func TestSourceRepository_Validation(t *testing.T) {
	ctx := context.Background()
	repo := NewSourceRepository(setupTestDB(t))

	assert.Error(t, repo.Save(ctx, &models.Source{Collection: "docs"}))

	err := repo.Save(ctx, &models.Source{Collection: "docs", Source: "a", Status: "unknown"})
	assert.True(t, errors.Is(err, models.ErrInvalidSourceStatus))
}

func TestSourceRepository_UpdateStatus(t *testing.T) {
	ctx := context.Background()
	repo := NewSourceRepository(setupTestDB(t))

	src := &models.Source{Collection: "docs", Source: "a.txt"}
	require.NoError(t, repo.Save(ctx, src))
	assert.Equal(t, models.SourceStatusPending, src.Status)

	require.NoError(t, repo.UpdateStatus(ctx, src.ID, models.SourceStatusFailed, "parse error"))
	got, err := repo.GetByID(ctx, src.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SourceStatusFailed, got.Status)
	assert.Equal(t, "parse error", got.Error)
	assert.NotNil(t, got.ProcessedAt)
}

func TestSourceRepository_List(t *testing.T) {
	ctx := context.Background()
	repo := NewSourceRepository(setupTestDB(t))

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		src := newSource(t, "docs", fmt.Sprintf("file-%d.txt", i))
		src.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, repo.Save(ctx, src))
	}
	require.NoError(t, repo.Save(ctx, newSource(t, "other", "x.txt")))

	sources, total, err := repo.List(ctx, "docs", 0, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	require.Len(t, sources, 2)
	assert.Equal(t, "file-4.txt", sources[0].Source)
	assert.Equal(t, "file-3.txt", sources[1].Source)

	_, total, err = repo.List(ctx, "", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(6), total)
}

func TestSourceRepository_Delete(t *testing.T) {
	ctx := context.Background()
	repo := NewSourceRepository(setupTestDB(t))

	require.NoError(t, repo.Save(ctx, newSource(t, "docs", "a.txt")))
	require.NoError(t, repo.Save(ctx, newSource(t, "docs", "b.txt")))
	require.NoError(t, repo.Save(ctx, newSource(t, "other", "c.txt")))

	require.NoError(t, repo.Delete(ctx, "docs", "a.txt"))
	_, err := repo.Get(ctx, "docs", "a.txt")
	assert.Error(t, err)

	n, err := repo.DeleteCollection(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, total, err := repo.List(ctx, "", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
}
