package services

import (
	"context"
	"errors"
	"testing"

	"github.com/fyerfyer/lang-data/internal/database"
	"github.com/fyerfyer/lang-data/internal/models"
	"github.com/fyerfyer/lang-data/internal/repository"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupStatusManager(t *testing.T) *SourceStatusManager {
	db, err := database.Open(&database.Config{Type: "sqlite", DSN: ":memory:"}, logrus.New())
	require.NoError(t, err)
	t.Cleanup(func() { database.Close(db) })
	return NewSourceStatusManager(repository.NewSourceRepository(db), nil)
}

func TestSourceStatusLifecycle(t *testing.T) {
	ctx := context.Background()
	m := setupStatusManager(t)

	src, err := m.MarkPending(ctx, "docs", "s3://bucket/a.pdf", "a.pdf")
	require.NoError(t, err)
	assert.Equal(t, models.SourceStatusPending, src.Status)

	previous, err := m.MarkProcessing(ctx, "docs", "s3://bucket/a.pdf", "")
	require.NoError(t, err)
	assert.Empty(t, previous)

	require.NoError(t, m.MarkCompleted(ctx, "docs", "s3://bucket/a.pdf", []string{"x", "y"}))
	got, err := m.Get(ctx, "docs", "s3://bucket/a.pdf")
	require.NoError(t, err)
	assert.Equal(t, models.SourceStatusCompleted, got.Status)
	assert.Equal(t, "a.pdf", got.FileName)
	assert.Equal(t, 2, got.ChunkCount)
	assert.NotNil(t, got.ProcessedAt)

	// 重新导入时返回旧ID
	previous, err = m.MarkProcessing(ctx, "docs", "s3://bucket/a.pdf", "a.pdf")
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y"}, previous)

	require.NoError(t, m.MarkFailed(ctx, "docs", "s3://bucket/a.pdf", "boom"))
	got, err = m.Get(ctx, "docs", "s3://bucket/a.pdf")
	require.NoError(t, err)
	assert.Equal(t, models.SourceStatusFailed, got.Status)
	assert.Equal(t, "boom", got.Error)

	// 失败后旧ID仍然保留，Forget可以清理
	ids, err := got.IDs()
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y"}, ids)
}

func TestSourceStatusInvalidTransitions(t *testing.T) {
	ctx := context.Background()
	m := setupStatusManager(t)

	_, err := m.MarkPending(ctx, "docs", "a.txt", "a.txt")
	require.NoError(t, err)

	err = m.MarkCompleted(ctx, "docs", "a.txt", nil)
	assert.True(t, errors.Is(err, ErrInvalidTransition))

	err = m.MarkFailed(ctx, "docs", "missing.txt", "boom")
	assert.True(t, errors.Is(err, models.ErrSourceNotFound))
}

func TestValidateStateTransition(t *testing.T) {
	assert.NoError(t, ValidateStateTransition(models.SourceStatusPending, models.SourceStatusProcessing))
	assert.NoError(t, ValidateStateTransition(models.SourceStatusCompleted, models.SourceStatusProcessing))
	assert.NoError(t, ValidateStateTransition(models.SourceStatusFailed, models.SourceStatusPending))
	assert.Error(t, ValidateStateTransition(models.SourceStatusPending, models.SourceStatusCompleted))
	assert.Error(t, ValidateStateTransition(models.SourceStatusCompleted, models.SourceStatusFailed))
}

func TestSourceStatusRemove(t *testing.T) {
	ctx := context.Background()
	m := setupStatusManager(t)

	for _, name := range []string{"a", "b"} {
		_, err := m.MarkPending(ctx, "docs", name, name)
		require.NoError(t, err)
	}
	require.NoError(t, m.Remove(ctx, "docs", "a"))
	_, total, err := m.List(ctx, "docs", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)

	require.NoError(t, m.RemoveCollection(ctx, "docs"))
	_, total, err = m.List(ctx, "docs", 0, 10)
	require.NoError(t, err)
	assert.Zero(t, total)
}
