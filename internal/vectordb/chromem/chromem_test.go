package chromem

import (
	"context"
	"testing"

	"github.com/fyerfyer/lang-data/internal/document"
	"github.com/fyerfyer/lang-data/internal/vectordb"
	"github.com/fyerfyer/lang-data/internal/vectordb/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) vectordb.Store {
		store, err := vectordb.Open(vectordb.Config{Type: "chromem"})
		require.NoError(t, err)
		return store
	})
}

func TestConformancePersistent(t *testing.T) {
	storetest.Run(t, func(t *testing.T) vectordb.Store {
		store, err := New(vectordb.Config{Path: t.TempDir()})
		require.NoError(t, err)
		return store
	})
}

// TestPersistence 重新打开后集合和维度仍在
func TestPersistence(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := New(vectordb.Config{Path: dir})
	require.NoError(t, err)
	require.NoError(t, store.EnsureCollection(ctx, "docs", 3))
	ids, err := store.Upsert(ctx, "docs", []vectordb.Record{
		{Vector: []float32{1, 0, 0}, Text: "persisted", Metadata: map[string]string{"Source": "a.md"}},
	})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := New(vectordb.Config{Path: dir})
	require.NoError(t, err)

	err = reopened.EnsureCollection(ctx, "docs", 5)
	assert.Equal(t, vectordb.KindDimensionMismatch, vectordb.KindOf(err))

	results, err := reopened.Search(ctx, "docs", []float32{1, 0, 0}, 3, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, ids[0], results[0].ID)
	assert.Equal(t, "persisted", results[0].Text)
	assert.Equal(t, "a.md", results[0].Metadata["Source"])
}

func TestRejectsNonCosine(t *testing.T) {
	_, err := New(vectordb.Config{Distance: vectordb.Euclidean})
	var cfgErr *document.ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}
