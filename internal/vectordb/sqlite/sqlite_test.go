package sqlite

import (
	"context"
	"database/sql/driver"
	"errors"
	"path/filepath"
	"testing"

	"github.com/fyerfyer/lang-data/internal/vectordb"
	"github.com/fyerfyer/lang-data/internal/vectordb/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sqlite "modernc.org/sqlite"
)

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) vectordb.Store {
		store, err := vectordb.Open(vectordb.Config{Type: "sqlite"})
		require.NoError(t, err)
		t.Cleanup(func() { store.Close() })
		return store
	})
}

func TestConformanceEuclidean(t *testing.T) {
	storetest.Run(t, func(t *testing.T) vectordb.Store {
		store, err := New(vectordb.Config{Path: filepath.Join(t.TempDir(), "vec.db"), Distance: vectordb.Euclidean})
		require.NoError(t, err)
		t.Cleanup(func() { store.Close() })
		return store
	})
}

func TestFileDatabasePersists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "vectors.db")

	store, err := New(vectordb.Config{Path: path})
	require.NoError(t, err)
	require.NoError(t, store.EnsureCollection(ctx, "docs", 2))
	ids, err := store.Upsert(ctx, "docs", []vectordb.Record{
		{Vector: []float32{1, 0}, Text: "kept", Metadata: map[string]string{"File Name": `quote"d`}},
	})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := New(vectordb.Config{Path: path})
	require.NoError(t, err)
	defer reopened.Close()

	results, err := reopened.Search(ctx, "docs", []float32{1, 0}, 1,
		&vectordb.Filter{Metadata: map[string]string{"File Name": `quote"d`}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, ids[0], results[0].ID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-6)
}

func TestInvalidCollectionName(t *testing.T) {
	store, err := New(vectordb.Config{})
	require.NoError(t, err)
	defer store.Close()

	err = store.EnsureCollection(context.Background(), "bad name;", 2)
	assert.Equal(t, vectordb.KindInvalidArgument, vectordb.KindOf(err))
}

func TestRegisterAllError(t *testing.T) {
	errTaken := errors.New("function already registered")
	var calls int
	err := registerAll(func(name string, nArgs int32, fn func(*sqlite.FunctionContext, []driver.Value) (driver.Value, error)) error {
		calls++
		return errTaken
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, errTaken)
	assert.Equal(t, 1, calls)

	var names []string
	require.NoError(t, registerAll(func(name string, nArgs int32, fn func(*sqlite.FunctionContext, []driver.Value) (driver.Value, error)) error {
		assert.Equal(t, int32(2), nArgs)
		names = append(names, name)
		return nil
	}))
	assert.ElementsMatch(t, []string{"vec_cosine_distance", "vec_dot", "vec_l2"}, names)
}
