// Package storetest 向量存储后端的通用一致性测试
package storetest

import (
	"context"
	"strconv"
	"testing"

	"github.com/fyerfyer/lang-data/internal/vectordb"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory 为每个子测试创建一个新的存储
type Factory func(t *testing.T) vectordb.Store

// 测试用的4维向量
var (
	vecA = []float32{1, 0, 0, 0}
	vecB = []float32{0, 1, 0, 0}
	vecC = []float32{0, 0, 1, 0}
	vecD = []float32{0.9, 0.1, 0, 0}
)

// Collections 测试使用的集合名，共享数据库的后端可以在开始前清理
var Collections = []string{"ensure", "missing", "ids", "self", "order", "filter", "invalid", "replace", "delete", "drop"}

// Run 运行全部一致性测试
func Run(t *testing.T, newStore Factory) {
	t.Run("EnsureCollectionIdempotent", func(t *testing.T) { testEnsure(t, newStore(t)) })
	t.Run("UpsertMissingCollection", func(t *testing.T) { testUpsertMissing(t, newStore(t)) })
	t.Run("UpsertIDs", func(t *testing.T) { testUpsertIDs(t, newStore(t)) })
	t.Run("SelfRetrieval", func(t *testing.T) { testSelfRetrieval(t, newStore(t)) })
	t.Run("Ordering", func(t *testing.T) { testOrdering(t, newStore(t)) })
	t.Run("Filter", func(t *testing.T) { testFilter(t, newStore(t)) })
	t.Run("InvalidArguments", func(t *testing.T) { testInvalid(t, newStore(t)) })
	t.Run("Replace", func(t *testing.T) { testReplace(t, newStore(t)) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, newStore(t)) })
	t.Run("Drop", func(t *testing.T) { testDrop(t, newStore(t)) })
}

func ensure(t *testing.T, store vectordb.Store, name string) {
	t.Helper()
	err := store.EnsureCollection(context.Background(), name, 4)
	if err != nil && !vectordb.IsAlreadyExists(err) {
		require.NoError(t, err)
	}
}

func seed(t *testing.T, store vectordb.Store, name string) []string {
	t.Helper()
	ensure(t, store, name)
	ids, err := store.Upsert(context.Background(), name, []vectordb.Record{
		{Vector: vecA, Text: "alpha", Metadata: map[string]string{"group": "x", "lookup_index": "0"}},
		{Vector: vecB, Text: "beta", Metadata: map[string]string{"group": "y", "lookup_index": "1"}},
		{Vector: vecC, Text: "gamma", Metadata: map[string]string{"group": "x", "lookup_index": "2"}},
		{Vector: vecD, Text: "delta", Metadata: map[string]string{"group": "y", "lookup_index": "3"}},
	})
	require.NoError(t, err)
	require.Len(t, ids, 4)
	return ids
}

func testEnsure(t *testing.T, store vectordb.Store) {
	ctx := context.Background()
	require.NoError(t, store.EnsureCollection(ctx, "ensure", 4))

	err := store.EnsureCollection(ctx, "ensure", 4)
	require.Error(t, err)
	assert.True(t, vectordb.IsAlreadyExists(err), "got %v", err)

	err = store.EnsureCollection(ctx, "ensure", 8)
	require.Error(t, err)
	assert.Equal(t, vectordb.KindDimensionMismatch, vectordb.KindOf(err))
}

func testUpsertMissing(t *testing.T, store vectordb.Store) {
	ids, err := store.Upsert(context.Background(), "missing", []vectordb.Record{{Vector: vecA, Text: "x"}})
	require.Error(t, err)
	assert.True(t, vectordb.IsNotFound(err), "got %v", err)
	assert.Empty(t, ids)

	_, err = store.Search(context.Background(), "missing", vecA, 1, nil)
	assert.True(t, vectordb.IsNotFound(err), "got %v", err)
}

func testUpsertIDs(t *testing.T, store vectordb.Store) {
	ctx := context.Background()
	ensure(t, store, "ids")

	given := uuid.NewString()
	ids, err := store.Upsert(ctx, "ids", []vectordb.Record{
		{Vector: vecA, Text: "one"},
		{ID: given, Vector: vecB, Text: "two"},
		{Vector: vecC, Text: "three"},
	})
	require.NoError(t, err)
	require.Len(t, ids, 3)
	assert.Equal(t, given, ids[1])
	for _, id := range ids {
		_, err := uuid.Parse(id)
		assert.NoError(t, err)
	}
	assert.NotEqual(t, ids[0], ids[2])

	ids, err = store.Upsert(ctx, "ids", nil)
	assert.NoError(t, err)
	assert.Empty(t, ids)
}

func testSelfRetrieval(t *testing.T, store vectordb.Store) {
	ctx := context.Background()
	ids := seed(t, store, "self")

	texts := []string{"alpha", "beta", "gamma"}
	for i, v := range [][]float32{vecA, vecB, vecC} {
		results, err := store.Search(ctx, "self", v, 1, nil)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, ids[i], results[0].ID)
		assert.Equal(t, texts[i], results[0].Text)
		assert.Equal(t, strconv.Itoa(i), results[0].Metadata["lookup_index"])
	}
}

func testOrdering(t *testing.T, store vectordb.Store) {
	ctx := context.Background()
	ids := seed(t, store, "order")

	results, err := store.Search(ctx, "order", vecA, 2, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, ids[0], results[0].ID)
	assert.Equal(t, ids[3], results[1].ID)
	assert.GreaterOrEqual(t, results[0].Score, results[1].Score)

	results, err = store.Search(ctx, "order", vecA, 10, nil)
	require.NoError(t, err)
	assert.Len(t, results, 4)
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
	}
}

func testFilter(t *testing.T, store vectordb.Store) {
	ctx := context.Background()
	ids := seed(t, store, "filter")

	results, err := store.Search(ctx, "filter", vecA, 4, &vectordb.Filter{Metadata: map[string]string{"group": "y"}})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, ids[3], results[0].ID)
	assert.Equal(t, ids[1], results[1].ID)
	for _, r := range results {
		assert.Equal(t, "y", r.Metadata["group"])
	}

	results, err = store.Search(ctx, "filter", vecA, 4, &vectordb.Filter{Metadata: map[string]string{"group": "none"}})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func testInvalid(t *testing.T, store vectordb.Store) {
	ctx := context.Background()
	ensure(t, store, "invalid")

	_, err := store.Search(ctx, "invalid", vecA, 0, nil)
	assert.Equal(t, vectordb.KindInvalidArgument, vectordb.KindOf(err))

	_, err = store.Upsert(ctx, "invalid", []vectordb.Record{{Vector: []float32{1, 2}, Text: "short"}})
	assert.Equal(t, vectordb.KindDimensionMismatch, vectordb.KindOf(err))

	_, err = store.Search(ctx, "invalid", []float32{1, 2, 3}, 1, nil)
	assert.Equal(t, vectordb.KindDimensionMismatch, vectordb.KindOf(err))
}

func testReplace(t *testing.T, store vectordb.Store) {
	ctx := context.Background()
	ids := seed(t, store, "replace")

	_, err := store.Upsert(ctx, "replace", []vectordb.Record{{ID: ids[0], Vector: vecB, Text: "alpha-moved"}})
	require.NoError(t, err)

	results, err := store.Search(ctx, "replace", vecA, 10, nil)
	require.NoError(t, err)
	assert.Len(t, results, 4)

	results, err = store.Search(ctx, "replace", vecB, 2, nil)
	require.NoError(t, err)
	got := []string{results[0].ID, results[1].ID}
	assert.ElementsMatch(t, []string{ids[0], ids[1]}, got)
}

func testDelete(t *testing.T, store vectordb.Store) {
	ctx := context.Background()
	ids := seed(t, store, "delete")

	require.NoError(t, store.Delete(ctx, "delete", []string{ids[0], ids[2]}))

	results, err := store.Search(ctx, "delete", vecA, 10, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.NotEqual(t, ids[0], r.ID)
		assert.NotEqual(t, ids[2], r.ID)
	}

	assert.NoError(t, store.Delete(ctx, "delete", nil))
}

func testDrop(t *testing.T, store vectordb.Store) {
	ctx := context.Background()
	seed(t, store, "drop")

	require.NoError(t, store.DropCollection(ctx, "drop"))

	_, err := store.Search(ctx, "drop", vecA, 1, nil)
	assert.True(t, vectordb.IsNotFound(err), "got %v", err)

	err = store.DropCollection(ctx, "drop")
	assert.True(t, vectordb.IsNotFound(err), "got %v", err)

	// 删除后可以重新创建
	assert.NoError(t, store.EnsureCollection(ctx, "drop", 4))
}
