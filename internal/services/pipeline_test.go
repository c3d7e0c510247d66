package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/fyerfyer/lang-data/internal/database"
	"github.com/fyerfyer/lang-data/internal/document"
	"github.com/fyerfyer/lang-data/internal/embedding"
	"github.com/fyerfyer/lang-data/internal/models"
	"github.com/fyerfyer/lang-data/internal/repository"
	"github.com/fyerfyer/lang-data/internal/vectordb"
	"github.com/fyerfyer/lang-data/internal/vectordb/memory"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingStore 统计对底层存储的调用次数
type countingStore struct {
	vectordb.Store
	calls int32
}

func (s *countingStore) EnsureCollection(ctx context.Context, name string, dim int) error {
	atomic.AddInt32(&s.calls, 1)
	return s.Store.EnsureCollection(ctx, name, dim)
}

func (s *countingStore) Upsert(ctx context.Context, name string, records []vectordb.Record) ([]string, error) {
	atomic.AddInt32(&s.calls, 1)
	return s.Store.Upsert(ctx, name, records)
}

func (s *countingStore) Search(ctx context.Context, name string, v []float32, k int, f *vectordb.Filter) ([]vectordb.Result, error) {
	atomic.AddInt32(&s.calls, 1)
	return s.Store.Search(ctx, name, v, k, f)
}

// failingEmbedder 文本包含FAIL时返回错误
type failingEmbedder struct {
	embedding.Client
}

func (e *failingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	for _, text := range texts {
		if strings.Contains(text, "FAIL") {
			return nil, embedding.NewEmbeddingError(embedding.ErrCodeServerError, "upstream failure")
		}
	}
	return e.Client.EmbedBatch(ctx, texts)
}

type testEnv struct {
	pipeline *RetrievalPipeline
	store    *memory.Store
	ledger   repository.SourceRepository
}

func newTestSplitter(t *testing.T) document.Splitter {
	splitter, err := document.NewCharacterSplitter(document.SplitterConfig{
		ChunkSize:        100,
		Separator:        "\n",
		IsSeparatorRegex: true,
	})
	require.NoError(t, err)
	return splitter
}

func newTestEmbedder(t *testing.T) embedding.Client {
	client, err := embedding.NewHashClient(embedding.WithDimensions(64))
	require.NoError(t, err)
	return client
}

func setupPipeline(t *testing.T, opts ...PipelineOption) *testEnv {
	return setupPipelineWith(t, newTestEmbedder(t), opts...)
}

func setupPipelineWith(t *testing.T, embedder embedding.Client, opts ...PipelineOption) *testEnv {
	store, err := memory.New(vectordb.Config{Type: "memory"})
	require.NoError(t, err)

	db, err := database.Open(&database.Config{Type: "sqlite", DSN: ":memory:"}, logrus.New())
	require.NoError(t, err)
	t.Cleanup(func() { database.Close(db) })
	ledger := repository.NewSourceRepository(db)

	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)
	base := []PipelineOption{
		WithCollection("docs"),
		WithBatchSize(2),
		WithWorkers(3),
		WithLogger(logger),
		WithLedger(ledger),
	}
	p := NewRetrievalPipeline(newTestSplitter(t), embedder, store, append(base, opts...)...)
	return &testEnv{pipeline: p, store: store.(*memory.Store), ledger: ledger}
}

func doc(source, text string) document.Document {
	return document.NewDocument(text, map[string]string{document.MetaSource: source})
}

func TestPipelineUnconfigured(t *testing.T) {
	store, err := memory.New(vectordb.Config{Type: "memory"})
	require.NoError(t, err)
	counting := &countingStore{Store: store}
	p := NewRetrievalPipeline(newTestSplitter(t), newTestEmbedder(t), counting)

	_, err = p.Ingest(context.Background(), []document.Document{doc("a", "text")})
	var cfgErr *document.ConfigError
	require.True(t, errors.As(err, &cfgErr), "got %v", err)
	assert.Equal(t, "collection", cfgErr.Field)

	_, err = p.Retrieve(context.Background(), "text", 3)
	assert.True(t, errors.As(err, &cfgErr))

	assert.True(t, errors.As(p.Prepare(context.Background()), &cfgErr))
	assert.Equal(t, int32(0), atomic.LoadInt32(&counting.calls))
}

func TestPipelineIngestAndRetrieve(t *testing.T) {
	ctx := context.Background()
	env := setupPipeline(t)

	report, err := env.pipeline.Ingest(ctx, []document.Document{
		doc("animals.txt", "quick brown fox\nlazy sleeping dog\ngreen tree frog"),
		doc("colors.txt", "deep ocean blue\nbright sunny yellow"),
	})
	require.NoError(t, err)
	assert.True(t, env.pipeline.Ready())
	assert.Equal(t, 2, report.Documents)
	assert.Equal(t, 2, report.Succeeded)
	assert.Equal(t, 5, report.Chunks)
	assert.Equal(t, 5, env.store.Count("docs"))
	require.Len(t, report.Results[0].ChunkIDs, 3)
	assert.Equal(t, "animals.txt", report.Results[0].Source)

	docs, err := env.pipeline.Retrieve(ctx, "lazy sleeping dog", 2)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "lazy sleeping dog", docs[0].Text)

	score, err := strconv.ParseFloat(docs[0].Metadata[MetaScore], 32)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, score, 1e-4)
	assert.Equal(t, "1", docs[0].Metadata[document.MetaLookupIndex])
	assert.Equal(t, "animals.txt", docs[0].Metadata[document.MetaSource])
	assert.Equal(t, report.Results[0].ChunkIDs[1], docs[0].Metadata[MetaID])
	assert.Contains(t, docs[0].Metadata, MetaDistance)
}

func TestPipelineChunkOrder(t *testing.T) {
	ctx := context.Background()
	env := setupPipeline(t)

	lines := []string{"first alpha", "second bravo", "third charlie", "fourth delta", "fifth echo"}
	report, err := env.pipeline.Ingest(ctx, []document.Document{doc("order.txt", strings.Join(lines, "\n"))})
	require.NoError(t, err)
	ids := report.Results[0].ChunkIDs
	require.Len(t, ids, len(lines))

	for i, line := range lines {
		docs, err := env.pipeline.Retrieve(ctx, line, 1)
		require.NoError(t, err)
		require.Len(t, docs, 1)
		assert.Equal(t, strconv.Itoa(i), docs[0].Metadata[document.MetaLookupIndex])
		assert.Equal(t, ids[i], docs[0].Metadata[MetaID])
	}
}

func TestPipelinePartialFailure(t *testing.T) {
	ctx := context.Background()
	env := setupPipelineWith(t, &failingEmbedder{Client: newTestEmbedder(t)})

	report, err := env.pipeline.Ingest(ctx, []document.Document{
		doc("good.txt", "works fine"),
		doc("bad.txt", "this will FAIL"),
		doc("also-good.txt", "also works"),
	})
	require.Error(t, err)

	var ingestErr *IngestError
	require.True(t, errors.As(err, &ingestErr))
	require.Len(t, ingestErr.Failures, 1)
	assert.Equal(t, 1, ingestErr.Failures[0].Index)
	assert.True(t, embedding.IsCode(err, embedding.ErrCodeServerError))

	assert.Equal(t, 2, report.Succeeded)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 2, env.store.Count("docs"))

	src, err := env.ledger.Get(ctx, "docs", "bad.txt")
	require.NoError(t, err)
	assert.Equal(t, models.SourceStatusFailed, src.Status)
	assert.Contains(t, src.Error, "upstream failure")

	src, err = env.ledger.Get(ctx, "docs", "good.txt")
	require.NoError(t, err)
	assert.Equal(t, models.SourceStatusCompleted, src.Status)
	assert.Equal(t, 1, src.ChunkCount)
}

func TestPipelineSkipsEmptyChunks(t *testing.T) {
	env := setupPipeline(t)
	report, err := env.pipeline.Ingest(context.Background(), []document.Document{
		doc("gaps.txt", "one line\n\n   \nanother line"),
		doc("empty.txt", ""),
	})
	require.NoError(t, err)
	assert.Len(t, report.Results[0].ChunkIDs, 2)
	assert.Empty(t, report.Results[1].ChunkIDs)
}

func TestPipelineReingestReplaces(t *testing.T) {
	ctx := context.Background()
	env := setupPipeline(t)

	_, err := env.pipeline.Ingest(ctx, []document.Document{doc("notes.txt", "old content\nmore old content")})
	require.NoError(t, err)
	assert.Equal(t, 2, env.store.Count("docs"))

	report, err := env.pipeline.Ingest(ctx, []document.Document{doc("notes.txt", "new content")})
	require.NoError(t, err)
	assert.Equal(t, 1, env.store.Count("docs"))

	src, err := env.ledger.Get(ctx, "docs", "notes.txt")
	require.NoError(t, err)
	ids, err := src.IDs()
	require.NoError(t, err)
	assert.Equal(t, report.Results[0].ChunkIDs, ids)
}

func TestPipelineSharedSource(t *testing.T) {
	for _, workers := range []int{1, 3} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			ctx := context.Background()
			env := setupPipeline(t, WithWorkers(workers))

			_, err := env.pipeline.Ingest(ctx, []document.Document{doc("wiki", "stale page")})
			require.NoError(t, err)

			report, err := env.pipeline.Ingest(ctx, []document.Document{
				doc("wiki", "page one\npage one again"),
				doc("other", "unrelated"),
				doc("wiki", "page two"),
			})
			require.NoError(t, err)
			assert.Equal(t, 4, report.Chunks)
			assert.Equal(t, report.Chunks, env.store.Count("docs"))

			src, err := env.ledger.Get(ctx, "docs", "wiki")
			require.NoError(t, err)
			assert.Equal(t, models.SourceStatusCompleted, src.Status)
			ids, err := src.IDs()
			require.NoError(t, err)
			merged := append(append([]string{}, report.Results[0].ChunkIDs...), report.Results[2].ChunkIDs...)
			assert.Equal(t, merged, ids)
			assert.Equal(t, 3, src.ChunkCount)
		})
	}
}

func TestPipelineSharedSourceFailure(t *testing.T) {
	ctx := context.Background()
	env := setupPipelineWith(t, &failingEmbedder{Client: newTestEmbedder(t)})

	_, err := env.pipeline.Ingest(ctx, []document.Document{doc("wiki", "stale page")})
	require.NoError(t, err)

	report, err := env.pipeline.Ingest(ctx, []document.Document{
		doc("wiki", "page one"),
		doc("wiki", "page two will FAIL"),
	})
	require.Error(t, err)
	assert.Equal(t, 0, report.Succeeded)
	assert.Equal(t, 2, report.Failed)
	assert.Empty(t, report.Results[0].ChunkIDs)

	// 旧的分块保留，新写入的全部回滚
	assert.Equal(t, 1, env.store.Count("docs"))
	src, err := env.ledger.Get(ctx, "docs", "wiki")
	require.NoError(t, err)
	assert.Equal(t, models.SourceStatusFailed, src.Status)
	assert.Equal(t, 1, src.ChunkCount)
}

func TestPipelineForget(t *testing.T) {
	ctx := context.Background()
	env := setupPipeline(t)

	_, err := env.pipeline.Ingest(ctx, []document.Document{
		doc("keep.txt", "kept line"),
		doc("drop.txt", "dropped line\nanother dropped line"),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, env.store.Count("docs"))

	n, err := env.pipeline.Forget(ctx, "drop.txt")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, env.store.Count("docs"))

	_, err = env.pipeline.Forget(ctx, "drop.txt")
	assert.True(t, errors.Is(err, models.ErrSourceNotFound))
}

func TestPipelineForgetRequiresLedger(t *testing.T) {
	store, err := memory.New(vectordb.Config{Type: "memory"})
	require.NoError(t, err)
	p := NewRetrievalPipeline(newTestSplitter(t), newTestEmbedder(t), store, WithCollection("docs"))

	_, err = p.Forget(context.Background(), "a.txt")
	var cfgErr *document.ConfigError
	assert.True(t, errors.As(err, &cfgErr))
}

func TestPipelineDrop(t *testing.T) {
	ctx := context.Background()
	env := setupPipeline(t)

	_, err := env.pipeline.Ingest(ctx, []document.Document{doc("a.txt", "some text")})
	require.NoError(t, err)

	require.NoError(t, env.pipeline.Drop(ctx))
	assert.False(t, env.pipeline.Ready())

	_, err = env.pipeline.Retrieve(ctx, "some text", 1)
	assert.True(t, vectordb.IsNotFound(err), "got %v", err)

	_, total, err := env.ledger.List(ctx, "docs", 0, 10)
	require.NoError(t, err)
	assert.Zero(t, total)

	_, err = env.pipeline.Ingest(ctx, []document.Document{doc("a.txt", "some text")})
	require.NoError(t, err)
	assert.Equal(t, 1, env.store.Count("docs"))
}

func TestPipelineMinScore(t *testing.T) {
	ctx := context.Background()
	env := setupPipeline(t, WithMinScore(0.99))

	_, err := env.pipeline.Ingest(ctx, []document.Document{doc("a.txt", "apples and pears\nrockets and planets")})
	require.NoError(t, err)

	docs, err := env.pipeline.Retrieve(ctx, "apples and pears", 5)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "apples and pears", docs[0].Text)
}

func TestPipelineRetrieveFilter(t *testing.T) {
	ctx := context.Background()
	env := setupPipeline(t)

	_, err := env.pipeline.Ingest(ctx, []document.Document{
		doc("a.txt", "shared words here"),
		doc("b.txt", "shared words there"),
	})
	require.NoError(t, err)

	docs, err := env.pipeline.RetrieveWithFilter(ctx, "shared words", 5, map[string]string{document.MetaSource: "b.txt"})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "shared words there", docs[0].Text)

	_, err = env.pipeline.Retrieve(ctx, "  ", 5)
	var cfgErr *document.ConfigError
	assert.True(t, errors.As(err, &cfgErr))
}

func TestPipelineIngestFiles(t *testing.T) {
	ctx := context.Background()
	env := setupPipeline(t)

	dir := t.TempDir()
	good := filepath.Join(dir, "good.txt")
	require.NoError(t, os.WriteFile(good, []byte("file content line\nsecond file line"), 0644))
	missing := filepath.Join(dir, "missing.txt")

	loader := document.NewFileLoader(document.NewLinkLoader())
	report, err := env.pipeline.IngestFiles(ctx, loader, []string{missing, good})
	require.Error(t, err)

	var loaderErr *document.LoaderError
	assert.True(t, errors.As(err, &loaderErr))
	require.Len(t, report.Results, 2)
	assert.Equal(t, 0, report.Results[0].Index)
	assert.Error(t, report.Results[0].Err)
	assert.Equal(t, 1, report.Results[1].Index)
	assert.Len(t, report.Results[1].ChunkIDs, 2)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 2, report.Chunks)

	src, err := env.ledger.Get(ctx, "docs", missing)
	require.NoError(t, err)
	assert.Equal(t, models.SourceStatusFailed, src.Status)
}

func TestPipelineCanceledContext(t *testing.T) {
	env := setupPipeline(t)
	require.NoError(t, env.pipeline.Prepare(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := env.pipeline.Ingest(ctx, []document.Document{doc("a.txt", "text")})
	require.Error(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.True(t, errors.Is(err, context.Canceled))
}
