package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/fyerfyer/lang-data/internal/document"
	"github.com/fyerfyer/lang-data/internal/models"
	"github.com/fyerfyer/lang-data/internal/vectordb"
	"github.com/fyerfyer/lang-data/internal/vectordb/memory"
	"github.com/fyerfyer/lang-data/pkg/storage"
	"github.com/fyerfyer/lang-data/pkg/taskqueue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type taskEnv struct {
	handler *IngestTaskHandler
	set     *PipelineSet
	files   storage.Storage
}

func setupTaskHandler(t *testing.T) *taskEnv {
	env := setupPipeline(t)
	set := NewPipelineSet("docs", newTestSplitter(t), newTestEmbedder(t), env.store,
		WithLedger(env.ledger), WithBatchSize(2))

	files, err := storage.NewLocalStorage(storage.LocalConfig{Path: t.TempDir()})
	require.NoError(t, err)
	loader := document.NewStorageLoader(files, nil)
	return &taskEnv{handler: NewIngestTaskHandler(set, loader, nil), set: set, files: files}
}

func newTask(t *testing.T, taskType taskqueue.TaskType, source string, payload interface{}) *taskqueue.Task {
	data, err := taskqueue.MarshalPayload(payload)
	require.NoError(t, err)
	return &taskqueue.Task{ID: "task-1", Type: taskType, Source: source, Payload: data}
}

func TestPipelineSet(t *testing.T) {
	store, err := memory.New(vectordb.Config{Type: "memory"})
	require.NoError(t, err)
	set := NewPipelineSet("docs", newTestSplitter(t), newTestEmbedder(t), store)

	assert.Same(t, set.Default(), set.For("docs"))
	assert.Equal(t, "docs", set.Default().Collection())
	other := set.For("other")
	assert.Equal(t, "other", other.Collection())
	assert.NotSame(t, set.Default(), other)
	assert.Equal(t, []string{"docs", "other"}, set.Collections())
	assert.Equal(t, store, set.Store())
}

func TestIngestTaskHandler_File(t *testing.T) {
	env := setupTaskHandler(t)
	ctx := context.Background()

	info, err := env.files.Save(ctx, strings.NewReader("first line\nsecond line"), "notes.txt")
	require.NoError(t, err)

	task := newTask(t, taskqueue.TaskIngestFile, info.ID, &taskqueue.IngestFilePayload{
		StorageID: info.ID,
		FileName:  "ignored.txt",
		Metadata:  map[string]string{"team": "search"},
	})
	out, err := env.handler.ProcessTask(ctx, task)
	require.NoError(t, err)

	result, ok := out.(*taskqueue.IngestResult)
	require.True(t, ok)
	assert.Equal(t, "docs", result.Collection)
	assert.Equal(t, 1, result.Documents)
	assert.Equal(t, 2, result.ChunkCount)
	assert.Len(t, result.ChunkIDs, 2)

	docs, err := env.set.Default().RetrieveWithFilter(ctx, "first line", 5, map[string]string{"team": "search"})
	require.NoError(t, err)
	require.NotEmpty(t, docs)
	assert.Equal(t, "notes.txt", docs[0].Metadata[document.MetaFileName])

	src, err := env.set.Default().Ledger().Get(ctx, "docs", "storage://"+info.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SourceStatusCompleted, src.Status)
}

func TestIngestTaskHandler_MissingFile(t *testing.T) {
	env := setupTaskHandler(t)

	task := newTask(t, taskqueue.TaskIngestFile, "nope", &taskqueue.IngestFilePayload{StorageID: "nope"})
	out, err := env.handler.ProcessTask(context.Background(), task)
	require.Error(t, err)

	var loaderErr *document.LoaderError
	assert.True(t, errors.As(err, &loaderErr))
	result := out.(*taskqueue.IngestResult)
	assert.Equal(t, 0, result.ChunkCount)
}

func TestIngestTaskHandler_Forget(t *testing.T) {
	env := setupTaskHandler(t)
	ctx := context.Background()

	_, err := env.set.For("other").Ingest(ctx, []document.Document{doc("a.txt", "alpha\nbeta\ngamma")})
	require.NoError(t, err)

	task := newTask(t, taskqueue.TaskForgetSource, "a.txt", &taskqueue.ForgetPayload{Collection: "other", Source: "a.txt"})
	out, err := env.handler.ProcessTask(ctx, task)
	require.NoError(t, err)
	result := out.(*taskqueue.ForgetResult)
	assert.Equal(t, "other", result.Collection)
	assert.Equal(t, 3, result.Deleted)

	_, err = env.handler.ProcessTask(ctx, task)
	assert.True(t, errors.Is(err, models.ErrSourceNotFound))
}

func TestIngestTaskHandler_InvalidPayload(t *testing.T) {
	env := setupTaskHandler(t)
	ctx := context.Background()

	cases := []*taskqueue.Task{
		{Type: taskqueue.TaskIngestFile},
		newTask(t, taskqueue.TaskIngestFile, "", &taskqueue.IngestFilePayload{}),
		newTask(t, taskqueue.TaskIngestLink, "", &taskqueue.IngestLinkPayload{}),
		newTask(t, taskqueue.TaskForgetSource, "", &taskqueue.ForgetPayload{}),
		newTask(t, taskqueue.TaskType("resize_image"), "", nil),
	}
	for _, task := range cases {
		_, err := env.handler.ProcessTask(ctx, task)
		assert.True(t, errors.Is(err, taskqueue.ErrInvalidPayload), "type %s: %v", task.Type, err)
	}

	assert.ElementsMatch(t, []taskqueue.TaskType{
		taskqueue.TaskIngestFile, taskqueue.TaskIngestLink, taskqueue.TaskForgetSource,
	}, env.handler.GetTaskTypes())
}
