package taskqueue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupQueue 基于miniredis创建队列
func setupQueue(t *testing.T) *RedisQueue {
	mr := miniredis.RunT(t)
	cfg := &Config{
		RedisAddr:   mr.Addr(),
		Concurrency: 2,
		RetryLimit:  2,
		RetryDelay:  time.Second,
		Queues:      map[string]int{defaultQueueName: 1},
	}
	queue, err := NewRedisQueue(cfg, logrus.New())
	require.NoError(t, err)
	t.Cleanup(func() { queue.Close() })
	return queue
}

func filePayload() *IngestFilePayload {
	return &IngestFilePayload{
		Collection: "docs",
		StorageID:  "file-123",
		FileName:   "report.pdf",
		Metadata:   map[string]string{"team": "search"},
	}
}

func TestNewRedisQueueUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedisQueue(&Config{RedisAddr: addr}, nil)
	assert.Error(t, err)
}

func TestNewQueueFactory(t *testing.T) {
	mr := miniredis.RunT(t)
	queue, err := NewQueue("redis", &Config{RedisAddr: mr.Addr(), RetryLimit: 1})
	require.NoError(t, err)
	require.NoError(t, queue.Close())

	_, err = NewQueue("kafka", nil)
	assert.Error(t, err)
}

func TestRedisQueue_Enqueue(t *testing.T) {
	queue := setupQueue(t)
	ctx := context.Background()

	taskID, err := queue.Enqueue(ctx, TaskIngestFile, "file-123", filePayload())
	require.NoError(t, err)
	assert.NotEmpty(t, taskID)

	task, err := queue.GetTask(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, taskID, task.ID)
	assert.Equal(t, TaskIngestFile, task.Type)
	assert.Equal(t, "file-123", task.Source)
	assert.Equal(t, StatusPending, task.Status)
	assert.Equal(t, 2, task.MaxRetries)

	var payload IngestFilePayload
	require.NoError(t, UnmarshalPayload(task.Payload, &payload))
	assert.Equal(t, *filePayload(), payload)
}

func TestRedisQueue_EnqueueDelayed(t *testing.T) {
	queue := setupQueue(t)
	ctx := context.Background()

	atID, err := queue.EnqueueAt(ctx, TaskIngestLink, "https://example.com", &IngestLinkPayload{Collection: "docs", URL: "https://example.com"}, time.Now().Add(time.Hour))
	require.NoError(t, err)
	inID, err := queue.EnqueueIn(ctx, TaskIngestLink, "https://example.com", &IngestLinkPayload{Collection: "docs", URL: "https://example.com"}, time.Minute)
	require.NoError(t, err)
	assert.NotEqual(t, atID, inID)

	tasks, err := queue.GetTasksBySource(ctx, "https://example.com")
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	ids := []string{tasks[0].ID, tasks[1].ID}
	assert.ElementsMatch(t, []string{atID, inID}, ids)
}

func TestRedisQueue_GetTaskNotFound(t *testing.T) {
	queue := setupQueue(t)
	_, err := queue.GetTask(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrTaskNotFound))

	tasks, err := queue.GetTasksBySource(context.Background(), "nothing")
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestRedisQueue_UpdateTaskStatus(t *testing.T) {
	queue := setupQueue(t)
	ctx := context.Background()

	taskID, err := queue.Enqueue(ctx, TaskIngestFile, "file-123", filePayload())
	require.NoError(t, err)

	require.NoError(t, queue.UpdateTaskStatus(ctx, taskID, StatusProcessing, nil, ""))
	task, err := queue.GetTask(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, task.Status)
	assert.NotNil(t, task.StartedAt)
	assert.Equal(t, 1, task.Attempts)

	result := &IngestResult{Collection: "docs", Source: "file-123", ChunkCount: 2, ChunkIDs: []string{"a", "b"}}
	require.NoError(t, queue.UpdateTaskStatus(ctx, taskID, StatusCompleted, result, ""))
	task, err = queue.GetTask(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, task.Status)
	assert.NotNil(t, task.CompletedAt)

	var got IngestResult
	require.NoError(t, json.Unmarshal(task.Result, &got))
	assert.Equal(t, []string{"a", "b"}, got.ChunkIDs)

	require.NoError(t, queue.UpdateTaskStatus(ctx, taskID, StatusFailed, nil, "boom"))
	task, err = queue.GetTask(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, "boom", task.Error)

	err = queue.UpdateTaskStatus(ctx, "missing", StatusFailed, nil, "")
	assert.True(t, errors.Is(err, ErrTaskNotFound))
}

func TestRedisQueue_DeleteTask(t *testing.T) {
	queue := setupQueue(t)
	ctx := context.Background()

	taskID, err := queue.Enqueue(ctx, TaskForgetSource, "a.txt", &ForgetPayload{Collection: "docs", Source: "a.txt"})
	require.NoError(t, err)

	require.NoError(t, queue.DeleteTask(ctx, taskID))
	_, err = queue.GetTask(ctx, taskID)
	assert.True(t, errors.Is(err, ErrTaskNotFound))

	tasks, err := queue.GetTasksBySource(ctx, "a.txt")
	require.NoError(t, err)
	assert.Empty(t, tasks)

	assert.True(t, errors.Is(queue.DeleteTask(ctx, taskID), ErrTaskNotFound))
}

func TestRedisQueue_WaitForTask(t *testing.T) {
	queue := setupQueue(t)
	ctx := context.Background()

	taskID, err := queue.Enqueue(ctx, TaskIngestFile, "file-123", filePayload())
	require.NoError(t, err)

	_, err = queue.WaitForTask(ctx, taskID, 50*time.Millisecond)
	assert.True(t, errors.Is(err, ErrTaskTimeout))

	go func() {
		time.Sleep(50 * time.Millisecond)
		queue.UpdateTaskStatus(context.Background(), taskID, StatusCompleted, nil, "")
		queue.NotifyTaskUpdate(context.Background(), taskID)
	}()
	task, err := queue.WaitForTask(ctx, taskID, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, task.Status)
}

func TestRedisWorker_Process(t *testing.T) {
	queue := setupQueue(t)
	worker := NewRedisWorker(queue, nil)
	ctx := context.Background()

	taskID, err := queue.Enqueue(ctx, TaskIngestFile, "file-123", filePayload())
	require.NoError(t, err)

	handler := HandlerFunc(func(ctx context.Context, task *Task) (interface{}, error) {
		var p IngestFilePayload
		if err := UnmarshalPayload(task.Payload, &p); err != nil {
			return nil, err
		}
		return &IngestResult{Collection: p.Collection, Source: p.StorageID, ChunkCount: 3}, nil
	})
	require.NoError(t, worker.process(ctx, taskID, handler))

	task, err := queue.GetTask(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, task.Status)
	assert.Equal(t, 1, task.Attempts)
	var result IngestResult
	require.NoError(t, json.Unmarshal(task.Result, &result))
	assert.Equal(t, 3, result.ChunkCount)
}

func TestRedisWorker_ProcessFailure(t *testing.T) {
	queue := setupQueue(t)
	worker := NewRedisWorker(queue, nil)
	ctx := context.Background()

	taskID, err := queue.Enqueue(ctx, TaskIngestFile, "file-123", filePayload())
	require.NoError(t, err)

	failing := HandlerFunc(func(ctx context.Context, task *Task) (interface{}, error) {
		return nil, errors.New("embedding backend down")
	})
	err = worker.process(ctx, taskID, failing)
	require.Error(t, err)
	assert.False(t, errors.Is(err, asynq.SkipRetry))

	task, err := queue.GetTask(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, task.Status)
	assert.Equal(t, "embedding backend down", task.Error)

	invalid := HandlerFunc(func(ctx context.Context, task *Task) (interface{}, error) {
		return nil, UnmarshalPayload(json.RawMessage("not json"), &IngestFilePayload{})
	})
	err = worker.process(ctx, taskID, invalid)
	assert.True(t, errors.Is(err, asynq.SkipRetry))

	err = worker.process(ctx, "missing", invalid)
	assert.True(t, errors.Is(err, asynq.SkipRetry))
}

func TestTaskInfo(t *testing.T) {
	now := time.Now()
	startedAt := now.Add(-5 * time.Minute)
	completedAt := now.Add(-1 * time.Minute)

	task := &Task{
		ID:          "task-123",
		Type:        TaskIngestFile,
		Source:      "file-123",
		Status:      StatusCompleted,
		Result:      json.RawMessage(`{"chunk_count":2}`),
		CreatedAt:   now.Add(-10 * time.Minute),
		UpdatedAt:   now,
		StartedAt:   &startedAt,
		CompletedAt: &completedAt,
		Attempts:    1,
		MaxRetries:  3,
	}

	info := NewTaskInfo(task)
	assert.Equal(t, task.ID, info.ID)
	assert.Equal(t, task.Type, info.Type)
	assert.Equal(t, task.Source, info.Source)
	assert.Equal(t, task.Status, info.Status)
	assert.Equal(t, task.Result, info.Result)
	assert.Equal(t, task.StartedAt, info.StartedAt)
	assert.Equal(t, task.CompletedAt, info.CompletedAt)
}

func TestUnmarshalPayload(t *testing.T) {
	var p ForgetPayload
	assert.True(t, errors.Is(UnmarshalPayload(nil, &p), ErrInvalidPayload))
	assert.True(t, errors.Is(UnmarshalPayload(json.RawMessage("{"), &p), ErrInvalidPayload))
	require.NoError(t, UnmarshalPayload(json.RawMessage(`{"collection":"docs","source":"a"}`), &p))
	assert.Equal(t, "a", p.Source)
}
