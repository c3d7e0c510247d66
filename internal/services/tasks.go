package services

import (
	"context"
	"fmt"
	"time"

	"github.com/fyerfyer/lang-data/internal/document"
	"github.com/fyerfyer/lang-data/pkg/taskqueue"
	"github.com/sirupsen/logrus"
)

// IngestTaskHandler 异步导入任务处理器
// 处理文件导入、链接导入和来源删除三类任务
type IngestTaskHandler struct {
	pipelines *PipelineSet
	loader    document.Loader
	logger    *logrus.Logger
}

// NewIngestTaskHandler 创建任务处理器
// loader的LoadFile参数是存储中的文件ID，通常是StorageLoader
func NewIngestTaskHandler(pipelines *PipelineSet, loader document.Loader, logger *logrus.Logger) *IngestTaskHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &IngestTaskHandler{pipelines: pipelines, loader: loader, logger: logger}
}

// GetTaskTypes 返回支持的任务类型
func (h *IngestTaskHandler) GetTaskTypes() []taskqueue.TaskType {
	return []taskqueue.TaskType{
		taskqueue.TaskIngestFile,
		taskqueue.TaskIngestLink,
		taskqueue.TaskForgetSource,
	}
}

// ProcessTask 处理任务
func (h *IngestTaskHandler) ProcessTask(ctx context.Context, task *taskqueue.Task) (interface{}, error) {
	h.logger.WithFields(logrus.Fields{
		"task_id":   task.ID,
		"task_type": task.Type,
		"source":    task.Source,
	}).Info("Processing task")

	switch task.Type {
	case taskqueue.TaskIngestFile:
		return h.ingestFile(ctx, task)
	case taskqueue.TaskIngestLink:
		return h.ingestLink(ctx, task)
	case taskqueue.TaskForgetSource:
		return h.forget(ctx, task)
	default:
		return nil, fmt.Errorf("%w: unsupported task type %s", taskqueue.ErrInvalidPayload, task.Type)
	}
}

func (h *IngestTaskHandler) ingestFile(ctx context.Context, task *taskqueue.Task) (interface{}, error) {
	var payload taskqueue.IngestFilePayload
	if err := taskqueue.UnmarshalPayload(task.Payload, &payload); err != nil {
		return nil, err
	}
	if payload.StorageID == "" {
		return nil, fmt.Errorf("%w: storage_id is required", taskqueue.ErrInvalidPayload)
	}

	meta := make(map[string]string, len(payload.Metadata)+1)
	for k, v := range payload.Metadata {
		meta[k] = v
	}
	if payload.FileName != "" {
		meta[document.MetaFileName] = payload.FileName
	}
	loader := &annotatedLoader{Loader: h.loader, metadata: meta}

	start := time.Now()
	report, err := h.pipelines.For(payload.Collection).IngestFiles(ctx, loader, []string{payload.StorageID})
	return h.result(payload.Collection, task.Source, report, start), err
}

func (h *IngestTaskHandler) ingestLink(ctx context.Context, task *taskqueue.Task) (interface{}, error) {
	var payload taskqueue.IngestLinkPayload
	if err := taskqueue.UnmarshalPayload(task.Payload, &payload); err != nil {
		return nil, err
	}
	if payload.URL == "" {
		return nil, fmt.Errorf("%w: url is required", taskqueue.ErrInvalidPayload)
	}

	start := time.Now()
	report, err := h.pipelines.For(payload.Collection).IngestLinks(ctx, h.loader, []string{payload.URL})
	return h.result(payload.Collection, task.Source, report, start), err
}

func (h *IngestTaskHandler) forget(ctx context.Context, task *taskqueue.Task) (interface{}, error) {
	var payload taskqueue.ForgetPayload
	if err := taskqueue.UnmarshalPayload(task.Payload, &payload); err != nil {
		return nil, err
	}
	if payload.Source == "" {
		return nil, fmt.Errorf("%w: source is required", taskqueue.ErrInvalidPayload)
	}

	p := h.pipelines.For(payload.Collection)
	deleted, err := p.Forget(ctx, payload.Source)
	if err != nil {
		return nil, err
	}
	return &taskqueue.ForgetResult{Collection: p.Collection(), Source: payload.Source, Deleted: deleted}, nil
}

// result 汇总导入报告
func (h *IngestTaskHandler) result(collection, source string, report *IngestReport, start time.Time) *taskqueue.IngestResult {
	if collection == "" {
		collection = h.pipelines.DefaultCollection()
	}
	res := &taskqueue.IngestResult{
		Collection: collection,
		Source:     source,
		ChunkIDs:   []string{},
		DurationMS: time.Since(start).Milliseconds(),
	}
	if report == nil {
		return res
	}
	res.Documents = report.Documents
	res.ChunkCount = report.Chunks
	for _, r := range report.Results {
		res.ChunkIDs = append(res.ChunkIDs, r.ChunkIDs...)
	}
	return res
}

// annotatedLoader 给加载的文档补充元数据，已有的键不覆盖
type annotatedLoader struct {
	document.Loader
	metadata map[string]string
}

func (l *annotatedLoader) LoadFile(ctx context.Context, path string) ([]document.Document, error) {
	docs, err := l.Loader.LoadFile(ctx, path)
	if err != nil {
		return nil, err
	}
	for i := range docs {
		if docs[i].Metadata == nil {
			docs[i].Metadata = make(map[string]string, len(l.metadata))
		}
		for k, v := range l.metadata {
			if _, ok := docs[i].Metadata[k]; !ok {
				docs[i].Metadata[k] = v
			}
		}
	}
	return docs, nil
}

var _ taskqueue.Handler = (*IngestTaskHandler)(nil)
