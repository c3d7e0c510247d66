package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/fyerfyer/lang-data/api/middleware"
	"github.com/fyerfyer/lang-data/api/model"
	"github.com/fyerfyer/lang-data/internal/document"
	"github.com/fyerfyer/lang-data/internal/services"
	"github.com/fyerfyer/lang-data/pkg/storage"
	"github.com/fyerfyer/lang-data/pkg/taskqueue"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// IngestHandler 处理导入请求
type IngestHandler struct {
	pipelines   *services.PipelineSet // 按集合划分的流水线
	fileStorage storage.Storage       // 原始文件存储
	loader      document.Loader       // 按存储ID和链接加载文档
	queue       taskqueue.Queue       // 任务队列，可以为nil
	logger      *logrus.Logger        // 日志记录器
}

// NewIngestHandler 创建导入处理器
func NewIngestHandler(pipelines *services.PipelineSet, fileStorage storage.Storage, queue taskqueue.Queue) *IngestHandler {
	return &IngestHandler{
		pipelines:   pipelines,
		fileStorage: fileStorage,
		loader:      document.NewStorageLoader(fileStorage, nil),
		queue:       queue,
		logger:      middleware.GetLogger(),
	}
}

// IngestText 导入请求中直接提交的文本
// POST /api/ingest/text
func (h *IngestHandler) IngestText(c *gin.Context) {
	var req model.IngestTextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleError(c, middleware.NewValidationError("invalid ingest request", err.Error()))
		return
	}

	docs := make([]document.Document, len(req.Documents))
	for i, d := range req.Documents {
		docs[i] = document.NewDocument(d.Text, d.Metadata)
	}

	p := h.pipelines.For(req.Collection)
	report, err := p.Ingest(c.Request.Context(), docs)
	h.respondReport(c, p.Collection(), report, err)
}

// IngestFile 上传文件，保存到存储后同步导入或加入任务队列
// POST /api/ingest/file
func (h *IngestHandler) IngestFile(c *gin.Context) {
	var req model.IngestFileRequest
	if err := c.ShouldBind(&req); err != nil {
		middleware.HandleError(c, middleware.NewValidationError("invalid upload request", err.Error()))
		return
	}

	filename := req.File.Filename
	if document.DetectContentType(filename) == document.Unknown {
		middleware.HandleError(c, middleware.NewValidationError(
			"unsupported file type",
			"supported: .pdf, .md, .markdown, .txt, .text, .html",
		))
		return
	}
	if req.Async && h.queue == nil {
		middleware.HandleError(c, middleware.NewUnavailableError("task queue is not enabled"))
		return
	}

	file, err := req.File.Open()
	if err != nil {
		middleware.HandleError(c, middleware.NewInternalError("failed to open uploaded file", err.Error()))
		return
	}
	defer file.Close()

	ctx := c.Request.Context()
	info, err := h.fileStorage.Save(ctx, file, filename)
	if err != nil {
		middleware.WithTrace(c, h.logger).WithError(err).WithField("filename", filename).Error("Failed to save file")
		middleware.HandleError(c, err)
		return
	}
	middleware.WithTrace(c, h.logger).WithFields(logrus.Fields{
		"file_id":  info.ID,
		"filename": info.Name,
		"size":     info.Size,
	}).Info("File uploaded successfully")

	meta := tagMetadata(req.Tags)
	if req.Async {
		taskID, err := h.queue.Enqueue(ctx, taskqueue.TaskIngestFile, info.ID, &taskqueue.IngestFilePayload{
			Collection: req.Collection,
			StorageID:  info.ID,
			FileName:   info.Name,
			Metadata:   meta,
		})
		if err != nil {
			middleware.HandleError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, model.NewSuccessResponse(model.FileUploadResponse{
			FileID:   info.ID,
			FileName: info.Name,
			Status:   "queued",
			TaskID:   taskID,
		}))
		return
	}

	p := h.pipelines.For(req.Collection)
	loader := document.Loader(h.loader)
	if len(meta) > 0 {
		loader = &taggedLoader{Loader: h.loader, tags: meta}
	}
	report, err := p.IngestFiles(ctx, loader, []string{info.ID})
	if !h.checkReport(c, report, err) {
		return
	}
	c.JSON(http.StatusOK, model.NewSuccessResponse(model.FileUploadResponse{
		FileID:   info.ID,
		FileName: info.Name,
		Status:   "completed",
		Report:   model.NewIngestResponse(p.Collection(), report),
	}))
}

// IngestLink 导入链接
// POST /api/ingest/link
func (h *IngestHandler) IngestLink(c *gin.Context) {
	var req model.IngestLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleError(c, middleware.NewValidationError("invalid link request", err.Error()))
		return
	}

	ctx := c.Request.Context()
	if req.Async {
		if h.queue == nil {
			middleware.HandleError(c, middleware.NewUnavailableError("task queue is not enabled"))
			return
		}
		taskID, err := h.queue.Enqueue(ctx, taskqueue.TaskIngestLink, req.URL, &taskqueue.IngestLinkPayload{
			Collection: req.Collection,
			URL:        req.URL,
		})
		if err != nil {
			middleware.HandleError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, model.NewSuccessResponse(model.TaskEnqueueResponse{
			TaskID: taskID,
			Source: req.URL,
			Status: string(taskqueue.StatusPending),
		}))
		return
	}

	p := h.pipelines.For(req.Collection)
	report, err := p.IngestLinks(ctx, h.loader, []string{req.URL})
	h.respondReport(c, p.Collection(), report, err)
}

// respondReport 部分失败时仍返回报告，全部失败时按错误类型返回
func (h *IngestHandler) respondReport(c *gin.Context, collection string, report *services.IngestReport, err error) {
	if !h.checkReport(c, report, err) {
		return
	}
	c.JSON(http.StatusOK, model.NewSuccessResponse(model.NewIngestResponse(collection, report)))
}

func (h *IngestHandler) checkReport(c *gin.Context, report *services.IngestReport, err error) bool {
	if err == nil {
		return true
	}
	var ingestErr *services.IngestError
	if report != nil && errors.As(err, &ingestErr) && report.Succeeded > 0 {
		middleware.WithTrace(c, h.logger).WithError(err).Warn("Ingest partially failed")
		return true
	}
	middleware.HandleError(c, err)
	return false
}

// tagMetadata 将逗号分隔的标签转换为元数据
func tagMetadata(tags string) map[string]string {
	tags = strings.TrimSpace(tags)
	if tags == "" {
		return nil
	}
	parts := strings.Split(tags, ",")
	cleaned := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			cleaned = append(cleaned, p)
		}
	}
	if len(cleaned) == 0 {
		return nil
	}
	return map[string]string{"tags": strings.Join(cleaned, ",")}
}

// taggedLoader 给上传的文件补充标签元数据
type taggedLoader struct {
	document.Loader
	tags map[string]string
}

func (l *taggedLoader) LoadFile(ctx context.Context, id string) ([]document.Document, error) {
	docs, err := l.Loader.LoadFile(ctx, id)
	if err != nil {
		return nil, err
	}
	for i := range docs {
		for k, v := range l.tags {
			docs[i].Metadata[k] = v
		}
	}
	return docs, nil
}
