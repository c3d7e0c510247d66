package handler

import (
	"net/http"
	"time"

	"github.com/fyerfyer/lang-data/api/middleware"
	"github.com/fyerfyer/lang-data/api/model"
	"github.com/fyerfyer/lang-data/pkg/taskqueue"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// TaskHandler 处理任务相关的API请求
type TaskHandler struct {
	queue  taskqueue.Queue // 任务队列，未启用时为nil
	logger *logrus.Logger  // 日志记录器
}

// NewTaskHandler 创建新的任务处理器
func NewTaskHandler(queue taskqueue.Queue) *TaskHandler {
	return &TaskHandler{
		queue:  queue,
		logger: middleware.GetLogger(),
	}
}

func (h *TaskHandler) enabled(c *gin.Context) bool {
	if h.queue == nil {
		middleware.HandleError(c, middleware.NewUnavailableError("task queue is not enabled"))
		return false
	}
	return true
}

// EnqueueIngest 将已存储文件的导入加入任务队列
// POST /api/tasks/ingest
func (h *TaskHandler) EnqueueIngest(c *gin.Context) {
	if !h.enabled(c) {
		return
	}
	var req model.TaskIngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleError(c, middleware.NewValidationError("invalid task request", err.Error()))
		return
	}

	payload := &taskqueue.IngestFilePayload{
		Collection: req.Collection,
		StorageID:  req.StorageID,
		FileName:   req.FileName,
		Metadata:   req.Metadata,
	}
	ctx := c.Request.Context()

	var (
		taskID string
		err    error
	)
	if req.DelaySec > 0 {
		taskID, err = h.queue.EnqueueIn(ctx, taskqueue.TaskIngestFile, req.StorageID, payload, time.Duration(req.DelaySec)*time.Second)
	} else {
		taskID, err = h.queue.Enqueue(ctx, taskqueue.TaskIngestFile, req.StorageID, payload)
	}
	if err != nil {
		middleware.WithTrace(c, h.logger).WithError(err).WithField("storage_id", req.StorageID).Error("Failed to enqueue ingest task")
		middleware.HandleError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, model.NewSuccessResponse(model.TaskEnqueueResponse{
		TaskID: taskID,
		Source: req.StorageID,
		Status: string(taskqueue.StatusPending),
	}))
}

// GetTaskStatus 获取任务状态
// GET /api/tasks/:id
func (h *TaskHandler) GetTaskStatus(c *gin.Context) {
	if !h.enabled(c) {
		return
	}
	task, err := h.queue.GetTask(c.Request.Context(), c.Param("id"))
	if err != nil {
		middleware.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, model.NewSuccessResponse(taskqueue.NewTaskInfo(task)))
}

// GetSourceTasks 获取来源相关的所有任务
// GET /api/tasks?source=
func (h *TaskHandler) GetSourceTasks(c *gin.Context) {
	if !h.enabled(c) {
		return
	}
	source := c.Query("source")
	if source == "" {
		middleware.HandleError(c, middleware.NewValidationError("source is required"))
		return
	}

	tasks, err := h.queue.GetTasksBySource(c.Request.Context(), source)
	if err != nil {
		middleware.HandleError(c, err)
		return
	}
	infos := make([]*taskqueue.TaskInfo, len(tasks))
	for i, task := range tasks {
		infos[i] = taskqueue.NewTaskInfo(task)
	}
	c.JSON(http.StatusOK, model.NewSuccessResponse(gin.H{
		"source": source,
		"tasks":  infos,
	}))
}
