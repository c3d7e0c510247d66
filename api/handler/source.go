package handler

import (
	"net/http"

	"github.com/fyerfyer/lang-data/api/middleware"
	"github.com/fyerfyer/lang-data/api/model"
	"github.com/fyerfyer/lang-data/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// SourceHandler 处理导入记录相关的请求
type SourceHandler struct {
	pipelines *services.PipelineSet
	logger    *logrus.Logger
}

// NewSourceHandler 创建导入记录处理器
func NewSourceHandler(pipelines *services.PipelineSet) *SourceHandler {
	return &SourceHandler{
		pipelines: pipelines,
		logger:    middleware.GetLogger(),
	}
}

// ListSources 分页列出导入记录
// GET /api/sources
func (h *SourceHandler) ListSources(c *gin.Context) {
	var req model.SourceListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		middleware.HandleError(c, middleware.NewValidationError("invalid list request", err.Error()))
		return
	}

	p := h.pipelines.For(req.Collection)
	ledger := p.Ledger()
	if ledger == nil {
		middleware.HandleError(c, middleware.NewUnavailableError("ledger is not configured"))
		return
	}

	sources, total, err := ledger.List(c.Request.Context(), p.Collection(), req.Offset(), req.GetPageSize())
	if err != nil {
		middleware.HandleError(c, err)
		return
	}

	infos := make([]model.SourceInfo, len(sources))
	for i, src := range sources {
		infos[i] = model.NewSourceInfo(src)
	}
	c.JSON(http.StatusOK, model.NewSuccessResponse(model.SourceListResponse{
		Total:    total,
		Page:     req.GetPage(),
		PageSize: req.GetPageSize(),
		Sources:  infos,
	}))
}

// ForgetSource 删除来源的全部向量
// DELETE /api/sources
func (h *SourceHandler) ForgetSource(c *gin.Context) {
	var req model.ForgetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleError(c, middleware.NewValidationError("invalid forget request", err.Error()))
		return
	}

	p := h.pipelines.For(req.Collection)
	deleted, err := p.Forget(c.Request.Context(), req.Source)
	if err != nil {
		middleware.HandleError(c, err)
		return
	}

	middleware.WithTrace(c, h.logger).WithFields(logrus.Fields{
		"collection": p.Collection(),
		"source":     req.Source,
		"deleted":    deleted,
	}).Info("Source forgotten via API")
	c.JSON(http.StatusOK, model.NewSuccessResponse(model.ForgetResponse{
		Collection: p.Collection(),
		Source:     req.Source,
		Deleted:    deleted,
	}))
}
