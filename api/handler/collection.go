package handler

import (
	"net/http"

	"github.com/fyerfyer/lang-data/api/middleware"
	"github.com/fyerfyer/lang-data/api/model"
	"github.com/fyerfyer/lang-data/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// CollectionHandler 处理集合相关的API请求
type CollectionHandler struct {
	pipelines *services.PipelineSet // 按集合划分的流水线
	logger    *logrus.Logger        // 日志记录器
}

// NewCollectionHandler 创建集合处理器
func NewCollectionHandler(pipelines *services.PipelineSet) *CollectionHandler {
	return &CollectionHandler{
		pipelines: pipelines,
		logger:    middleware.GetLogger(),
	}
}

// CreateCollection 创建集合
// POST /api/collections
// 未指定维度时按嵌入模型准备集合，重复调用成功；指定维度时集合已存在返回409
func (h *CollectionHandler) CreateCollection(c *gin.Context) {
	var req model.CollectionCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleError(c, middleware.NewValidationError("invalid collection request", err.Error()))
		return
	}

	ctx := c.Request.Context()
	if req.Dimension == 0 {
		if err := h.pipelines.For(req.Name).Prepare(ctx); err != nil {
			middleware.HandleError(c, err)
			return
		}
		c.JSON(http.StatusOK, model.NewSuccessResponse(model.CollectionResponse{
			Name:      req.Name,
			Dimension: h.pipelines.Embedder().Dimensions(),
			Created:   true,
		}))
		return
	}

	if dim := h.pipelines.Embedder().Dimensions(); dim > 0 && dim != req.Dimension {
		middleware.HandleError(c, middleware.NewValidationError(
			"dimension does not match the embedding model",
			"model "+h.pipelines.Embedder().Name()+" produces a different dimension",
		))
		return
	}
	if err := h.pipelines.Store().EnsureCollection(ctx, req.Name, req.Dimension); err != nil {
		middleware.HandleError(c, err)
		return
	}

	middleware.WithTrace(c, h.logger).WithFields(logrus.Fields{
		"collection": req.Name,
		"dimension":  req.Dimension,
	}).Info("Collection created")
	c.JSON(http.StatusCreated, model.NewSuccessResponse(model.CollectionResponse{
		Name:      req.Name,
		Dimension: req.Dimension,
		Created:   true,
	}))
}

// DropCollection 删除集合及其导入记录
// DELETE /api/collections/:name
func (h *CollectionHandler) DropCollection(c *gin.Context) {
	name := c.Param("name")
	if err := h.pipelines.For(name).Drop(c.Request.Context()); err != nil {
		middleware.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, model.NewSuccessResponse(model.CollectionResponse{Name: name}))
}
