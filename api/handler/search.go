package handler

import (
	"net/http"

	"github.com/fyerfyer/lang-data/api/middleware"
	"github.com/fyerfyer/lang-data/api/model"
	"github.com/fyerfyer/lang-data/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// SearchHandler 处理检索请求
type SearchHandler struct {
	pipelines *services.PipelineSet
	logger    *logrus.Logger
}

// NewSearchHandler 创建检索处理器
func NewSearchHandler(pipelines *services.PipelineSet) *SearchHandler {
	return &SearchHandler{
		pipelines: pipelines,
		logger:    middleware.GetLogger(),
	}
}

// Search 检索相似分块
// POST /api/search
func (h *SearchHandler) Search(c *gin.Context) {
	var req model.SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleError(c, middleware.NewValidationError("invalid search request", err.Error()))
		return
	}

	p := h.pipelines.For(req.Collection)
	docs, err := p.RetrieveWithFilter(c.Request.Context(), req.Query, req.K, req.Filter)
	if err != nil {
		middleware.HandleError(c, err)
		return
	}

	middleware.WithTrace(c, h.logger).WithFields(logrus.Fields{
		"collection": p.Collection(),
		"k":          req.K,
		"results":    len(docs),
	}).Debug("Search completed")
	c.JSON(http.StatusOK, model.NewSuccessResponse(model.SearchResponse{
		Collection: p.Collection(),
		Query:      req.Query,
		Results:    model.ConvertToSearchResults(docs),
	}))
}
