package api

import (
	"net/http"

	"github.com/fyerfyer/lang-data/api/handler"
	"github.com/fyerfyer/lang-data/api/middleware"
	"github.com/gin-gonic/gin"
)

// Handlers 路由使用的全部处理器
type Handlers struct {
	Collections *handler.CollectionHandler
	Ingest      *handler.IngestHandler
	Search      *handler.SearchHandler
	Sources     *handler.SourceHandler
	Tasks       *handler.TaskHandler
}

// SetupRouter 设置API路由
// 配置所有的API端点并应用中间件，extra在路由注册前追加
func SetupRouter(h Handlers, extra ...gin.HandlerFunc) *gin.Engine {
	router := gin.New()

	// 应用全局中间件
	router.Use(middleware.SetTraceID())
	router.Use(middleware.Logger())
	router.Use(middleware.ErrorMiddleware())

	// 在调试模式下记录请求体和响应体
	if gin.Mode() == gin.DebugMode {
		router.Use(middleware.RequestBodyLog())
		router.Use(middleware.ResponseLogger())
	}
	router.Use(extra...)

	api := router.Group("/api")
	{
		api.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{
				"status": "ok",
			})
		})

		// 集合管理
		collections := api.Group("/collections")
		{
			collections.POST("", h.Collections.CreateCollection)
			collections.DELETE("/:name", h.Collections.DropCollection)
		}

		// 导入
		ingest := api.Group("/ingest")
		{
			ingest.POST("/text", h.Ingest.IngestText)
			ingest.POST("/file", h.Ingest.IngestFile)
			ingest.POST("/link", h.Ingest.IngestLink)
		}

		// 检索
		api.POST("/search", h.Search.Search)

		// 导入记录
		sources := api.Group("/sources")
		{
			sources.GET("", h.Sources.ListSources)
			sources.DELETE("", h.Sources.ForgetSource)
		}

		// 异步任务
		tasks := api.Group("/tasks")
		{
			tasks.POST("/ingest", h.Tasks.EnqueueIngest)
			tasks.GET("", h.Tasks.GetSourceTasks)
			tasks.GET("/:id", h.Tasks.GetTaskStatus)
		}
	}

	return router
}

// Cors 跨域资源共享中间件
func Cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Trace-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
