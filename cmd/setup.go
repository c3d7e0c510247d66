package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fyerfyer/lang-data/api/middleware"
	"github.com/fyerfyer/lang-data/config"
	"github.com/fyerfyer/lang-data/internal/cache"
	"github.com/fyerfyer/lang-data/internal/database"
	"github.com/fyerfyer/lang-data/internal/document"
	"github.com/fyerfyer/lang-data/internal/embedding"
	"github.com/fyerfyer/lang-data/internal/repository"
	"github.com/fyerfyer/lang-data/internal/services"
	"github.com/fyerfyer/lang-data/internal/vectordb"
	"github.com/fyerfyer/lang-data/pkg/storage"
	"github.com/fyerfyer/lang-data/pkg/taskqueue"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
	"gorm.io/gorm"

	// 注册向量存储后端
	_ "github.com/fyerfyer/lang-data/internal/vectordb/chromem"
	_ "github.com/fyerfyer/lang-data/internal/vectordb/faiss"
	_ "github.com/fyerfyer/lang-data/internal/vectordb/memory"
	_ "github.com/fyerfyer/lang-data/internal/vectordb/pgvector"
	_ "github.com/fyerfyer/lang-data/internal/vectordb/pinecone"
	_ "github.com/fyerfyer/lang-data/internal/vectordb/qdrant"
	_ "github.com/fyerfyer/lang-data/internal/vectordb/sqlite"
	_ "github.com/fyerfyer/lang-data/internal/vectordb/weaviate"
)

// app 命令共享的组件
type app struct {
	cfg       *config.Config
	logger    *logrus.Logger
	storage   storage.Storage
	store     vectordb.Store
	embedder  embedding.Client
	pipelines *services.PipelineSet
	queue     *taskqueue.RedisQueue // 未启用队列时为nil

	closers []func() error
}

// newApp 按配置初始化所有组件，withQueue为true且配置启用时连接任务队列
func newApp(withQueue bool) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	a := &app{cfg: cfg}
	if a.logger, err = setupLogger(cfg.Log); err != nil {
		return nil, err
	}

	if err := a.init(withQueue); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) init(withQueue bool) error {
	cfg := a.cfg

	db, err := setupDatabase(cfg.Database, a.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	a.closers = append(a.closers, func() error { return database.Close(db) })

	if a.storage, err = setupStorage(cfg.Storage); err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	if a.store, err = setupVectorDB(cfg.VectorDB); err != nil {
		return fmt.Errorf("failed to initialize vector store: %w", err)
	}
	a.closers = append(a.closers, a.store.Close)

	if a.embedder, err = a.setupEmbedding(); err != nil {
		return fmt.Errorf("failed to initialize embedding client: %w", err)
	}

	splitter, err := document.NewSplitter(document.SplitterType(cfg.Document.Splitter), document.SplitterConfig{
		ChunkSize:        cfg.Document.ChunkSize,
		ChunkOverlap:     cfg.Document.ChunkOverlap,
		Separator:        cfg.Document.Separator,
		IsSeparatorRegex: cfg.Document.IsSeparatorRegex,
	})
	if err != nil {
		return fmt.Errorf("failed to create splitter: %w", err)
	}

	opts := []services.PipelineOption{
		services.WithBatchSize(cfg.Pipeline.BatchSize),
		services.WithWorkers(cfg.Pipeline.Workers),
		services.WithTimeout(cfg.Pipeline.Timeout),
		services.WithLogger(a.logger),
		services.WithLedger(repository.NewSourceRepository(db)),
	}
	if cfg.Pipeline.MinScore > 0 {
		opts = append(opts, services.WithMinScore(cfg.Pipeline.MinScore))
	}
	a.pipelines = services.NewPipelineSet(cfg.Pipeline.Collection, splitter, a.embedder, a.store, opts...)

	if withQueue && cfg.Queue.Enable {
		if a.queue, err = setupTaskQueue(cfg.Queue, a.logger); err != nil {
			return fmt.Errorf("failed to initialize task queue: %w", err)
		}
		a.closers = append(a.closers, a.queue.Close)
	}

	a.logger.WithFields(logrus.Fields{
		"vectordb":   cfg.VectorDB.Type,
		"embedder":   a.embedder.Name(),
		"collection": cfg.Pipeline.Collection,
		"queue":      a.queue != nil,
	}).Info("Components initialized")
	return nil
}

// pipeline 返回--collection指定的流水线
func (a *app) pipeline() *services.RetrievalPipeline {
	return a.pipelines.For(collection)
}

// taskQueue 返回队列接口，未启用时为nil接口
func (a *app) taskQueue() taskqueue.Queue {
	if a.queue == nil {
		return nil
	}
	return a.queue
}

// close 逆序释放资源
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && a.logger != nil {
			a.logger.WithError(err).Warn("Failed to release resource")
		}
	}
	a.closers = nil
}

// setupLogger 设置日志系统
// 配置了日志文件时同时写入标准输出和滚动文件
func setupLogger(cfg config.LogConfig) (*logrus.Logger, error) {
	var out io.Writer = os.Stdout
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %v", err)
		}
		out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		})
	}
	if err := middleware.Configure(cfg.Level, out); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	return middleware.GetLogger(), nil
}

// setupDatabase 设置导入记录数据库
func setupDatabase(cfg config.DatabaseConfig, logger *logrus.Logger) (*gorm.DB, error) {
	dbCfg := database.DefaultConfig()
	dbCfg.Type = cfg.Type
	dbCfg.DSN = cfg.DSN
	return database.Open(dbCfg, logger)
}

// setupStorage 设置文件存储服务
func setupStorage(cfg config.StorageConfig) (storage.Storage, error) {
	if cfg.Type == "local" || cfg.Type == "" {
		// 确保存储目录存在
		if err := os.MkdirAll(cfg.Path, 0755); err != nil {
			return nil, fmt.Errorf("failed to create storage directory: %v", err)
		}
	}
	return storage.New(storage.Config{
		Type:      cfg.Type,
		Path:      cfg.Path,
		Endpoint:  cfg.Endpoint,
		AccessKey: cfg.AccessKey,
		SecretKey: cfg.SecretKey,
		UseSSL:    cfg.UseSSL,
		Bucket:    cfg.Bucket,
	})
}

// setupVectorDB 设置向量数据库
func setupVectorDB(cfg config.VectorDBConfig) (vectordb.Store, error) {
	switch cfg.Type {
	case "faiss", "chromem":
		if err := os.MkdirAll(cfg.Path, 0755); err != nil {
			return nil, fmt.Errorf("failed to create vector database directory: %v", err)
		}
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create vector database directory: %v", err)
		}
	}

	return vectordb.Open(vectordb.Config{
		Type:     cfg.Type,
		Path:     cfg.Path,
		URL:      cfg.URL,
		APIKey:   cfg.APIKey,
		Index:    cfg.Index,
		Distance: vectordb.DistanceType(cfg.Distance),
		Timeout:  cfg.Timeout,
	})
}

// setupEmbedding 设置嵌入模型客户端，启用缓存时包一层CachedClient
func (a *app) setupEmbedding() (embedding.Client, error) {
	cfg := a.cfg.Embed

	opts := []embedding.Option{
		embedding.WithAPIKey(cfg.APIKey),
		embedding.WithModel(cfg.Model),
		embedding.WithTimeout(cfg.Timeout),
		embedding.WithMaxRetries(cfg.MaxRetries),
		embedding.WithDimensions(cfg.Dimensions),
		embedding.WithBatchSize(cfg.BatchSize),
		embedding.WithRateLimit(cfg.RateLimit),
	}
	if cfg.Endpoint != "" {
		opts = append(opts, embedding.WithBaseURL(cfg.Endpoint))
	}

	client, err := embedding.NewClient(cfg.Provider, opts...)
	if err != nil {
		return nil, err
	}
	if !a.cfg.Cache.Enable {
		return client, nil
	}

	c, err := setupCache(a.cfg.Cache)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cache: %w", err)
	}
	if closer, ok := c.(io.Closer); ok {
		a.closers = append(a.closers, closer.Close)
	}
	ttl := time.Duration(a.cfg.Cache.TTL) * time.Second
	return embedding.NewCachedClient(client, c, ttl, a.logger), nil
}

// setupCache 设置缓存服务
func setupCache(cfg config.CacheConfig) (cache.Cache, error) {
	cacheConfig := cache.DefaultConfig()
	cacheConfig.Type = cfg.Type
	if cfg.TTL > 0 {
		cacheConfig.DefaultTTL = time.Duration(cfg.TTL) * time.Second
	}

	// 如果配置了Redis，添加Redis配置
	if cfg.Type == "redis" {
		cacheConfig.RedisAddr = cfg.Address
		cacheConfig.RedisPassword = cfg.Password
		cacheConfig.RedisDB = cfg.DB
	}

	return cache.NewCache(cacheConfig)
}

// setupTaskQueue 设置任务队列
func setupTaskQueue(cfg config.QueueConfig, logger *logrus.Logger) (*taskqueue.RedisQueue, error) {
	queueConfig := taskqueue.DefaultConfig()
	queueConfig.RedisAddr = cfg.RedisAddr
	queueConfig.RedisPassword = cfg.RedisPassword
	queueConfig.RedisDB = cfg.RedisDB
	queueConfig.Concurrency = cfg.Concurrency
	queueConfig.RetryLimit = cfg.RetryLimit
	queueConfig.RetryDelay = time.Duration(cfg.RetryDelay) * time.Second

	logger.WithFields(logrus.Fields{
		"type":        cfg.Type,
		"redis_addr":  cfg.RedisAddr,
		"concurrency": cfg.Concurrency,
		"retry_limit": cfg.RetryLimit,
	}).Info("Setting up task queue")

	return taskqueue.NewRedisQueue(queueConfig, logger)
}
