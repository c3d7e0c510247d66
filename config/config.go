package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config 应用程序配置结构体
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Storage  StorageConfig  `mapstructure:"storage"`
	VectorDB VectorDBConfig `mapstructure:"vectordb"`
	Embed    EmbedConfig    `mapstructure:"embed"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Database DatabaseConfig `mapstructure:"database"`
	Document DocumentConfig `mapstructure:"document"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host string `mapstructure:"host"`                                               // 服务器主机
	Port int    `mapstructure:"port" validate:"min=1,max=65535"`                    // 服务器端口
	Mode string `mapstructure:"mode" validate:"omitempty,oneof=debug release test"` // gin运行模式
	CORS bool   `mapstructure:"cors"`                                               // 是否允许跨域
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `mapstructure:"level" validate:"omitempty,oneof=trace debug info warn warning error fatal panic"`
	File       string `mapstructure:"file"`         // 日志文件，空表示只输出到标准输出
	MaxSizeMB  int    `mapstructure:"max_size_mb"`  // 单个文件大小上限
	MaxBackups int    `mapstructure:"max_backups"`  // 保留的旧文件数
	MaxAgeDays int    `mapstructure:"max_age_days"` // 保留天数
	Compress   bool   `mapstructure:"compress"`     // 是否压缩旧文件
}

// StorageConfig 原始文件存储配置
type StorageConfig struct {
	Type      string `mapstructure:"type" validate:"oneof=local minio"` // 存储类型：local 或 minio
	Path      string `mapstructure:"path"`                              // 本地存储路径
	Bucket    string `mapstructure:"bucket"`                            // MinIO桶名称
	Endpoint  string `mapstructure:"endpoint"`                          // MinIO端点
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"` // 是否使用SSL
}

// VectorDBConfig 向量数据库配置
type VectorDBConfig struct {
	Type     string        `mapstructure:"type" validate:"required"`                          // memory, faiss, chromem, sqlite, pgvector, qdrant, pinecone, weaviate
	Path     string        `mapstructure:"path"`                                              // 本地目录或数据库文件
	URL      string        `mapstructure:"url"`                                               // 远程地址或连接串
	APIKey   string        `mapstructure:"api_key"`                                           // 远程服务密钥
	Index    string        `mapstructure:"index"`                                             // Pinecone索引名
	Distance string        `mapstructure:"distance" validate:"omitempty,oneof=cosine dot l2"` // 距离度量方式
	Timeout  time.Duration `mapstructure:"timeout"`                                           // 单次请求超时
}

// EmbedConfig 向量嵌入模型配置
type EmbedConfig struct {
	Provider   string        `mapstructure:"provider" validate:"required"` // openai, cohere, hash
	Model      string        `mapstructure:"model"`                        // 模型名称
	APIKey     string        `mapstructure:"api_key"`                      // API密钥
	Endpoint   string        `mapstructure:"endpoint"`                     // API端点
	BatchSize  int           `mapstructure:"batch_size" validate:"min=1"`  // 单次请求的文本数
	Dimensions int           `mapstructure:"dimensions" validate:"min=0"`  // 向量维度，0表示由模型决定
	Timeout    time.Duration `mapstructure:"timeout"`                      // 请求超时
	MaxRetries int           `mapstructure:"max_retries" validate:"min=0"` // 最大重试次数
	RateLimit  float64       `mapstructure:"rate_limit" validate:"min=0"`  // 每秒请求上限
}

// CacheConfig 嵌入缓存配置
type CacheConfig struct {
	Enable   bool   `mapstructure:"enable"`                                       // 是否启用缓存
	Type     string `mapstructure:"type" validate:"omitempty,oneof=memory redis"` // 缓存类型：memory 或 redis
	Address  string `mapstructure:"address"`                                      // Redis地址
	Password string `mapstructure:"password"`                                     // Redis密码
	DB       int    `mapstructure:"db"`                                           // Redis数据库
	TTL      int    `mapstructure:"ttl"`                                          // 缓存TTL（秒）
}

// QueueConfig 任务队列配置
type QueueConfig struct {
	Enable        bool   `mapstructure:"enable"`                                // 是否启用任务队列
	Type          string `mapstructure:"type" validate:"omitempty,oneof=redis"` // 队列类型
	RedisAddr     string `mapstructure:"redis_addr"`                            // Redis地址
	RedisPassword string `mapstructure:"redis_password"`                        // Redis密码
	RedisDB       int    `mapstructure:"redis_db"`                              // Redis数据库编号
	Concurrency   int    `mapstructure:"concurrency" validate:"min=1"`          // 任务处理并发数
	RetryLimit    int    `mapstructure:"retry_limit" validate:"min=0"`          // 任务最大重试次数
	RetryDelay    int    `mapstructure:"retry_delay" validate:"min=0"`          // 重试延迟(秒)
}

// DatabaseConfig 导入记录数据库配置
type DatabaseConfig struct {
	Type string `mapstructure:"type" validate:"oneof=sqlite"` // 数据库类型
	DSN  string `mapstructure:"dsn" validate:"required"`      // 数据源名称
}

// DocumentConfig 文档分段配置
type DocumentConfig struct {
	Splitter         string `mapstructure:"splitter" validate:"omitempty,oneof=character recursive"` // 分段器类型
	ChunkSize        int    `mapstructure:"chunk_size" validate:"min=1"`                             // 分块大小
	ChunkOverlap     int    `mapstructure:"chunk_overlap" validate:"min=0,ltfield=ChunkSize"`        // 分块重叠大小
	Separator        string `mapstructure:"separator"`                                               // 分隔符
	IsSeparatorRegex bool   `mapstructure:"is_separator_regex"`                                      // 分隔符是否为正则
}

// PipelineConfig 检索流水线配置
type PipelineConfig struct {
	Collection string        `mapstructure:"collection" validate:"required"` // 默认集合
	BatchSize  int           `mapstructure:"batch_size" validate:"min=1"`    // 每批写入的分块数
	Workers    int           `mapstructure:"workers" validate:"min=1"`       // 并发处理的文档数
	Timeout    time.Duration `mapstructure:"timeout"`                        // 单次调用超时
	MinScore   float32       `mapstructure:"min_score"`                      // 最低评分，0表示不过滤
	DefaultK   int           `mapstructure:"default_k" validate:"min=1"`     // 默认返回结果数
}

// Load 从.env、配置文件和环境变量加载配置
// configPath为空或文件不存在时只使用默认值和环境变量
func Load(configPath string) (*Config, error) {
	// .env不存在时忽略
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logrus.WithError(err).Warn("Failed to load .env file")
	}

	v := viper.New()
	setDefaults(v)

	if configPath == "" {
		configPath = "config.yaml"
	}
	if _, err := os.Stat(configPath); err == nil {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		logrus.WithField("file", v.ConfigFileUsed()).Debug("Using config file")
	} else {
		logrus.WithField("file", configPath).Debug("Config file not found, using defaults")
	}

	// 支持环境变量覆盖，例如 LANGDATA_EMBED_API_KEY
	v.SetEnvPrefix("LANGDATA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	expandEnvironmentVariables(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 校验配置
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// expandEnvironmentVariables 展开密钥和连接串中的${VAR}占位符
func expandEnvironmentVariables(cfg *Config) {
	fields := []*string{
		&cfg.Embed.APIKey,
		&cfg.Embed.Endpoint,
		&cfg.VectorDB.APIKey,
		&cfg.VectorDB.URL,
		&cfg.Storage.AccessKey,
		&cfg.Storage.SecretKey,
		&cfg.Cache.Password,
		&cfg.Queue.RedisPassword,
		&cfg.Database.DSN,
	}
	for _, f := range fields {
		*f = expandEnv(*f)
	}
}

// expandEnv 未设置的变量保留原样
func expandEnv(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return os.Expand(s, func(name string) string {
		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return "${" + name + "}"
	})
}

// setDefaults 设置配置的默认值
func setDefaults(v *viper.Viper) {
	// 服务器默认配置
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.cors", false)

	// 日志默认配置
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 30)
	v.SetDefault("log.compress", false)

	// 存储默认配置
	v.SetDefault("storage.type", "local")
	v.SetDefault("storage.path", "./uploads")
	v.SetDefault("storage.bucket", "langdata")
	v.SetDefault("storage.use_ssl", false)
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.access_key", "")
	v.SetDefault("storage.secret_key", "")

	// 向量数据库默认配置
	v.SetDefault("vectordb.type", "memory")
	v.SetDefault("vectordb.path", "./vectordb")
	v.SetDefault("vectordb.distance", "cosine")
	v.SetDefault("vectordb.timeout", "30s")
	v.SetDefault("vectordb.url", "")
	v.SetDefault("vectordb.api_key", "")
	v.SetDefault("vectordb.index", "")

	// Embedding默认配置
	v.SetDefault("embed.provider", "openai")
	v.SetDefault("embed.model", "text-embedding-ada-002")
	v.SetDefault("embed.endpoint", "")
	v.SetDefault("embed.api_key", "")
	v.SetDefault("embed.batch_size", 16)
	v.SetDefault("embed.dimensions", 0)
	v.SetDefault("embed.timeout", "30s")
	v.SetDefault("embed.max_retries", 3)
	v.SetDefault("embed.rate_limit", 0)

	// 缓存默认配置
	v.SetDefault("cache.enable", true)
	v.SetDefault("cache.type", "memory")
	v.SetDefault("cache.ttl", 86400) // 1天
	v.SetDefault("cache.address", "localhost:6379")
	v.SetDefault("cache.password", "")
	v.SetDefault("cache.db", 0)

	// 队列默认配置
	v.SetDefault("queue.enable", false)
	v.SetDefault("queue.type", "redis")
	v.SetDefault("queue.redis_addr", "localhost:6379")
	v.SetDefault("queue.redis_db", 0)
	v.SetDefault("queue.redis_password", "")
	v.SetDefault("queue.concurrency", 4)
	v.SetDefault("queue.retry_limit", 3)
	v.SetDefault("queue.retry_delay", 60) // 60秒

	// 数据库默认配置
	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.dsn", "data/ledger.db")

	// 文档处理默认配置
	v.SetDefault("document.splitter", "character")
	v.SetDefault("document.chunk_size", 1000)
	v.SetDefault("document.chunk_overlap", 200)
	v.SetDefault("document.separator", "\n\n")
	v.SetDefault("document.is_separator_regex", false)

	// 流水线默认配置
	v.SetDefault("pipeline.collection", "default")
	v.SetDefault("pipeline.batch_size", 16)
	v.SetDefault("pipeline.workers", 4)
	v.SetDefault("pipeline.timeout", "5m")
	v.SetDefault("pipeline.min_score", 0)
	v.SetDefault("pipeline.default_k", 5)
}
