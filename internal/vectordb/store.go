package vectordb

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/fyerfyer/lang-data/internal/document"
)

// DefaultK 调用方未指定数量时返回的结果数
const DefaultK = 5

// DistanceType 向量距离计算方法
type DistanceType string

const (
	// Cosine 余弦相似度
	Cosine DistanceType = "cosine"
	// DotProduct 点积
	DotProduct DistanceType = "dot"
	// Euclidean 欧几里得距离
	Euclidean DistanceType = "l2"
)

// Record 待写入的向量记录
// ID为空时由Upsert生成
type Record struct {
	ID       string            `json:"id"`
	Vector   []float32         `json:"vector"`
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Result 搜索结果，Score越高越相似，Distance为后端原生距离
type Result struct {
	ID       string            `json:"id"`
	Text     string            `json:"text"`
	Score    float32           `json:"score"`
	Distance float32           `json:"distance"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Filter 搜索过滤条件，元数据全部相等才匹配
type Filter struct {
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Collection 集合描述
type Collection struct {
	Name      string       `json:"name"`
	Dimension int          `json:"dimension"`
	Distance  DistanceType `json:"distance"`
}

// Store 向量存储接口
// 所有实现都可以被并发调用
type Store interface {
	// EnsureCollection 创建集合；已存在且维度相同时返回AlreadyExists错误
	EnsureCollection(ctx context.Context, name string, dimension int) error

	// Upsert 写入记录，按输入顺序返回ID
	Upsert(ctx context.Context, collection string, records []Record) ([]string, error)

	// Search 返回最多k条结果，按相似度从高到低排列
	Search(ctx context.Context, collection string, vector []float32, k int, filter *Filter) ([]Result, error)

	// Delete 删除指定ID的记录
	Delete(ctx context.Context, collection string, ids []string) error

	// DropCollection 删除整个集合
	DropCollection(ctx context.Context, name string) error

	// Close 释放资源
	Close() error
}

// Config 向量存储配置
type Config struct {
	Type       string        // 后端类型，如 "memory", "faiss", "qdrant"
	Path       string        // 本地目录或数据库文件 (faiss, chromem, sqlite)
	URL        string        // 远程地址或连接串 (pgvector, qdrant, pinecone, weaviate)
	APIKey     string        // 远程服务密钥
	Index      string        // Pinecone索引名
	Distance   DistanceType  // 距离计算类型
	Timeout    time.Duration // 单次请求超时
	HTTPClient *http.Client  // 自定义HTTP客户端 (REST后端)
}

// Factory 向量存储工厂函数类型
type Factory func(cfg Config) (Store, error)

// 注册的后端实现
var registry = make(map[string]Factory)

// Register 注册向量存储后端，通常在后端包的init中调用
func Register(name string, factory Factory) {
	registry[name] = factory
}

// Backends 返回已注册的后端名称
func Backends() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open 根据配置打开向量存储
func Open(cfg Config) (Store, error) {
	factory, ok := registry[cfg.Type]
	if !ok {
		return nil, document.NewConfigError("vectordb.type", "unsupported vector store: %q (registered: %v)", cfg.Type, Backends())
	}
	if cfg.Distance == "" {
		cfg.Distance = Cosine
	}
	return factory(cfg)
}
