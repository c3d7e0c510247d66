// Package pinecone 通过REST接口访问Pinecone的向量存储
// 一个Store对应一个索引，集合映射为索引内的命名空间
package pinecone

import (
	"context"
	"math"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/fyerfyer/lang-data/internal/document"
	"github.com/fyerfyer/lang-data/internal/vectordb"
	"github.com/fyerfyer/lang-data/internal/vectordb/rest"
)

const (
	// DefaultNamespace 未指定集合时使用的命名空间
	DefaultNamespace  = "default"
	defaultControlURL = "https://api.pinecone.io"
	apiVersion        = "2024-07"
	textKey           = "text"
	// 用户元数据的键都加上前缀，不会与textKey冲突
	metaPrefix = "meta_"
)

// Store Pinecone向量存储实现
type Store struct {
	control   *rest.Client
	data      *rest.Client
	index     string
	dimension int
	metric    string

	mu    sync.RWMutex
	known map[string]bool // 本进程创建过的命名空间
}

type indexDescription struct {
	Name      string `json:"name"`
	Dimension int    `json:"dimension"`
	Metric    string `json:"metric"`
	Host      string `json:"host"`
}

type vector struct {
	ID       string                 `json:"id"`
	Values   []float32              `json:"values"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

type queryRequest struct {
	Namespace       string                 `json:"namespace"`
	Vector          []float32              `json:"vector"`
	TopK            int                    `json:"topK"`
	IncludeMetadata bool                   `json:"includeMetadata"`
	Filter          map[string]interface{} `json:"filter,omitempty"`
}

type match struct {
	ID       string                 `json:"id"`
	Score    float32                `json:"score"`
	Metadata map[string]interface{} `json:"metadata"`
}

type queryResponse struct {
	Matches []match `json:"matches"`
}

type indexStats struct {
	Dimension  int `json:"dimension"`
	Namespaces map[string]struct {
		VectorCount int `json:"vectorCount"`
	} `json:"namespaces"`
}

// New 通过控制面查询索引地址和维度
func New(cfg vectordb.Config) (vectordb.Store, error) {
	if cfg.Index == "" {
		return nil, document.NewConfigError("vectordb.index", "pinecone requires an index name")
	}
	if cfg.APIKey == "" {
		return nil, document.NewConfigError("vectordb.api_key", "pinecone requires an API key")
	}
	controlURL := cfg.URL
	if controlURL == "" {
		controlURL = defaultControlURL
	}
	headers := map[string]string{
		"Api-Key":                cfg.APIKey,
		"X-Pinecone-API-Version": apiVersion,
	}
	control := rest.New(controlURL, headers, cfg.HTTPClient, cfg.Timeout)

	ctx := context.Background()
	var desc indexDescription
	if err := control.Do(ctx, http.MethodGet, "/indexes/"+url.PathEscape(cfg.Index), nil, &desc); err != nil {
		return nil, vectordb.Wrap("open", cfg.Index, err)
	}
	host := desc.Host
	if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
		host = "https://" + host
	}

	return &Store{
		control:   control,
		data:      rest.New(host, headers, cfg.HTTPClient, cfg.Timeout),
		index:     cfg.Index,
		dimension: desc.Dimension,
		metric:    desc.Metric,
		known:     make(map[string]bool),
	}, nil
}

func namespace(name string) string {
	if name == "" {
		return DefaultNamespace
	}
	return name
}

// exists 命名空间在本进程创建过，或者索引统计中有向量
func (s *Store) exists(ctx context.Context, op, name string) error {
	s.mu.RLock()
	ok := s.known[namespace(name)]
	s.mu.RUnlock()
	if ok {
		return nil
	}

	var stats indexStats
	if err := s.data.Do(ctx, http.MethodPost, "/describe_index_stats", map[string]interface{}{}, &stats); err != nil {
		return vectordb.Wrap(op, name, err)
	}
	if _, ok := stats.Namespaces[namespace(name)]; !ok {
		return vectordb.CollectionNotFound(op, name)
	}
	s.mu.Lock()
	s.known[namespace(name)] = true
	s.mu.Unlock()
	return nil
}

// EnsureCollection 索引维度固定，只校验维度并登记命名空间
func (s *Store) EnsureCollection(ctx context.Context, name string, dimension int) error {
	if dimension <= 0 {
		return vectordb.Errorf("ensure", vectordb.KindInvalidArgument, name, "dimension must be positive")
	}
	err := s.exists(ctx, "ensure", name)
	if err == nil {
		return vectordb.CollectionExists(name, s.dimension, dimension)
	}
	if !vectordb.IsNotFound(err) {
		return err
	}
	if dimension != s.dimension {
		return vectordb.Errorf("ensure", vectordb.KindDimensionMismatch, name, "index %s has dimension %d, requested %d", s.index, s.dimension, dimension)
	}

	s.mu.Lock()
	s.known[namespace(name)] = true
	s.mu.Unlock()
	return nil
}

// Upsert 写入向量，文本保存在元数据的text键中，用户元数据的键加meta_前缀
func (s *Store) Upsert(ctx context.Context, name string, records []vectordb.Record) ([]string, error) {
	if err := s.exists(ctx, "upsert", name); err != nil {
		return nil, err
	}
	prepared, ids, err := vectordb.PrepareRecords(name, records, s.dimension)
	if err != nil {
		return nil, err
	}
	if len(prepared) == 0 {
		return ids, nil
	}

	vectors := make([]vector, len(prepared))
	for i, rec := range prepared {
		meta := make(map[string]interface{}, len(rec.Metadata)+1)
		for k, v := range rec.Metadata {
			meta[metaPrefix+k] = v
		}
		meta[textKey] = rec.Text
		vectors[i] = vector{ID: rec.ID, Values: rec.Vector, Metadata: meta}
	}

	body := map[string]interface{}{"vectors": vectors, "namespace": namespace(name)}
	if err := s.data.Do(ctx, http.MethodPost, "/vectors/upsert", body, nil); err != nil {
		return nil, vectordb.Wrap("upsert", name, err)
	}
	return ids, nil
}

// Search 查询最相似的topK条
func (s *Store) Search(ctx context.Context, name string, vec []float32, k int, filter *vectordb.Filter) ([]vectordb.Result, error) {
	if err := vectordb.ValidateK(name, k); err != nil {
		return nil, err
	}
	if err := s.exists(ctx, "search", name); err != nil {
		return nil, err
	}
	if err := vectordb.ValidateVector("search", name, vec, s.dimension); err != nil {
		return nil, err
	}

	req := queryRequest{Namespace: namespace(name), Vector: vec, TopK: k, IncludeMetadata: true}
	if filter != nil && len(filter.Metadata) > 0 {
		req.Filter = make(map[string]interface{}, len(filter.Metadata))
		for key, value := range filter.Metadata {
			req.Filter[metaPrefix+key] = map[string]string{"$eq": value}
		}
	}

	var resp queryResponse
	if err := s.data.Do(ctx, http.MethodPost, "/query", req, &resp); err != nil {
		return nil, vectordb.Wrap("search", name, err)
	}

	results := make([]vectordb.Result, len(resp.Matches))
	for i, m := range resp.Matches {
		text, meta := splitMetadata(m.Metadata)
		score, dist := s.convert(m.Score)
		results[i] = vectordb.Result{ID: m.ID, Text: text, Score: score, Distance: dist, Metadata: meta}
	}
	vectordb.SortResults(results)
	return results, nil
}

// convert euclidean返回距离平方，其余返回相似度
func (s *Store) convert(raw float32) (float32, float32) {
	switch s.metric {
	case "euclidean":
		dist := float32(math.Sqrt(float64(raw)))
		return vectordb.DistanceToScore(dist, vectordb.Euclidean), dist
	case "dotproduct":
		return raw, raw
	default:
		return raw, 1 - raw
	}
}

// Delete 删除向量
func (s *Store) Delete(ctx context.Context, name string, ids []string) error {
	if err := s.exists(ctx, "delete", name); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	body := map[string]interface{}{"ids": ids, "namespace": namespace(name)}
	return vectordb.Wrap("delete", name, s.data.Do(ctx, http.MethodPost, "/vectors/delete", body, nil))
}

// DropCollection 清空命名空间
func (s *Store) DropCollection(ctx context.Context, name string) error {
	if err := s.exists(ctx, "drop", name); err != nil {
		return err
	}
	body := map[string]interface{}{"deleteAll": true, "namespace": namespace(name)}
	err := s.data.Do(ctx, http.MethodPost, "/vectors/delete", body, nil)
	// 空命名空间在服务端不存在
	if err != nil && !rest.IsStatus(err, http.StatusNotFound) {
		return vectordb.Wrap("drop", name, err)
	}
	s.mu.Lock()
	delete(s.known, namespace(name))
	s.mu.Unlock()
	return nil
}

// Close 无长连接需要释放
func (s *Store) Close() error {
	return nil
}

// splitMetadata 取出text键，带前缀的键还原为用户元数据，其余忽略
func splitMetadata(raw map[string]interface{}) (string, map[string]string) {
	text, _ := raw[textKey].(string)
	var meta map[string]string
	for k, v := range raw {
		str, ok := v.(string)
		if !ok || !strings.HasPrefix(k, metaPrefix) {
			continue
		}
		if meta == nil {
			meta = make(map[string]string, len(raw))
		}
		meta[strings.TrimPrefix(k, metaPrefix)] = str
	}
	return text, meta
}

func init() {
	vectordb.Register("pinecone", New)
}
