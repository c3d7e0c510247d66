// Package qdrant 通过REST接口访问Qdrant的向量存储
package qdrant

import (
	"context"
	"net/http"
	"net/url"
	"sort"
	"sync"

	"github.com/fyerfyer/lang-data/internal/document"
	"github.com/fyerfyer/lang-data/internal/vectordb"
	"github.com/fyerfyer/lang-data/internal/vectordb/rest"
)

// distanceNames Qdrant的距离名称
var distanceNames = map[vectordb.DistanceType]string{
	vectordb.Cosine:     "Cosine",
	vectordb.DotProduct: "Dot",
	vectordb.Euclidean:  "Euclid",
}

// Store Qdrant向量存储实现
type Store struct {
	client   *rest.Client
	distType vectordb.DistanceType

	mu   sync.RWMutex
	dims map[string]int // 集合维度缓存
}

// point Qdrant点结构
type point struct {
	ID      string                 `json:"id"`
	Vector  []float32              `json:"vector,omitempty"`
	Payload map[string]interface{} `json:"payload,omitempty"`
}

type collectionInfo struct {
	Result struct {
		Config struct {
			Params struct {
				Vectors struct {
					Size     int    `json:"size"`
					Distance string `json:"distance"`
				} `json:"vectors"`
			} `json:"params"`
		} `json:"config"`
	} `json:"result"`
}

type searchRequest struct {
	Vector      []float32   `json:"vector"`
	Limit       int         `json:"limit"`
	WithPayload bool        `json:"with_payload"`
	Filter      *pointQuery `json:"filter,omitempty"`
}

type pointQuery struct {
	Must []condition `json:"must"`
}

type condition struct {
	Key   string `json:"key"`
	Match struct {
		Value string `json:"value"`
	} `json:"match"`
}

type scoredPoint struct {
	ID      string                 `json:"id"`
	Score   float32                `json:"score"`
	Payload map[string]interface{} `json:"payload"`
}

type searchResponse struct {
	Result []scoredPoint `json:"result"`
}

// New 创建Qdrant客户端
func New(cfg vectordb.Config) (vectordb.Store, error) {
	if cfg.URL == "" {
		return nil, document.NewConfigError("vectordb.url", "qdrant requires a server URL")
	}
	distType := cfg.Distance
	if _, ok := distanceNames[distType]; !ok {
		distType = vectordb.Cosine
	}
	headers := map[string]string{}
	if cfg.APIKey != "" {
		headers["api-key"] = cfg.APIKey
	}
	return &Store{
		client:   rest.New(cfg.URL, headers, cfg.HTTPClient, cfg.Timeout),
		distType: distType,
		dims:     make(map[string]int),
	}, nil
}

func collectionPath(name string) string {
	return "/collections/" + url.PathEscape(name)
}

// dimension 查询集合维度，结果缓存
func (s *Store) dimension(ctx context.Context, op, name string) (int, error) {
	s.mu.RLock()
	dim, ok := s.dims[name]
	s.mu.RUnlock()
	if ok {
		return dim, nil
	}

	var info collectionInfo
	err := s.client.Do(ctx, http.MethodGet, collectionPath(name), nil, &info)
	if rest.IsStatus(err, http.StatusNotFound) {
		return 0, vectordb.CollectionNotFound(op, name)
	}
	if err != nil {
		return 0, vectordb.Wrap(op, name, err)
	}

	dim = info.Result.Config.Params.Vectors.Size
	s.mu.Lock()
	s.dims[name] = dim
	s.mu.Unlock()
	return dim, nil
}

// EnsureCollection 创建集合
func (s *Store) EnsureCollection(ctx context.Context, name string, dimension int) error {
	if name == "" || dimension <= 0 {
		return vectordb.Errorf("ensure", vectordb.KindInvalidArgument, name, "name and positive dimension are required")
	}
	existing, err := s.dimension(ctx, "ensure", name)
	if err == nil {
		return vectordb.CollectionExists(name, existing, dimension)
	}
	if !vectordb.IsNotFound(err) {
		return err
	}

	body := map[string]interface{}{
		"vectors": map[string]interface{}{
			"size":     dimension,
			"distance": distanceNames[s.distType],
		},
	}
	if err := s.client.Do(ctx, http.MethodPut, collectionPath(name), body, nil); err != nil {
		return vectordb.Wrap("ensure", name, err)
	}
	s.mu.Lock()
	s.dims[name] = dimension
	s.mu.Unlock()
	return nil
}

// Upsert 写入点，等待写入完成
func (s *Store) Upsert(ctx context.Context, name string, records []vectordb.Record) ([]string, error) {
	dim, err := s.dimension(ctx, "upsert", name)
	if err != nil {
		return nil, err
	}
	prepared, ids, err := vectordb.PrepareRecords(name, records, dim)
	if err != nil {
		return nil, err
	}
	if len(prepared) == 0 {
		return ids, nil
	}

	points := make([]point, len(prepared))
	for i, rec := range prepared {
		points[i] = point{
			ID:     rec.ID,
			Vector: rec.Vector,
			Payload: map[string]interface{}{
				"text":     rec.Text,
				"metadata": rec.Metadata,
			},
		}
	}
	err = s.client.Do(ctx, http.MethodPut, collectionPath(name)+"/points?wait=true", map[string]interface{}{"points": points}, nil)
	if err != nil {
		return nil, s.wrap("upsert", name, err)
	}
	return ids, nil
}

// Search 相似度搜索，元数据过滤转为must条件
func (s *Store) Search(ctx context.Context, name string, vector []float32, k int, filter *vectordb.Filter) ([]vectordb.Result, error) {
	if err := vectordb.ValidateK(name, k); err != nil {
		return nil, err
	}
	dim, err := s.dimension(ctx, "search", name)
	if err != nil {
		return nil, err
	}
	if err := vectordb.ValidateVector("search", name, vector, dim); err != nil {
		return nil, err
	}

	req := searchRequest{Vector: vector, Limit: k, WithPayload: true}
	if filter != nil && len(filter.Metadata) > 0 {
		keys := make([]string, 0, len(filter.Metadata))
		for key := range filter.Metadata {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		req.Filter = &pointQuery{}
		for _, key := range keys {
			var c condition
			c.Key = "metadata." + key
			c.Match.Value = filter.Metadata[key]
			req.Filter.Must = append(req.Filter.Must, c)
		}
	}

	var resp searchResponse
	if err := s.client.Do(ctx, http.MethodPost, collectionPath(name)+"/points/search", req, &resp); err != nil {
		return nil, s.wrap("search", name, err)
	}

	results := make([]vectordb.Result, len(resp.Result))
	for i, p := range resp.Result {
		text, meta := fromPayload(p.Payload)
		results[i] = vectordb.Result{
			ID:       p.ID,
			Text:     text,
			Score:    s.score(p.Score),
			Distance: s.distance(p.Score),
			Metadata: meta,
		}
	}
	vectordb.SortResults(results)
	return results, nil
}

// score Qdrant对欧氏距离返回距离本身，其余返回相似度
func (s *Store) score(raw float32) float32 {
	if s.distType == vectordb.Euclidean {
		return vectordb.DistanceToScore(raw, vectordb.Euclidean)
	}
	return raw
}

func (s *Store) distance(raw float32) float32 {
	switch s.distType {
	case vectordb.Cosine:
		return 1 - raw
	default:
		return raw
	}
}

// Delete 删除点
func (s *Store) Delete(ctx context.Context, name string, ids []string) error {
	if _, err := s.dimension(ctx, "delete", name); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	err := s.client.Do(ctx, http.MethodPost, collectionPath(name)+"/points/delete?wait=true", map[string]interface{}{"points": ids}, nil)
	return s.wrap("delete", name, err)
}

// DropCollection 删除集合
func (s *Store) DropCollection(ctx context.Context, name string) error {
	if _, err := s.dimension(ctx, "drop", name); err != nil {
		return err
	}
	if err := s.client.Do(ctx, http.MethodDelete, collectionPath(name), nil, nil); err != nil {
		return s.wrap("drop", name, err)
	}
	s.forget(name)
	return nil
}

// Close 无长连接需要释放
func (s *Store) Close() error {
	return nil
}

// wrap 404说明集合已被外部删除，清掉缓存
func (s *Store) wrap(op, name string, err error) error {
	if rest.IsStatus(err, http.StatusNotFound) {
		s.forget(name)
		return vectordb.CollectionNotFound(op, name)
	}
	return vectordb.Wrap(op, name, err)
}

func (s *Store) forget(name string) {
	s.mu.Lock()
	delete(s.dims, name)
	s.mu.Unlock()
}

// fromPayload 从payload中取出文本和元数据
func fromPayload(payload map[string]interface{}) (string, map[string]string) {
	text, _ := payload["text"].(string)
	raw, _ := payload["metadata"].(map[string]interface{})
	if len(raw) == 0 {
		return text, nil
	}
	meta := make(map[string]string, len(raw))
	for k, v := range raw {
		if str, ok := v.(string); ok {
			meta[k] = str
		}
	}
	return text, meta
}

func init() {
	vectordb.Register("qdrant", New)
}
