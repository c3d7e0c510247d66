// Package weaviate 通过REST和GraphQL接口访问Weaviate的向量存储
// 每个集合对应一个类，向量由调用方提供
package weaviate

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/fyerfyer/lang-data/internal/document"
	"github.com/fyerfyer/lang-data/internal/vectordb"
	"github.com/fyerfyer/lang-data/internal/vectordb/rest"
	"github.com/google/uuid"
)

var (
	validName   = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)
	invalidProp = regexp.MustCompile(`[^A-Za-z0-9_]`)
)

// distanceNames Weaviate的距离名称
var distanceNames = map[vectordb.DistanceType]string{
	vectordb.Cosine:     "cosine",
	vectordb.DotProduct: "dot",
	vectordb.Euclidean:  "l2-squared",
}

const dimensionPrefix = "dimension="

// Store Weaviate向量存储实现
type Store struct {
	client   *rest.Client
	distType vectordb.DistanceType

	mu   sync.RWMutex
	dims map[string]int
}

type classSchema struct {
	Class             string                 `json:"class"`
	Description       string                 `json:"description"`
	Vectorizer        string                 `json:"vectorizer"`
	VectorIndexConfig map[string]interface{} `json:"vectorIndexConfig,omitempty"`
	Properties        []property             `json:"properties"`
}

type property struct {
	Name     string   `json:"name"`
	DataType []string `json:"dataType"`
}

type object struct {
	Class      string                 `json:"class"`
	ID         string                 `json:"id"`
	Vector     []float32              `json:"vector"`
	Properties map[string]interface{} `json:"properties"`
}

type batchResult struct {
	ID     string `json:"id"`
	Result struct {
		Errors *struct {
			Error []struct {
				Message string `json:"message"`
			} `json:"error"`
		} `json:"errors"`
	} `json:"result"`
}

type graphQLResponse struct {
	Data struct {
		Get map[string][]struct {
			Text       string `json:"text"`
			Metadata   string `json:"metadata"`
			Additional struct {
				ID       string  `json:"id"`
				Distance float32 `json:"distance"`
			} `json:"_additional"`
		} `json:"Get"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// New 创建Weaviate客户端
func New(cfg vectordb.Config) (vectordb.Store, error) {
	if cfg.URL == "" {
		return nil, document.NewConfigError("vectordb.url", "weaviate requires a server URL")
	}
	distType := cfg.Distance
	if _, ok := distanceNames[distType]; !ok {
		distType = vectordb.Cosine
	}
	headers := map[string]string{}
	if cfg.APIKey != "" {
		headers["Authorization"] = "Bearer " + cfg.APIKey
	}
	return &Store{
		client:   rest.New(cfg.URL, headers, cfg.HTTPClient, cfg.Timeout),
		distType: distType,
		dims:     make(map[string]int),
	}, nil
}

// ClassName 集合名转为类名，首字母大写
func ClassName(collection string) string {
	return strings.ToUpper(collection[:1]) + collection[1:]
}

// PropertyName 元数据键对应的属性名
func PropertyName(key string) string {
	return "m_" + invalidProp.ReplaceAllString(key, "_")
}

func (s *Store) class(op, name string) (string, error) {
	if !validName.MatchString(name) {
		return "", vectordb.Errorf(op, vectordb.KindInvalidArgument, name, "collection name must match %s", validName)
	}
	return ClassName(name), nil
}

// dimension 从类描述中读取维度
func (s *Store) dimension(ctx context.Context, op, name string) (string, int, error) {
	class, err := s.class(op, name)
	if err != nil {
		return "", 0, err
	}
	s.mu.RLock()
	dim, ok := s.dims[name]
	s.mu.RUnlock()
	if ok {
		return class, dim, nil
	}

	var schema classSchema
	err = s.client.Do(ctx, http.MethodGet, "/v1/schema/"+url.PathEscape(class), nil, &schema)
	if rest.IsStatus(err, http.StatusNotFound) {
		return "", 0, vectordb.CollectionNotFound(op, name)
	}
	if err != nil {
		return "", 0, vectordb.Wrap(op, name, err)
	}
	dim, err = strconv.Atoi(strings.TrimPrefix(schema.Description, dimensionPrefix))
	if err != nil {
		return "", 0, vectordb.Errorf(op, vectordb.KindBackend, name, "class %s has no dimension in its description", class)
	}

	s.mu.Lock()
	s.dims[name] = dim
	s.mu.Unlock()
	return class, dim, nil
}

// EnsureCollection 创建类
func (s *Store) EnsureCollection(ctx context.Context, name string, dimension int) error {
	if dimension <= 0 {
		return vectordb.Errorf("ensure", vectordb.KindInvalidArgument, name, "dimension must be positive")
	}
	_, existing, err := s.dimension(ctx, "ensure", name)
	if err == nil {
		return vectordb.CollectionExists(name, existing, dimension)
	}
	if !vectordb.IsNotFound(err) {
		return err
	}

	schema := classSchema{
		Class:       ClassName(name),
		Description: dimensionPrefix + strconv.Itoa(dimension),
		Vectorizer:  "none",
		VectorIndexConfig: map[string]interface{}{
			"distance": distanceNames[s.distType],
		},
		Properties: []property{
			{Name: "text", DataType: []string{"text"}},
			{Name: "metadata", DataType: []string{"text"}},
		},
	}
	if err := s.client.Do(ctx, http.MethodPost, "/v1/schema", schema, nil); err != nil {
		return vectordb.Wrap("ensure", name, err)
	}
	s.mu.Lock()
	s.dims[name] = dimension
	s.mu.Unlock()
	return nil
}

// Upsert 批量写入对象，ID必须是UUID
func (s *Store) Upsert(ctx context.Context, name string, records []vectordb.Record) ([]string, error) {
	class, dim, err := s.dimension(ctx, "upsert", name)
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

	objects := make([]object, len(prepared))
	for i, rec := range prepared {
		if _, err := uuid.Parse(rec.ID); err != nil {
			return nil, vectordb.Errorf("upsert", vectordb.KindInvalidArgument, name, "id %q is not a UUID", rec.ID)
		}
		meta, err := json.Marshal(rec.Metadata)
		if err != nil {
			return nil, vectordb.Wrap("upsert", name, err)
		}
		props := map[string]interface{}{
			"text":     rec.Text,
			"metadata": string(meta),
		}
		for k, v := range rec.Metadata {
			props[PropertyName(k)] = v
		}
		objects[i] = object{Class: class, ID: rec.ID, Vector: rec.Vector, Properties: props}
	}

	var results []batchResult
	if err := s.client.Do(ctx, http.MethodPost, "/v1/batch/objects", map[string]interface{}{"objects": objects}, &results); err != nil {
		return nil, s.wrap("upsert", name, err)
	}
	for _, r := range results {
		if r.Result.Errors != nil && len(r.Result.Errors.Error) > 0 {
			return nil, vectordb.Errorf("upsert", vectordb.KindBackend, name, "object %s: %s", r.ID, r.Result.Errors.Error[0].Message)
		}
	}
	return ids, nil
}

// Search 使用GraphQL nearVector查询
func (s *Store) Search(ctx context.Context, name string, vector []float32, k int, filter *vectordb.Filter) ([]vectordb.Result, error) {
	if err := vectordb.ValidateK(name, k); err != nil {
		return nil, err
	}
	class, dim, err := s.dimension(ctx, "search", name)
	if err != nil {
		return nil, err
	}
	if err := vectordb.ValidateVector("search", name, vector, dim); err != nil {
		return nil, err
	}

	var resp graphQLResponse
	query := map[string]string{"query": BuildQuery(class, vector, k, filter)}
	if err := s.client.Do(ctx, http.MethodPost, "/v1/graphql", query, &resp); err != nil {
		return nil, s.wrap("search", name, err)
	}
	if len(resp.Errors) > 0 {
		return nil, vectordb.Errorf("search", vectordb.KindBackend, name, "graphql: %s", resp.Errors[0].Message)
	}

	hits := resp.Data.Get[class]
	results := make([]vectordb.Result, len(hits))
	for i, hit := range hits {
		var meta map[string]string
		if hit.Metadata != "" && hit.Metadata != "null" {
			if err := json.Unmarshal([]byte(hit.Metadata), &meta); err != nil {
				return nil, vectordb.Wrap("search", name, err)
			}
		}
		score, dist := s.convert(hit.Additional.Distance)
		results[i] = vectordb.Result{
			ID:       hit.Additional.ID,
			Text:     hit.Text,
			Score:    score,
			Distance: dist,
			Metadata: meta,
		}
	}
	vectordb.SortResults(results)
	return results, nil
}

// convert 换算评分；dot距离是负的内积，l2-squared是距离平方
func (s *Store) convert(raw float32) (float32, float32) {
	switch s.distType {
	case vectordb.DotProduct:
		return vectordb.DistanceToScore(-raw, vectordb.DotProduct), -raw
	case vectordb.Euclidean:
		dist := float32(math.Sqrt(float64(raw)))
		return vectordb.DistanceToScore(dist, vectordb.Euclidean), dist
	default:
		return vectordb.DistanceToScore(raw, vectordb.Cosine), raw
	}
}

// BuildQuery 生成GraphQL查询语句
func BuildQuery(class string, vector []float32, k int, filter *vectordb.Filter) string {
	nums := make([]string, len(vector))
	for i, v := range vector {
		nums[i] = strconv.FormatFloat(float64(v), 'g', -1, 32)
	}

	args := fmt.Sprintf("nearVector: {vector: [%s]}, limit: %d", strings.Join(nums, ", "), k)
	if where := buildWhere(filter); where != "" {
		args += ", where: " + where
	}
	return fmt.Sprintf("{ Get { %s(%s) { text metadata _additional { id distance } } } }", class, args)
}

func buildWhere(filter *vectordb.Filter) string {
	if filter == nil || len(filter.Metadata) == 0 {
		return ""
	}
	keys := make([]string, 0, len(filter.Metadata))
	for key := range filter.Metadata {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	operands := make([]string, len(keys))
	for i, key := range keys {
		value, _ := json.Marshal(filter.Metadata[key])
		operands[i] = fmt.Sprintf(`{path: ["%s"], operator: Equal, valueText: %s}`, PropertyName(key), value)
	}
	if len(operands) == 1 {
		return operands[0]
	}
	return "{operator: And, operands: [" + strings.Join(operands, ", ") + "]}"
}

// Delete 逐个删除对象，不存在的忽略
func (s *Store) Delete(ctx context.Context, name string, ids []string) error {
	class, _, err := s.dimension(ctx, "delete", name)
	if err != nil {
		return err
	}
	for _, id := range ids {
		err := s.client.Do(ctx, http.MethodDelete, "/v1/objects/"+url.PathEscape(class)+"/"+url.PathEscape(id), nil, nil)
		if err != nil && !rest.IsStatus(err, http.StatusNotFound) {
			return vectordb.Wrap("delete", name, err)
		}
	}
	return nil
}

// DropCollection 删除类
func (s *Store) DropCollection(ctx context.Context, name string) error {
	class, _, err := s.dimension(ctx, "drop", name)
	if err != nil {
		return err
	}
	if err := s.client.Do(ctx, http.MethodDelete, "/v1/schema/"+url.PathEscape(class), nil, nil); err != nil {
		return s.wrap("drop", name, err)
	}
	s.forget(name)
	return nil
}

// Close 无长连接需要释放
func (s *Store) Close() error {
	return nil
}

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

func init() {
	vectordb.Register("weaviate", New)
}
