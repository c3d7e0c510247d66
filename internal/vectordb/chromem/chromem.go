// Package chromem 基于chromem-go的嵌入式向量存储
package chromem

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/fyerfyer/lang-data/internal/document"
	"github.com/fyerfyer/lang-data/internal/vectordb"
	"github.com/philippgille/chromem-go"
)

const collectionsFile = "collections.json"

// errNoEmbedder 向量总是由调用方提供
var errNoEmbedder = errors.New("chromem store expects precomputed embeddings")

func noEmbedding(context.Context, string) ([]float32, error) {
	return nil, errNoEmbedder
}

// Store chromem向量存储实现
// chromem只支持余弦相似度
type Store struct {
	mu         sync.RWMutex
	db         *chromem.DB
	dir        string
	dimensions map[string]int
}

// New 创建chromem向量存储，Path不为空时持久化到该目录
func New(cfg vectordb.Config) (vectordb.Store, error) {
	if cfg.Distance != "" && cfg.Distance != vectordb.Cosine {
		return nil, document.NewConfigError("vectordb.distance", "chromem only supports cosine distance, got %q", cfg.Distance)
	}

	s := &Store{dir: cfg.Path, dimensions: make(map[string]int)}
	if cfg.Path == "" {
		s.db = chromem.NewDB()
		return s, nil
	}

	db, err := chromem.NewPersistentDB(filepath.Join(cfg.Path, "chromem"), false)
	if err != nil {
		return nil, fmt.Errorf("failed to open chromem database: %w", err)
	}
	s.db = db
	if err := s.loadDimensions(); err != nil {
		return nil, err
	}
	return s, nil
}

// EnsureCollection 创建集合
func (s *Store) EnsureCollection(_ context.Context, name string, dimension int) error {
	if name == "" || dimension <= 0 {
		return vectordb.Errorf("ensure", vectordb.KindInvalidArgument, name, "name and positive dimension are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db.GetCollection(name, noEmbedding) != nil {
		existing, ok := s.dimensions[name]
		if !ok {
			// 持久化目录里有集合但没有维度记录，以本次为准
			s.dimensions[name] = dimension
			existing = dimension
			if err := s.saveDimensions(); err != nil {
				return vectordb.Wrap("ensure", name, err)
			}
		}
		return vectordb.CollectionExists(name, existing, dimension)
	}

	if _, err := s.db.CreateCollection(name, map[string]string{"dimension": fmt.Sprint(dimension)}, noEmbedding); err != nil {
		return vectordb.Wrap("ensure", name, err)
	}
	s.dimensions[name] = dimension
	return vectordb.Wrap("ensure", name, s.saveDimensions())
}

func (s *Store) collection(op, name string) (*chromem.Collection, int, error) {
	c := s.db.GetCollection(name, noEmbedding)
	if c == nil {
		return nil, 0, vectordb.CollectionNotFound(op, name)
	}
	return c, s.dimensions[name], nil
}

// Upsert 写入记录，同ID覆盖
func (s *Store) Upsert(ctx context.Context, name string, records []vectordb.Record) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, dim, err := s.collection("upsert", name)
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

	docs := make([]chromem.Document, len(prepared))
	for i, rec := range prepared {
		docs[i] = chromem.Document{
			ID:        rec.ID,
			Metadata:  rec.Metadata,
			Embedding: rec.Vector,
			Content:   rec.Text,
		}
	}
	if err := c.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return nil, vectordb.Wrap("upsert", name, err)
	}
	return ids, nil
}

// Search 相似度搜索，过滤条件交给chromem的where处理
func (s *Store) Search(ctx context.Context, name string, vector []float32, k int, filter *vectordb.Filter) ([]vectordb.Result, error) {
	if err := vectordb.ValidateK(name, k); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	c, dim, err := s.collection("search", name)
	if err != nil {
		return nil, err
	}
	if err := vectordb.ValidateVector("search", name, vector, dim); err != nil {
		return nil, err
	}

	// chromem要求结果数不超过文档总数
	count := c.Count()
	if count == 0 {
		return []vectordb.Result{}, nil
	}
	if k > count {
		k = count
	}

	var where map[string]string
	if filter != nil && len(filter.Metadata) > 0 {
		where = filter.Metadata
	}

	query := make([]float32, len(vector))
	copy(query, vector)
	found, err := c.QueryEmbedding(ctx, query, k, where, nil)
	if err != nil {
		return nil, vectordb.Wrap("search", name, err)
	}

	results := make([]vectordb.Result, len(found))
	for i, r := range found {
		results[i] = vectordb.Result{
			ID:       r.ID,
			Text:     r.Content,
			Score:    r.Similarity,
			Distance: 1 - r.Similarity,
			Metadata: vectordb.CopyMetadata(r.Metadata),
		}
	}
	vectordb.SortResults(results)
	return results, nil
}

// Delete 删除记录
func (s *Store) Delete(ctx context.Context, name string, ids []string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, _, err := s.collection("delete", name)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	return vectordb.Wrap("delete", name, c.Delete(ctx, nil, nil, ids...))
}

// DropCollection 删除集合
func (s *Store) DropCollection(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db.GetCollection(name, noEmbedding) == nil {
		return vectordb.CollectionNotFound("drop", name)
	}
	if err := s.db.DeleteCollection(name); err != nil {
		return vectordb.Wrap("drop", name, err)
	}
	delete(s.dimensions, name)
	return vectordb.Wrap("drop", name, s.saveDimensions())
}

// Close chromem持久化是写穿的，无需额外操作
func (s *Store) Close() error {
	return nil
}

// saveDimensions 保存集合维度
func (s *Store) saveDimensions() error {
	if s.dir == "" {
		return nil
	}
	data, err := json.Marshal(s.dimensions)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.dir, collectionsFile), data, 0644)
}

func (s *Store) loadDimensions() error {
	data, err := os.ReadFile(filepath.Join(s.dir, collectionsFile))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read collections file: %w", err)
	}
	return json.Unmarshal(data, &s.dimensions)
}

func init() {
	vectordb.Register("chromem", New)
}
