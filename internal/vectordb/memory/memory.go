// Package memory 进程内向量存储，精确搜索
package memory

import (
	"context"
	"runtime"
	"sync"

	"github.com/fyerfyer/lang-data/internal/vectordb"
)

// 超过该数量时并行计算距离
const parallelThreshold = 1000

// collection 单个集合的数据
type collection struct {
	dimension int
	records   map[string]vectordb.Record
}

// Store 内存向量存储实现
// 用于开发、测试和小规模数据
type Store struct {
	mu          sync.RWMutex
	distType    vectordb.DistanceType
	collections map[string]*collection
}

// New 创建内存向量存储
func New(cfg vectordb.Config) (vectordb.Store, error) {
	distType := cfg.Distance
	if distType != vectordb.Cosine && distType != vectordb.DotProduct && distType != vectordb.Euclidean {
		distType = vectordb.Cosine
	}
	return &Store{
		distType:    distType,
		collections: make(map[string]*collection),
	}, nil
}

// EnsureCollection 创建集合
func (s *Store) EnsureCollection(_ context.Context, name string, dimension int) error {
	if name == "" || dimension <= 0 {
		return vectordb.Errorf("ensure", vectordb.KindInvalidArgument, name, "name and positive dimension are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.collections[name]; ok {
		return vectordb.CollectionExists(name, c.dimension, dimension)
	}
	s.collections[name] = &collection{
		dimension: dimension,
		records:   make(map[string]vectordb.Record),
	}
	return nil
}

// Upsert 写入记录
func (s *Store) Upsert(ctx context.Context, name string, records []vectordb.Record) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, vectordb.Wrap("upsert", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.collections[name]
	if !ok {
		return nil, vectordb.CollectionNotFound("upsert", name)
	}
	prepared, ids, err := vectordb.PrepareRecords(name, records, c.dimension)
	if err != nil {
		return nil, err
	}
	for _, rec := range prepared {
		c.records[rec.ID] = rec
	}
	return ids, nil
}

// Search 相似度搜索
func (s *Store) Search(ctx context.Context, name string, vector []float32, k int, filter *vectordb.Filter) ([]vectordb.Result, error) {
	if err := vectordb.ValidateK(name, k); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, vectordb.Wrap("search", name, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.collections[name]
	if !ok {
		return nil, vectordb.CollectionNotFound("search", name)
	}
	if err := vectordb.ValidateVector("search", name, vector, c.dimension); err != nil {
		return nil, err
	}

	candidates := make([]vectordb.Record, 0, len(c.records))
	for _, rec := range c.records {
		if vectordb.MatchFilter(rec.Metadata, filter) {
			candidates = append(candidates, rec)
		}
	}

	threads := runtime.NumCPU()
	if len(candidates) < parallelThreshold || threads == 1 {
		return vectordb.Rank(vector, candidates, s.distType, k, nil)
	}
	return s.parallelSearch(vector, candidates, k, threads)
}

// parallelSearch 分片计算后合并
func (s *Store) parallelSearch(vector []float32, docs []vectordb.Record, k, threads int) ([]vectordb.Result, error) {
	perThread := (len(docs) + threads - 1) / threads

	var wg sync.WaitGroup
	parts := make([][]vectordb.Result, threads)
	errs := make([]error, threads)
	for i := 0; i < threads; i++ {
		start := i * perThread
		end := start + perThread
		if end > len(docs) {
			end = len(docs)
		}
		if start >= end {
			continue
		}

		wg.Add(1)
		go func(i, start, end int) {
			defer wg.Done()
			parts[i], errs[i] = vectordb.Rank(vector, docs[start:end], s.distType, k, nil)
		}(i, start, end)
	}
	wg.Wait()

	var merged []vectordb.Result
	for i := range parts {
		if errs[i] != nil {
			return nil, vectordb.Wrap("search", "", errs[i])
		}
		merged = append(merged, parts[i]...)
	}
	vectordb.SortResults(merged)
	if len(merged) > k {
		merged = merged[:k]
	}
	return merged, nil
}

// Delete 删除记录，不存在的ID忽略
func (s *Store) Delete(_ context.Context, name string, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.collections[name]
	if !ok {
		return vectordb.CollectionNotFound("delete", name)
	}
	for _, id := range ids {
		delete(c.records, id)
	}
	return nil
}

// DropCollection 删除集合
func (s *Store) DropCollection(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.collections[name]; !ok {
		return vectordb.CollectionNotFound("drop", name)
	}
	delete(s.collections, name)
	return nil
}

// Count 返回集合中的记录数
func (s *Store) Count(name string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c, ok := s.collections[name]; ok {
		return len(c.records)
	}
	return 0
}

// Close 内存实现无需释放资源
func (s *Store) Close() error {
	return nil
}

func init() {
	vectordb.Register("memory", New)
}
