// Package faiss 基于Faiss平面索引的向量存储
// 每个集合一个索引文件和一个JSON元数据文件
package faiss

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/DataIntelligenceCrew/go-faiss"
	"github.com/fyerfyer/lang-data/internal/vectordb"
)

// collection 单个集合的索引和记录
// positions[i]为索引第i个向量对应的ID，空字符串表示已删除
type collection struct {
	dimension  int
	index      faiss.Index
	positions  []string
	records    map[string]vectordb.Record
	tombstones int
}

// sidecar 持久化到JSON的集合元数据
type sidecar struct {
	Dimension int                        `json:"dimension"`
	Distance  vectordb.DistanceType      `json:"distance"`
	Positions []string                   `json:"positions"`
	Records   map[string]vectordb.Record `json:"records"`
}

// Store Faiss向量存储实现
type Store struct {
	mu          sync.RWMutex
	dir         string
	distType    vectordb.DistanceType
	collections map[string]*collection
}

// New 创建Faiss向量存储，Path不为空时从目录加载已有集合
func New(cfg vectordb.Config) (vectordb.Store, error) {
	distType := cfg.Distance
	if distType == "" {
		distType = vectordb.Cosine
	}
	s := &Store{
		dir:         cfg.Path,
		distType:    distType,
		collections: make(map[string]*collection),
	}
	if s.dir != "" {
		if err := os.MkdirAll(s.dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %v", err)
		}
		if err := s.load(); err != nil {
			s.Close()
			return nil, err
		}
	}
	return s, nil
}

// createIndex 余弦和点积使用内积索引
func createIndex(dimension int, distType vectordb.DistanceType) (faiss.Index, error) {
	metric := faiss.MetricL2
	if distType == vectordb.Cosine || distType == vectordb.DotProduct {
		metric = faiss.MetricInnerProduct
	}
	return faiss.NewIndexFlat(dimension, metric)
}

func (s *Store) prepareVector(v []float32) []float32 {
	if s.distType == vectordb.Cosine {
		return vectordb.NormalizeVector(v)
	}
	return v
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
	index, err := createIndex(dimension, s.distType)
	if err != nil {
		return vectordb.Wrap("ensure", name, fmt.Errorf("failed to create Faiss index: %v", err))
	}
	s.collections[name] = &collection{
		dimension: dimension,
		index:     index,
		records:   make(map[string]vectordb.Record),
	}
	return nil
}

// Upsert 追加向量，同ID的旧向量标记为删除
func (s *Store) Upsert(_ context.Context, name string, records []vectordb.Record) ([]string, error) {
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
	if len(prepared) == 0 {
		return ids, nil
	}

	flat := make([]float32, 0, len(prepared)*c.dimension)
	for _, rec := range prepared {
		flat = append(flat, s.prepareVector(rec.Vector)...)
	}
	if err := c.index.Add(flat); err != nil {
		return nil, vectordb.Wrap("upsert", name, fmt.Errorf("failed to add vectors to index: %v", err))
	}

	for _, rec := range prepared {
		if _, exists := c.records[rec.ID]; exists {
			c.tombstone(rec.ID)
		}
		c.records[rec.ID] = rec
		c.positions = append(c.positions, rec.ID)
	}
	return ids, nil
}

// tombstone 将ID最近一次出现的位置标记为删除
func (c *collection) tombstone(id string) {
	for i := len(c.positions) - 1; i >= 0; i-- {
		if c.positions[i] == id {
			c.positions[i] = ""
			c.tombstones++
			return
		}
	}
}

// Search 相似度搜索
func (s *Store) Search(_ context.Context, name string, vector []float32, k int, filter *vectordb.Filter) ([]vectordb.Result, error) {
	if err := vectordb.ValidateK(name, k); err != nil {
		return nil, err
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

	total := int(c.index.Ntotal())
	if total == 0 || len(c.records) == 0 {
		return []vectordb.Result{}, nil
	}
	// 有过滤条件时扫描全部，否则多取墓碑数量
	limit := k + c.tombstones
	if filter != nil && len(filter.Metadata) > 0 {
		limit = total
	}
	if limit > total {
		limit = total
	}

	distances, labels, err := c.index.Search(s.prepareVector(vector), int64(limit))
	if err != nil {
		return nil, vectordb.Wrap("search", name, fmt.Errorf("failed to search index: %v", err))
	}

	results := make([]vectordb.Result, 0, k)
	for i, label := range labels {
		if label < 0 || int(label) >= len(c.positions) {
			continue
		}
		id := c.positions[label]
		if id == "" {
			continue
		}
		rec := c.records[id]
		if !vectordb.MatchFilter(rec.Metadata, filter) {
			continue
		}
		score, dist := s.convert(distances[i])
		results = append(results, vectordb.Result{
			ID:       id,
			Text:     rec.Text,
			Score:    score,
			Distance: dist,
			Metadata: vectordb.CopyMetadata(rec.Metadata),
		})
		if len(results) >= k {
			break
		}
	}
	vectordb.SortResults(results)
	return results, nil
}

// convert 将Faiss的原始值换算为评分和距离
// 内积索引返回相似度，L2索引返回距离的平方
func (s *Store) convert(raw float32) (float32, float32) {
	switch s.distType {
	case vectordb.Cosine:
		dist := 1 - raw
		return vectordb.DistanceToScore(dist, vectordb.Cosine), dist
	case vectordb.DotProduct:
		return vectordb.DistanceToScore(raw, vectordb.DotProduct), raw
	default:
		dist := float32(math.Sqrt(float64(raw)))
		return vectordb.DistanceToScore(dist, vectordb.Euclidean), dist
	}
}

// Delete 标记删除，墓碑超过一半时重建索引
func (s *Store) Delete(_ context.Context, name string, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.collections[name]
	if !ok {
		return vectordb.CollectionNotFound("delete", name)
	}
	for _, id := range ids {
		if _, exists := c.records[id]; !exists {
			continue
		}
		delete(c.records, id)
		c.tombstone(id)
	}
	if c.tombstones > 0 && c.tombstones*2 >= len(c.positions) {
		if err := s.rebuild(c); err != nil {
			return vectordb.Wrap("delete", name, err)
		}
	}
	return nil
}

// rebuild 用存活记录重建索引
func (s *Store) rebuild(c *collection) error {
	index, err := createIndex(c.dimension, s.distType)
	if err != nil {
		return fmt.Errorf("failed to create Faiss index: %v", err)
	}

	positions := make([]string, 0, len(c.records))
	flat := make([]float32, 0, len(c.records)*c.dimension)
	for _, id := range c.positions {
		if id == "" {
			continue
		}
		positions = append(positions, id)
		flat = append(flat, s.prepareVector(c.records[id].Vector)...)
	}
	if len(flat) > 0 {
		if err := index.Add(flat); err != nil {
			index.Delete()
			return fmt.Errorf("failed to add vectors to index: %v", err)
		}
	}

	c.index.Delete()
	c.index = index
	c.positions = positions
	c.tombstones = 0
	return nil
}

// DropCollection 删除集合及其文件
func (s *Store) DropCollection(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.collections[name]
	if !ok {
		return vectordb.CollectionNotFound("drop", name)
	}
	c.index.Delete()
	delete(s.collections, name)

	if s.dir != "" {
		for _, p := range []string{s.indexPath(name), s.metaPath(name)} {
			if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
				return vectordb.Wrap("drop", name, err)
			}
		}
	}
	return nil
}

// Close 保存所有集合并释放索引
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for name, c := range s.collections {
		if s.dir != "" {
			if err := s.save(name, c); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("failed to save index on close: %v", err)
			}
		}
		c.index.Delete()
	}
	s.collections = make(map[string]*collection)
	return firstErr
}

// Flush 将所有集合写入磁盘
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, c := range s.collections {
		if err := s.save(name, c); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) indexPath(name string) string {
	return filepath.Join(s.dir, name+".faiss")
}

func (s *Store) metaPath(name string) string {
	return filepath.Join(s.dir, name+".json")
}

// save 保存索引和元数据文件，先重建以去掉墓碑
func (s *Store) save(name string, c *collection) error {
	if s.dir == "" {
		return nil
	}
	if c.tombstones > 0 {
		if err := s.rebuild(c); err != nil {
			return err
		}
	}
	if err := faiss.WriteIndex(c.index, s.indexPath(name)); err != nil {
		return fmt.Errorf("failed to write index to file: %v", err)
	}

	data, err := json.Marshal(sidecar{
		Dimension: c.dimension,
		Distance:  s.distType,
		Positions: c.positions,
		Records:   c.records,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %v", err)
	}
	if err := os.WriteFile(s.metaPath(name), data, 0644); err != nil {
		return fmt.Errorf("failed to write metadata file: %v", err)
	}
	return nil
}

// load 加载目录中的全部集合
func (s *Store) load() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("failed to read directory: %v", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ".json")

		data, err := os.ReadFile(s.metaPath(name))
		if err != nil {
			return fmt.Errorf("failed to read metadata file: %v", err)
		}
		var meta sidecar
		if err := json.Unmarshal(data, &meta); err != nil {
			return fmt.Errorf("failed to unmarshal metadata: %v", err)
		}
		if meta.Distance != "" && meta.Distance != s.distType {
			return fmt.Errorf("collection %s was built with %s distance, store uses %s", name, meta.Distance, s.distType)
		}

		index, err := faiss.ReadIndex(s.indexPath(name), 0)
		if err != nil {
			return fmt.Errorf("failed to read index file: %v", err)
		}
		if meta.Records == nil {
			meta.Records = make(map[string]vectordb.Record)
		}
		s.collections[name] = &collection{
			dimension: meta.Dimension,
			index:     index,
			positions: meta.Positions,
			records:   meta.Records,
		}
	}
	return nil
}

func init() {
	vectordb.Register("faiss", New)
}
