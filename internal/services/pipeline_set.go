package services

import (
	"sort"
	"sync"

	"github.com/fyerfyer/lang-data/internal/document"
	"github.com/fyerfyer/lang-data/internal/embedding"
	"github.com/fyerfyer/lang-data/internal/vectordb"
)

// PipelineSet 按集合名缓存检索流水线
// 所有流水线共享同一个分段器、嵌入客户端和向量存储
type PipelineSet struct {
	defaultCollection string
	splitter          document.Splitter
	embedder          embedding.Client
	store             vectordb.Store
	opts              []PipelineOption

	mu        sync.Mutex
	pipelines map[string]*RetrievalPipeline
}

// NewPipelineSet 创建流水线集合，opts会应用到每条流水线
func NewPipelineSet(defaultCollection string, splitter document.Splitter, embedder embedding.Client, store vectordb.Store, opts ...PipelineOption) *PipelineSet {
	return &PipelineSet{
		defaultCollection: defaultCollection,
		splitter:          splitter,
		embedder:          embedder,
		store:             store,
		opts:              opts,
		pipelines:         make(map[string]*RetrievalPipeline),
	}
}

// For 返回集合对应的流水线，空名称使用默认集合
func (s *PipelineSet) For(collection string) *RetrievalPipeline {
	if collection == "" {
		collection = s.defaultCollection
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.pipelines[collection]; ok {
		return p
	}

	opts := make([]PipelineOption, 0, len(s.opts)+1)
	opts = append(opts, s.opts...)
	opts = append(opts, WithCollection(collection))
	p := NewRetrievalPipeline(s.splitter, s.embedder, s.store, opts...)
	s.pipelines[collection] = p
	return p
}

// Default 返回默认集合的流水线
func (s *PipelineSet) Default() *RetrievalPipeline {
	return s.For("")
}

// DefaultCollection 默认集合名
func (s *PipelineSet) DefaultCollection() string {
	return s.defaultCollection
}

// Store 共享的向量存储
func (s *PipelineSet) Store() vectordb.Store {
	return s.store
}

// Embedder 共享的嵌入客户端
func (s *PipelineSet) Embedder() embedding.Client {
	return s.embedder
}

// Collections 已创建流水线的集合名
func (s *PipelineSet) Collections() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.pipelines))
	for name := range s.pipelines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
