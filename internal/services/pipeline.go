package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fyerfyer/lang-data/internal/document"
	"github.com/fyerfyer/lang-data/internal/embedding"
	"github.com/fyerfyer/lang-data/internal/repository"
	"github.com/fyerfyer/lang-data/internal/vectordb"
	"github.com/gammazero/workerpool"
	"github.com/sirupsen/logrus"
)

// 检索结果附加的元数据键
const (
	MetaScore    = "score"
	MetaDistance = "distance"
	MetaID       = "id"
)

// RetrievalPipeline 检索流水线
// 串联分段、嵌入和向量存储，负责导入和检索
type RetrievalPipeline struct {
	splitter   document.Splitter           // 文本分段器
	embedder   embedding.Client            // 嵌入模型客户端
	batch      *embedding.BatchProcessor   // 分批并发嵌入
	store      vectordb.Store              // 向量存储
	ledgerRepo repository.SourceRepository // 导入记录仓储
	status     *SourceStatusManager        // 导入状态管理器
	collection string                      // 集合名
	batchSize  int                         // 每次写入和嵌入的分块数量
	workers    int                         // 并发处理的文档数
	timeout    time.Duration               // 单次调用超时
	minScore   float32                     // 最低评分
	filterLow  bool                        // 是否按最低评分过滤
	logger     *logrus.Logger              // 日志记录器

	mu    sync.Mutex
	ready bool
}

// PipelineOption 流水线配置选项
type PipelineOption func(*RetrievalPipeline)

// WithCollection 设置集合名
func WithCollection(name string) PipelineOption {
	return func(p *RetrievalPipeline) {
		p.collection = name
	}
}

// WithBatchSize 设置批处理大小
func WithBatchSize(size int) PipelineOption {
	return func(p *RetrievalPipeline) {
		if size > 0 {
			p.batchSize = size
		}
	}
}

// WithWorkers 设置并发文档数
func WithWorkers(n int) PipelineOption {
	return func(p *RetrievalPipeline) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithTimeout 设置单次调用超时
func WithTimeout(timeout time.Duration) PipelineOption {
	return func(p *RetrievalPipeline) {
		if timeout > 0 {
			p.timeout = timeout
		}
	}
}

// WithLogger 设置日志记录器
func WithLogger(logger *logrus.Logger) PipelineOption {
	return func(p *RetrievalPipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithLedger 设置导入记录仓储
func WithLedger(repo repository.SourceRepository) PipelineOption {
	return func(p *RetrievalPipeline) {
		p.ledgerRepo = repo
	}
}

// WithMinScore 丢弃低于该评分的检索结果
func WithMinScore(score float32) PipelineOption {
	return func(p *RetrievalPipeline) {
		p.minScore = score
		p.filterLow = true
	}
}

// NewRetrievalPipeline 创建检索流水线
func NewRetrievalPipeline(splitter document.Splitter, embedder embedding.Client, store vectordb.Store, opts ...PipelineOption) *RetrievalPipeline {
	p := &RetrievalPipeline{
		splitter:  splitter,
		embedder:  embedder,
		store:     store,
		batchSize: 16,
		workers:   4,
		timeout:   5 * time.Minute,
		logger:    logrus.New(),
	}
	for _, opt := range opts {
		opt(p)
	}

	p.batch = embedding.NewBatchProcessor(embedder, p.batchSize, p.workers)
	if p.ledgerRepo != nil {
		p.status = NewSourceStatusManager(p.ledgerRepo, p.logger)
	}
	return p
}

// Collection 返回集合名
func (p *RetrievalPipeline) Collection() string {
	return p.collection
}

// Ledger 返回导入状态管理器，未设置仓储时为nil
func (p *RetrievalPipeline) Ledger() *SourceStatusManager {
	return p.status
}

// Store 返回底层向量存储
func (p *RetrievalPipeline) Store() vectordb.Store {
	return p.store
}

// Ready 集合是否已经准备好
func (p *RetrievalPipeline) Ready() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ready
}

func (p *RetrievalPipeline) configured() error {
	if p.collection == "" {
		return document.NewConfigError("collection", "no collection configured")
	}
	return nil
}

// Prepare 按嵌入维度创建集合，集合已存在且维度相同视为成功
func (p *RetrievalPipeline) Prepare(ctx context.Context) error {
	if err := p.configured(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ready {
		return nil
	}

	dim, err := p.dimension(ctx)
	if err != nil {
		return err
	}
	err = p.store.EnsureCollection(ctx, p.collection, dim)
	if err != nil && !vectordb.IsAlreadyExists(err) {
		return fmt.Errorf("prepare collection %s: %w", p.collection, err)
	}

	p.ready = true
	p.logger.WithFields(logrus.Fields{
		"collection": p.collection,
		"dimension":  dim,
		"model":      p.embedder.Name(),
	}).Info("Collection ready")
	return nil
}

// dimension 客户端不知道维度时嵌入一段探测文本
func (p *RetrievalPipeline) dimension(ctx context.Context) (int, error) {
	if dim := p.embedder.Dimensions(); dim > 0 {
		return dim, nil
	}
	vec, err := p.embedder.Embed(ctx, "dimension probe")
	if err != nil {
		return 0, fmt.Errorf("probe embedding dimension: %w", err)
	}
	if len(vec) == 0 {
		return 0, document.NewConfigError("embed.dimensions", "embedding model %s returned an empty vector", p.embedder.Name())
	}
	return len(vec), nil
}

// Ingest 导入文档
// 不同来源的文档独立成功或失败，报告按输入顺序列出结果
func (p *RetrievalPipeline) Ingest(ctx context.Context, docs []document.Document) (*IngestReport, error) {
	if err := p.configured(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if err := p.Prepare(ctx); err != nil {
		return nil, err
	}

	start := time.Now()
	report := &IngestReport{Results: p.ingest(ctx, docs)}
	report.Duration = time.Since(start)
	err := report.finish()

	p.logger.WithFields(logrus.Fields{
		"collection": p.collection,
		"documents":  report.Documents,
		"succeeded":  report.Succeeded,
		"failed":     report.Failed,
		"chunks":     report.Chunks,
		"duration":   report.Duration.String(),
	}).Info("Ingest finished")
	return report, err
}

// ingest 在工作池中并行处理文档，结果写入各自的槽位
// 同一来源的文档在同一个任务里顺序写入，共享一条导入记录
func (p *RetrievalPipeline) ingest(ctx context.Context, docs []document.Document) []DocumentResult {
	results := make([]DocumentResult, len(docs))
	for i, doc := range docs {
		results[i] = DocumentResult{Index: i, Source: sourceOf(doc)}
	}

	pool := workerpool.New(p.workers)
	for _, group := range groupBySource(docs) {
		group := group
		pool.Submit(func() {
			p.ingestGroup(ctx, group, docs, results)
		})
	}
	pool.StopWait()
	return results
}

// sourceGroup 同一来源的文档在输入中的位置
type sourceGroup struct {
	source  string
	indexes []int
}

// groupBySource 按首次出现的顺序分组，没有来源的文档各自成组
func groupBySource(docs []document.Document) []sourceGroup {
	var groups []sourceGroup
	seen := make(map[string]int)
	for i, doc := range docs {
		source := sourceOf(doc)
		if source == "" {
			groups = append(groups, sourceGroup{indexes: []int{i}})
			continue
		}
		if g, ok := seen[source]; ok {
			groups[g].indexes = append(groups[g].indexes, i)
			continue
		}
		seen[source] = len(groups)
		groups = append(groups, sourceGroup{source: source, indexes: []int{i}})
	}
	return groups
}

// ingestGroup 写入一组文档
// 任何一个失败时整组回滚，旧的分块保持不变
func (p *RetrievalPipeline) ingestGroup(ctx context.Context, g sourceGroup, docs []document.Document, results []DocumentResult) {
	fail := func(err error) {
		for _, i := range g.indexes {
			if results[i].Err == nil {
				results[i].ChunkIDs = nil
				results[i].Err = err
			}
		}
	}
	if err := ctx.Err(); err != nil {
		fail(err)
		return
	}

	track := p.status != nil && g.source != ""
	var previous []string
	if track {
		fileName, _ := docs[g.indexes[0]].Get(document.MetaFileName)
		ids, err := p.status.MarkProcessing(ctx, p.collection, g.source, fileName)
		if err != nil {
			fail(fmt.Errorf("ledger: %w", err))
			return
		}
		previous = ids
	}

	var written []string
	var failed error
	for _, i := range g.indexes {
		ids, err := p.write(ctx, docs[i])
		if err != nil {
			results[i].Err = err
			failed = err
			p.logger.WithFields(logrus.Fields{
				"collection": p.collection,
				"source":     g.source,
				"index":      i,
			}).WithError(err).Warn("Failed to ingest document")
			break
		}
		results[i].ChunkIDs = ids
		written = append(written, ids...)
	}

	if failed == nil && track {
		if err := p.status.MarkCompleted(ctx, p.collection, g.source, written); err != nil {
			failed = fmt.Errorf("ledger: %w", err)
			for _, i := range g.indexes {
				results[i].ChunkIDs = nil
				results[i].Err = failed
			}
		}
	}

	if failed != nil {
		p.rollback(ctx, written)
		if len(g.indexes) > 1 {
			fail(fmt.Errorf("source %s not ingested: %w", g.source, failed))
		}
		if track {
			if err := p.status.MarkFailed(context.WithoutCancel(ctx), p.collection, g.source, failed.Error()); err != nil {
				p.logger.WithError(err).Warn("Failed to record ingest failure")
			}
		}
		return
	}

	// 重新导入时删除旧的向量
	if len(previous) > 0 {
		if err := p.store.Delete(ctx, p.collection, previous); err != nil {
			p.logger.WithFields(logrus.Fields{
				"source": g.source,
				"count":  len(previous),
			}).WithError(err).Warn("Failed to delete previous chunks")
		}
	}
}

// write 分段、嵌入并按lookup_index顺序分批写入
func (p *RetrievalPipeline) write(ctx context.Context, doc document.Document) ([]string, error) {
	chunks, err := p.splitter.Split(doc)
	if err != nil {
		return nil, fmt.Errorf("split: %w", err)
	}

	// 空白分块无法嵌入
	kept := chunks[:0]
	for _, chunk := range chunks {
		if strings.TrimSpace(chunk.Text) != "" {
			kept = append(kept, chunk)
		}
	}
	if len(kept) == 0 {
		return []string{}, nil
	}

	texts := make([]string, len(kept))
	for i, chunk := range kept {
		texts[i] = chunk.Text
	}
	vectors, err := p.batch.Process(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}

	records := make([]vectordb.Record, len(kept))
	for i, chunk := range kept {
		records[i] = vectordb.Record{
			ID:       vectordb.NewID(),
			Vector:   vectors[i],
			Text:     chunk.Text,
			Metadata: chunk.Metadata,
		}
	}

	ids := make([]string, 0, len(records))
	for start := 0; start < len(records); start += p.batchSize {
		end := start + p.batchSize
		if end > len(records) {
			end = len(records)
		}
		got, err := p.store.Upsert(ctx, p.collection, records[start:end])
		if err != nil {
			p.rollback(ctx, ids)
			return nil, fmt.Errorf("upsert chunks %d-%d: %w", start, end-1, err)
		}
		ids = append(ids, got...)
	}
	return ids, nil
}

// rollback 删除部分写入的分块
func (p *RetrievalPipeline) rollback(ctx context.Context, ids []string) {
	if len(ids) == 0 {
		return
	}
	if err := p.store.Delete(context.WithoutCancel(ctx), p.collection, ids); err != nil {
		p.logger.WithField("count", len(ids)).WithError(err).Warn("Failed to roll back partial upsert")
	}
}

// Retrieve 检索与查询最相似的k个分块
func (p *RetrievalPipeline) Retrieve(ctx context.Context, query string, k int) ([]document.Document, error) {
	return p.RetrieveWithFilter(ctx, query, k, nil)
}

// RetrieveWithFilter 带元数据过滤的检索
func (p *RetrievalPipeline) RetrieveWithFilter(ctx context.Context, query string, k int, filter map[string]string) ([]document.Document, error) {
	if err := p.configured(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(query) == "" {
		return nil, document.NewConfigError("query", "must not be empty")
	}
	if k <= 0 {
		k = vectordb.DefaultK
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	vector, err := embedding.EmbedQuery(ctx, p.embedder, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	var f *vectordb.Filter
	if len(filter) > 0 {
		f = &vectordb.Filter{Metadata: filter}
	}
	results, err := p.store.Search(ctx, p.collection, vector, k, f)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	docs := make([]document.Document, 0, len(results))
	for _, r := range results {
		if p.filterLow && r.Score < p.minScore {
			continue
		}
		meta := vectordb.CopyMetadata(r.Metadata)
		if meta == nil {
			meta = make(map[string]string, 3)
		}
		meta[MetaScore] = strconv.FormatFloat(float64(r.Score), 'f', -1, 32)
		meta[MetaDistance] = strconv.FormatFloat(float64(r.Distance), 'f', -1, 32)
		meta[MetaID] = r.ID
		docs = append(docs, document.Document{Text: r.Text, Metadata: meta})
	}

	p.logger.WithFields(logrus.Fields{
		"collection": p.collection,
		"k":          k,
		"results":    len(docs),
	}).Debug("Retrieve finished")
	return docs, nil
}

// Forget 删除来源导入的全部向量和导入记录，返回删除的向量数
func (p *RetrievalPipeline) Forget(ctx context.Context, source string) (int, error) {
	if err := p.configured(); err != nil {
		return 0, err
	}
	if p.status == nil {
		return 0, document.NewConfigError("ledger", "forget requires a ledger")
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	src, err := p.status.Get(ctx, p.collection, source)
	if err != nil {
		return 0, err
	}
	ids, err := src.IDs()
	if err != nil {
		return 0, fmt.Errorf("failed to decode chunk ids: %w", err)
	}
	if len(ids) > 0 {
		if err := p.store.Delete(ctx, p.collection, ids); err != nil {
			return 0, fmt.Errorf("delete chunks: %w", err)
		}
	}
	if err := p.status.Remove(ctx, p.collection, source); err != nil {
		return 0, err
	}

	p.logger.WithFields(logrus.Fields{
		"collection": p.collection,
		"source":     source,
		"chunks":     len(ids),
	}).Info("Source forgotten")
	return len(ids), nil
}

// Drop 删除集合，流水线回到未就绪状态
func (p *RetrievalPipeline) Drop(ctx context.Context) error {
	if err := p.configured(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.store.DropCollection(ctx, p.collection); err != nil {
		return fmt.Errorf("drop collection %s: %w", p.collection, err)
	}
	p.ready = false
	if p.status != nil {
		if err := p.status.RemoveCollection(ctx, p.collection); err != nil {
			return err
		}
	}
	p.logger.WithField("collection", p.collection).Info("Collection dropped")
	return nil
}

// IngestFiles 加载文件后导入，加载失败的文件记录在报告中
func (p *RetrievalPipeline) IngestFiles(ctx context.Context, loader document.Loader, paths []string) (*IngestReport, error) {
	return p.loadAndIngest(ctx, paths, func(ctx context.Context, path string) ([]document.Document, error) {
		return loader.LoadFile(ctx, path)
	})
}

// IngestLinks 加载链接后导入
func (p *RetrievalPipeline) IngestLinks(ctx context.Context, loader document.Loader, urls []string) (*IngestReport, error) {
	return p.loadAndIngest(ctx, urls, func(ctx context.Context, url string) ([]document.Document, error) {
		return loader.LoadLink(ctx, url)
	})
}

// loadAndIngest 结果的Index对应输入中的位置
func (p *RetrievalPipeline) loadAndIngest(ctx context.Context, inputs []string,
	load func(ctx context.Context, input string) ([]document.Document, error)) (*IngestReport, error) {
	if err := p.configured(); err != nil {
		return nil, err
	}

	var (
		docs     []document.Document
		origins  []int
		failures []DocumentResult
	)
	for i, input := range inputs {
		loaded, err := load(ctx, input)
		if err != nil {
			var le *document.LoaderError
			if !errors.As(err, &le) {
				err = &document.LoaderError{Source: input, Err: err}
			}
			failures = append(failures, DocumentResult{Index: i, Source: input, Err: err})
			if p.status != nil {
				p.recordLoadFailure(ctx, input, err)
			}
			continue
		}
		for _, doc := range loaded {
			docs = append(docs, doc)
			origins = append(origins, i)
		}
	}

	report, err := p.Ingest(ctx, docs)
	if err != nil && report == nil {
		return nil, err
	}
	for i := range report.Results {
		report.Results[i].Index = origins[report.Results[i].Index]
	}
	report.Results = append(report.Results, failures...)
	sort.SliceStable(report.Results, func(a, b int) bool {
		return report.Results[a].Index < report.Results[b].Index
	})
	return report, report.finish()
}

func (p *RetrievalPipeline) recordLoadFailure(ctx context.Context, source string, err error) {
	if _, merr := p.status.MarkProcessing(ctx, p.collection, source, ""); merr != nil {
		p.logger.WithError(merr).Warn("Failed to record load failure")
		return
	}
	if merr := p.status.MarkFailed(ctx, p.collection, source, err.Error()); merr != nil {
		p.logger.WithError(merr).Warn("Failed to record load failure")
	}
}

// sourceOf 文档来源，优先使用Source元数据
func sourceOf(doc document.Document) string {
	if src, ok := doc.Get(document.MetaSource); ok && src != "" {
		return src
	}
	name, _ := doc.Get(document.MetaFileName)
	return name
}
