package embedding

import (
	"context"
	"fmt"
	"sync"

	"github.com/gammazero/workerpool"
)

// BatchProcessor 并行批处理器
// 将大量文本拆成小批次，在有限的工作池中并发调用客户端，结果按输入顺序返回
type BatchProcessor struct {
	client     Client // 嵌入客户端
	batchSize  int    // 每批处理的文本数量
	maxWorkers int    // 最大并行工作线程数
	skipEmpty  bool   // 是否跳过空文本
}

// BatchOption 批处理器配置选项
type BatchOption func(*BatchProcessor)

// WithSkipEmpty 空文本返回nil向量而不是报错
func WithSkipEmpty(skip bool) BatchOption {
	return func(p *BatchProcessor) {
		p.skipEmpty = skip
	}
}

// NewBatchProcessor 创建新的批处理器
func NewBatchProcessor(client Client, batchSize int, maxWorkers int, opts ...BatchOption) *BatchProcessor {
	if batchSize <= 0 {
		batchSize = 16
	}
	if maxWorkers <= 0 {
		maxWorkers = 4
	}
	p := &BatchProcessor{
		client:     client,
		batchSize:  batchSize,
		maxWorkers: maxWorkers,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process 处理一批文本，第一个错误会终止整个处理
func (p *BatchProcessor) Process(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	// 记录非空文本在原输入中的位置
	positions := make([]int, 0, len(texts))
	filtered := make([]string, 0, len(texts))
	for i, text := range texts {
		if text == "" {
			if !p.skipEmpty {
				return nil, ErrEmptyText
			}
			continue
		}
		positions = append(positions, i)
		filtered = append(filtered, text)
	}

	results := make([][]float32, len(texts))
	if len(filtered) == 0 {
		return results, nil
	}

	batches := splitIntoBatches(filtered, p.batchSize)
	batchVectors := make([][][]float32, len(batches))

	parent := ctx
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	wp := workerpool.New(p.maxWorkers)
	var processingErr error
	var errOnce sync.Once
	fail := func(err error) {
		errOnce.Do(func() {
			processingErr = err
			cancel()
		})
	}

	for i, batch := range batches {
		i, batch := i, batch
		wp.Submit(func() {
			if ctx.Err() != nil {
				return
			}
			vectors, err := p.client.EmbedBatch(ctx, batch)
			if err != nil {
				fail(fmt.Errorf("batch %d: %w", i, err))
				return
			}
			if len(vectors) != len(batch) {
				fail(NewEmbeddingError(ErrCodeMalformedResponse, "batch %d: expected %d embeddings, got %d", i, len(batch), len(vectors)))
				return
			}
			// 每个批次只写自己的槽位
			batchVectors[i] = vectors
		})
	}
	wp.StopWait()

	if processingErr != nil {
		return nil, processingErr
	}
	if err := parent.Err(); err != nil {
		return nil, transportError(err)
	}

	next := 0
	for _, vectors := range batchVectors {
		for _, v := range vectors {
			results[positions[next]] = v
			next++
		}
	}
	return results, nil
}

// Embed 单条文本直接交给底层客户端
func (p *BatchProcessor) Embed(ctx context.Context, text string) ([]float32, error) {
	return p.client.Embed(ctx, text)
}

// EmbedQuery 查询向量交给底层客户端
func (p *BatchProcessor) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return EmbedQuery(ctx, p.client, text)
}

// EmbedBatch 等同于Process
func (p *BatchProcessor) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return p.Process(ctx, texts)
}

// Name 返回底层模型名称
func (p *BatchProcessor) Name() string {
	return p.client.Name()
}

// Dimensions 返回底层向量维度
func (p *BatchProcessor) Dimensions() int {
	return p.client.Dimensions()
}

// splitIntoBatches 将文本列表分割成多个批次
func splitIntoBatches(texts []string, batchSize int) [][]string {
	if batchSize <= 0 {
		batchSize = 1
	}

	batches := make([][]string, 0, (len(texts)+batchSize-1)/batchSize)
	for i := 0; i < len(texts); i += batchSize {
		end := i + batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batches = append(batches, texts[i:end])
	}
	return batches
}

var _ Client = (*BatchProcessor)(nil)
