package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"math"
	"time"

	"github.com/fyerfyer/lang-data/internal/cache"
	"github.com/sirupsen/logrus"
)

// CachedClient 带缓存的嵌入客户端
// 键由模型名和文本的sha256组成，缓存失败只记录日志不影响结果
type CachedClient struct {
	client Client
	cache  cache.Cache
	ttl    time.Duration
	logger *logrus.Logger
}

// NewCachedClient 包装一个嵌入客户端
func NewCachedClient(client Client, c cache.Cache, ttl time.Duration, logger *logrus.Logger) *CachedClient {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &CachedClient{client: client, cache: c, ttl: ttl, logger: logger}
}

func (c *CachedClient) key(text string) string {
	sum := sha256.Sum256([]byte(text))
	return cache.GenerateCacheKey("embedding", c.client.Name(), hex.EncodeToString(sum[:]))
}

func (c *CachedClient) queryKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return cache.GenerateCacheKey("embedding", c.client.Name(), "query", hex.EncodeToString(sum[:]))
}

// Embed 先查缓存，未命中时调用底层客户端
func (c *CachedClient) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedQuery 查询向量与文档向量不同时单独缓存
func (c *CachedClient) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	q, ok := c.client.(QueryEmbedder)
	if !ok {
		return c.Embed(ctx, text)
	}
	if text == "" {
		return nil, ErrEmptyText
	}
	key := c.queryKey(text)
	if v, ok := c.lookupKey(ctx, key); ok {
		return v, nil
	}
	v, err := q.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	if err := c.cache.Set(ctx, key, []byte(encodeVector(v)), c.ttl); err != nil {
		c.logger.WithError(err).Warn("Failed to cache embedding")
	}
	return v, nil
}

// EmbedBatch 只对未命中的文本发起请求
func (c *CachedClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	var missTexts []string
	var missIdx []int

	for i, text := range texts {
		if text == "" {
			return nil, ErrEmptyText
		}
		if v, ok := c.lookup(ctx, text); ok {
			results[i] = v
			continue
		}
		missTexts = append(missTexts, text)
		missIdx = append(missIdx, i)
	}

	if len(missTexts) == 0 {
		return results, nil
	}

	vectors, err := c.client.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(missTexts) {
		return nil, NewEmbeddingError(ErrCodeMalformedResponse, "expected %d embeddings, got %d", len(missTexts), len(vectors))
	}
	for j, v := range vectors {
		results[missIdx[j]] = v
		if err := c.cache.Set(ctx, c.key(missTexts[j]), []byte(encodeVector(v)), c.ttl); err != nil {
			c.logger.WithError(err).Warn("Failed to cache embedding")
		}
	}
	return results, nil
}

func (c *CachedClient) lookup(ctx context.Context, text string) ([]float32, bool) {
	return c.lookupKey(ctx, c.key(text))
}

func (c *CachedClient) lookupKey(ctx context.Context, key string) ([]float32, bool) {
	data, found, err := c.cache.Get(ctx, key)
	if err != nil {
		c.logger.WithError(err).Warn("Failed to read embedding cache")
		return nil, false
	}
	if !found {
		return nil, false
	}
	v, err := decodeVector(string(data))
	if err != nil || len(v) == 0 {
		return nil, false
	}
	return v, true
}

// Name 返回底层模型名称
func (c *CachedClient) Name() string {
	return c.client.Name()
}

// Dimensions 返回底层向量维度
func (c *CachedClient) Dimensions() int {
	return c.client.Dimensions()
}

// encodeVector 小端float32编码后转base64
func encodeVector(v []float32) string {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return base64.StdEncoding.EncodeToString(buf)
}

func decodeVector(s string) ([]float32, error) {
	buf, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(buf)%4 != 0 {
		return nil, NewEmbeddingError(ErrCodeMalformedResponse, "cached vector has %d bytes", len(buf))
	}
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return v, nil
}

var _ Client = (*CachedClient)(nil)
