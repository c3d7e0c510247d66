package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

const defaultHashDimensions = 256

// HashClient 本地特征哈希嵌入
// 不依赖网络，相同输入总是得到相同向量，适合离线导入和测试
type HashClient struct {
	dimensions int
}

// NewHashClient 创建特征哈希客户端
func NewHashClient(opts ...Option) (Client, error) {
	cfg := NewConfig(opts...)
	dims := cfg.Dimensions
	if dims <= 0 {
		dims = defaultHashDimensions
	}
	return &HashClient{dimensions: dims}, nil
}

// Embed 生成单条文本的向量
func (c *HashClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyText
	}
	if err := ctx.Err(); err != nil {
		return nil, transportError(err)
	}
	return c.vector(text), nil
}

// EmbedBatch 批量生成向量
func (c *HashClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := c.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Name 返回模型名称
func (c *HashClient) Name() string {
	return "hash"
}

// Dimensions 返回向量维度
func (c *HashClient) Dimensions() int {
	return c.dimensions
}

// vector 词项哈希到固定维度，符号位取自哈希值，最后L2归一化
func (c *HashClient) vector(text string) []float32 {
	vec := make([]float32, c.dimensions)
	tokens := tokenize(text)
	if len(tokens) == 0 {
		tokens = []string{text}
	}
	for _, tok := range tokens {
		h := fnv.New64a()
		h.Write([]byte(tok))
		sum := h.Sum64()
		idx := int(sum % uint64(c.dimensions))
		if sum&(1<<63) != 0 {
			vec[idx]--
		} else {
			vec[idx]++
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		vec[0] = 1
		return vec
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}

// tokenize 小写化并按非字母数字切分
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

func init() {
	RegisterClient("hash", NewHashClient)
}
