package embedding

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// OpenAI默认配置
const (
	defaultOpenAIModel = "text-embedding-ada-002"
	maxOpenAIBatch     = 2048
)

// openAIDimensions 已知模型的向量维度
var openAIDimensions = map[string]int{
	"text-embedding-ada-002": 1536,
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
}

// OpenAIClient OpenAI嵌入向量客户端
type OpenAIClient struct {
	client     *openai.Client // OpenAI API客户端
	model      string         // 使用的嵌入模型
	dimensions int            // 向量维度
	batchSize  int            // 单次请求文本数
	retry      *retrier       // 重试器
}

// NewOpenAIClient 创建一个新的OpenAI嵌入客户端
func NewOpenAIClient(opts ...Option) (Client, error) {
	cfg := NewConfig(opts...)
	if cfg.APIKey == "" {
		return nil, NewEmbeddingError(ErrCodeInvalidAPIKey, "OpenAI API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = defaultOpenAIModel
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = openAIDimensions[cfg.Model]
	}
	if cfg.BatchSize > maxOpenAIBatch {
		cfg.BatchSize = maxOpenAIBatch
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	if cfg.HTTPClient != nil {
		clientConfig.HTTPClient = cfg.HTTPClient
	}

	return &OpenAIClient{
		client:     openai.NewClientWithConfig(clientConfig),
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		batchSize:  cfg.BatchSize,
		retry:      newRetrier(cfg),
	}, nil
}

// Embed 对单个文本生成嵌入向量
func (c *OpenAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyText
	}
	vectors, err := c.request(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch 对多个文本生成嵌入向量
func (c *OpenAIClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return embedInBatches(ctx, texts, c.batchSize, c.request)
}

// request 发送一次嵌入请求，按返回的Index排序
func (c *OpenAIClient) request(ctx context.Context, texts []string) ([][]float32, error) {
	req := openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(c.model),
	}
	if strings.HasPrefix(c.model, "text-embedding-3") && c.dimensions > 0 {
		req.Dimensions = c.dimensions
	}

	var resp openai.EmbeddingResponse
	err := c.retry.do(ctx, func(ctx context.Context) error {
		var err error
		resp, err = c.client.CreateEmbeddings(ctx, req)
		return openAIError(err)
	})
	if err != nil {
		return nil, err
	}

	if len(resp.Data) != len(texts) {
		return nil, NewEmbeddingError(ErrCodeMalformedResponse, "expected %d embeddings, got %d", len(texts), len(resp.Data))
	}
	sort.Slice(resp.Data, func(i, j int) bool { return resp.Data[i].Index < resp.Data[j].Index })

	vectors := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		if len(d.Embedding) == 0 {
			return nil, NewEmbeddingError(ErrCodeMalformedResponse, "empty embedding at index %d", d.Index)
		}
		vectors[i] = d.Embedding
	}
	return vectors, nil
}

// Name 返回模型名称
func (c *OpenAIClient) Name() string {
	return c.model
}

// Dimensions 返回向量维度
func (c *OpenAIClient) Dimensions() int {
	return c.dimensions
}

// openAIError 将SDK错误映射为嵌入错误
func openAIError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return statusError(apiErr.HTTPStatusCode, apiErr.Message)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return statusError(reqErr.HTTPStatusCode, reqErr.Error())
	}
	return err
}

// 在包初始化时注册OpenAI客户端
func init() {
	RegisterClient("openai", NewOpenAIClient)
}
