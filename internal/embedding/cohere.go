package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
)

// Cohere默认配置
const (
	defaultCohereEndpoint = "https://api.cohere.ai"
	defaultCohereModel    = "embed-english-v3.0"
	maxCohereBatch        = 96

	cohereDocumentInput = "search_document"
	cohereQueryInput    = "search_query"
)

// cohereDimensions 已知模型的向量维度
var cohereDimensions = map[string]int{
	"embed-english-v3.0":       1024,
	"embed-multilingual-v3.0":  1024,
	"embed-english-light-v3.0": 384,
	"embed-english-v2.0":       4096,
}

// cohereEmbedRequest Cohere嵌入API请求结构
type cohereEmbedRequest struct {
	Texts     []string `json:"texts"`
	Model     string   `json:"model"`
	InputType string   `json:"input_type"`
	Truncate  string   `json:"truncate,omitempty"`
}

// cohereEmbedResponse Cohere嵌入API响应结构
type cohereEmbedResponse struct {
	ID         string      `json:"id"`
	Embeddings [][]float32 `json:"embeddings"`
	Message    string      `json:"message"`
}

// CohereClient Cohere嵌入客户端
type CohereClient struct {
	apiKey     string
	endpoint   string
	model      string
	dimensions int
	batchSize  int
	httpClient *http.Client
	retry      *retrier
}

// NewCohereClient 创建Cohere嵌入客户端
func NewCohereClient(opts ...Option) (Client, error) {
	cfg := NewConfig(opts...)
	if cfg.APIKey == "" {
		return nil, NewEmbeddingError(ErrCodeInvalidAPIKey, "Cohere API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = defaultCohereModel
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = cohereDimensions[cfg.Model]
	}
	if cfg.BatchSize > maxCohereBatch {
		cfg.BatchSize = maxCohereBatch
	}
	endpoint := cfg.BaseURL
	if endpoint == "" {
		endpoint = defaultCohereEndpoint
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	return &CohereClient{
		apiKey:     cfg.APIKey,
		endpoint:   strings.TrimRight(endpoint, "/"),
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		batchSize:  cfg.BatchSize,
		httpClient: httpClient,
		retry:      newRetrier(cfg),
	}, nil
}

// Embed 生成单条文本的向量
func (c *CohereClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyText
	}
	return c.embedOne(ctx, text, cohereDocumentInput)
}

// EmbedQuery 以search_query输入类型生成检索查询的向量
func (c *CohereClient) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return c.embedOne(ctx, text, cohereQueryInput)
}

func (c *CohereClient) embedOne(ctx context.Context, text, inputType string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyText
	}
	vectors, err := c.request(ctx, []string{text}, inputType)
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch 批量生成文档向量
func (c *CohereClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return embedInBatches(ctx, texts, c.batchSize, func(ctx context.Context, batch []string) ([][]float32, error) {
		return c.request(ctx, batch, cohereDocumentInput)
	})
}

func (c *CohereClient) request(ctx context.Context, texts []string, inputType string) ([][]float32, error) {
	body, err := json.Marshal(cohereEmbedRequest{
		Texts:     texts,
		Model:     c.model,
		InputType: inputType,
		Truncate:  "END",
	})
	if err != nil {
		return nil, NewEmbeddingError(ErrCodeInvalidRequest, "failed to marshal request: %v", err)
	}

	var result cohereEmbedResponse
	err = c.retry.do(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/v1/embed", bytes.NewReader(body))
		if err != nil {
			return NewEmbeddingError(ErrCodeInvalidRequest, "failed to create request: %v", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode != http.StatusOK {
			var apiErr cohereEmbedResponse
			msg := strings.TrimSpace(string(data))
			if json.Unmarshal(data, &apiErr) == nil && apiErr.Message != "" {
				msg = apiErr.Message
			}
			return statusError(resp.StatusCode, msg)
		}
		if err := json.Unmarshal(data, &result); err != nil {
			return NewEmbeddingError(ErrCodeMalformedResponse, "failed to decode response: %v", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(result.Embeddings) != len(texts) {
		return nil, NewEmbeddingError(ErrCodeMalformedResponse, "expected %d embeddings, got %d", len(texts), len(result.Embeddings))
	}
	return result.Embeddings, nil
}

// Name 返回模型名称
func (c *CohereClient) Name() string {
	return c.model
}

// Dimensions 返回向量维度
func (c *CohereClient) Dimensions() int {
	return c.dimensions
}

func init() {
	RegisterClient("cohere", NewCohereClient)
}
