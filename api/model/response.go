package model

import (
	"strconv"
	"time"

	"github.com/fyerfyer/lang-data/internal/document"
	"github.com/fyerfyer/lang-data/internal/models"
	"github.com/fyerfyer/lang-data/internal/services"
)

// Response 通用响应结构
type Response struct {
	Code    int         `json:"code"`               // 响应状态码，0表示成功
	Message string      `json:"message"`            // 响应消息
	Data    interface{} `json:"data,omitempty"`     // 响应数据，可能为空
	TraceID string      `json:"trace_id,omitempty"` // 调用链追踪ID
}

// NewSuccessResponse 创建成功响应
func NewSuccessResponse(data interface{}) *Response {
	return &Response{
		Code:    0,
		Message: "success",
		Data:    data,
	}
}

// NewErrorResponse 创建错误响应
func NewErrorResponse(code int, message string) *Response {
	return &Response{
		Code:    code,
		Message: message,
	}
}

// CollectionResponse 集合信息
type CollectionResponse struct {
	Name      string `json:"name"`
	Dimension int    `json:"dimension,omitempty"`
	Created   bool   `json:"created"`
}

// IngestResultInfo 单个文档的导入结果
type IngestResultInfo struct {
	Index    int      `json:"index"`
	Source   string   `json:"source,omitempty"`
	ChunkIDs []string `json:"chunk_ids"`
	Error    string   `json:"error,omitempty"`
}

// IngestResponse 导入响应
type IngestResponse struct {
	Collection string             `json:"collection"`
	Documents  int                `json:"documents"`
	Succeeded  int                `json:"succeeded"`
	Failed     int                `json:"failed"`
	Chunks     int                `json:"chunks"`
	DurationMS int64              `json:"duration_ms"`
	Results    []IngestResultInfo `json:"results"`
}

// NewIngestResponse 将导入报告转换为响应
func NewIngestResponse(collection string, report *services.IngestReport) *IngestResponse {
	resp := &IngestResponse{
		Collection: collection,
		Documents:  report.Documents,
		Succeeded:  report.Succeeded,
		Failed:     report.Failed,
		Chunks:     report.Chunks,
		DurationMS: report.Duration.Milliseconds(),
		Results:    make([]IngestResultInfo, len(report.Results)),
	}
	for i, r := range report.Results {
		info := IngestResultInfo{Index: r.Index, Source: r.Source, ChunkIDs: r.ChunkIDs}
		if info.ChunkIDs == nil {
			info.ChunkIDs = []string{}
		}
		if r.Err != nil {
			info.Error = r.Err.Error()
		}
		resp.Results[i] = info
	}
	return resp
}

// FileUploadResponse 文件上传响应
type FileUploadResponse struct {
	FileID   string          `json:"file_id"`           // 存储中的文件ID
	FileName string          `json:"filename"`          // 文件名
	Status   string          `json:"status"`            // queued 或 completed
	TaskID   string          `json:"task_id,omitempty"` // 异步任务ID
	Report   *IngestResponse `json:"report,omitempty"`  // 同步导入的结果
}

// TaskEnqueueResponse 入队响应
type TaskEnqueueResponse struct {
	TaskID string `json:"task_id"`
	Source string `json:"source"`
	Status string `json:"status"`
}

// SearchResult 检索结果
type SearchResult struct {
	ID       string            `json:"id"`
	Text     string            `json:"text"`
	Score    float64           `json:"score"`
	Distance float64           `json:"distance"`
	Metadata map[string]string `json:"metadata"`
}

// SearchResponse 检索响应
type SearchResponse struct {
	Collection string         `json:"collection"`
	Query      string         `json:"query"`
	Results    []SearchResult `json:"results"`
}

// ConvertToSearchResults 将检索到的文档转换为结果，评分从元数据中取出
func ConvertToSearchResults(docs []document.Document) []SearchResult {
	results := make([]SearchResult, len(docs))
	for i, doc := range docs {
		meta := make(map[string]string, len(doc.Metadata))
		for k, v := range doc.Metadata {
			switch k {
			case services.MetaScore, services.MetaDistance, services.MetaID:
			default:
				meta[k] = v
			}
		}
		score, _ := strconv.ParseFloat(doc.Metadata[services.MetaScore], 64)
		distance, _ := strconv.ParseFloat(doc.Metadata[services.MetaDistance], 64)
		results[i] = SearchResult{
			ID:       doc.Metadata[services.MetaID],
			Text:     doc.Text,
			Score:    score,
			Distance: distance,
			Metadata: meta,
		}
	}
	return results
}

// SourceInfo 导入记录
type SourceInfo struct {
	ID          string     `json:"id"`
	Collection  string     `json:"collection"`
	Source      string     `json:"source"`
	FileName    string     `json:"filename,omitempty"`
	Status      string     `json:"status"`
	Error       string     `json:"error,omitempty"`
	ChunkCount  int        `json:"chunk_count"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

// NewSourceInfo 转换导入记录
func NewSourceInfo(src *models.Source) SourceInfo {
	return SourceInfo{
		ID:          src.ID,
		Collection:  src.Collection,
		Source:      src.Source,
		FileName:    src.FileName,
		Status:      string(src.Status),
		Error:       src.Error,
		ChunkCount:  src.ChunkCount,
		CreatedAt:   src.CreatedAt,
		UpdatedAt:   src.UpdatedAt,
		ProcessedAt: src.ProcessedAt,
	}
}

// SourceListResponse 导入记录列表响应
type SourceListResponse struct {
	Total    int64        `json:"total"`     // 总数量
	Page     int          `json:"page"`      // 当前页码
	PageSize int          `json:"page_size"` // 每页大小
	Sources  []SourceInfo `json:"sources"`   // 记录列表
}

// ForgetResponse 删除来源响应
type ForgetResponse struct {
	Collection string `json:"collection"`
	Source     string `json:"source"`
	Deleted    int    `json:"deleted"`
}
