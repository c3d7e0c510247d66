package model

import (
	"mime/multipart"
)

// PaginationRequest 分页请求参数
type PaginationRequest struct {
	Page     int `form:"page" json:"page" binding:"omitempty,min=1"`           // 当前页码，从1开始
	PageSize int `form:"page_size" json:"page_size" binding:"omitempty,min=1"` // 每页记录数
}

// GetPage 获取页码，默认为1
func (p *PaginationRequest) GetPage() int {
	if p.Page <= 0 {
		return 1
	}
	return p.Page
}

// GetPageSize 获取每页记录数，默认为10，最大为100
func (p *PaginationRequest) GetPageSize() int {
	if p.PageSize <= 0 {
		return 10
	}
	if p.PageSize > 100 {
		return 100
	}
	return p.PageSize
}

// Offset 当前页的起始位置
func (p *PaginationRequest) Offset() int {
	return (p.GetPage() - 1) * p.GetPageSize()
}

// CollectionCreateRequest 创建集合请求
// Dimension为0时使用嵌入模型的维度
type CollectionCreateRequest struct {
	Name      string `json:"name" binding:"required"`
	Dimension int    `json:"dimension" binding:"omitempty,min=1"`
}

// TextDocument 直接提交的文档
type TextDocument struct {
	Text     string            `json:"text" binding:"required"`
	Metadata map[string]string `json:"metadata" binding:"omitempty"`
}

// IngestTextRequest 导入文本请求
type IngestTextRequest struct {
	Collection string         `json:"collection" binding:"omitempty"`
	Documents  []TextDocument `json:"documents" binding:"required,min=1,dive"`
}

// IngestFileRequest 上传文件导入请求
type IngestFileRequest struct {
	File       *multipart.FileHeader `form:"file" binding:"required"`              // 文件对象
	Collection string                `form:"collection" binding:"omitempty"`       // 目标集合
	Async      bool                  `form:"async" binding:"omitempty"`            // 是否加入任务队列
	Tags       string                `form:"tags" json:"tags" binding:"omitempty"` // 标签，逗号分隔
}

// IngestLinkRequest 导入链接请求
type IngestLinkRequest struct {
	Collection string `json:"collection" binding:"omitempty"`
	URL        string `json:"url" binding:"required,url"`
	Async      bool   `json:"async" binding:"omitempty"`
}

// SearchRequest 检索请求
type SearchRequest struct {
	Collection string            `json:"collection" binding:"omitempty"`
	Query      string            `json:"query" binding:"required"`
	K          int               `json:"k" binding:"omitempty,min=1,max=100"`
	Filter     map[string]string `json:"filter" binding:"omitempty"`
}

// SourceListRequest 导入记录列表请求
type SourceListRequest struct {
	PaginationRequest
	Collection string `form:"collection" binding:"omitempty"`
}

// ForgetRequest 删除来源请求
type ForgetRequest struct {
	Collection string `json:"collection" binding:"omitempty"`
	Source     string `json:"source" binding:"required"`
}

// TaskIngestRequest 异步导入已存储文件的请求
type TaskIngestRequest struct {
	Collection string            `json:"collection" binding:"omitempty"`
	StorageID  string            `json:"storage_id" binding:"required"`
	FileName   string            `json:"file_name" binding:"omitempty"`
	Metadata   map[string]string `json:"metadata" binding:"omitempty"`
	DelaySec   int               `json:"delay_sec" binding:"omitempty,min=0"`
}
