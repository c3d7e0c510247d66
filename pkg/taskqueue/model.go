package taskqueue

import (
	"encoding/json"
	"time"
)

// TaskType 任务类型
type TaskType string

const (
	// TaskIngestFile 导入存储中的文件
	TaskIngestFile TaskType = "ingest_file"
	// TaskIngestLink 导入链接
	TaskIngestLink TaskType = "ingest_link"
	// TaskForgetSource 删除来源的全部向量
	TaskForgetSource TaskType = "forget_source"
)

// TaskStatus 任务状态
type TaskStatus string

const (
	// StatusPending 等待处理
	StatusPending TaskStatus = "pending"
	// StatusProcessing 处理中
	StatusProcessing TaskStatus = "processing"
	// StatusCompleted 已完成
	StatusCompleted TaskStatus = "completed"
	// StatusFailed 处理失败
	StatusFailed TaskStatus = "failed"
)

// Task 任务基础结构
type Task struct {
	ID          string          `json:"id"`           // 任务唯一标识符
	Type        TaskType        `json:"type"`         // 任务类型
	Source      string          `json:"source"`       // 关联的来源（存储ID或链接）
	Status      TaskStatus      `json:"status"`       // 任务状态
	Payload     json.RawMessage `json:"payload"`      // 任务载荷，不同任务类型对应不同结构
	Result      json.RawMessage `json:"result"`       // 任务结果
	Error       string          `json:"error"`        // 错误信息
	CreatedAt   time.Time       `json:"created_at"`   // 创建时间
	UpdatedAt   time.Time       `json:"updated_at"`   // 更新时间
	StartedAt   *time.Time      `json:"started_at"`   // 开始处理时间
	CompletedAt *time.Time      `json:"completed_at"` // 完成时间
	Attempts    int             `json:"attempts"`     // 尝试次数
	MaxRetries  int             `json:"max_retries"`  // 最大重试次数
}

// IngestFilePayload 文件导入任务载荷
type IngestFilePayload struct {
	Collection string            `json:"collection"` // 目标集合
	StorageID  string            `json:"storage_id"` // 文件在存储中的ID
	FileName   string            `json:"file_name"`  // 原始文件名
	Metadata   map[string]string `json:"metadata"`   // 附加元数据
}

// IngestLinkPayload 链接导入任务载荷
type IngestLinkPayload struct {
	Collection string `json:"collection"` // 目标集合
	URL        string `json:"url"`        // 链接
}

// ForgetPayload 删除来源任务载荷
type ForgetPayload struct {
	Collection string `json:"collection"` // 目标集合
	Source     string `json:"source"`     // 来源
}

// IngestResult 导入任务结果
type IngestResult struct {
	Collection string   `json:"collection"`  // 集合
	Source     string   `json:"source"`      // 来源
	Documents  int      `json:"documents"`   // 文档数量
	ChunkCount int      `json:"chunk_count"` // 分块数量
	ChunkIDs   []string `json:"chunk_ids"`   // 向量ID
	DurationMS int64    `json:"duration_ms"` // 耗时（毫秒）
}

// ForgetResult 删除来源任务结果
type ForgetResult struct {
	Collection string `json:"collection"` // 集合
	Source     string `json:"source"`     // 来源
	Deleted    int    `json:"deleted"`    // 删除的向量数量
}
