package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// SourceStatus 来源导入状态
type SourceStatus string

const (
	// SourceStatusPending 等待导入
	SourceStatusPending SourceStatus = "pending"
	// SourceStatusProcessing 导入中
	SourceStatusProcessing SourceStatus = "processing"
	// SourceStatusCompleted 导入完成
	SourceStatusCompleted SourceStatus = "completed"
	// SourceStatusFailed 导入失败
	SourceStatusFailed SourceStatus = "failed"
)

// Valid 是否为已知状态
func (s SourceStatus) Valid() bool {
	switch s {
	case SourceStatusPending, SourceStatusProcessing, SourceStatusCompleted, SourceStatusFailed:
		return true
	}
	return false
}

// Source 导入记录
// 记录某个来源写入了哪个集合、产生了哪些向量ID
type Source struct {
	ID          string         `gorm:"primaryKey;size:36" json:"id"`                                          // 记录ID
	Collection  string         `gorm:"not null;size:255;uniqueIndex:idx_collection_source" json:"collection"` // 集合名
	Source      string         `gorm:"not null;size:1024;uniqueIndex:idx_collection_source" json:"source"`    // 路径、链接或存储ID
	FileName    string         `gorm:"size:255" json:"file_name"`                                             // 文件名
	ChunkCount  int            `gorm:"not null;default:0" json:"chunk_count"`                                 // 分块数量
	ChunkIDs    datatypes.JSON `gorm:"type:json" json:"chunk_ids"`                                            // 向量ID列表
	Status      SourceStatus   `gorm:"not null;size:20;index" json:"status"`                                  // 导入状态
	Error       string         `gorm:"type:text" json:"error,omitempty"`                                      // 错误信息
	CreatedAt   time.Time      `gorm:"not null;index" json:"created_at"`                                      // 创建时间
	UpdatedAt   time.Time      `gorm:"not null" json:"updated_at"`                                            // 更新时间
	ProcessedAt *time.Time     `json:"processed_at,omitempty"`                                                // 完成时间
}

// BeforeCreate GORM钩子，补全ID和时间
func (s *Source) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	now := time.Now()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now
	if s.Status == "" {
		s.Status = SourceStatusPending
	}
	return nil
}

// BeforeUpdate GORM钩子，更新时间
func (s *Source) BeforeUpdate(tx *gorm.DB) error {
	s.UpdatedAt = time.Now()
	return nil
}

// TableName 表名
func (Source) TableName() string {
	return "sources"
}

// IDs 解析向量ID列表
func (s *Source) IDs() ([]string, error) {
	if len(s.ChunkIDs) == 0 {
		return nil, nil
	}
	var ids []string
	if err := json.Unmarshal(s.ChunkIDs, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// SetIDs 保存向量ID列表并更新分块数量
func (s *Source) SetIDs(ids []string) error {
	raw, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	s.ChunkIDs = datatypes.JSON(raw)
	s.ChunkCount = len(ids)
	return nil
}
