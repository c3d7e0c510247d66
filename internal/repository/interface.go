package repository

import (
	"context"

	"github.com/fyerfyer/lang-data/internal/models"
)

// SourceRepository 导入记录仓储接口
// 按(集合, 来源)唯一标识一条记录
type SourceRepository interface {
	// Save 创建或覆盖记录
	Save(ctx context.Context, src *models.Source) error

	// Get 根据集合和来源获取记录
	Get(ctx context.Context, collection, source string) (*models.Source, error)

	// GetByID 根据ID获取记录
	GetByID(ctx context.Context, id string) (*models.Source, error)

	// List 分页列出记录，collection为空时列出全部
	List(ctx context.Context, collection string, offset, limit int) ([]*models.Source, int64, error)

	// UpdateStatus 更新导入状态
	UpdateStatus(ctx context.Context, id string, status models.SourceStatus, errorMsg string) error

	// Delete 删除一条记录
	Delete(ctx context.Context, collection, source string) error

	// DeleteCollection 删除集合下的全部记录
	DeleteCollection(ctx context.Context, collection string) (int64, error)
}
