package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fyerfyer/lang-data/internal/models"
	"gorm.io/gorm"
)

// sourceRepository 导入记录仓储实现
type sourceRepository struct {
	db *gorm.DB // 数据库连接
}

// NewSourceRepository 创建导入记录仓储
func NewSourceRepository(db *gorm.DB) SourceRepository {
	return &sourceRepository{db: db}
}

// Save 创建或覆盖记录，已存在时沿用原ID和创建时间
func (r *sourceRepository) Save(ctx context.Context, src *models.Source) error {
	if src.Collection == "" || src.Source == "" {
		return errors.New("collection and source cannot be empty")
	}
	if src.Status != "" && !src.Status.Valid() {
		return fmt.Errorf("%w: %s", models.ErrInvalidSourceStatus, src.Status)
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.Source
		err := tx.Where("collection = ? AND source = ?", src.Collection, src.Source).First(&existing).Error
		switch {
		case err == nil:
			src.ID = existing.ID
			src.CreatedAt = existing.CreatedAt
			return tx.Save(src).Error
		case errors.Is(err, gorm.ErrRecordNotFound):
			return tx.Create(src).Error
		default:
			return err
		}
	})
}

// Get 根据集合和来源获取记录
func (r *sourceRepository) Get(ctx context.Context, collection, source string) (*models.Source, error) {
	var src models.Source
	err := r.db.WithContext(ctx).Where("collection = ? AND source = ?", collection, source).First(&src).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", models.ErrSourceNotFound, source)
		}
		return nil, err
	}
	return &src, nil
}

// GetByID 根据ID获取记录
func (r *sourceRepository) GetByID(ctx context.Context, id string) (*models.Source, error) {
	var src models.Source
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&src).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", models.ErrSourceNotFound, id)
		}
		return nil, err
	}
	return &src, nil
}

// List 分页列出记录，按创建时间倒序
func (r *sourceRepository) List(ctx context.Context, collection string, offset, limit int) ([]*models.Source, int64, error) {
	var sources []*models.Source
	var total int64

	query := r.db.WithContext(ctx).Model(&models.Source{})
	if collection != "" {
		query = query.Where("collection = ?", collection)
	}
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if limit <= 0 {
		limit = 20
	}
	err := query.Order("created_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&sources).Error
	if err != nil {
		return nil, 0, err
	}
	return sources, total, nil
}

// UpdateStatus 更新导入状态
func (r *sourceRepository) UpdateStatus(ctx context.Context, id string, status models.SourceStatus, errorMsg string) error {
	if !status.Valid() {
		return fmt.Errorf("%w: %s", models.ErrInvalidSourceStatus, status)
	}

	updates := map[string]interface{}{
		"status":     status,
		"error":      errorMsg,
		"updated_at": time.Now(),
	}
	// 完成或失败时记录处理时间
	if status == models.SourceStatusCompleted || status == models.SourceStatusFailed {
		now := time.Now()
		updates["processed_at"] = &now
	}

	result := r.db.WithContext(ctx).Model(&models.Source{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", models.ErrSourceNotFound, id)
	}
	return nil
}

// Delete 删除一条记录
func (r *sourceRepository) Delete(ctx context.Context, collection, source string) error {
	result := r.db.WithContext(ctx).
		Where("collection = ? AND source = ?", collection, source).
		Delete(&models.Source{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", models.ErrSourceNotFound, source)
	}
	return nil
}

// DeleteCollection 删除集合下的全部记录
func (r *sourceRepository) DeleteCollection(ctx context.Context, collection string) (int64, error) {
	result := r.db.WithContext(ctx).Where("collection = ?", collection).Delete(&models.Source{})
	return result.RowsAffected, result.Error
}
