package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fyerfyer/lang-data/internal/models"
	"github.com/fyerfyer/lang-data/internal/repository"
	"github.com/sirupsen/logrus"
)

// ErrInvalidTransition 非法的状态转换
var ErrInvalidTransition = errors.New("invalid state transition")

// validTransitions 允许的状态转换
// 已完成或失败的来源可以重新导入
var validTransitions = map[models.SourceStatus][]models.SourceStatus{
	models.SourceStatusPending:    {models.SourceStatusProcessing, models.SourceStatusFailed},
	models.SourceStatusProcessing: {models.SourceStatusProcessing, models.SourceStatusCompleted, models.SourceStatusFailed},
	models.SourceStatusCompleted:  {models.SourceStatusPending, models.SourceStatusProcessing},
	models.SourceStatusFailed:     {models.SourceStatusPending, models.SourceStatusProcessing},
}

// SourceStatusManager 导入记录状态管理器
// 负责来源在 pending -> processing -> completed/failed 之间的转换
type SourceStatusManager struct {
	repo   repository.SourceRepository // 导入记录仓储
	logger *logrus.Logger              // 日志记录器
	mu     sync.Mutex                  // 保证读改写的原子性
}

// NewSourceStatusManager 创建状态管理器
func NewSourceStatusManager(repo repository.SourceRepository, logger *logrus.Logger) *SourceStatusManager {
	if logger == nil {
		logger = logrus.New()
	}
	return &SourceStatusManager{repo: repo, logger: logger}
}

// Repository 返回底层仓储
func (m *SourceStatusManager) Repository() repository.SourceRepository {
	return m.repo
}

// MarkPending 登记等待导入的来源，已有记录保留原向量ID
func (m *SourceStatusManager) MarkPending(ctx context.Context, collection, source, fileName string) (*models.Source, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	src, err := m.lookup(ctx, collection, source)
	if err != nil {
		return nil, err
	}
	if src == nil {
		src = &models.Source{Collection: collection, Source: source}
	} else if err := ValidateStateTransition(src.Status, models.SourceStatusPending); err != nil {
		return nil, fmt.Errorf("source %s: %w", source, err)
	}
	src.FileName = fileName
	src.Status = models.SourceStatusPending
	src.Error = ""

	m.logger.WithFields(logrus.Fields{
		"collection": collection,
		"source":     source,
	}).Info("Marking source as pending")
	if err := m.repo.Save(ctx, src); err != nil {
		return nil, err
	}
	return src, nil
}

// MarkProcessing 将来源标记为导入中，返回之前写入的向量ID
func (m *SourceStatusManager) MarkProcessing(ctx context.Context, collection, source, fileName string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	src, err := m.lookup(ctx, collection, source)
	if err != nil {
		return nil, err
	}

	var previous []string
	if src == nil {
		src = &models.Source{Collection: collection, Source: source}
	} else {
		if err := ValidateStateTransition(src.Status, models.SourceStatusProcessing); err != nil {
			return nil, fmt.Errorf("source %s: %w", source, err)
		}
		if previous, err = src.IDs(); err != nil {
			return nil, fmt.Errorf("failed to decode chunk ids: %w", err)
		}
	}
	if fileName != "" {
		src.FileName = fileName
	}
	src.Status = models.SourceStatusProcessing
	src.Error = ""

	m.logger.WithFields(logrus.Fields{
		"collection": collection,
		"source":     source,
	}).Debug("Marking source as processing")
	if err := m.repo.Save(ctx, src); err != nil {
		return nil, err
	}
	return previous, nil
}

// MarkCompleted 记录导入产生的向量ID
func (m *SourceStatusManager) MarkCompleted(ctx context.Context, collection, source string, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	src, err := m.repo.Get(ctx, collection, source)
	if err != nil {
		return fmt.Errorf("failed to get source: %w", err)
	}
	if err := ValidateStateTransition(src.Status, models.SourceStatusCompleted); err != nil {
		return fmt.Errorf("source %s: %w", source, err)
	}
	if err := src.SetIDs(ids); err != nil {
		return err
	}
	now := time.Now()
	src.Status = models.SourceStatusCompleted
	src.Error = ""
	src.ProcessedAt = &now

	m.logger.WithFields(logrus.Fields{
		"collection":  collection,
		"source":      source,
		"chunk_count": len(ids),
	}).Info("Marking source as completed")
	return m.repo.Save(ctx, src)
}

// MarkFailed 将来源标记为失败
func (m *SourceStatusManager) MarkFailed(ctx context.Context, collection, source, errorMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	src, err := m.repo.Get(ctx, collection, source)
	if err != nil {
		return fmt.Errorf("failed to get source: %w", err)
	}
	if err := ValidateStateTransition(src.Status, models.SourceStatusFailed); err != nil {
		return fmt.Errorf("source %s: %w", source, err)
	}

	m.logger.WithFields(logrus.Fields{
		"collection": collection,
		"source":     source,
		"error":      errorMsg,
	}).Error("Marking source as failed")
	return m.repo.UpdateStatus(ctx, src.ID, models.SourceStatusFailed, errorMsg)
}

// Get 获取导入记录
func (m *SourceStatusManager) Get(ctx context.Context, collection, source string) (*models.Source, error) {
	return m.repo.Get(ctx, collection, source)
}

// List 列出导入记录
func (m *SourceStatusManager) List(ctx context.Context, collection string, offset, limit int) ([]*models.Source, int64, error) {
	return m.repo.List(ctx, collection, offset, limit)
}

// Remove 删除导入记录
func (m *SourceStatusManager) Remove(ctx context.Context, collection, source string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.repo.Delete(ctx, collection, source)
}

// RemoveCollection 删除集合下的全部导入记录
func (m *SourceStatusManager) RemoveCollection(ctx context.Context, collection string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, err := m.repo.DeleteCollection(ctx, collection)
	if err != nil {
		return err
	}
	m.logger.WithFields(logrus.Fields{
		"collection": collection,
		"removed":    n,
	}).Info("Removed ledger entries for collection")
	return nil
}

func (m *SourceStatusManager) lookup(ctx context.Context, collection, source string) (*models.Source, error) {
	src, err := m.repo.Get(ctx, collection, source)
	if errors.Is(err, models.ErrSourceNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get source: %w", err)
	}
	return src, nil
}

// ValidateStateTransition 验证状态转换
func ValidateStateTransition(from, to models.SourceStatus) error {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}
