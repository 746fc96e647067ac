package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/wfunc/simon-game/internal/flow"
	"github.com/wfunc/simon-game/internal/logger"
	"github.com/wfunc/simon-game/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrScoreNotFound 成绩不存在
var ErrScoreNotFound = errors.New("score record not found")

// ScoreSnapshot 有序的成绩列表快照，只读
type ScoreSnapshot = []models.ScoreRecord

// ScoreRepository 成绩仓储接口
type ScoreRepository interface {
	BaseRepository
	Insert(ctx context.Context, record *models.ScoreRecord) error
	Update(ctx context.Context, record *models.ScoreRecord) error
	FindByID(ctx context.Context, id uint) (*models.ScoreRecord, error)
	// FindAllOrderedByScore 分数从高到低
	FindAllOrderedByScore(ctx context.Context, limit int) (ScoreSnapshot, error)
	// FindAllOrderedByLatest 时间从新到旧
	FindAllOrderedByLatest(ctx context.Context, limit int) (ScoreSnapshot, error)
	// WatchOrderedByScore 订阅按分数排序的实时列表，每次写入后推送完整快照
	WatchOrderedByScore(ctx context.Context) (*flow.Subscription[ScoreSnapshot], error)
	// WatchOrderedByLatest 订阅按时间排序的实时列表
	WatchOrderedByLatest(ctx context.Context) (*flow.Subscription[ScoreSnapshot], error)
	Close()
}

// scoreRepo 成绩仓储实现
type scoreRepo struct {
	*BaseRepo
	logger    *zap.Logger
	viewLimit int

	mu       sync.Mutex
	loaded   bool
	byScore  *flow.State[ScoreSnapshot]
	byLatest *flow.State[ScoreSnapshot]
}

// NewScoreRepository 创建成绩仓储，viewLimit 限制实时列表长度（<= 0 不限制）
func NewScoreRepository(db *gorm.DB, log *zap.Logger, viewLimit int) ScoreRepository {
	if log == nil {
		log = zap.NewNop()
	}
	return &scoreRepo{
		BaseRepo:  NewBaseRepo(db),
		logger:    log,
		viewLimit: viewLimit,
		byScore:   flow.NewState[ScoreSnapshot](nil),
		byLatest:  flow.NewState[ScoreSnapshot](nil),
	}
}

// Insert 插入成绩
func (r *scoreRepo) Insert(ctx context.Context, record *models.ScoreRecord) error {
	if record == nil {
		return errors.New("成绩记录为空")
	}
	if record.ID != 0 {
		return fmt.Errorf("新成绩不能携带ID: %d", record.ID)
	}

	start := time.Now()
	err := r.db.WithContext(ctx).Create(record).Error
	logger.LogDatabaseOperation(r.logger, "insert", record.TableName(), time.Since(start), err)
	if err != nil {
		return fmt.Errorf("插入成绩失败: %w", err)
	}

	r.refresh(ctx)
	return nil
}

// Update 更新已有成绩
func (r *scoreRepo) Update(ctx context.Context, record *models.ScoreRecord) error {
	if record == nil || record.ID == 0 {
		return errors.New("更新成绩需要有效的ID")
	}

	start := time.Now()
	err := r.Transaction(ctx, func(tx *gorm.DB) error {
		var existing models.ScoreRecord
		if err := tx.Select("id").First(&existing, record.ID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrScoreNotFound
			}
			return err
		}
		return tx.Save(record).Error
	})
	logger.LogDatabaseOperation(r.logger, "update", record.TableName(), time.Since(start), err)
	if err != nil {
		return fmt.Errorf("更新成绩失败: %w", err)
	}

	r.refresh(ctx)
	return nil
}

// FindByID 根据ID查找
func (r *scoreRepo) FindByID(ctx context.Context, id uint) (*models.ScoreRecord, error) {
	var record models.ScoreRecord
	if err := r.db.WithContext(ctx).First(&record, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrScoreNotFound
		}
		return nil, err
	}
	return &record, nil
}

// FindAllOrderedByScore 按分数降序查询，同分时新的在前
func (r *scoreRepo) FindAllOrderedByScore(ctx context.Context, limit int) (ScoreSnapshot, error) {
	var records []models.ScoreRecord
	err := r.db.WithContext(ctx).
		Scopes(Limit(limit)).
		Order("score DESC").
		Order("timestamp DESC").
		Order("id DESC").
		Find(&records).Error
	return records, err
}

// FindAllOrderedByLatest 按时间降序查询
func (r *scoreRepo) FindAllOrderedByLatest(ctx context.Context, limit int) (ScoreSnapshot, error) {
	var records []models.ScoreRecord
	err := r.db.WithContext(ctx).
		Scopes(Limit(limit)).
		Order("timestamp DESC").
		Order("id DESC").
		Find(&records).Error
	return records, err
}

// WatchOrderedByScore 订阅按分数排序的实时列表
func (r *scoreRepo) WatchOrderedByScore(ctx context.Context) (*flow.Subscription[ScoreSnapshot], error) {
	if err := r.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	return r.byScore.Subscribe(), nil
}

// WatchOrderedByLatest 订阅按时间排序的实时列表
func (r *scoreRepo) WatchOrderedByLatest(ctx context.Context) (*flow.Subscription[ScoreSnapshot], error) {
	if err := r.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	return r.byLatest.Subscribe(), nil
}

// Close 关闭所有实时订阅
func (r *scoreRepo) Close() {
	r.byScore.Close()
	r.byLatest.Close()
}

func (r *scoreRepo) ensureLoaded(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loaded {
		return nil
	}
	if err := r.reloadLocked(ctx); err != nil {
		return err
	}
	r.loaded = true
	return nil
}

// refresh 写入后重新查询快照，失败时保留旧快照
func (r *scoreRepo) refresh(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.reloadLocked(ctx); err != nil {
		r.logger.Error("刷新成绩快照失败", zap.Error(err))
		return
	}
	r.loaded = true
}

func (r *scoreRepo) reloadLocked(ctx context.Context) error {
	byScore, err := r.FindAllOrderedByScore(ctx, r.viewLimit)
	if err != nil {
		return fmt.Errorf("查询最佳成绩失败: %w", err)
	}
	byLatest, err := r.FindAllOrderedByLatest(ctx, r.viewLimit)
	if err != nil {
		return fmt.Errorf("查询最新成绩失败: %w", err)
	}
	r.byScore.Set(byScore)
	r.byLatest.Set(byLatest)
	return nil
}
