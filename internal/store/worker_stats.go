package store

import (
	"context"
	"errors"
	"time"

	"github.com/pusherbot/pusherbot/internal/store/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type WorkerStats interface {
	Get(ctx context.Context, workerID string) (*model.WorkerStats, error)
	List(ctx context.Context, filter *WorkerStatsQueryFilter) (model.WorkerStatsList, error)
	// Increment adds to the accumulators of a worker, creating the row on first use.
	Increment(ctx context.Context, workerID, displayName string, completed, points int64) error
	// Ensure inserts zero rows for unknown workers and refreshes display names.
	Ensure(ctx context.Context, workers []model.WorkerStats) error
	DeleteAll(ctx context.Context) error
	InitialMigration(ctx context.Context) error
}

type WorkerStatsStore struct {
	db *gorm.DB
}

func NewWorkerStatsStore(db *gorm.DB) WorkerStats {
	return &WorkerStatsStore{db: db}
}

func (w *WorkerStatsStore) InitialMigration(ctx context.Context) error {
	return w.getDB(ctx).AutoMigrate(&model.WorkerStats{})
}

func (w *WorkerStatsStore) Get(ctx context.Context, workerID string) (*model.WorkerStats, error) {
	stats := &model.WorkerStats{}
	if err := w.getDB(ctx).WithContext(ctx).Where("worker_id = ?", workerID).First(stats).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return stats, nil
}

func (w *WorkerStatsStore) List(ctx context.Context, filter *WorkerStatsQueryFilter) (model.WorkerStatsList, error) {
	var stats model.WorkerStatsList
	tx := w.getDB(ctx).WithContext(ctx)
	if filter != nil {
		tx = applyQuery(tx, filter.QueryFn)
	}
	if err := tx.Model(&stats).Find(&stats).Error; err != nil {
		return nil, err
	}
	return stats, nil
}

func (w *WorkerStatsStore) Increment(ctx context.Context, workerID, displayName string, completed, points int64) error {
	row := model.WorkerStats{
		WorkerID:       workerID,
		DisplayName:    displayName,
		TotalCompleted: completed,
		TotalPoints:    points,
		UpdatedAt:      time.Now().UTC(),
	}

	return w.getDB(ctx).WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "worker_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"display_name":    displayName,
			"total_completed": gorm.Expr("worker_stats.total_completed + ?", completed),
			"total_points":    gorm.Expr("worker_stats.total_points + ?", points),
			"updated_at":      row.UpdatedAt,
		}),
	}).Create(&row).Error
}

func (w *WorkerStatsStore) Ensure(ctx context.Context, workers []model.WorkerStats) error {
	if len(workers) == 0 {
		return nil
	}
	now := time.Now().UTC()
	rows := make([]model.WorkerStats, 0, len(workers))
	for _, wk := range workers {
		rows = append(rows, model.WorkerStats{WorkerID: wk.WorkerID, DisplayName: wk.DisplayName, UpdatedAt: now})
	}

	return w.getDB(ctx).WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "worker_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"display_name", "updated_at"}),
	}).Create(&rows).Error
}

func (w *WorkerStatsStore) DeleteAll(ctx context.Context) error {
	return w.getDB(ctx).WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&model.WorkerStats{}).Error
}

func (w *WorkerStatsStore) getDB(ctx context.Context) *gorm.DB {
	tx := FromContext(ctx)
	if tx != nil {
		return tx
	}
	return w.db
}
