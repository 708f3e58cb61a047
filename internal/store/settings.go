package store

import (
	"context"
	"errors"

	"github.com/pusherbot/pusherbot/internal/store/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const firstSequenceNumber int64 = 1

type Settings interface {
	// NextSequence allocates the next job number. Callers run it inside the
	// transaction that inserts the job so a rollback gives the number back.
	NextSequence(ctx context.Context) (int64, error)
	// PeekSequence returns the number the next job will get.
	PeekSequence(ctx context.Context) (int64, error)
	Seed(ctx context.Context) error
	InitialMigration(ctx context.Context) error
}

type SettingsStore struct {
	db *gorm.DB
}

func NewSettingsStore(db *gorm.DB) Settings {
	return &SettingsStore{db: db}
}

func (s *SettingsStore) InitialMigration(ctx context.Context) error {
	return s.getDB(ctx).AutoMigrate(&model.Setting{})
}

func (s *SettingsStore) Seed(ctx context.Context) error {
	return s.getDB(ctx).WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model.Setting{Key: model.JobCounterKey, Value: firstSequenceNumber}).Error
}

func (s *SettingsStore) NextSequence(ctx context.Context) (int64, error) {
	db := s.getDB(ctx).WithContext(ctx)

	// the increment takes the row lock first; reading after it cannot race
	result := db.Model(&model.Setting{}).
		Where("key = ?", model.JobCounterKey).
		Update("value", gorm.Expr("value + 1"))
	if result.Error != nil {
		return 0, result.Error
	}
	if result.RowsAffected == 0 {
		if err := db.Create(&model.Setting{Key: model.JobCounterKey, Value: firstSequenceNumber + 1}).Error; err != nil {
			return 0, err
		}
		return firstSequenceNumber, nil
	}

	next, err := s.PeekSequence(ctx)
	if err != nil {
		return 0, err
	}
	return next - 1, nil
}

func (s *SettingsStore) PeekSequence(ctx context.Context) (int64, error) {
	setting := &model.Setting{}
	if err := s.getDB(ctx).WithContext(ctx).Where("key = ?", model.JobCounterKey).First(setting).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return firstSequenceNumber, nil
		}
		return 0, err
	}
	return setting.Value, nil
}

func (s *SettingsStore) getDB(ctx context.Context) *gorm.DB {
	tx := FromContext(ctx)
	if tx != nil {
		return tx
	}
	return s.db
}
