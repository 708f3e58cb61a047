package store

import (
	"context"
	"errors"

	"github.com/pusherbot/pusherbot/internal/store/model"
	"gorm.io/gorm"
)

type PermanentJob interface {
	List(ctx context.Context) (model.PermanentJobList, error)
	Create(ctx context.Context, text string) (*model.PermanentJob, error)
	UpdateText(ctx context.Context, oldText, newText string) error
	DeleteByText(ctx context.Context, text string) error
	InitialMigration(ctx context.Context) error
}

type PermanentJobStore struct {
	db *gorm.DB
}

func NewPermanentJobStore(db *gorm.DB) PermanentJob {
	return &PermanentJobStore{db: db}
}

func (p *PermanentJobStore) InitialMigration(ctx context.Context) error {
	return p.getDB(ctx).AutoMigrate(&model.PermanentJob{})
}

func (p *PermanentJobStore) List(ctx context.Context) (model.PermanentJobList, error) {
	var jobs model.PermanentJobList
	if err := p.getDB(ctx).WithContext(ctx).Order("id").Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

func (p *PermanentJobStore) Create(ctx context.Context, text string) (*model.PermanentJob, error) {
	job := model.PermanentJob{Text: text}
	if err := p.getDB(ctx).WithContext(ctx).Create(&job).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrDuplicateKey
		}
		return nil, err
	}
	return &job, nil
}

func (p *PermanentJobStore) UpdateText(ctx context.Context, oldText, newText string) error {
	result := p.getDB(ctx).WithContext(ctx).Model(&model.PermanentJob{}).
		Where("text = ?", oldText).
		Update("text", newText)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return ErrDuplicateKey
		}
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (p *PermanentJobStore) DeleteByText(ctx context.Context, text string) error {
	result := p.getDB(ctx).WithContext(ctx).Where("text = ?", text).Delete(&model.PermanentJob{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (p *PermanentJobStore) getDB(ctx context.Context) *gorm.DB {
	tx := FromContext(ctx)
	if tx != nil {
		return tx
	}
	return p.db
}
