package store

import (
	"context"
	"errors"

	"github.com/pusherbot/pusherbot/internal/store/model"
	"gorm.io/gorm"
)

// Ledger is the append-only table of completed jobs.
type Ledger interface {
	Append(ctx context.Context, record model.CompletionRecord) (*model.CompletionRecord, error)
	List(ctx context.Context, filter *CompletionQueryFilter, opts *CompletionQueryOptions) (model.CompletionRecordList, error)
	Count(ctx context.Context, filter *CompletionQueryFilter) (int64, error)
	DeleteAll(ctx context.Context) error
	InitialMigration(ctx context.Context) error
}

type LedgerStore struct {
	db *gorm.DB
}

func NewLedgerStore(db *gorm.DB) Ledger {
	return &LedgerStore{db: db}
}

func (l *LedgerStore) InitialMigration(ctx context.Context) error {
	return l.getDB(ctx).AutoMigrate(&model.CompletionRecord{})
}

func (l *LedgerStore) Append(ctx context.Context, record model.CompletionRecord) (*model.CompletionRecord, error) {
	if err := l.getDB(ctx).WithContext(ctx).Create(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrDuplicateKey
		}
		return nil, err
	}
	return &record, nil
}

func (l *LedgerStore) List(ctx context.Context, filter *CompletionQueryFilter, opts *CompletionQueryOptions) (model.CompletionRecordList, error) {
	var records model.CompletionRecordList
	tx := l.getDB(ctx).WithContext(ctx)

	if filter != nil {
		tx = applyQuery(tx, filter.QueryFn)
	}
	if opts != nil {
		tx = applyQuery(tx, opts.QueryFn)
	}

	if err := tx.Model(&records).Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

func (l *LedgerStore) Count(ctx context.Context, filter *CompletionQueryFilter) (int64, error) {
	var count int64
	tx := l.getDB(ctx).WithContext(ctx).Model(&model.CompletionRecord{})
	if filter != nil {
		tx = applyQuery(tx, filter.QueryFn)
	}
	if err := tx.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (l *LedgerStore) DeleteAll(ctx context.Context) error {
	return l.getDB(ctx).WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&model.CompletionRecord{}).Error
}

func (l *LedgerStore) getDB(ctx context.Context) *gorm.DB {
	tx := FromContext(ctx)
	if tx != nil {
		return tx
	}
	return l.db
}
