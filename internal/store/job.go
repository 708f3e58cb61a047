package store

import (
	"context"
	"errors"
	"time"

	"github.com/pusherbot/pusherbot/internal/store/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Job interface {
	List(ctx context.Context, filter *JobQueryFilter, opts *JobQueryOptions) (model.JobList, error)
	Get(ctx context.Context, id string) (*model.Job, error)
	GetBySequenceNumber(ctx context.Context, n int64) (*model.Job, error)
	// Lock reads the job and, on databases that support it, holds a row lock
	// until the surrounding transaction ends.
	Lock(ctx context.Context, id string) (*model.Job, error)
	Create(ctx context.Context, job model.Job) (*model.Job, error)
	Claim(ctx context.Context, id, claimantID, claimantName string, at time.Time) (*model.Job, error)
	Release(ctx context.Context, id string) (*model.Job, error)
	SetChannel(ctx context.Context, id, claimantID, channelID string) error
	Delete(ctx context.Context, id string, status ...model.JobStatus) error
	DeleteAll(ctx context.Context) error
	CountByStatus(ctx context.Context) (model.BoardStats, error)
	InitialMigration(ctx context.Context) error
}

type JobStore struct {
	db *gorm.DB
}

func NewJobStore(db *gorm.DB) Job {
	return &JobStore{db: db}
}

func (j *JobStore) InitialMigration(ctx context.Context) error {
	return j.getDB(ctx).AutoMigrate(&model.Job{})
}

// List lists the active jobs.
func (j *JobStore) List(ctx context.Context, filter *JobQueryFilter, opts *JobQueryOptions) (model.JobList, error) {
	var jobs model.JobList
	tx := j.getDB(ctx).WithContext(ctx)

	if filter != nil {
		tx = applyQuery(tx, filter.QueryFn)
	}
	if opts != nil {
		tx = applyQuery(tx, opts.QueryFn)
	}

	if err := tx.Model(&jobs).Find(&jobs).Error; err != nil {
		return nil, err
	}

	return jobs, nil
}

func (j *JobStore) Get(ctx context.Context, id string) (*model.Job, error) {
	return j.first(j.getDB(ctx).WithContext(ctx).Where("id = ?", id))
}

func (j *JobStore) GetBySequenceNumber(ctx context.Context, n int64) (*model.Job, error) {
	return j.first(j.getDB(ctx).WithContext(ctx).Where("sequence_number = ?", n))
}

func (j *JobStore) Lock(ctx context.Context, id string) (*model.Job, error) {
	return j.first(j.getDB(ctx).WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id))
}

func (j *JobStore) Create(ctx context.Context, job model.Job) (*model.Job, error) {
	if err := j.getDB(ctx).WithContext(ctx).Create(&job).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrDuplicateKey
		}
		return nil, err
	}

	return &job, nil
}

// Claim moves an open job to claimed. The status check and the write are a
// single conditional UPDATE so concurrent claims cannot both succeed.
func (j *JobStore) Claim(ctx context.Context, id, claimantID, claimantName string, at time.Time) (*model.Job, error) {
	db := j.getDB(ctx).WithContext(ctx)

	result := db.Model(&model.Job{}).
		Where("id = ? AND status = ?", id, model.JobStatusOpen).
		Updates(map[string]any{
			"status":                model.JobStatusClaimed,
			"claimant_id":           claimantID,
			"claimant_display_name": claimantName,
			"claimed_at":            at,
			"private_channel_id":    nil,
		})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, j.missOrStale(ctx, id)
	}

	return j.Get(ctx, id)
}

// Release puts a claimed job back to open and clears the claim. It returns
// the job as it was before the release so the caller keeps the channel handle.
func (j *JobStore) Release(ctx context.Context, id string) (*model.Job, error) {
	before, err := j.Lock(ctx, id)
	if err != nil {
		return nil, err
	}
	if before.Status != model.JobStatusClaimed {
		return nil, ErrStaleState
	}

	result := j.getDB(ctx).WithContext(ctx).Model(&model.Job{}).
		Where("id = ? AND status = ? AND claimant_id = ?", id, model.JobStatusClaimed, *before.ClaimantID).
		Updates(map[string]any{
			"status":                model.JobStatusOpen,
			"claimant_id":           nil,
			"claimant_display_name": nil,
			"claimed_at":            nil,
			"private_channel_id":    nil,
		})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, ErrStaleState
	}

	return before, nil
}

// SetChannel records the private channel of a claim. It only applies while
// the given claimant still holds the job.
func (j *JobStore) SetChannel(ctx context.Context, id, claimantID, channelID string) error {
	result := j.getDB(ctx).WithContext(ctx).Model(&model.Job{}).
		Where("id = ? AND status = ? AND claimant_id = ?", id, model.JobStatusClaimed, claimantID).
		Update("private_channel_id", channelID)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return j.missOrStale(ctx, id)
	}
	return nil
}

// Delete removes the job. When statuses are given the row is only deleted if
// it is in one of them.
func (j *JobStore) Delete(ctx context.Context, id string, status ...model.JobStatus) error {
	tx := j.getDB(ctx).WithContext(ctx).Where("id = ?", id)
	if len(status) > 0 {
		tx = tx.Where("status IN ?", status)
	}

	result := tx.Delete(&model.Job{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return j.missOrStale(ctx, id)
	}
	return nil
}

func (j *JobStore) DeleteAll(ctx context.Context) error {
	return j.getDB(ctx).WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&model.Job{}).Error
}

func (j *JobStore) CountByStatus(ctx context.Context) (model.BoardStats, error) {
	var rows []struct {
		Status model.JobStatus
		Count  int64
	}
	err := j.getDB(ctx).WithContext(ctx).Model(&model.Job{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return model.BoardStats{}, err
	}

	stats := model.BoardStats{}
	for _, r := range rows {
		switch r.Status {
		case model.JobStatusOpen:
			stats.Open = r.Count
		case model.JobStatusClaimed:
			stats.Claimed = r.Count
		}
	}
	return stats, nil
}

func (j *JobStore) first(tx *gorm.DB) (*model.Job, error) {
	job := &model.Job{}
	if err := tx.First(job).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return job, nil
}

func (j *JobStore) missOrStale(ctx context.Context, id string) error {
	var count int64
	if err := j.getDB(ctx).WithContext(ctx).Model(&model.Job{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return ErrRecordNotFound
	}
	return ErrStaleState
}

func (j *JobStore) getDB(ctx context.Context) *gorm.DB {
	tx := FromContext(ctx)
	if tx != nil {
		return tx
	}
	return j.db
}
