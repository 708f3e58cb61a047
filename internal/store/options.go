package store

import (
	"github.com/pusherbot/pusherbot/internal/store/model"
	"gorm.io/gorm"
)

type SortOrder int

const (
	Unsorted SortOrder = iota
	SortBySequenceNumber
	SortByCreatedTime
	SortByCompletedTime
)

type BaseQuerier struct {
	QueryFn []func(tx *gorm.DB) *gorm.DB
}

type JobQueryFilter BaseQuerier

func NewJobQueryFilter() *JobQueryFilter {
	return &JobQueryFilter{QueryFn: make([]func(tx *gorm.DB) *gorm.DB, 0)}
}

func (qf *JobQueryFilter) ByID(ids ...string) *JobQueryFilter {
	qf.QueryFn = append(qf.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("id IN ?", ids)
	})
	return qf
}

func (qf *JobQueryFilter) BySequenceNumber(n int64) *JobQueryFilter {
	qf.QueryFn = append(qf.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("sequence_number = ?", n)
	})
	return qf
}

func (qf *JobQueryFilter) ByStatus(status model.JobStatus) *JobQueryFilter {
	qf.QueryFn = append(qf.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("status = ?", status)
	})
	return qf
}

func (qf *JobQueryFilter) ByRequester(userID string) *JobQueryFilter {
	qf.QueryFn = append(qf.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("requester_id = ?", userID)
	})
	return qf
}

func (qf *JobQueryFilter) ByClaimant(userID string) *JobQueryFilter {
	qf.QueryFn = append(qf.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("claimant_id = ?", userID)
	})
	return qf
}

// WithChannel keeps only the jobs that currently own a private channel.
func (qf *JobQueryFilter) WithChannel() *JobQueryFilter {
	qf.QueryFn = append(qf.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("private_channel_id IS NOT NULL")
	})
	return qf
}

type JobQueryOptions BaseQuerier

func NewJobQueryOptions() *JobQueryOptions {
	return &JobQueryOptions{QueryFn: make([]func(tx *gorm.DB) *gorm.DB, 0)}
}

func (o *JobQueryOptions) WithSortOrder(sort SortOrder) *JobQueryOptions {
	o.QueryFn = append(o.QueryFn, func(tx *gorm.DB) *gorm.DB {
		switch sort {
		case SortBySequenceNumber:
			return tx.Order("sequence_number")
		case SortByCreatedTime:
			return tx.Order("created_at")
		default:
			return tx
		}
	})
	return o
}

func (o *JobQueryOptions) WithLimit(limit int) *JobQueryOptions {
	o.QueryFn = append(o.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Limit(limit)
	})
	return o
}

type CompletionQueryFilter BaseQuerier

func NewCompletionQueryFilter() *CompletionQueryFilter {
	return &CompletionQueryFilter{QueryFn: make([]func(tx *gorm.DB) *gorm.DB, 0)}
}

func (qf *CompletionQueryFilter) ByJobID(jobID string) *CompletionQueryFilter {
	qf.QueryFn = append(qf.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("job_id = ?", jobID)
	})
	return qf
}

func (qf *CompletionQueryFilter) ByClaimants(userIDs []string) *CompletionQueryFilter {
	qf.QueryFn = append(qf.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("claimant_id IN ?", userIDs)
	})
	return qf
}

type CompletionQueryOptions BaseQuerier

func NewCompletionQueryOptions() *CompletionQueryOptions {
	return &CompletionQueryOptions{QueryFn: make([]func(tx *gorm.DB) *gorm.DB, 0)}
}

// WithSortOrder orders newest first when sorting by completion time.
func (o *CompletionQueryOptions) WithSortOrder(sort SortOrder) *CompletionQueryOptions {
	o.QueryFn = append(o.QueryFn, func(tx *gorm.DB) *gorm.DB {
		switch sort {
		case SortByCompletedTime:
			return tx.Order("completed_at DESC").Order("id DESC")
		case SortBySequenceNumber:
			return tx.Order("sequence_number")
		default:
			return tx
		}
	})
	return o
}

func (o *CompletionQueryOptions) WithLimit(limit int) *CompletionQueryOptions {
	o.QueryFn = append(o.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Limit(limit)
	})
	return o
}

type WorkerStatsQueryFilter BaseQuerier

func NewWorkerStatsQueryFilter() *WorkerStatsQueryFilter {
	return &WorkerStatsQueryFilter{QueryFn: make([]func(tx *gorm.DB) *gorm.DB, 0)}
}

func (qf *WorkerStatsQueryFilter) ByWorkerIDs(ids []string) *WorkerStatsQueryFilter {
	qf.QueryFn = append(qf.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("worker_id IN ?", ids)
	})
	return qf
}

func applyQuery(tx *gorm.DB, fns ...[]func(tx *gorm.DB) *gorm.DB) *gorm.DB {
	for _, group := range fns {
		for _, fn := range group {
			tx = fn(tx)
		}
	}
	return tx
}
