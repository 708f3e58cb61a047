package model

import "time"

// WorkerStats accumulates the completions of a single worker. Rows are kept
// after the worker loses the role; the rankings filter them out instead.
type WorkerStats struct {
	WorkerID       string    `json:"worker_id" gorm:"primaryKey"`
	DisplayName    string    `json:"display_name" gorm:"not null"`
	TotalCompleted int64     `json:"total_completed" gorm:"not null;default:0"`
	TotalPoints    int64     `json:"total_points" gorm:"not null;default:0"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type WorkerStatsList []WorkerStats

func (WorkerStats) TableName() string {
	return "worker_stats"
}
