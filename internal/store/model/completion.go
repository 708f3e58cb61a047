package model

import "time"

// CompletionRecord is an append-only ledger entry written when a job completes.
type CompletionRecord struct {
	ID                   uint       `json:"-" gorm:"primaryKey;autoIncrement"`
	JobID                string     `json:"job_id" gorm:"uniqueIndex;not null"`
	SequenceNumber       int64      `json:"sequence_number" gorm:"not null"`
	Title                string     `json:"title" gorm:"not null"`
	Description          string     `json:"description" gorm:"not null"`
	RewardDescription    string     `json:"reward_description"`
	RequesterID          string     `json:"requester_id" gorm:"not null"`
	RequesterDisplayName string     `json:"requester_display_name" gorm:"not null"`
	ClaimantID           string     `json:"claimant_id" gorm:"not null;index"`
	ClaimantDisplayName  string     `json:"claimant_display_name" gorm:"not null"`
	CompleterID          string     `json:"completer_id" gorm:"not null"`
	CompleterDisplayName string     `json:"completer_display_name"`
	RewardPoints         int64      `json:"reward_points" gorm:"not null;default:0"`
	CreatedAt            time.Time  `json:"created_at"`
	ClaimedAt            *time.Time `json:"claimed_at,omitempty"`
	CompletedAt          time.Time  `json:"completed_at" gorm:"not null;index"`
}

type CompletionRecordList []CompletionRecord

func (CompletionRecord) TableName() string {
	return "completed_jobs"
}

func NewCompletionRecord(job Job, completerID, completerName string, rewardPoints int64, completedAt time.Time) CompletionRecord {
	claimantID, claimantName := job.Claimant()
	return CompletionRecord{
		JobID:                job.ID,
		SequenceNumber:       job.SequenceNumber,
		Title:                job.Title,
		Description:          job.Description,
		RewardDescription:    job.RewardDescription,
		RequesterID:          job.RequesterID,
		RequesterDisplayName: job.RequesterDisplayName,
		ClaimantID:           claimantID,
		ClaimantDisplayName:  claimantName,
		CompleterID:          completerID,
		CompleterDisplayName: completerName,
		RewardPoints:         rewardPoints,
		CreatedAt:            job.CreatedAt,
		ClaimedAt:            job.ClaimedAt,
		CompletedAt:          completedAt,
	}
}
