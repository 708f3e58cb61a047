package model

import (
	"encoding/json"
	"time"
)

type JobStatus string

const (
	JobStatusOpen    JobStatus = "open"
	JobStatusClaimed JobStatus = "claimed"
)

// Job is a row of the active job table. Completed jobs are moved to
// CompletionRecord and never come back.
type Job struct {
	ID                   string     `json:"id" gorm:"primaryKey"`
	SequenceNumber       int64      `json:"sequence_number" gorm:"uniqueIndex;not null"`
	Title                string     `json:"title" gorm:"not null"`
	Description          string     `json:"description" gorm:"not null"`
	RewardDescription    string     `json:"reward_description"`
	RequesterID          string     `json:"requester_id" gorm:"not null;index"`
	RequesterDisplayName string     `json:"requester_display_name" gorm:"not null"`
	Status               JobStatus  `json:"status" gorm:"not null;default:open;index"`
	ClaimantID           *string    `json:"claimant_id,omitempty" gorm:"index"`
	ClaimantDisplayName  *string    `json:"claimant_display_name,omitempty"`
	PrivateChannelID     *string    `json:"private_channel_id,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	ClaimedAt            *time.Time `json:"claimed_at,omitempty"`
}

type JobList []Job

func (j Job) String() string {
	v, _ := json.Marshal(j)
	return string(v)
}

func (j Job) IsClaimed() bool {
	return j.Status == JobStatusClaimed
}

func (j Job) Claimant() (id string, name string) {
	return deref(j.ClaimantID), deref(j.ClaimantDisplayName)
}

func (j Job) Channel() string {
	return deref(j.PrivateChannelID)
}

// IsParticipant reports whether the user is the requester or the current claimant.
func (j Job) IsParticipant(userID string) bool {
	if userID == "" {
		return false
	}
	return j.RequesterID == userID || deref(j.ClaimantID) == userID
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
