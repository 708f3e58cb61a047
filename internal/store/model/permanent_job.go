package model

import "time"

type PermanentJob struct {
	ID        uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	Text      string    `json:"text" gorm:"uniqueIndex;not null"`
	CreatedAt time.Time `json:"created_at"`
}

type PermanentJobList []PermanentJob

func (l PermanentJobList) Texts() []string {
	texts := make([]string, 0, len(l))
	for _, j := range l {
		texts = append(texts, j.Text)
	}
	return texts
}
