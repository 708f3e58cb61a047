package model

const JobCounterKey = "job_counter"

// Setting is a single integer valued row of the settings table.
type Setting struct {
	Key   string `gorm:"primaryKey"`
	Value int64  `gorm:"not null"`
}
