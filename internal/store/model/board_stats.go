package model

// BoardStats counts the active jobs per status.
type BoardStats struct {
	Open    int64
	Claimed int64
}

func (b BoardStats) Total() int64 {
	return b.Open + b.Claimed
}
