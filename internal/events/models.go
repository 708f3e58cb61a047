package events

const (
	BoardOperationCreated    = "created"
	BoardOperationClaimed    = "claimed"
	BoardOperationReleased   = "released"
	BoardOperationCompleted  = "completed"
	BoardOperationDeleted    = "deleted"
	BoardOperationForceClose = "force_closed"
	BoardOperationReset      = "reset"
	BoardOperationCatalogue  = "catalogue_changed"
)

// BoardEvent is emitted whenever the set of active jobs changes.
type BoardEvent struct {
	Operation      string `json:"operation"`
	JobID          string `json:"job_id,omitempty"`
	SequenceNumber int64  `json:"sequence_number,omitempty"`
}

// StatsEvent is emitted when rankings need repainting.
type StatsEvent struct {
	Reason string `json:"reason"`
}
