package models

import "time"

// FailedRecord is a batch record that could not be metered, kept for replay.
type FailedRecord struct {
	ID        int64     `json:"id"`
	BatchID   string    `json:"batch_id"`
	Index     int       `json:"index"`
	Source    string    `json:"source"`
	Payload   string    `json:"payload"`
	RecordID  string    `json:"record_id,omitempty"`
	Error     string    `json:"error"`
	Replayed  bool      `json:"replayed"`
	CreatedAt time.Time `json:"created_at"`
}

// FailedQueryOpts specifies filters for querying failed records.
type FailedQueryOpts struct {
	BatchID         string
	Source          string
	Since           time.Time
	IncludeReplayed bool
	Limit           int
}

// FailureStat counts failed records per source and day.
type FailureStat struct {
	Source string
	Day    string
	Count  int
}
