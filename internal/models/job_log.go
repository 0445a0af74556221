package models

import "time"

// JobLogEntry represents a single entry in the workflow log history
type JobLogEntry struct {
	ID              string    `json:"id"`
	Sequence        int64     `json:"sequence"` // Monotonic within one controller instance
	AssociatedJobID string    `json:"job_id,omitempty"`
	Phase           Phase     `json:"phase"`
	EventType       EventType `json:"event_type"`
	Level           Level     `json:"level"`
	Message         string    `json:"message"`
	Timestamp       string    `json:"timestamp"` // Source timestamp, or receive time when the source sent none
	ReceivedAt      time.Time `json:"received_at"`
}

// JobRecord is the persisted outcome of one backend job
type JobRecord struct {
	JobID      string                 `json:"job_id"`
	Channel    string                 `json:"channel"`
	Slot       Slot                   `json:"slot"`
	Operation  string                 `json:"operation"`
	Hostname   string                 `json:"hostname,omitempty"`
	Status     JobStatus              `json:"status"`
	Summary    *CheckSummary          `json:"summary,omitempty"`
	Result     map[string]interface{} `json:"result,omitempty"`
	LastError  string                 `json:"last_error,omitempty"`
	StartedAt  time.Time              `json:"started_at"`
	FinishedAt time.Time              `json:"finished_at"`
}
