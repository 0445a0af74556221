package common

import (
	"github.com/google/uuid"
)

// NewLogEntryID generates a unique log entry ID. Format: log_<uuid>
func NewLogEntryID() string {
	return "log_" + uuid.New().String()
}

// NewInstanceID identifies one workflow controller instance. Format: wf_<uuid>
func NewInstanceID() string {
	return "wf_" + uuid.New().String()
}

// NewRequestID tags an outbound job-start call. Format: req_<uuid>
func NewRequestID() string {
	return "req_" + uuid.New().String()
}
