package models

import "time"

// Phase is the client-side stage of a long-running device operation
type Phase string

const (
	PhaseConfigure Phase = "configure"
	PhasePreCheck  Phase = "pre_check"
	PhaseReview    Phase = "review"
	PhaseExecute   Phase = "execute"
	PhaseResults   Phase = "results"
)

// String returns the string representation of the phase.
func (p Phase) String() string {
	return string(p)
}

// IsValid returns true if the phase is one of the five workflow phases.
func (p Phase) IsValid() bool {
	switch p {
	case PhaseConfigure, PhasePreCheck, PhaseReview, PhaseExecute, PhaseResults:
		return true
	default:
		return false
	}
}

// IsJobPhase returns true for phases that own a running backend job (and a channel subscription).
func (p Phase) IsJobPhase() bool {
	return p == PhasePreCheck || p == PhaseExecute
}

// CanTransitionTo returns true if the phase table allows moving to target.
// Every phase may return to configure (reset).
func (p Phase) CanTransitionTo(target Phase) bool {
	if target == PhaseConfigure {
		return p.IsValid()
	}
	switch p {
	case PhaseConfigure:
		return target == PhasePreCheck
	case PhasePreCheck:
		return target == PhaseReview
	case PhaseReview:
		return target == PhaseExecute
	case PhaseExecute:
		return target == PhaseResults
	case PhaseResults:
		return false // Only reset leaves results
	default:
		return false
	}
}

// Slot identifies which workflow slot owns a job handle
type Slot string

const (
	SlotPreCheck Slot = "pre_check"
	SlotExecute  Slot = "execute"
)

// JobHandle ties a backend job to the channel its events are published on
type JobHandle struct {
	JobID   string `json:"job_id"`
	Channel string `json:"channel"`
	Phase   Phase  `json:"phase"`
}

// NewJobHandle builds a handle, synthesizing "job:{jobID}" when the backend did not name a channel
func NewJobHandle(jobID, channel string, phase Phase) JobHandle {
	if channel == "" {
		channel = "job:" + jobID
	}
	return JobHandle{JobID: jobID, Channel: channel, Phase: phase}
}

// Slot returns the workflow slot the handle belongs to
func (h JobHandle) Slot() Slot {
	if h.Phase == PhaseExecute {
		return SlotExecute
	}
	return SlotPreCheck
}

// JobStatus is the derived outcome of a job as seen by the client
type JobStatus string

const (
	JobStatusIdle      JobStatus = "idle"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// IsTerminal returns true once the job outcome is known
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed
}

// ConnectionStatus is the transport state observed by the workflow
type ConnectionStatus string

const (
	ConnectionDisconnected ConnectionStatus = "disconnected"
	ConnectionConnecting   ConnectionStatus = "connecting"
	ConnectionConnected    ConnectionStatus = "connected"
)

// WorkflowSnapshot is the read-only view handed to the presentation layer
type WorkflowSnapshot struct {
	InstanceID     string                 `json:"instance_id"`
	Phase          Phase                  `json:"phase"`
	Connection     ConnectionStatus       `json:"connection"`
	PreCheckJob    *JobHandle             `json:"pre_check_job,omitempty"`
	ExecuteJob     *JobHandle             `json:"execute_job,omitempty"`
	PreCheckStatus JobStatus              `json:"pre_check_status"`
	ExecuteStatus  JobStatus              `json:"execute_status"`
	Progress       ProgressState          `json:"progress"`
	Summary        *CheckSummary          `json:"summary"`
	TotalSteps     int                    `json:"total_steps"`
	CompletedSteps int                    `json:"completed_steps"`
	LogCount       int                    `json:"log_count"`
	LastError      string                 `json:"last_error,omitempty"`
	Result         map[string]interface{} `json:"result,omitempty"` // OPERATION_COMPLETE data of the execute job
	UpdatedAt      time.Time              `json:"updated_at"`
}

// CanExecute reports whether the review gate is open
func (s WorkflowSnapshot) CanExecute() bool {
	return s.Phase == PhaseReview && s.Summary != nil && s.Summary.CanProceed && s.Connection == ConnectionConnected
}
