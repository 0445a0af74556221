// -----------------------------------------------------------------------
// Normalized Event - flattened record produced by the payload extractor
// -----------------------------------------------------------------------

package models

import "strings"

// EventType identifies what a normalized event means to the workflow.
// The vocabulary matches the event_type values published by the device-automation workers.
type EventType string

const (
	EventOperationStart    EventType = "OPERATION_START"    // data.total_steps
	EventStepComplete      EventType = "STEP_COMPLETE"      // data.step (1-based step number)
	EventStepProgress      EventType = "STEP_PROGRESS"      // label only
	EventDeviceProgress    EventType = "DEVICE_PROGRESS"    // data.step / data.total_steps
	EventUpgradeProgress   EventType = "UPGRADE_PROGRESS"   // data.progress
	EventProgressUpdate    EventType = "PROGRESS_UPDATE"    // data.progress
	EventPreCheckResult    EventType = "PRE_CHECK_RESULT"   // one check result
	EventPreCheckComplete  EventType = "PRE_CHECK_COMPLETE" // check summary
	EventOperationComplete EventType = "OPERATION_COMPLETE" // terminal event for a job
	EventUploadStart       EventType = "UPLOAD_START"
	EventUploadComplete    EventType = "UPLOAD_COMPLETE"
	EventLogMessage        EventType = "LOG_MESSAGE"      // generic log line
	EventOrchestratorLog   EventType = "ORCHESTRATOR_LOG" // raw worker stdout/stderr line
	EventError             EventType = "ERROR"
	EventParseError        EventType = "PARSE_ERROR" // synthesized by the extractor
)

var knownEventTypes = map[EventType]bool{
	EventOperationStart:    true,
	EventStepComplete:      true,
	EventStepProgress:      true,
	EventDeviceProgress:    true,
	EventUpgradeProgress:   true,
	EventProgressUpdate:    true,
	EventPreCheckResult:    true,
	EventPreCheckComplete:  true,
	EventOperationComplete: true,
	EventUploadStart:       true,
	EventUploadComplete:    true,
	EventLogMessage:        true,
	EventOrchestratorLog:   true,
	EventError:             true,
	EventParseError:        true,
}

// IsKnown reports whether the event type is part of the recognized vocabulary
func (t EventType) IsKnown() bool {
	return knownEventTypes[t]
}

// Level is the severity attached to a normalized event
type Level string

const (
	LevelInfo    Level = "INFO"
	LevelWarning Level = "WARNING"
	LevelError   Level = "ERROR"
)

// ParseLevel maps the loose level strings emitted upstream (DEBUG, LOG, WARN, CRITICAL, ...)
// onto the three levels the workflow renders. Unknown values map to INFO.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "WARN", "WARNING":
		return LevelWarning
	case "ERROR", "CRITICAL", "FATAL":
		return LevelError
	default:
		return LevelInfo
	}
}

// NormalizedEvent is the single flat record every inbound frame is reduced to.
// EventType is always set; free-text frames become LOG_MESSAGE.
type NormalizedEvent struct {
	EventType EventType              `json:"event_type"`
	Message   string                 `json:"message"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp string                 `json:"timestamp,omitempty"` // Source timestamp, empty when the publisher sent none
	Level     Level                  `json:"level"`
	Sequence  *int64                 `json:"sequence,omitempty"` // Per-job sequence stamped by the worker
	JobID     string                 `json:"job_id,omitempty"`
	Channel   string                 `json:"channel,omitempty"` // Transport envelope channel, if any
	Raw       string                 `json:"raw,omitempty"`     // Offending text for PARSE_ERROR events
}

// IsParseError reports whether the event was synthesized from a payload that failed to parse
func (e NormalizedEvent) IsParseError() bool {
	return e.EventType == EventParseError
}
