package interfaces

import "context"

// EventType represents different event types in the system
type EventType string

const (
	EventWorkflowChanged EventType = "workflow_changed" // Payload: models.WorkflowSnapshot
	EventLogAppended     EventType = "log_appended"     // Payload: models.JobLogEntry
	EventJobFinished     EventType = "job_finished"     // Payload: models.JobRecord
)

// Event represents a system event
type Event struct {
	Type    EventType
	Payload interface{}
}

// EventHandler is a function that handles events
type EventHandler func(ctx context.Context, event Event) error

// EventService manages pub/sub event bus
type EventService interface {
	// Subscribe to an event type
	Subscribe(eventType EventType, handler EventHandler) error

	// Publish an event to all subscribers
	Publish(ctx context.Context, event Event) error

	// Close shuts down the event service
	Close() error
}
