package events

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/opsdeck/internal/interfaces"
	"github.com/ternarybob/opsdeck/internal/models"
)

// NewLoggerSubscriber creates an event handler that logs workflow events
func NewLoggerSubscriber(logger arbor.ILogger) interfaces.EventHandler {
	return func(ctx context.Context, event interfaces.Event) error {
		logEvent := logger.Debug().
			Str("event_type", string(event.Type))

		switch payload := event.Payload.(type) {
		case models.WorkflowSnapshot:
			logEvent = logEvent.
				Str("phase", payload.Phase.String()).
				Str("connection", string(payload.Connection)).
				Float64("progress", payload.Progress.Displayed)
		case models.JobRecord:
			logEvent = logEvent.
				Str("job_id", payload.JobID).
				Str("slot", string(payload.Slot)).
				Str("status", string(payload.Status))
		case models.JobLogEntry:
			logEvent = logEvent.
				Str("job_id", payload.AssociatedJobID).
				Str("level", string(payload.Level))
		}

		logEvent.Msg("Event published")

		return nil
	}
}

// SubscribeLoggerToAllEvents subscribes the logger to all known event types.
// Log appends are excluded; they are already visible in the workflow log history.
func SubscribeLoggerToAllEvents(eventService interfaces.EventService, logger arbor.ILogger) error {
	subscriber := NewLoggerSubscriber(logger)

	eventTypes := []interfaces.EventType{
		interfaces.EventWorkflowChanged,
		interfaces.EventJobFinished,
	}

	for _, eventType := range eventTypes {
		if err := eventService.Subscribe(eventType, subscriber); err != nil {
			return fmt.Errorf("failed to subscribe logger to event type %s: %w", eventType, err)
		}
	}

	logger.Debug().
		Int("event_type_count", len(eventTypes)).
		Msg("Logger subscribed to workflow events")

	return nil
}
