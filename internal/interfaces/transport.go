package interfaces

import (
	"context"

	"github.com/ternarybob/opsdeck/internal/models"
)

// Transport is the duplex connection to the event relay as seen by the workflow core.
// Reconnecting is the transport's responsibility; the core only observes status.
type Transport interface {
	// Send writes one control frame
	Send(ctx context.Context, frame models.ControlFrame) error

	// IsConnected reports whether a connection is currently established
	IsConnected() bool
}

// OperationStarter is the backend collaborator that creates jobs
type OperationStarter interface {
	// StartPreCheck submits a pre-flight validation job
	StartPreCheck(ctx context.Context, req models.OperationRequest) (*models.JobStartResponse, error)

	// StartExecute submits the operation itself, referencing the reviewed pre-check job
	StartExecute(ctx context.Context, req models.ExecuteRequest) (*models.JobStartResponse, error)
}
