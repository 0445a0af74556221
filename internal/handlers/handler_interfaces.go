package handlers

import (
	"context"

	"github.com/ternarybob/opsdeck/internal/models"
)

// WorkflowService is the workflow controller as seen by the HTTP layer.
type WorkflowService interface {
	Snapshot(ctx context.Context) (models.WorkflowSnapshot, error)
	Logs(ctx context.Context, limit int) ([]models.JobLogEntry, error)
	StartPreCheck(ctx context.Context, req models.OperationRequest) (*models.JobHandle, error)
	StartExecute(ctx context.Context) (*models.JobHandle, error)
	Reset(ctx context.Context) error
}
