package interfaces

import (
	"context"
	"errors"

	"github.com/ternarybob/opsdeck/internal/models"
)

// ErrJobNotFound is returned by GetJob for unknown job ids
var ErrJobNotFound = errors.New("job not found")

// JobHistoryStorage persists finished jobs and their log history
type JobHistoryStorage interface {
	SaveJob(ctx context.Context, record *models.JobRecord) error
	GetJob(ctx context.Context, jobID string) (*models.JobRecord, error)
	ListJobs(ctx context.Context, limit int) ([]*models.JobRecord, error)

	AppendLogs(ctx context.Context, jobID string, entries []models.JobLogEntry) error
	GetLogs(ctx context.Context, jobID string, limit int) ([]models.JobLogEntry, error)

	Close() error
}
