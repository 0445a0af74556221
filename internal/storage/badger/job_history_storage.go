package badger

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/opsdeck/internal/interfaces"
	"github.com/ternarybob/opsdeck/internal/models"
)

// JobHistoryStorage persists finished job records and their log entries
type JobHistoryStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewJobHistoryStorage creates a JobHistoryStorage on an open database
func NewJobHistoryStorage(db *BadgerDB, logger arbor.ILogger) *JobHistoryStorage {
	return &JobHistoryStorage{
		db:     db,
		logger: logger,
	}
}

var _ interfaces.JobHistoryStorage = (*JobHistoryStorage)(nil)

// SaveJob inserts or replaces the record keyed by its job id
func (s *JobHistoryStorage) SaveJob(ctx context.Context, record *models.JobRecord) error {
	if record == nil || record.JobID == "" {
		return fmt.Errorf("job ID is required")
	}
	if err := s.db.Store().Upsert(record.JobID, record); err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	s.logger.Debug().
		Str("job_id", record.JobID).
		Str("status", string(record.Status)).
		Msg("Job record saved")
	return nil
}

// GetJob returns the record for jobID or ErrJobNotFound
func (s *JobHistoryStorage) GetJob(ctx context.Context, jobID string) (*models.JobRecord, error) {
	var record models.JobRecord
	if err := s.db.Store().Get(jobID, &record); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", interfaces.ErrJobNotFound, jobID)
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &record, nil
}

// ListJobs returns the most recently finished jobs first (all when limit <= 0)
func (s *JobHistoryStorage) ListJobs(ctx context.Context, limit int) ([]*models.JobRecord, error) {
	var records []models.JobRecord
	if err := s.db.Store().Find(&records, badgerhold.Where("JobID").Ne("")); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].FinishedAt.After(records[j].FinishedAt)
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}

	out := make([]*models.JobRecord, len(records))
	for i := range records {
		out[i] = &records[i]
	}
	return out, nil
}

// AppendLogs stores entries under jobID. Entries are keyed by their sequence,
// so appending the same entries twice does not duplicate them.
func (s *JobHistoryStorage) AppendLogs(ctx context.Context, jobID string, entries []models.JobLogEntry) error {
	for _, entry := range entries {
		entry.AssociatedJobID = jobID
		key := fmt.Sprintf("%s_%020d_%s", jobID, entry.Sequence, entry.ID)
		if err := s.db.Store().Upsert(key, &entry); err != nil {
			return fmt.Errorf("failed to append log: %w", err)
		}
	}
	return nil
}

// GetLogs returns the newest limit entries of jobID in sequence order (all when limit <= 0)
func (s *JobHistoryStorage) GetLogs(ctx context.Context, jobID string, limit int) ([]models.JobLogEntry, error) {
	var logs []models.JobLogEntry
	if err := s.db.Store().Find(&logs, badgerhold.Where("AssociatedJobID").Eq(jobID)); err != nil {
		return nil, fmt.Errorf("failed to get logs: %w", err)
	}

	sort.Slice(logs, func(i, j int) bool {
		return logs[i].Sequence < logs[j].Sequence
	})
	if limit > 0 && len(logs) > limit {
		logs = logs[len(logs)-limit:]
	}
	return logs, nil
}

// Close closes the underlying database
func (s *JobHistoryStorage) Close() error {
	return s.db.Close()
}
