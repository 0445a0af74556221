package storage

import (
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/opsdeck/internal/common"
	"github.com/ternarybob/opsdeck/internal/interfaces"
	"github.com/ternarybob/opsdeck/internal/storage/badger"
)

// NewJobHistoryStorage opens job history storage from config.
// Returns nil, nil when persistence is disabled.
func NewJobHistoryStorage(logger arbor.ILogger, config *common.Config) (interfaces.JobHistoryStorage, error) {
	if !config.Storage.Badger.Enabled {
		logger.Info().Msg("Job history persistence disabled")
		return nil, nil
	}

	db, err := badger.NewBadgerDB(logger, &config.Storage.Badger)
	if err != nil {
		return nil, err
	}

	logger.Info().Str("path", config.Storage.Badger.Path).Msg("Job history storage initialized")
	return badger.NewJobHistoryStorage(db, logger), nil
}
