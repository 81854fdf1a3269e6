package workers

import (
	"github.com/mlecomte/qrtrack/internal/models"
	"github.com/mlecomte/qrtrack/internal/repository"
	"go.uber.org/zap"
)

// StartScanWorkers launches a pool of goroutines persisting scan events off
// the redirect hot path. Workers drain the shared channel until it is
// closed.
func StartScanWorkers(workerCount int, records <-chan models.ScanRecord, scanRepo repository.ScanRepository) {
	logger := zap.L().With(zap.String("component", "ScanWorkers"))
	logger.Info("starting scan workers", zap.Int("count", workerCount))

	for i := 0; i < workerCount; i++ {
		go scanWorker(records, scanRepo, logger)
	}
}

func scanWorker(records <-chan models.ScanRecord, scanRepo repository.ScanRepository, logger *zap.Logger) {
	for rec := range records {
		event := &models.ScanEvent{
			LinkID:    rec.LinkID,
			Timestamp: rec.Timestamp,
			UserAgent: rec.UserAgent,
			IPAddress: rec.IPAddress,
		}
		// A failed append is logged and dropped; the counter increment
		// already happened on the request path.
		if err := scanRepo.CreateScan(event); err != nil {
			logger.Error("failed to persist scan event",
				zap.Uint("link_id", rec.LinkID), zap.Error(err))
		}
	}
}
