package grader

import (
	"github.com/ZJUSCT/CSLearn/internal/database"
	"github.com/ZJUSCT/CSLearn/internal/database/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// RecoverInterrupted puts submissions that were being checked when the process stopped back
// into the queue state.
func RecoverInterrupted(db *gorm.DB) error {
	zap.S().Info("starting recovery process for interrupted submissions...")
	result := db.Model(&models.QueuedSubmission{}).
		Where("status = ?", models.StatusChecking).
		Update("status", models.StatusQueued)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		zap.S().Infof("reset %d interrupted submissions to queued", result.RowsAffected)
	}
	return nil
}

// RequeuePending loads submissions with 'Queued' status from the DB and adds them back to the
// scheduler's queue on startup.
func RequeuePending(db *gorm.DB, s *Scheduler) error {
	pending, err := database.GetQueuedSubmissionsByStatus(db, models.StatusQueued)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		zap.S().Info("no pending submissions to requeue")
		return nil
	}

	zap.S().Infof("requeueing %d pending submissions...", len(pending))
	for _, sub := range pending {
		if !s.Submit(sub.ID) {
			break
		}
	}
	zap.S().Info("finished requeueing pending submissions")
	return nil
}
