package progress

import (
	"time"

	"github.com/ZJUSCT/CSLearn/internal/database"
	"github.com/ZJUSCT/CSLearn/internal/database/models"
	"github.com/ZJUSCT/CSLearn/internal/updatequeue"
	"gorm.io/gorm"
)

type MetricUpdate struct {
	Metric          Metric
	UserID          string
	UserDisplayName string
	CourseID        string
	ExerciseID      string
	Level           int
	// Prev is the value currently stored for the exercise, read in the same transaction.
	Prev float64
	Cur  float64
	// Status is stored with the exercise value, used by the solved metric.
	Status models.Status
	// Force applies a decrease.
	Force bool
	// ScheduledAt anchors the reversal of windowed metrics. Zero means now.
	ScheduledAt time.Time
	// Location is the zone the window bucket was computed in, UTC when nil.
	Location *time.Location
}

// UpdateMetric applies Cur-Prev to the course and level aggregates of the metric and stores
// Cur as the exercise value. Without Force a decrease is ignored. Windowed metrics also
// schedule the reversal of the delta once the window has passed.
func UpdateMetric(tx *gorm.DB, u MetricUpdate) error {
	if u.Cur < u.Prev && !u.Force {
		return nil
	}
	if !u.Metric.valid() {
		return ErrUnknownMetric
	}

	key := u.Metric.Key()
	delta := u.Cur - u.Prev

	if u.Metric.Ranked() {
		var err error
		if u.Metric.Kind == KindWindowedScore {
			err = database.IncrementWindowProgress(tx, u.CourseID, key, u.UserID, delta)
		} else {
			err = database.IncrementProgress(tx, u.CourseID, u.UserID, u.UserDisplayName, u.Metric.ProgressColumn(), delta)
		}
		if err != nil {
			return err
		}
		if err := database.IncrementLevelProgress(tx, u.CourseID, u.UserID, key, u.Level, delta); err != nil {
			return err
		}
	}

	if err := database.UpsertExerciseProgress(tx, &models.ExerciseProgress{
		CourseID:   u.CourseID,
		UserID:     u.UserID,
		Metric:     key,
		ExerciseID: u.ExerciseID,
		Level:      u.Level,
		Value:      u.Cur,
		Status:     u.Status,
	}); err != nil {
		return err
	}

	if u.Metric.Kind != KindWindowedScore || delta == 0 {
		return nil
	}

	scheduledAt := u.ScheduledAt
	if scheduledAt.IsZero() {
		scheduledAt = time.Now()
	}
	loc := u.Location
	if loc == nil {
		loc = time.UTC
	}
	expireAt := u.Metric.Window.ExpireAt(scheduledAt.In(loc))
	for _, target := range []updatequeue.Target{updatequeue.TargetWindow, updatequeue.TargetLevel} {
		if err := updatequeue.Enqueue(tx, updatequeue.Update{
			Target:   target,
			CourseID: u.CourseID,
			UserID:   u.UserID,
			Metric:   key,
			Level:    u.Level,
			Diff:     -delta,
			UpdateAt: expireAt,
		}); err != nil {
			return err
		}
	}
	return nil
}

// ReadExerciseValue returns the stored exercise value of the metric, 0 if none.
func ReadExerciseValue(tx *gorm.DB, m Metric, courseID, userID, exerciseID string) (float64, error) {
	row, err := database.GetExerciseProgress(tx, courseID, userID, m.Key(), exerciseID)
	if err != nil || row == nil {
		return 0, err
	}
	return row.Value, nil
}
