package submission

import (
	"context"
	"errors"
	"fmt"

	"github.com/ZJUSCT/CSLearn/internal/catalog"
	"github.com/ZJUSCT/CSLearn/internal/database"
	"github.com/ZJUSCT/CSLearn/internal/database/models"
	"github.com/ZJUSCT/CSLearn/internal/insights"
	"github.com/ZJUSCT/CSLearn/internal/metrics"
	"github.com/ZJUSCT/CSLearn/internal/progress"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// rollbackMetrics are zeroed for every affected user before replay. Windowed buckets are kept:
// their stored exercise value keeps the replay from counting twice.
var rollbackMetrics = []progress.Metric{progress.Solved, progress.Score, progress.UpsolveScore, progress.Attempts}

// Resubmit re-evaluates every stored result of an exercise in one transaction. It subtracts
// each result's contribution from the aggregates and insights, deletes it and returns fresh
// queue entries carrying the same code. The caller hands them to the grader after commit.
func (e *Engine) Resubmit(ctx context.Context, courseID, exerciseID string) ([]models.QueuedSubmission, error) {
	exercise, err := e.catalog.Exercise(exerciseID)
	if err != nil {
		return nil, err
	}
	if exercise.CourseID != courseID {
		return nil, fmt.Errorf("%w: %s in course %s", catalog.ErrExerciseNotFound, exerciseID, courseID)
	}

	var queued []models.QueuedSubmission
	err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		queued = nil
		results, err := database.GetSubmissionsByExercise(tx, courseID, exerciseID)
		if err != nil {
			return err
		}

		type replay struct {
			result *models.Submission
			code   *models.SubmissionCode
		}
		var replays []replay
		var kept []*models.Submission
		users := make(map[string]bool)
		var userOrder []string
		for i := range results {
			r := &results[i]
			code, err := database.GetSubmissionCode(tx, r.ID)
			if errors.Is(err, gorm.ErrRecordNotFound) {
				zap.S().Warnf("code of submission %s is gone, leaving it out of re-evaluation", r.ID)
				kept = append(kept, r)
				continue
			}
			if err != nil {
				return err
			}
			replays = append(replays, replay{result: r, code: code})
			if !users[r.UserID] {
				users[r.UserID] = true
				userOrder = append(userOrder, r.UserID)
			}
		}

		for _, userID := range userOrder {
			if err := e.rollbackUser(tx, userID, exercise); err != nil {
				return err
			}
		}

		// Replayed results decide the new best of a rolled back user.
		for _, r := range kept {
			if users[r.UserID] && r.IsBest {
				if err := database.SetSubmissionBest(tx, r.ID, false); err != nil {
					return err
				}
			}
		}

		for _, rp := range replays {
			r := rp.result
			if err := e.compensateInsights(tx, r); err != nil {
				return err
			}
			sub := models.QueuedSubmission{
				ID:              uuid.NewString(),
				CreatedAt:       r.CreatedAt,
				UserID:          r.UserID,
				UserDisplayName: r.UserDisplayName,
				CourseID:        r.CourseID,
				ExerciseID:      r.ExerciseID,
				Code:            rp.code.Code,
				Language:        rp.code.Language,
				Status:          models.StatusQueued,
			}
			if err := database.CreateQueuedSubmission(tx, &sub); err != nil {
				return err
			}
			if err := database.DeleteSubmission(tx, r.ID); err != nil {
				return err
			}
			queued = append(queued, sub)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.Resubmitted.Add(float64(len(queued)))
	zap.S().Infof("re-evaluating %d submissions of exercise %s in course %s", len(queued), exerciseID, courseID)
	return queued, nil
}

// rollbackUser forces every exercise metric of the user back to zero.
func (e *Engine) rollbackUser(tx *gorm.DB, userID string, exercise *catalog.Exercise) error {
	for _, m := range rollbackMetrics {
		prev, err := progress.ReadExerciseValue(tx, m, exercise.CourseID, userID, exercise.ID)
		if err != nil {
			return err
		}
		if prev == 0 {
			continue
		}
		if err := progress.UpdateMetric(tx, progress.MetricUpdate{
			Metric:     m,
			UserID:     userID,
			CourseID:   exercise.CourseID,
			ExerciseID: exercise.ID,
			Level:      exercise.Level,
			Prev:       prev,
			Cur:        0,
			Force:      true,
		}); err != nil {
			return err
		}
	}
	return nil
}

// compensateInsights subtracts exactly what recording r added.
func (e *Engine) compensateInsights(tx *gorm.DB, r *models.Submission) error {
	if r.Status == models.StatusUnavailable {
		return nil
	}
	day := e.dayKey(r.CreatedAt)
	if err := insights.Record(tx, insights.Submissions, r.CourseID, r.ExerciseID, day, -1); err != nil {
		return err
	}
	if r.InsightScore != 0 {
		if err := insights.Record(tx, insights.TotalScore, r.CourseID, r.ExerciseID, day, -r.InsightScore); err != nil {
			return err
		}
	}
	if r.FirstSolved {
		return insights.Record(tx, insights.Solved, r.CourseID, r.ExerciseID, day, -1)
	}
	return nil
}
