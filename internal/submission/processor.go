package submission

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/ZJUSCT/CSLearn/internal/catalog"
	"github.com/ZJUSCT/CSLearn/internal/database"
	"github.com/ZJUSCT/CSLearn/internal/database/models"
	"github.com/ZJUSCT/CSLearn/internal/events"
	"github.com/ZJUSCT/CSLearn/internal/insights"
	"github.com/ZJUSCT/CSLearn/internal/judge"
	"github.com/ZJUSCT/CSLearn/internal/metrics"
	"github.com/ZJUSCT/CSLearn/internal/progress"
	"github.com/ZJUSCT/CSLearn/internal/pubsub"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Result summarizes a processed submission.
type Result struct {
	ID      string
	TestRun bool
	Status  models.Status
	Score   float64
	IsBest  bool
	Message string
	// RankingChanged is set when a ranked aggregate may have moved.
	RankingChanged bool
}

// rescale maps the judge's 0-100 score to the exercise's point value.
func rescale(judgeScore, maxScore float64) float64 {
	score := judgeScore * maxScore / 100
	return math.Max(0, math.Min(score, maxScore))
}

// isBetter reports whether a beats the current best b: a strictly higher score, or an equal
// score with a strictly lower time.
func isBetter(a, b *models.Submission) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.Time < b.Time
}

// ProcessResult turns a judge verdict into a stored result and updates every aggregate it
// contributes to. Errors abort the active transaction and leave the queue entry in place.
func (e *Engine) ProcessResult(ctx context.Context, verdict *judge.Verdict, userID, submissionID string) (*Result, error) {
	if verdict == nil {
		return nil, ErrNilVerdict
	}
	db := e.db.WithContext(ctx)

	queued, err := database.GetQueuedSubmission(db, submissionID)
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && queued.UserID != userID) {
		return nil, fmt.Errorf("%w: %s", ErrSubmissionNotFound, submissionID)
	}
	if err != nil {
		return nil, err
	}
	course, err := e.catalog.Course(queued.CourseID)
	if err != nil {
		return nil, fmt.Errorf("submission %s: %w", submissionID, err)
	}
	exercise, err := e.catalog.Exercise(queued.ExerciseID)
	if err != nil {
		return nil, fmt.Errorf("submission %s: %w", submissionID, err)
	}
	status, err := verdict.Reduce()
	if err != nil {
		return nil, fmt.Errorf("submission %s: %w", submissionID, err)
	}
	score := rescale(verdict.Score, exercise.Score)
	if status == models.StatusUnavailable {
		score = 0
	}

	if queued.IsTestRun {
		return e.storeRun(db, queued, verdict, status, score)
	}

	result := &models.Submission{
		ID:              queued.ID,
		CreatedAt:       queued.CreatedAt,
		UserID:          queued.UserID,
		UserDisplayName: queued.UserDisplayName,
		CourseID:        queued.CourseID,
		ExerciseID:      queued.ExerciseID,
		Language:        queued.Language,
		Status:          status,
		Score:           score,
		Time:            verdict.Time,
		Memory:          verdict.Memory,
		Message:         verdict.Message,
	}

	if status == models.StatusUnavailable {
		if err := db.Transaction(func(tx *gorm.DB) error {
			return e.storeResult(tx, queued, result)
		}); err != nil {
			return nil, err
		}
		e.afterCommit(ctx, result, false)
		return &Result{ID: result.ID, Status: status, Message: result.Message}, nil
	}

	day := e.dayKey(queued.CreatedAt)
	err = db.Transaction(func(tx *gorm.DB) error {
		return e.recordResult(tx, queued, exercise, result, day)
	})
	if err != nil {
		return nil, err
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		return e.updateMetrics(tx, course, exercise, result)
	})
	if err != nil {
		// The result and insights are committed; aggregates miss this submission.
		zap.S().Errorf("metrics update failed for committed submission %s: %v", result.ID, err)
		return nil, fmt.Errorf("failed to update metrics for submission %s: %w", result.ID, err)
	}

	rankingChanged := result.InsightScore != 0 || result.FirstSolved
	e.afterCommit(ctx, result, rankingChanged)
	return &Result{
		ID:             result.ID,
		Status:         result.Status,
		Score:          result.Score,
		IsBest:         result.IsBest,
		Message:        result.Message,
		RankingChanged: rankingChanged,
	}, nil
}

func (e *Engine) storeRun(db *gorm.DB, queued *models.QueuedSubmission, verdict *judge.Verdict, status models.Status, score float64) (*Result, error) {
	run := &models.Run{
		ID:         queued.ID,
		CreatedAt:  queued.CreatedAt,
		UserID:     queued.UserID,
		CourseID:   queued.CourseID,
		ExerciseID: queued.ExerciseID,
		Code:       queued.Code,
		Language:   queued.Language,
		Status:     status,
		Score:      score,
		Time:       verdict.Time,
		Memory:     verdict.Memory,
		Message:    verdict.Message,
	}
	err := db.Transaction(func(tx *gorm.DB) error {
		if err := database.CreateRun(tx, run); err != nil {
			return err
		}
		if err := insights.Record(tx, insights.Runs, queued.CourseID, queued.ExerciseID, e.dayKey(queued.CreatedAt), 1); err != nil {
			return err
		}
		return database.DeleteQueuedSubmission(tx, queued.ID)
	})
	if err != nil {
		return nil, err
	}

	metrics.RunsProcessed.Inc()
	e.broker.PublishStatus(pubsub.StatusMessage{
		SubmissionID: run.ID, Status: string(run.Status), Score: run.Score, Message: run.Message, Final: true,
	})
	e.broker.CloseTopic(run.ID)
	return &Result{ID: run.ID, TestRun: true, Status: status, Score: score, Message: run.Message}, nil
}

// storeResult persists the result, moves the code to its private record and removes the queue entry.
func (e *Engine) storeResult(tx *gorm.DB, queued *models.QueuedSubmission, result *models.Submission) error {
	if err := database.CreateSubmission(tx, result); err != nil {
		return err
	}
	if err := database.CreateSubmissionCode(tx, &models.SubmissionCode{
		SubmissionID: result.ID,
		CreatedAt:    result.CreatedAt,
		UserID:       result.UserID,
		Code:         queued.Code,
		Language:     queued.Language,
	}); err != nil {
		return err
	}
	return database.DeleteQueuedSubmission(tx, queued.ID)
}

// recordResult is the first transaction: best submission swap, code, insights, activity and unlocks.
func (e *Engine) recordResult(tx *gorm.DB, queued *models.QueuedSubmission, exercise *catalog.Exercise, result *models.Submission, day string) error {
	bests, err := database.GetBestSubmissions(tx, result.UserID, result.ExerciseID)
	if err != nil {
		return err
	}
	if len(bests) > 1 {
		return fmt.Errorf("%w: user %s, exercise %s has %d", ErrMultipleBest, result.UserID, result.ExerciseID, len(bests))
	}

	var gain float64
	if len(bests) == 0 {
		result.IsBest = true
		gain = result.Score
	} else if prev := &bests[0]; isBetter(result, prev) {
		result.IsBest = true
		gain = result.Score - prev.Score
		if err := database.SetSubmissionBest(tx, prev.ID, false); err != nil {
			return err
		}
	}

	alreadySolved, err := database.HasSolved(tx, result.UserID, result.ExerciseID)
	if err != nil {
		return err
	}
	result.FirstSolved = result.Status == models.StatusSolved && !alreadySolved
	result.InsightScore = gain

	if result.FirstSolved {
		unlocked, err := e.unlock(tx, result.UserID, exercise, day)
		if err != nil {
			return err
		}
		if len(unlocked) > 0 {
			msg := fmt.Sprintf("Congratulations! You have unlocked the course %s.", strings.Join(unlocked, ", "))
			if result.Message != "" {
				result.Message += "\n"
			}
			result.Message += msg
		}
	}

	if err := e.storeResult(tx, queued, result); err != nil {
		return err
	}

	if err := insights.Record(tx, insights.Submissions, result.CourseID, result.ExerciseID, day, 1); err != nil {
		return err
	}
	if gain != 0 {
		if err := insights.Record(tx, insights.TotalScore, result.CourseID, result.ExerciseID, day, gain); err != nil {
			return err
		}
	}
	if !result.FirstSolved {
		return nil
	}
	if err := insights.Record(tx, insights.Solved, result.CourseID, result.ExerciseID, day, 1); err != nil {
		return err
	}
	local := result.CreatedAt.In(e.loc)
	if err := database.IncrementActivity(tx, result.UserID, day, local.Year()); err != nil {
		return err
	}
	_, err = database.TouchStreak(tx, result.UserID, local)
	return err
}

// unlock enrolls the user in every course the exercise unlocks and returns the titles of the new ones.
func (e *Engine) unlock(tx *gorm.DB, userID string, exercise *catalog.Exercise, day string) ([]string, error) {
	var unlocked []string
	for _, courseID := range exercise.UnlockContent {
		isNew, err := insights.RecordNewUser(tx, userID, courseID, day)
		if err != nil {
			return nil, err
		}
		if !isNew {
			continue
		}
		title := courseID
		if c, err := e.catalog.Course(courseID); err == nil && c.Title != "" {
			title = c.Title
		}
		unlocked = append(unlocked, title)
	}
	return unlocked, nil
}

// updateMetrics is the second transaction. Each metric reads its stored exercise value as prev.
func (e *Engine) updateMetrics(tx *gorm.DB, course *catalog.Course, exercise *catalog.Exercise, result *models.Submission) error {
	base := progress.MetricUpdate{
		UserID:          result.UserID,
		UserDisplayName: result.UserDisplayName,
		CourseID:        result.CourseID,
		ExerciseID:      result.ExerciseID,
		Level:           exercise.Level,
		ScheduledAt:     result.CreatedAt,
		Location:        e.loc,
	}
	apply := func(m progress.Metric, cur float64, status models.Status) error {
		prev, err := progress.ReadExerciseValue(tx, m, result.CourseID, result.UserID, result.ExerciseID)
		if err != nil {
			return err
		}
		u := base
		u.Metric, u.Prev, u.Cur, u.Status = m, prev, cur, status
		if m == progress.Attempts {
			u.Cur = prev + 1
		}
		return progress.UpdateMetric(tx, u)
	}

	scoreMetric := progress.Score
	if course.Frozen(result.CreatedAt) {
		scoreMetric = progress.UpsolveScore
	}
	if err := apply(scoreMetric, result.Score, result.Status); err != nil {
		return err
	}
	local := result.CreatedAt.In(e.loc)
	for _, w := range e.windows {
		if err := apply(progress.Windowed(w, local), result.Score, result.Status); err != nil {
			return err
		}
	}
	var solved float64
	if result.Status == models.StatusSolved {
		solved = 1
	}
	if err := apply(progress.Solved, solved, result.Status); err != nil {
		return err
	}
	return apply(progress.Attempts, 0, result.Status)
}

func (e *Engine) afterCommit(ctx context.Context, result *models.Submission, rankingChanged bool) {
	metrics.IncSubmission(string(result.Status))
	e.broker.PublishStatus(pubsub.StatusMessage{
		SubmissionID: result.ID,
		Status:       string(result.Status),
		Score:        result.Score,
		Message:      result.Message,
		Final:        true,
	})
	e.broker.CloseTopic(result.ID)

	now := e.now()
	e.events.SubmissionJudged(ctx, events.NewSubmissionJudged(result, now))
	if rankingChanged {
		e.events.LeaderboardUpdated(ctx, events.NewLeaderboardUpdated(result.CourseID, now))
	}
	zap.S().Infof("submission %s for exercise %s graded %s with score %.2f (best: %t)",
		result.ID, result.ExerciseID, result.Status, result.Score, result.IsBest)
}
