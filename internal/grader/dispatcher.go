package grader

import (
	"context"
	"fmt"
	"time"

	"github.com/ZJUSCT/CSLearn/internal/database"
	"github.com/ZJUSCT/CSLearn/internal/database/models"
	"github.com/ZJUSCT/CSLearn/internal/judge"
	"github.com/ZJUSCT/CSLearn/internal/metrics"
	"github.com/ZJUSCT/CSLearn/internal/pubsub"
	"github.com/ZJUSCT/CSLearn/internal/submission"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Dispatcher struct {
	engine  *submission.Engine
	judge   judge.Judge
	retries int
	backoff time.Duration
}

func NewDispatcher(engine *submission.Engine, j judge.Judge, retries int, backoff time.Duration) *Dispatcher {
	return &Dispatcher{engine: engine, judge: j, retries: retries, backoff: backoff}
}

// claim moves sub to Checking and, in the same transaction, checks its attempt limit. Entries
// that are already being checked count as used attempts, so concurrent workers cannot judge
// more than allowed. A non-nil verdict means the limit is reached and the judge is skipped.
func (d *Dispatcher) claim(sub *models.QueuedSubmission) (bool, *judge.Verdict, error) {
	allowed := 0
	if exercise, err := d.engine.Catalog().Exercise(sub.ExerciseID); err == nil {
		allowed = exercise.AllowedAttempts
	}
	var claimed bool
	var limit *judge.Verdict
	err := d.engine.DB().Transaction(func(tx *gorm.DB) error {
		ok, err := database.ClaimQueuedSubmission(tx, sub.ID)
		if err != nil || !ok {
			return err
		}
		claimed = true
		if sub.IsTestRun || allowed <= 0 {
			return nil
		}
		used, err := database.CountAttempts(tx, sub.UserID, sub.ExerciseID, sub.ID)
		if err != nil {
			return err
		}
		if used >= int64(allowed) {
			limit = &judge.Verdict{
				Status:  judge.StatusList{models.StatusUnavailable},
				Message: fmt.Sprintf("You have used all %d allowed attempts for this exercise.", allowed),
			}
		}
		return nil
	})
	if err != nil {
		return false, nil, err
	}
	return claimed, limit, nil
}

// Dispatch grades one claimed submission and hands the verdict to the result processor. A non-nil
// limit verdict is processed as is without calling the judge.
func (d *Dispatcher) Dispatch(ctx context.Context, sub *models.QueuedSubmission, limit *judge.Verdict) {
	zap.S().Infof("dispatching submission %s", sub.ID)

	exercise, err := d.engine.Catalog().Exercise(sub.ExerciseID)
	if err != nil {
		d.failSubmission(sub, fmt.Sprintf("exercise %s is not available: %v", sub.ExerciseID, err))
		return
	}

	verdict := limit
	if verdict == nil {
		verdict, err = d.judgeWithRetry(ctx, judge.NewRequest(exercise, sub.Code, sub.Language))
		if err != nil {
			metrics.JudgeFailures.Inc()
			d.failSubmission(sub, fmt.Sprintf("judge unavailable: %v", err))
			return
		}
		if _, err := verdict.Reduce(); err != nil {
			metrics.JudgeFailures.Inc()
			d.failSubmission(sub, fmt.Sprintf("invalid judge verdict: %v", err))
			return
		}
	}

	if _, err := d.engine.ProcessResult(ctx, verdict, sub.UserID, sub.ID); err != nil {
		// Left in Checking for manual inspection. Nothing more is published for it.
		zap.S().Errorf("failed to process result of submission %s: %v", sub.ID, err)
		d.engine.Broker().CloseTopic(sub.ID)
	}
}

func (d *Dispatcher) judgeWithRetry(ctx context.Context, req judge.Request) (*judge.Verdict, error) {
	var lastErr error
	for attempt := 0; attempt <= d.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * d.backoff):
			}
		}
		verdict, err := d.judge.Judge(ctx, req)
		if err == nil {
			return verdict, nil
		}
		lastErr = err
		zap.S().Warnf("judge call %d/%d failed: %v", attempt+1, d.retries+1, err)
	}
	return nil, lastErr
}

func (d *Dispatcher) failSubmission(sub *models.QueuedSubmission, reason string) {
	zap.S().Errorf("grading of submission %s failed: %s", sub.ID, reason)
	if err := database.UpdateQueuedSubmissionStatus(d.engine.DB(), sub.ID, models.StatusGradingFailed, reason); err != nil {
		zap.S().Errorf("failed to mark submission %s as failed: %v", sub.ID, err)
	}
	broker := d.engine.Broker()
	broker.PublishStatus(pubsub.StatusMessage{
		SubmissionID: sub.ID, Status: string(models.StatusGradingFailed), Message: reason, Final: true,
	})
	broker.CloseTopic(sub.ID)
}
