package grader

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ZJUSCT/CSLearn/internal/catalog"
	"github.com/ZJUSCT/CSLearn/internal/database"
	"github.com/ZJUSCT/CSLearn/internal/database/models"
	"github.com/ZJUSCT/CSLearn/internal/judge"
	"github.com/ZJUSCT/CSLearn/internal/pubsub"
	"github.com/ZJUSCT/CSLearn/internal/submission"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakeJudge struct {
	mu      sync.Mutex
	calls   int
	verdict *judge.Verdict
	err     error
	delay   time.Duration
	onJudge func()
}

func (f *fakeJudge) Judge(ctx context.Context, req judge.Request) (*judge.Verdict, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.onJudge != nil {
		f.onJudge()
	}
	if f.err != nil {
		return nil, f.err
	}
	v := *f.verdict
	return &v, nil
}

func (f *fakeJudge) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestScheduler(t *testing.T, j judge.Judge, retries int) (*Scheduler, *submission.Engine, *gorm.DB) {
	t.Helper()
	db, err := database.Init(":memory:")
	require.NoError(t, err)

	cat := catalog.New("")
	cat.Replace(
		map[string]*catalog.Course{"c1": {ID: "c1", Title: "Intro"}},
		map[string]*catalog.Exercise{
			"e1": {ID: "e1", CourseID: "c1", Level: 1, Score: 100},
			"e3": {ID: "e3", CourseID: "c1", Level: 1, Score: 100, AllowedAttempts: 2},
		},
	)
	eng := submission.NewEngine(db, cat, submission.Options{Broker: pubsub.NewBroker()})
	s := NewScheduler(eng, j, Options{Workers: 2, QueueSize: 16, Retries: retries, Backoff: time.Millisecond})
	return s, eng, db
}

func enqueue(t *testing.T, eng *submission.Engine, exercise string) *models.QueuedSubmission {
	t.Helper()
	sub, err := eng.Enqueue(context.Background(), submission.Request{UserID: "u1", ExerciseID: exercise, Code: "x", Language: "go"})
	require.NoError(t, err)
	return sub
}

func TestDispatch_AttemptLimit(t *testing.T) {
	j := &fakeJudge{verdict: &judge.Verdict{Status: judge.StatusList{models.StatusWrongAnswer}, Score: 10}}
	s, eng, db := newTestScheduler(t, j, 0)

	var ids []string
	for i := 0; i < 3; i++ {
		sub := enqueue(t, eng, "e3")
		s.process(context.Background(), sub.ID)
		ids = append(ids, sub.ID)
	}

	assert.Equal(t, 2, j.Calls())
	third, err := database.GetSubmission(db, ids[2])
	require.NoError(t, err)
	assert.Equal(t, models.StatusUnavailable, third.Status)
	assert.Contains(t, third.Message, "allowed attempts")
	assert.False(t, third.IsBest)
}

func TestRun_AttemptLimitUnderConcurrency(t *testing.T) {
	j := &fakeJudge{verdict: &judge.Verdict{Status: judge.StatusList{models.StatusWrongAnswer}, Score: 10}, delay: 100 * time.Millisecond}
	_, eng, db := newTestScheduler(t, j, 0)
	s := NewScheduler(eng, j, Options{Workers: 3, QueueSize: 16, Backoff: time.Millisecond})

	for i := 0; i < 3; i++ {
		sub := enqueue(t, eng, "e3")
		require.True(t, s.Submit(sub.ID))
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		var n int64
		db.Model(&models.Submission{}).Where("exercise_id = ?", "e3").Count(&n)
		return n == 3
	}, 5*time.Second, 10*time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, 2, j.Calls())
	var unavailable int64
	require.NoError(t, db.Model(&models.Submission{}).
		Where("exercise_id = ? AND status = ?", "e3", models.StatusUnavailable).Count(&unavailable).Error)
	assert.EqualValues(t, 1, unavailable)
}

func TestProcess_ClaimIsExclusive(t *testing.T) {
	j := &fakeJudge{verdict: &judge.Verdict{Status: judge.StatusList{models.StatusSolved}, Score: 100}}
	s, eng, db := newTestScheduler(t, j, 0)

	sub := enqueue(t, eng, "e1")
	claimed, limit, err := s.dispatcher.claim(sub)
	require.NoError(t, err)
	assert.True(t, claimed)
	assert.Nil(t, limit)

	claimed, _, err = s.dispatcher.claim(sub)
	require.NoError(t, err)
	assert.False(t, claimed)

	q, err := database.GetQueuedSubmission(db, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusChecking, q.Status)
}

func TestDispatch_TestRunsIgnoreAttemptLimit(t *testing.T) {
	j := &fakeJudge{verdict: &judge.Verdict{Status: judge.StatusList{models.StatusSolved}, Score: 100}}
	s, eng, _ := newTestScheduler(t, j, 0)

	for i := 0; i < 3; i++ {
		sub, err := eng.Enqueue(context.Background(), submission.Request{UserID: "u1", ExerciseID: "e3", Code: "x", Language: "go", TestRun: true})
		require.NoError(t, err)
		s.process(context.Background(), sub.ID)
	}
	assert.Equal(t, 3, j.Calls())
}

func TestDispatch_JudgeFailureMarksGradingFailed(t *testing.T) {
	j := &fakeJudge{err: errors.New("connection refused")}
	s, eng, db := newTestScheduler(t, j, 2)

	sub := enqueue(t, eng, "e1")
	s.process(context.Background(), sub.ID)

	assert.Equal(t, 3, j.Calls())
	q, err := database.GetQueuedSubmission(db, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusGradingFailed, q.Status)
	assert.Contains(t, q.Message, "connection refused")

	_, err = database.GetSubmission(db, sub.ID)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestDispatch_UnknownVerdictStatusFails(t *testing.T) {
	j := &fakeJudge{verdict: &judge.Verdict{Status: judge.StatusList{"Accepted"}, Score: 100}}
	s, eng, db := newTestScheduler(t, j, 0)

	sub := enqueue(t, eng, "e1")
	s.process(context.Background(), sub.ID)

	q, err := database.GetQueuedSubmission(db, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusGradingFailed, q.Status)
	assert.Contains(t, q.Message, "invalid judge verdict")
}

func TestDispatch_ProcessFailureClosesTopic(t *testing.T) {
	j := &fakeJudge{verdict: &judge.Verdict{Status: judge.StatusList{models.StatusSolved}, Score: 100}}
	s, eng, db := newTestScheduler(t, j, 0)

	sub := enqueue(t, eng, "e1")
	j.onJudge = func() {
		require.NoError(t, database.DeleteQueuedSubmission(db, sub.ID))
	}
	ch, unsubscribe := eng.Broker().Subscribe(sub.ID)
	defer unsubscribe()

	s.process(context.Background(), sub.ID)

	msg, ok := <-ch
	require.True(t, ok)
	assert.Contains(t, string(msg), string(models.StatusChecking))
	_, ok = <-ch
	assert.False(t, ok, "topic should be closed")

	late, unsubscribeLate := eng.Broker().Subscribe(sub.ID)
	defer unsubscribeLate()
	assert.Len(t, late, 0)
}

func TestProcess_SkipsNonQueued(t *testing.T) {
	j := &fakeJudge{verdict: &judge.Verdict{Status: judge.StatusList{models.StatusSolved}, Score: 100}}
	s, eng, db := newTestScheduler(t, j, 0)

	sub := enqueue(t, eng, "e1")
	require.NoError(t, database.UpdateQueuedSubmissionStatus(db, sub.ID, models.StatusGradingFailed, "x"))
	s.process(context.Background(), sub.ID)
	assert.Zero(t, j.Calls())
}

func TestRecoveryAndRequeue(t *testing.T) {
	j := &fakeJudge{verdict: &judge.Verdict{Status: judge.StatusList{models.StatusSolved}, Score: 100}}
	s, eng, db := newTestScheduler(t, j, 0)

	a := enqueue(t, eng, "e1")
	enqueue(t, eng, "e1")
	require.NoError(t, database.UpdateQueuedSubmissionStatus(db, a.ID, models.StatusChecking, ""))

	require.NoError(t, RecoverInterrupted(db))
	q, err := database.GetQueuedSubmission(db, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusQueued, q.Status)

	require.NoError(t, RequeuePending(db, s))
	assert.Len(t, s.queue, 2)
}

func TestRun_GradesSubmittedWork(t *testing.T) {
	j := &fakeJudge{verdict: &judge.Verdict{Status: judge.StatusList{models.StatusSolved}, Score: 100, Time: 0.2}}
	s, eng, db := newTestScheduler(t, j, 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	sub := enqueue(t, eng, "e1")
	require.True(t, s.Submit(sub.ID))

	assert.Eventually(t, func() bool {
		res, err := database.GetSubmission(db, sub.ID)
		return err == nil && res.Status == models.StatusSolved
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}
