package grader

import (
	"context"
	"sync"
	"time"

	"github.com/ZJUSCT/CSLearn/internal/database"
	"github.com/ZJUSCT/CSLearn/internal/database/models"
	"github.com/ZJUSCT/CSLearn/internal/judge"
	"github.com/ZJUSCT/CSLearn/internal/pubsub"
	"github.com/ZJUSCT/CSLearn/internal/submission"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Options struct {
	Workers   int
	QueueSize int
	// Retries is the number of extra judge calls after a failed one.
	Retries int
	Backoff time.Duration
}

// Scheduler feeds queued submissions to a fixed pool of workers.
type Scheduler struct {
	db         *gorm.DB
	engine     *submission.Engine
	queue      chan string
	workers    int
	dispatcher *Dispatcher
}

func NewScheduler(engine *submission.Engine, j judge.Judge, opts Options) *Scheduler {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	if opts.Backoff <= 0 {
		opts.Backoff = time.Second
	}
	s := &Scheduler{
		db:      engine.DB(),
		engine:  engine,
		queue:   make(chan string, opts.QueueSize),
		workers: opts.Workers,
	}
	s.dispatcher = NewDispatcher(engine, j, opts.Retries, opts.Backoff)
	return s
}

// Submit queues a submission for grading. When the queue is full the entry stays Queued in
// the database and is picked up again on the next start.
func (s *Scheduler) Submit(submissionID string) bool {
	select {
	case s.queue <- submissionID:
		zap.S().Infof("submission %s added to queue", submissionID)
		return true
	default:
		zap.S().Warnf("grading queue is full, submission %s stays pending", submissionID)
		return false
	}
}

// Run starts the workers and blocks until ctx is cancelled and they have returned.
func (s *Scheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case id := <-s.queue:
					s.process(ctx, id)
				}
			}
		}()
	}
	zap.S().Infof("grader started with %d workers", s.workers)
	wg.Wait()
	zap.S().Info("grader stopped")
}

func (s *Scheduler) process(ctx context.Context, id string) {
	// Refetch from DB, the entry may have been graded or re-evaluated while in queue.
	sub, err := database.GetQueuedSubmission(s.db, id)
	if err != nil {
		zap.S().Warnf("failed to refetch submission %s from DB: %v", id, err)
		return
	}
	if sub.Status != models.StatusQueued {
		zap.S().Infof("submission %s is no longer queued (%s), skipping", sub.ID, sub.Status)
		return
	}

	claimed, limit, err := s.dispatcher.claim(sub)
	if err != nil {
		zap.S().Errorf("failed to mark submission %s as checking: %v", sub.ID, err)
		return
	}
	if !claimed {
		zap.S().Infof("submission %s was taken by another worker, skipping", sub.ID)
		return
	}
	sub.Status = models.StatusChecking
	s.engine.Broker().PublishStatus(pubsub.StatusMessage{SubmissionID: sub.ID, Status: string(sub.Status)})

	s.dispatcher.Dispatch(ctx, sub, limit)
}
