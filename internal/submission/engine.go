package submission

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ZJUSCT/CSLearn/internal/catalog"
	"github.com/ZJUSCT/CSLearn/internal/database"
	"github.com/ZJUSCT/CSLearn/internal/database/models"
	"github.com/ZJUSCT/CSLearn/internal/events"
	"github.com/ZJUSCT/CSLearn/internal/insights"
	"github.com/ZJUSCT/CSLearn/internal/progress"
	"github.com/ZJUSCT/CSLearn/internal/pubsub"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrNilVerdict         = errors.New("verdict is nil")
	ErrMultipleBest       = errors.New("more than one best submission")
	ErrSubmissionNotFound = errors.New("submission not found")
	ErrInvalidSubmission  = errors.New("invalid submission")
)

type Options struct {
	// Windows are the windowed score variants maintained for every graded submission.
	Windows  []progress.Window
	Location *time.Location
	Broker   *pubsub.Broker
	Events   events.Publisher
}

// Engine owns the lifecycle of a submission from the queue to the aggregates.
type Engine struct {
	db      *gorm.DB
	catalog *catalog.Catalog
	windows []progress.Window
	loc     *time.Location
	broker  *pubsub.Broker
	events  events.Publisher
	now     func() time.Time
}

func NewEngine(db *gorm.DB, cat *catalog.Catalog, opts Options) *Engine {
	e := &Engine{
		db:      db,
		catalog: cat,
		windows: opts.Windows,
		loc:     opts.Location,
		broker:  opts.Broker,
		events:  opts.Events,
		now:     time.Now,
	}
	if e.loc == nil {
		e.loc = time.UTC
	}
	if e.broker == nil {
		e.broker = pubsub.GetBroker()
	}
	if e.events == nil {
		e.events = events.Noop{}
	}
	return e
}

func (e *Engine) DB() *gorm.DB {
	return e.db
}

func (e *Engine) Catalog() *catalog.Catalog {
	return e.catalog
}

func (e *Engine) Broker() *pubsub.Broker {
	return e.broker
}

// Location is the timezone of calendar keys.
func (e *Engine) Location() *time.Location {
	return e.loc
}

func (e *Engine) dayKey(t time.Time) string {
	return insights.DayKey(t, e.loc)
}

type Request struct {
	UserID          string
	UserDisplayName string
	ExerciseID      string
	Code            string
	Language        string
	TestRun         bool
}

// Enqueue validates the request and stores it as a queued submission.
func (e *Engine) Enqueue(ctx context.Context, req Request) (*models.QueuedSubmission, error) {
	if req.UserID == "" || strings.TrimSpace(req.Code) == "" || req.Language == "" {
		return nil, fmt.Errorf("%w: user, code and language are required", ErrInvalidSubmission)
	}
	exercise, err := e.catalog.Exercise(req.ExerciseID)
	if err != nil {
		return nil, err
	}
	if _, err := e.catalog.Course(exercise.CourseID); err != nil {
		return nil, err
	}

	sub := &models.QueuedSubmission{
		ID:              uuid.NewString(),
		CreatedAt:       e.now().UTC(),
		UserID:          req.UserID,
		UserDisplayName: req.UserDisplayName,
		CourseID:        exercise.CourseID,
		ExerciseID:      exercise.ID,
		Code:            req.Code,
		Language:        req.Language,
		IsTestRun:       req.TestRun,
		Status:          models.StatusQueued,
	}
	if err := database.CreateQueuedSubmission(e.db.WithContext(ctx), sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// Join enrolls the user in a course and creates their ranking row.
func (e *Engine) Join(ctx context.Context, userID, displayName, courseID string) (bool, error) {
	if _, err := e.catalog.Course(courseID); err != nil {
		return false, err
	}
	var joined bool
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		joined, err = insights.RecordNewUser(tx, userID, courseID, e.dayKey(e.now()))
		if err != nil {
			return err
		}
		return database.IncrementProgress(tx, courseID, userID, displayName, "score", 0)
	})
	return joined, err
}

// Lookup returns the public view of a submission, queued or graded.
func (e *Engine) Lookup(ctx context.Context, id string) (*View, error) {
	db := e.db.WithContext(ctx)
	if sub, err := database.GetSubmission(db, id); err == nil {
		return viewOfResult(sub), nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	if run, err := database.GetRun(db, id); err == nil {
		return viewOfRun(run), nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	queued, err := database.GetQueuedSubmission(db, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSubmissionNotFound
	}
	if err != nil {
		return nil, err
	}
	return viewOfQueued(queued), nil
}

// View is a submission without its code.
type View struct {
	ID         string        `json:"id"`
	UserID     string        `json:"user_id"`
	CourseID   string        `json:"course_id"`
	ExerciseID string        `json:"exercise_id"`
	Language   string        `json:"language"`
	IsTestRun  bool          `json:"is_test_run"`
	Status     models.Status `json:"status"`
	Score      float64       `json:"score"`
	Time       float64       `json:"time"`
	Memory     float64       `json:"memory"`
	IsBest     bool          `json:"is_best"`
	Message    string        `json:"message,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
	Final      bool          `json:"final"`
}

func viewOfResult(s *models.Submission) *View {
	return &View{
		ID: s.ID, UserID: s.UserID, CourseID: s.CourseID, ExerciseID: s.ExerciseID,
		Language: s.Language, Status: s.Status, Score: s.Score, Time: s.Time, Memory: s.Memory,
		IsBest: s.IsBest, Message: s.Message, CreatedAt: s.CreatedAt, Final: true,
	}
}

func viewOfRun(r *models.Run) *View {
	return &View{
		ID: r.ID, UserID: r.UserID, CourseID: r.CourseID, ExerciseID: r.ExerciseID,
		Language: r.Language, IsTestRun: true, Status: r.Status, Score: r.Score, Time: r.Time,
		Memory: r.Memory, Message: r.Message, CreatedAt: r.CreatedAt, Final: true,
	}
}

func viewOfQueued(q *models.QueuedSubmission) *View {
	return &View{
		ID: q.ID, UserID: q.UserID, CourseID: q.CourseID, ExerciseID: q.ExerciseID,
		Language: q.Language, IsTestRun: q.IsTestRun, Status: q.Status, Message: q.Message,
		CreatedAt: q.CreatedAt, Final: q.Status == models.StatusGradingFailed,
	}
}
