package models

import "time"

type Status string

const (
	StatusQueued            Status = "Queued"
	StatusChecking          Status = "Checking"
	StatusSolved            Status = "Solved"
	StatusWrongAnswer       Status = "Wrong answer"
	StatusTimeLimitExceeded Status = "Time limit exceeded"
	StatusRuntimeError      Status = "Runtime error"
	StatusCompilationError  Status = "Compilation error"
	StatusUnavailable       Status = "Unavailable"
	// StatusGradingFailed is only ever set on a queue entry, never on a result.
	StatusGradingFailed Status = "Grading failed"
)

// Final reports whether the status is a judge verdict or the attempts short-circuit.
func (s Status) Final() bool {
	switch s {
	case StatusSolved, StatusWrongAnswer, StatusTimeLimitExceeded,
		StatusRuntimeError, StatusCompilationError, StatusUnavailable:
		return true
	}
	return false
}

// QueuedSubmission is a submission waiting for (or undergoing) grading. It carries the
// source code until the processor moves it into SubmissionCode.
type QueuedSubmission struct {
	ID        string `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time
	UpdatedAt time.Time

	UserID          string `gorm:"index" json:"user_id"`
	UserDisplayName string `json:"user_display_name"`
	CourseID        string `gorm:"index" json:"course_id"`
	ExerciseID      string `gorm:"index" json:"exercise_id"`
	Code            string `json:"-"`
	Language        string `json:"language"`
	IsTestRun       bool   `json:"is_test_run"`
	Status          Status `gorm:"index" json:"status"`
	Message         string `json:"message"`
}

// Submission is a graded, non-test-run submission result.
type Submission struct {
	ID        string `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time
	UpdatedAt time.Time

	UserID          string  `gorm:"index:idx_user_exercise" json:"user_id"`
	UserDisplayName string  `json:"user_display_name"`
	CourseID        string  `gorm:"index" json:"course_id"`
	ExerciseID      string  `gorm:"index:idx_user_exercise" json:"exercise_id"`
	Language        string  `json:"language"`
	Status          Status  `json:"status"`
	Score           float64 `json:"score"`
	Time            float64 `json:"time"`
	Memory          float64 `json:"memory"`
	IsBest          bool    `gorm:"index" json:"is_best"`
	Message         string  `json:"message,omitempty"`

	// Insight contributions made when this result was recorded, replayed in reverse on re-evaluation.
	InsightScore float64 `json:"-"`
	FirstSolved  bool    `json:"-"`
}

// SubmissionCode is the sensitive part of a submission, visible to its author and instructors only.
type SubmissionCode struct {
	SubmissionID string `gorm:"primaryKey"`
	CreatedAt    time.Time
	UserID       string `gorm:"index"`
	Code         string
	Language     string
}

// Run is a private test run; it never affects ranking.
type Run struct {
	ID        string `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time

	UserID     string  `gorm:"index" json:"user_id"`
	CourseID   string  `json:"course_id"`
	ExerciseID string  `json:"exercise_id"`
	Code       string  `json:"-"`
	Language   string  `json:"language"`
	Status     Status  `json:"status"`
	Score      float64 `json:"score"`
	Time       float64 `json:"time"`
	Memory     float64 `json:"memory"`
	Message    string  `json:"message,omitempty"`
}

// Progress is the per course, per user aggregate.
type Progress struct {
	CourseID        string `gorm:"primaryKey" json:"course_id"`
	UserID          string `gorm:"primaryKey" json:"user_id"`
	UpdatedAt       time.Time
	UserDisplayName string  `json:"user_display_name"`
	Score           float64 `gorm:"index" json:"score"`
	UpsolveScore    float64 `gorm:"index" json:"upsolve_score"`
	Solved          float64 `gorm:"index" json:"solved"`
}

// WindowProgress is the course aggregate of one windowed metric bucket.
type WindowProgress struct {
	CourseID  string `gorm:"primaryKey;index:idx_window_rank,priority:1"`
	Metric    string `gorm:"primaryKey;index:idx_window_rank,priority:2"`
	UserID    string `gorm:"primaryKey"`
	UpdatedAt time.Time
	Value     float64 `gorm:"index:idx_window_rank,priority:3"`
}

// LevelProgress is the per level aggregate of one metric.
type LevelProgress struct {
	CourseID  string `gorm:"primaryKey"`
	UserID    string `gorm:"primaryKey"`
	Metric    string `gorm:"primaryKey"`
	Level     int    `gorm:"primaryKey;autoIncrement:false"`
	UpdatedAt time.Time
	Value     float64
}

// ExerciseProgress holds the latest accepted value of one metric for one exercise. User, course
// and level are denormalized so all users of a level can be read with one indexed query.
type ExerciseProgress struct {
	CourseID   string `gorm:"primaryKey;index:idx_level_metric,priority:1"`
	UserID     string `gorm:"primaryKey"`
	Metric     string `gorm:"primaryKey;index:idx_level_metric,priority:3"`
	ExerciseID string `gorm:"primaryKey"`
	Level      int    `gorm:"index:idx_level_metric,priority:2"`
	UpdatedAt  time.Time
	Value      float64
	Status     Status
}

// Insight is an analytics counter document. ExerciseID is empty for course insights,
// Day is "overall" for all-time counters.
type Insight struct {
	CourseID    string `gorm:"primaryKey" json:"course_id"`
	ExerciseID  string `gorm:"primaryKey" json:"exercise_id"`
	Day         string `gorm:"primaryKey" json:"day"`
	UpdatedAt   time.Time
	Runs        float64 `json:"runs"`
	Submissions float64 `json:"submissions"`
	Solved      float64 `json:"solved"`
	Users       float64 `json:"users"`
	TotalScore  float64 `json:"total_score"`
}

// DeferredUpdate is a pending numeric delta against one aggregate row.
type DeferredUpdate struct {
	ID        uint `gorm:"primaryKey"`
	CreatedAt time.Time
	Target    string
	CourseID  string
	UserID    string
	Metric    string
	Level     int
	Diff      float64
	UpdateAt  time.Time `gorm:"index"`
}

// UserCourse lists the courses a user has joined or completed.
type UserCourse struct {
	UserID    string `gorm:"primaryKey" json:"user_id"`
	CourseID  string `gorm:"primaryKey" json:"course_id"`
	CreatedAt time.Time
	Completed bool `json:"completed"`
}

// Activity counts first-time solves per user per calendar day.
type Activity struct {
	UserID string `gorm:"primaryKey" json:"user_id"`
	Day    string `gorm:"primaryKey" json:"day"`
	Year   int    `gorm:"index" json:"year"`
	Solved int    `json:"solved"`
}

// Streak tracks consecutive active days.
type Streak struct {
	UserID    string `gorm:"primaryKey" json:"user_id"`
	UpdatedAt time.Time
	Current   int    `json:"current"`
	Longest   int    `json:"longest"`
	LastDay   string `json:"last_day"`
}
