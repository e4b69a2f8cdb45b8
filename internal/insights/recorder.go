package insights

import (
	"errors"
	"fmt"
	"time"

	"github.com/ZJUSCT/CSLearn/internal/database"
	"github.com/ZJUSCT/CSLearn/internal/database/models"
	"gorm.io/gorm"
)

// Metric is one insight counter.
type Metric string

const (
	Runs        Metric = "runs"
	Submissions Metric = "submissions"
	Solved      Metric = "solved"
	Users       Metric = "users"
	TotalScore  Metric = "totalScore"
)

// Overall is the day key of all-time counters.
const Overall = "overall"

var ErrUnknownMetric = errors.New("unknown insight metric")

func (m Metric) column() (string, error) {
	switch m {
	case Runs, Submissions, Solved, Users:
		return string(m), nil
	case TotalScore:
		return "total_score", nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMetric, m)
}

// DayKey formats the calendar day of t in loc.
func DayKey(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format("2006-01-02")
}

// Record adds value to the metric on the course day counter, the course overall counter and,
// when exerciseID is set, the exercise overall counter. date must already be a day key.
func Record(tx *gorm.DB, metric Metric, courseID, exerciseID, date string, value float64) error {
	col, err := metric.column()
	if err != nil {
		return err
	}
	if err := database.IncrementInsight(tx, courseID, "", date, col, value); err != nil {
		return err
	}
	if err := database.IncrementInsight(tx, courseID, "", Overall, col, value); err != nil {
		return err
	}
	if exerciseID == "" {
		return nil
	}
	return database.IncrementInsight(tx, courseID, exerciseID, Overall, col, value)
}

// RecordNewUser enrolls the user in the course and counts it, unless the user already has
// the course in their list. It reports whether the user was new.
func RecordNewUser(tx *gorm.DB, userID, courseID, date string) (bool, error) {
	existing, err := database.GetUserCourse(tx, userID, courseID)
	if err != nil {
		return false, err
	}
	if existing != nil {
		return false, nil
	}
	if err := database.CreateUserCourse(tx, &models.UserCourse{UserID: userID, CourseID: courseID}); err != nil {
		return false, err
	}
	if err := Record(tx, Users, courseID, "", date, 1); err != nil {
		return false, err
	}
	return true, nil
}

// Get returns the counters at one location; a missing document reads as zero.
func Get(db *gorm.DB, courseID, exerciseID, day string) (*models.Insight, error) {
	if day == "" {
		day = Overall
	}
	in, err := database.GetInsight(db, courseID, exerciseID, day)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &models.Insight{CourseID: courseID, ExerciseID: exerciseID, Day: day}, nil
	}
	return in, err
}
