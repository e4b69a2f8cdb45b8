package database

import (
	"errors"
	"fmt"
	"time"

	"github.com/ZJUSCT/CSLearn/internal/database/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// FindOne loads the first row matching query into dest. A miss returns gorm.ErrRecordNotFound
// without going through First, which logs every miss.
func FindOne(db *gorm.DB, dest interface{}, query string, args ...interface{}) error {
	result := db.Where(query, args...).Limit(1).Find(dest)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// Queued submission CRUD
func CreateQueuedSubmission(db *gorm.DB, sub *models.QueuedSubmission) error {
	return db.Create(sub).Error
}

func GetQueuedSubmission(db *gorm.DB, id string) (*models.QueuedSubmission, error) {
	var sub models.QueuedSubmission
	if err := FindOne(db, &sub, "id = ?", id); err != nil {
		return nil, err
	}
	return &sub, nil
}

func GetQueuedSubmissionsByStatus(db *gorm.DB, status models.Status) ([]models.QueuedSubmission, error) {
	var subs []models.QueuedSubmission
	if err := db.Where("status = ?", status).Order("created_at asc").Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}

func UpdateQueuedSubmissionStatus(db *gorm.DB, id string, status models.Status, message string) error {
	return db.Model(&models.QueuedSubmission{}).Where("id = ?", id).
		Updates(map[string]interface{}{"status": status, "message": message}).Error
}

// ClaimQueuedSubmission moves a Queued entry to Checking. It reports false when the entry is
// gone or was claimed by someone else.
func ClaimQueuedSubmission(db *gorm.DB, id string) (bool, error) {
	result := db.Model(&models.QueuedSubmission{}).
		Where("id = ? AND status = ?", id, models.StatusQueued).
		Updates(map[string]interface{}{"status": models.StatusChecking, "message": ""})
	return result.RowsAffected > 0, result.Error
}

// CountAttempts counts the graded results of the user for the exercise that used an attempt,
// plus the user's other entries for it that are being checked right now.
func CountAttempts(db *gorm.DB, userID, exerciseID, excludeID string) (int64, error) {
	var graded, checking int64
	if err := db.Model(&models.Submission{}).
		Where("user_id = ? AND exercise_id = ? AND status <> ?", userID, exerciseID, models.StatusUnavailable).
		Count(&graded).Error; err != nil {
		return 0, err
	}
	if err := db.Model(&models.QueuedSubmission{}).
		Where("user_id = ? AND exercise_id = ? AND status = ? AND is_test_run = ? AND id <> ?",
			userID, exerciseID, models.StatusChecking, false, excludeID).
		Count(&checking).Error; err != nil {
		return 0, err
	}
	return graded + checking, nil
}

func DeleteQueuedSubmission(db *gorm.DB, id string) error {
	return db.Delete(&models.QueuedSubmission{}, "id = ?", id).Error
}

// Submission result CRUD
func CreateSubmission(db *gorm.DB, sub *models.Submission) error {
	return db.Create(sub).Error
}

func GetSubmission(db *gorm.DB, id string) (*models.Submission, error) {
	var sub models.Submission
	if err := FindOne(db, &sub, "id = ?", id); err != nil {
		return nil, err
	}
	return &sub, nil
}

func GetBestSubmissions(db *gorm.DB, userID, exerciseID string) ([]models.Submission, error) {
	var subs []models.Submission
	if err := db.Where("user_id = ? AND exercise_id = ? AND is_best = ?", userID, exerciseID, true).
		Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}

func GetSubmissionsByExercise(db *gorm.DB, courseID, exerciseID string) ([]models.Submission, error) {
	var subs []models.Submission
	if err := db.Where("course_id = ? AND exercise_id = ?", courseID, exerciseID).
		Order("created_at asc").Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}

func SetSubmissionBest(db *gorm.DB, id string, isBest bool) error {
	return db.Model(&models.Submission{}).Where("id = ?", id).Update("is_best", isBest).Error
}

// HasSolved reports whether the user already holds a Solved result for the exercise.
func HasSolved(db *gorm.DB, userID, exerciseID string) (bool, error) {
	var count int64
	err := db.Model(&models.Submission{}).
		Where("user_id = ? AND exercise_id = ? AND status = ?", userID, exerciseID, models.StatusSolved).
		Count(&count).Error
	return count > 0, err
}

func DeleteSubmission(db *gorm.DB, id string) error {
	if err := db.Delete(&models.SubmissionCode{}, "submission_id = ?", id).Error; err != nil {
		return err
	}
	return db.Delete(&models.Submission{}, "id = ?", id).Error
}

func CreateSubmissionCode(db *gorm.DB, code *models.SubmissionCode) error {
	return db.Create(code).Error
}

func GetSubmissionCode(db *gorm.DB, id string) (*models.SubmissionCode, error) {
	var code models.SubmissionCode
	if err := FindOne(db, &code, "submission_id = ?", id); err != nil {
		return nil, err
	}
	return &code, nil
}

func CreateRun(db *gorm.DB, run *models.Run) error {
	return db.Create(run).Error
}

func GetRun(db *gorm.DB, id string) (*models.Run, error) {
	var run models.Run
	if err := FindOne(db, &run, "id = ?", id); err != nil {
		return nil, err
	}
	return &run, nil
}

// Aggregates. Every increment is a single upsert so concurrent writers never lose a delta.

var progressColumns = map[string]bool{"score": true, "upsolve_score": true, "solved": true}

func IncrementProgress(db *gorm.DB, courseID, userID, displayName, column string, delta float64) error {
	if !progressColumns[column] {
		return fmt.Errorf("unknown progress column %q", column)
	}
	row := models.Progress{CourseID: courseID, UserID: userID, UserDisplayName: displayName}
	switch column {
	case "score":
		row.Score = delta
	case "upsolve_score":
		row.UpsolveScore = delta
	case "solved":
		row.Solved = delta
	}
	updates := map[string]interface{}{
		column:       gorm.Expr(column+" + ?", delta),
		"updated_at": time.Now().UTC(),
	}
	if displayName != "" {
		updates["user_display_name"] = displayName
	}
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "course_id"}, {Name: "user_id"}},
		DoUpdates: clause.Assignments(updates),
	}).Create(&row).Error
}

func IncrementWindowProgress(db *gorm.DB, courseID, metric, userID string, delta float64) error {
	row := models.WindowProgress{CourseID: courseID, Metric: metric, UserID: userID, Value: delta}
	return db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "course_id"}, {Name: "metric"}, {Name: "user_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"value":      gorm.Expr("value + ?", delta),
			"updated_at": time.Now().UTC(),
		}),
	}).Create(&row).Error
}

func IncrementLevelProgress(db *gorm.DB, courseID, userID, metric string, level int, delta float64) error {
	row := models.LevelProgress{CourseID: courseID, UserID: userID, Metric: metric, Level: level, Value: delta}
	return db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "course_id"}, {Name: "user_id"}, {Name: "metric"}, {Name: "level"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"value":      gorm.Expr("value + ?", delta),
			"updated_at": time.Now().UTC(),
		}),
	}).Create(&row).Error
}

func UpsertExerciseProgress(db *gorm.DB, row *models.ExerciseProgress) error {
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "course_id"}, {Name: "user_id"}, {Name: "metric"}, {Name: "exercise_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"level", "value", "status", "updated_at"}),
	}).Create(row).Error
}

// GetExerciseProgress returns nil without error when the row does not exist.
func GetExerciseProgress(db *gorm.DB, courseID, userID, metric, exerciseID string) (*models.ExerciseProgress, error) {
	var row models.ExerciseProgress
	err := FindOne(db, &row, "course_id = ? AND user_id = ? AND metric = ? AND exercise_id = ?", courseID, userID, metric, exerciseID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

func GetProgress(db *gorm.DB, courseID, userID string) (*models.Progress, error) {
	var row models.Progress
	if err := FindOne(db, &row, "course_id = ? AND user_id = ?", courseID, userID); err != nil {
		return nil, err
	}
	return &row, nil
}

var insightColumns = map[string]bool{"runs": true, "submissions": true, "solved": true, "users": true, "total_score": true}

func IncrementInsight(db *gorm.DB, courseID, exerciseID, day, column string, delta float64) error {
	if !insightColumns[column] {
		return fmt.Errorf("unknown insight column %q", column)
	}
	row := models.Insight{CourseID: courseID, ExerciseID: exerciseID, Day: day}
	switch column {
	case "runs":
		row.Runs = delta
	case "submissions":
		row.Submissions = delta
	case "solved":
		row.Solved = delta
	case "users":
		row.Users = delta
	case "total_score":
		row.TotalScore = delta
	}
	return db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "course_id"}, {Name: "exercise_id"}, {Name: "day"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			column:       gorm.Expr(column+" + ?", delta),
			"updated_at": time.Now().UTC(),
		}),
	}).Create(&row).Error
}

func GetInsight(db *gorm.DB, courseID, exerciseID, day string) (*models.Insight, error) {
	var row models.Insight
	if err := FindOne(db, &row, "course_id = ? AND exercise_id = ? AND day = ?", courseID, exerciseID, day); err != nil {
		return nil, err
	}
	return &row, nil
}

// Deferred updates

func CreateDeferredUpdate(db *gorm.DB, u *models.DeferredUpdate) error {
	return db.Create(u).Error
}

func GetDueDeferredUpdates(db *gorm.DB, now time.Time, limit int) ([]models.DeferredUpdate, error) {
	var updates []models.DeferredUpdate
	if err := db.Where("update_at <= ?", now).Order("update_at asc, id asc").Limit(limit).
		Find(&updates).Error; err != nil {
		return nil, err
	}
	return updates, nil
}

// DeleteDeferredUpdate reports whether this call removed the entry.
func DeleteDeferredUpdate(db *gorm.DB, id uint) (bool, error) {
	result := db.Delete(&models.DeferredUpdate{}, "id = ?", id)
	return result.RowsAffected > 0, result.Error
}

// Enrollment, activity and streaks

func GetUserCourse(db *gorm.DB, userID, courseID string) (*models.UserCourse, error) {
	var uc models.UserCourse
	err := FindOne(db, &uc, "user_id = ? AND course_id = ?", userID, courseID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &uc, nil
}

func CreateUserCourse(db *gorm.DB, uc *models.UserCourse) error {
	return db.Clauses(clause.OnConflict{DoNothing: true}).Create(uc).Error
}

func GetUserCourses(db *gorm.DB, userID string) ([]models.UserCourse, error) {
	var ucs []models.UserCourse
	if err := db.Where("user_id = ?", userID).Order("created_at asc").Find(&ucs).Error; err != nil {
		return nil, err
	}
	return ucs, nil
}

func IncrementActivity(db *gorm.DB, userID, day string, year int) error {
	row := models.Activity{UserID: userID, Day: day, Year: year, Solved: 1}
	return db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "day"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"solved": gorm.Expr("solved + 1"),
		}),
	}).Create(&row).Error
}

func GetActivityForYear(db *gorm.DB, userID string, year int) ([]models.Activity, error) {
	var rows []models.Activity
	if err := db.Where("user_id = ? AND year = ?", userID, year).Order("day asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// TouchStreak records activity on day (YYYY-MM-DD). Consecutive days extend the current streak,
// a gap resets it to one, a repeated or older day is a no-op.
func TouchStreak(db *gorm.DB, userID string, day time.Time) (*models.Streak, error) {
	key := day.Format("2006-01-02")
	var streak models.Streak
	err := FindOne(db, &streak, "user_id = ?", userID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		streak = models.Streak{UserID: userID}
	}

	// Replayed submissions may carry a day older than the last one seen.
	if streak.LastDay != "" && key <= streak.LastDay {
		return &streak, nil
	}
	yesterday := day.AddDate(0, 0, -1).Format("2006-01-02")
	if streak.LastDay == yesterday {
		streak.Current++
	} else {
		streak.Current = 1
	}
	if streak.Current > streak.Longest {
		streak.Longest = streak.Current
	}
	streak.LastDay = key

	if err := db.Save(&streak).Error; err != nil {
		return nil, err
	}
	return &streak, nil
}

func GetStreak(db *gorm.DB, userID string) (*models.Streak, error) {
	var streak models.Streak
	if err := FindOne(db, &streak, "user_id = ?", userID); err != nil {
		return nil, err
	}
	return &streak, nil
}
