package ranking

import (
	"context"
	"fmt"

	"github.com/ZJUSCT/CSLearn/internal/database/models"
	"github.com/ZJUSCT/CSLearn/internal/progress"
	"gorm.io/gorm"
)

// Cell is the value of one metric for one exercise of one user.
type Cell struct {
	Value  float64       `json:"value"`
	Status models.Status `json:"status,omitempty"`
}

// LevelProgress maps user ID to exercise ID to cell.
type LevelProgress map[string]map[string]Cell

// GetLevelExerciseProgress reads the per exercise breakdown of one level for at most
// MaxUsersPerQuery users. Larger sets must be split with ChunkUserIDs.
func GetLevelExerciseProgress(ctx context.Context, db *gorm.DB, courseID string, level int, metric progress.Metric, userIDs []string) (LevelProgress, error) {
	if len(userIDs) > MaxUsersPerQuery {
		return nil, fmt.Errorf("%w: got %d", ErrTooManyUsers, len(userIDs))
	}
	result := make(LevelProgress, len(userIDs))
	if len(userIDs) == 0 {
		return result, nil
	}
	var rows []models.ExerciseProgress
	err := db.WithContext(ctx).
		Where("course_id = ? AND level = ? AND metric = ? AND user_id IN ?", courseID, level, metric.Key(), userIDs).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		if result[r.UserID] == nil {
			result[r.UserID] = make(map[string]Cell)
		}
		result[r.UserID][r.ExerciseID] = Cell{Value: r.Value, Status: r.Status}
	}
	return result, nil
}

// ChunkUserIDs splits ids into groups of at most MaxUsersPerQuery, keeping order.
func ChunkUserIDs(ids []string) [][]string {
	var chunks [][]string
	for len(ids) > MaxUsersPerQuery {
		chunks = append(chunks, ids[:MaxUsersPerQuery:MaxUsersPerQuery])
		ids = ids[MaxUsersPerQuery:]
	}
	if len(ids) > 0 {
		chunks = append(chunks, ids)
	}
	return chunks
}

// GetLevelExerciseProgressAll runs one breakdown query per chunk of userIDs and merges them.
func GetLevelExerciseProgressAll(ctx context.Context, db *gorm.DB, courseID string, level int, metric progress.Metric, userIDs []string) (LevelProgress, error) {
	result := make(LevelProgress, len(userIDs))
	for _, chunk := range ChunkUserIDs(userIDs) {
		part, err := GetLevelExerciseProgress(ctx, db, courseID, level, metric, chunk)
		if err != nil {
			return nil, err
		}
		for user, cells := range part {
			result[user] = cells
		}
	}
	return result, nil
}
