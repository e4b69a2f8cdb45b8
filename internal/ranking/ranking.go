package ranking

import (
	"context"
	"errors"
	"fmt"

	"github.com/ZJUSCT/CSLearn/internal/database"
	"github.com/ZJUSCT/CSLearn/internal/database/models"
	"github.com/ZJUSCT/CSLearn/internal/progress"
	"gorm.io/gorm"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
	// MaxUsersPerQuery bounds the user set of one exercise breakdown query.
	MaxUsersPerQuery = 10
)

var (
	ErrCursorNotFound = errors.New("cursor user is not ranked")
	ErrTooManyUsers   = fmt.Errorf("at most %d users per query", MaxUsersPerQuery)
	ErrUnranked       = errors.New("metric is not ranked")
)

// Row is one leaderboard entry. Value is the ranked metric, Levels its per-level split.
type Row struct {
	UserID          string          `json:"user_id"`
	UserDisplayName string          `json:"user_display_name"`
	Value           float64         `json:"value"`
	Score           float64         `json:"score"`
	UpsolveScore    float64         `json:"upsolve_score"`
	Solved          float64         `json:"solved"`
	Levels          map[int]float64 `json:"levels"`
}

type Page struct {
	Metric string `json:"metric"`
	Rows   []Row  `json:"rows"`
	// Next is the cursor of the following page, empty on the last one.
	Next string `json:"next,omitempty"`
}

type rankedValue struct {
	UserID string
	Value  float64
}

// GetRankingPage returns up to pageSize rows ordered by the metric descending, user ID
// ascending, starting after the row of startAfterUserID.
func GetRankingPage(ctx context.Context, db *gorm.DB, courseID string, metric progress.Metric, startAfterUserID string, pageSize int) (*Page, error) {
	if !metric.Ranked() {
		return nil, fmt.Errorf("%w: %s", ErrUnranked, metric)
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	db = db.WithContext(ctx)

	var (
		values []rankedValue
		err    error
	)
	if metric.Kind == progress.KindWindowedScore {
		values, err = windowPage(db, courseID, metric.Key(), startAfterUserID, pageSize)
	} else {
		values, err = progressPage(db, courseID, metric.ProgressColumn(), startAfterUserID, pageSize)
	}
	if err != nil {
		return nil, err
	}

	page := &Page{Metric: metric.Key(), Rows: make([]Row, 0, len(values))}
	if len(values) == 0 {
		return page, nil
	}
	ids := make([]string, len(values))
	for i, v := range values {
		ids[i] = v.UserID
	}

	var progresses []models.Progress
	if err := db.Where("course_id = ? AND user_id IN ?", courseID, ids).Find(&progresses).Error; err != nil {
		return nil, err
	}
	byUser := make(map[string]*models.Progress, len(progresses))
	for i := range progresses {
		byUser[progresses[i].UserID] = &progresses[i]
	}

	var levels []models.LevelProgress
	if err := db.Where("course_id = ? AND metric = ? AND user_id IN ?", courseID, metric.Key(), ids).
		Find(&levels).Error; err != nil {
		return nil, err
	}
	levelsByUser := make(map[string]map[int]float64)
	for _, l := range levels {
		if levelsByUser[l.UserID] == nil {
			levelsByUser[l.UserID] = make(map[int]float64)
		}
		levelsByUser[l.UserID][l.Level] = l.Value
	}

	for _, v := range values {
		row := Row{UserID: v.UserID, Value: v.Value, Levels: levelsByUser[v.UserID]}
		if row.Levels == nil {
			row.Levels = map[int]float64{}
		}
		if p := byUser[v.UserID]; p != nil {
			row.UserDisplayName = p.UserDisplayName
			row.Score = p.Score
			row.UpsolveScore = p.UpsolveScore
			row.Solved = p.Solved
		}
		page.Rows = append(page.Rows, row)
	}
	if len(values) == pageSize {
		page.Next = values[len(values)-1].UserID
	}
	return page, nil
}

func progressPage(db *gorm.DB, courseID, column, after string, size int) ([]rankedValue, error) {
	q := db.Model(&models.Progress{}).Select("user_id, " + column + " AS value").Where("course_id = ?", courseID)
	if after != "" {
		var cursor models.Progress
		err := database.FindOne(db, &cursor, "course_id = ? AND user_id = ?", courseID, after)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrCursorNotFound, after)
		}
		if err != nil {
			return nil, err
		}
		var v float64
		switch column {
		case "score":
			v = cursor.Score
		case "upsolve_score":
			v = cursor.UpsolveScore
		case "solved":
			v = cursor.Solved
		}
		q = q.Where("("+column+" < ? OR ("+column+" = ? AND user_id > ?))", v, v, after)
	}
	var values []rankedValue
	err := q.Order(column + " DESC").Order("user_id ASC").Limit(size).Scan(&values).Error
	return values, err
}

func windowPage(db *gorm.DB, courseID, metric, after string, size int) ([]rankedValue, error) {
	q := db.Model(&models.WindowProgress{}).Select("user_id, value").Where("course_id = ? AND metric = ?", courseID, metric)
	if after != "" {
		var cursor models.WindowProgress
		err := database.FindOne(db, &cursor, "course_id = ? AND metric = ? AND user_id = ?", courseID, metric, after)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrCursorNotFound, after)
		}
		if err != nil {
			return nil, err
		}
		q = q.Where("(value < ? OR (value = ? AND user_id > ?))", cursor.Value, cursor.Value, after)
	}
	var values []rankedValue
	err := q.Order("value DESC").Order("user_id ASC").Limit(size).Scan(&values).Error
	return values, err
}
