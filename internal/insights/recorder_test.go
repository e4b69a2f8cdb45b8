package insights

import (
	"testing"
	"time"

	"github.com/ZJUSCT/CSLearn/internal/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.Init(":memory:")
	require.NoError(t, err)
	return db
}

func TestRecord_FansOut(t *testing.T) {
	db := openTestDB(t)
	today := "2026-10-14"

	require.NoError(t, Record(db, Solved, "C", "E", today, 1))

	day, err := Get(db, "C", "", today)
	require.NoError(t, err)
	assert.Equal(t, 1.0, day.Solved)

	overall, err := Get(db, "C", "", Overall)
	require.NoError(t, err)
	assert.Equal(t, 1.0, overall.Solved)

	exercise, err := Get(db, "C", "E", "")
	require.NoError(t, err)
	assert.Equal(t, 1.0, exercise.Solved)

	// No per-day exercise counter is maintained.
	exerciseDay, err := Get(db, "C", "E", today)
	require.NoError(t, err)
	assert.Zero(t, exerciseDay.Solved)
}

func TestRecord_CourseOnly(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, Record(db, TotalScore, "C", "", "2026-10-14", 7.5))

	overall, err := Get(db, "C", "", Overall)
	require.NoError(t, err)
	assert.Equal(t, 7.5, overall.TotalScore)
}

func TestRecord_UnknownMetric(t *testing.T) {
	db := openTestDB(t)
	err := Record(db, Metric("likes"), "C", "E", "2026-10-14", 1)
	assert.ErrorIs(t, err, ErrUnknownMetric)
}

func TestRecordNewUser_Idempotent(t *testing.T) {
	db := openTestDB(t)

	isNew, err := RecordNewUser(db, "u1", "C", "2026-10-14")
	require.NoError(t, err)
	assert.True(t, isNew)

	isNew, err = RecordNewUser(db, "u1", "C", "2026-10-15")
	require.NoError(t, err)
	assert.False(t, isNew)

	overall, err := Get(db, "C", "", Overall)
	require.NoError(t, err)
	assert.Equal(t, 1.0, overall.Users)
}

func TestDayKey_UsesLocation(t *testing.T) {
	loc := time.FixedZone("CST", 8*3600)
	ts := time.Date(2026, 10, 14, 20, 0, 0, 0, time.UTC)
	assert.Equal(t, "2026-10-15", DayKey(ts, loc))
	assert.Equal(t, "2026-10-14", DayKey(ts, nil))
}
