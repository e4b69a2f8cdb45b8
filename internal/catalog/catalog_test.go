package catalog

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReload_LoadsCoursesAndExercises(t *testing.T) {
	root := t.TempDir()
	freeze := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	course := &Course{ID: "py101", Title: "Python", FreezeAt: &freeze}
	require.NoError(t, CreateCourse(root, course))
	require.NoError(t, CreateExercise(course, &Exercise{ID: "hello", Name: "Hello", Level: 1, Score: 10, AllowedAttempts: 3}))
	require.NoError(t, CreateExercise(course, &Exercise{ID: "loops", Name: "Loops", Level: 2}))

	c := New(root)
	require.NoError(t, c.Reload())

	got, err := c.Course("py101")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"hello", "loops"}, got.ExerciseIDs)
	assert.True(t, got.Frozen(freeze.Add(time.Minute)))
	assert.False(t, got.Frozen(freeze.Add(-time.Minute)))

	hello, err := c.Exercise("hello")
	require.NoError(t, err)
	assert.Equal(t, "py101", hello.CourseID)
	assert.Equal(t, 10.0, hello.Score)
	assert.Equal(t, 3, hello.AllowedAttempts)

	loops, err := c.Exercise("loops")
	require.NoError(t, err)
	assert.Equal(t, 100.0, loops.Score)
	assert.Equal(t, "token", loops.ComparisonMode)

	courses, exercises := c.Counts()
	assert.Equal(t, 1, courses)
	assert.Equal(t, 2, exercises)
}

func TestReload_SkipsBrokenCourse(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "broken"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "broken", "course.yaml"), []byte("id: [unterminated"), 0644))
	require.NoError(t, CreateCourse(root, &Course{ID: "ok"}))

	c := New(root)
	require.NoError(t, c.Reload())

	_, err := c.Course("ok")
	assert.NoError(t, err)
	courses, _ := c.Counts()
	assert.Equal(t, 1, courses)
}

func TestLookups_NotFound(t *testing.T) {
	c := New("")
	require.NoError(t, c.Reload())

	_, err := c.Course("nope")
	assert.ErrorIs(t, err, ErrCourseNotFound)
	_, err = c.Exercise("nope")
	assert.ErrorIs(t, err, ErrExerciseNotFound)
}

func TestCourse_NoFreezeDate(t *testing.T) {
	c := &Course{ID: "x"}
	assert.False(t, c.Frozen(time.Now()))
}
