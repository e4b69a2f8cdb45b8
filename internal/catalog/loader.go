package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

type Course struct {
	ID           string     `yaml:"id" json:"id"`
	Title        string     `yaml:"title" json:"title"`
	FreezeAt     *time.Time `yaml:"freeze_at" json:"freeze_at,omitempty"`
	ExerciseDirs []string   `yaml:"exercises" json:"-"`
	ExerciseIDs  []string   `yaml:"-" json:"exercise_ids"`
	BasePath     string     `yaml:"-" json:"-"`
}

// Frozen reports whether t falls in the upsolve period of the course.
func (c *Course) Frozen(t time.Time) bool {
	return c.FreezeAt != nil && t.After(*c.FreezeAt)
}

type TestCase struct {
	Input  string `yaml:"input" json:"input"`
	Target string `yaml:"target" json:"target"`
}

type Exercise struct {
	ID              string     `yaml:"id" json:"id"`
	CourseID        string     `yaml:"-" json:"course_id"`
	Name            string     `yaml:"name" json:"name"`
	Level           int        `yaml:"level" json:"level"`
	Score           float64    `yaml:"score" json:"score"`
	AllowedAttempts int        `yaml:"allowed_attempts" json:"allowed_attempts"`
	ProblemID       string     `yaml:"problem_id" json:"-"`
	Tests           []TestCase `yaml:"tests" json:"-"`
	TimeLimit       float64    `yaml:"time_limit" json:"time_limit"`
	MemoryLimit     int        `yaml:"memory_limit" json:"memory_limit"`
	FloatPrecision  float64    `yaml:"float_precision" json:"-"`
	ComparisonMode  string     `yaml:"comparison_mode" json:"-"`
	UnlockContent   []string   `yaml:"unlock_content" json:"unlock_content,omitempty"`
	BasePath        string     `yaml:"-" json:"-"`
}

// FindCourseDirs scans a root directory and returns a slice of all its immediate subdirectories.
func FindCourseDirs(rootPath string) ([]string, error) {
	if rootPath == "" {
		zap.S().Warn("courses_root is not configured. No courses will be loaded.")
		return []string{}, nil
	}

	entries, err := os.ReadDir(rootPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read courses_root directory '%s': %w", rootPath, err)
	}

	var dirs []string
	for _, entry := range entries {
		if entry.IsDir() {
			dirs = append(dirs, filepath.Join(rootPath, entry.Name()))
		}
	}
	return dirs, nil
}

// LoadAll reads every course directory. Broken courses and exercises are logged and skipped.
func LoadAll(courseDirs []string) (map[string]*Course, map[string]*Exercise) {
	courses := make(map[string]*Course)
	exercises := make(map[string]*Exercise)

	for _, dir := range courseDirs {
		course, courseExercises, err := loadCourse(dir)
		if err != nil {
			zap.S().Warnf("failed to load course from %s: %v", dir, err)
			continue
		}
		if _, exists := courses[course.ID]; exists {
			zap.S().Warnf("duplicate course ID %s found, skipping", dir)
			continue
		}
		courses[course.ID] = course

		for _, e := range courseExercises {
			if _, exists := exercises[e.ID]; exists {
				zap.S().Warnf("duplicate exercise ID %s found, overwriting", e.ID)
			}
			exercises[e.ID] = e
		}
	}
	return courses, exercises
}

func loadCourse(dir string) (*Course, []*Exercise, error) {
	data, err := os.ReadFile(filepath.Join(dir, "course.yaml"))
	if err != nil {
		return nil, nil, err
	}
	var course Course
	if err := yaml.Unmarshal(data, &course); err != nil {
		return nil, nil, err
	}
	if course.ID == "" {
		return nil, nil, fmt.Errorf("course in %s has no id", dir)
	}
	course.BasePath = dir

	var loaded []*Exercise
	for _, exerciseDir := range course.ExerciseDirs {
		exercise, err := loadExercise(filepath.Join(dir, exerciseDir))
		if err != nil {
			zap.S().Warnf("failed to load exercise %s in course %s: %v", exerciseDir, course.ID, err)
			continue
		}
		exercise.CourseID = course.ID
		course.ExerciseIDs = append(course.ExerciseIDs, exercise.ID)
		loaded = append(loaded, exercise)
	}
	return &course, loaded, nil
}

func loadExercise(dir string) (*Exercise, error) {
	data, err := os.ReadFile(filepath.Join(dir, "exercise.yaml"))
	if err != nil {
		return nil, err
	}
	var exercise Exercise
	if err := yaml.Unmarshal(data, &exercise); err != nil {
		return nil, err
	}
	if exercise.ID == "" {
		return nil, fmt.Errorf("exercise in %s has no id", dir)
	}
	exercise.BasePath = dir

	if exercise.Score <= 0 {
		exercise.Score = 100
	}
	if exercise.ComparisonMode == "" {
		exercise.ComparisonMode = "token"
	}
	return &exercise, nil
}
