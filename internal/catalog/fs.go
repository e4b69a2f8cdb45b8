package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"
)

// writeYamlFile marshals the data and writes it to the specified path.
func writeYamlFile(path string, data interface{}) error {
	bytes, err := yaml.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal yaml: %w", err)
	}
	return os.WriteFile(path, bytes, 0644)
}

// CreateCourse creates a course directory with its course.yaml under baseDir.
func CreateCourse(baseDir string, course *Course) error {
	course.BasePath = filepath.Join(baseDir, course.ID)
	if err := os.MkdirAll(course.BasePath, 0755); err != nil {
		return fmt.Errorf("failed to create course directory: %w", err)
	}
	return writeYamlFile(filepath.Join(course.BasePath, "course.yaml"), course)
}

// CreateExercise writes an exercise directory inside the course and registers it in course.yaml.
func CreateExercise(course *Course, exercise *Exercise) error {
	if course.BasePath == "" {
		return fmt.Errorf("course base path is empty, cannot add exercise")
	}
	exercise.BasePath = filepath.Join(course.BasePath, exercise.ID)
	if err := os.MkdirAll(exercise.BasePath, 0755); err != nil {
		return fmt.Errorf("failed to create exercise directory: %w", err)
	}
	if err := writeYamlFile(filepath.Join(exercise.BasePath, "exercise.yaml"), exercise); err != nil {
		return err
	}

	course.ExerciseDirs = append(course.ExerciseDirs, exercise.ID)
	slices.Sort(course.ExerciseDirs)
	course.ExerciseDirs = slices.Compact(course.ExerciseDirs)
	return writeYamlFile(filepath.Join(course.BasePath, "course.yaml"), course)
}
