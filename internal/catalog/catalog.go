package catalog

import (
	"errors"
	"sync"
)

var (
	ErrCourseNotFound   = errors.New("course not found")
	ErrExerciseNotFound = errors.New("exercise not found")
)

// Catalog is the in-memory, reloadable set of courses and exercises.
type Catalog struct {
	mu        sync.RWMutex
	root      string
	courses   map[string]*Course
	exercises map[string]*Exercise
}

func New(root string) *Catalog {
	return &Catalog{
		root:      root,
		courses:   make(map[string]*Course),
		exercises: make(map[string]*Exercise),
	}
}

// Reload rereads the courses root and swaps the snapshot.
func (c *Catalog) Reload() error {
	dirs, err := FindCourseDirs(c.root)
	if err != nil {
		return err
	}
	courses, exercises := LoadAll(dirs)
	c.Replace(courses, exercises)
	return nil
}

func (c *Catalog) Replace(courses map[string]*Course, exercises map[string]*Exercise) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.courses = courses
	c.exercises = exercises
}

func (c *Catalog) Course(id string) (*Course, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	course, ok := c.courses[id]
	if !ok {
		return nil, ErrCourseNotFound
	}
	return course, nil
}

func (c *Catalog) Exercise(id string) (*Exercise, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	exercise, ok := c.exercises[id]
	if !ok {
		return nil, ErrExerciseNotFound
	}
	return exercise, nil
}

// Counts returns the number of loaded courses and exercises.
func (c *Catalog) Counts() (int, int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.courses), len(c.exercises)
}
