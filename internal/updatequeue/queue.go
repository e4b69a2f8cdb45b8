package updatequeue

import (
	"context"
	"fmt"
	"time"

	"github.com/ZJUSCT/CSLearn/internal/database"
	"github.com/ZJUSCT/CSLearn/internal/database/models"
	"github.com/ZJUSCT/CSLearn/internal/metrics"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Target names the aggregate a deferred delta lands on.
type Target string

const (
	// TargetWindow is the course aggregate of a windowed metric bucket.
	TargetWindow Target = "window"
	// TargetLevel is a per level aggregate.
	TargetLevel Target = "level"
)

type Update struct {
	Target   Target
	CourseID string
	UserID   string
	Metric   string
	Level    int
	Diff     float64
	UpdateAt time.Time
}

// Enqueue schedules u inside the caller's transaction.
func Enqueue(tx *gorm.DB, u Update) error {
	switch u.Target {
	case TargetWindow, TargetLevel:
	default:
		return fmt.Errorf("unknown deferred update target %q", u.Target)
	}
	return database.CreateDeferredUpdate(tx, &models.DeferredUpdate{
		Target:   string(u.Target),
		CourseID: u.CourseID,
		UserID:   u.UserID,
		Metric:   u.Metric,
		Level:    u.Level,
		Diff:     u.Diff,
		UpdateAt: u.UpdateAt.UTC(),
	})
}

func apply(tx *gorm.DB, u *models.DeferredUpdate) error {
	switch Target(u.Target) {
	case TargetWindow:
		return database.IncrementWindowProgress(tx, u.CourseID, u.Metric, u.UserID, u.Diff)
	case TargetLevel:
		return database.IncrementLevelProgress(tx, u.CourseID, u.UserID, u.Metric, u.Level, u.Diff)
	}
	zap.S().Warnf("dropping deferred update %d with unknown target %q", u.ID, u.Target)
	return nil
}

// Sweep applies every entry due at now, batch entries per query. Each entry is deleted and
// applied in one transaction; an entry whose delete removes nothing was consumed by a
// concurrent sweep and is skipped. It returns the number of entries applied.
func Sweep(ctx context.Context, db *gorm.DB, now time.Time, batch int) (int, error) {
	if batch <= 0 {
		batch = 500
	}
	applied := 0
	for {
		if err := ctx.Err(); err != nil {
			return applied, err
		}
		due, err := database.GetDueDeferredUpdates(db, now.UTC(), batch)
		if err != nil {
			return applied, fmt.Errorf("failed to list due updates: %w", err)
		}

		for i := range due {
			u := &due[i]
			consumed := false
			err := db.Transaction(func(tx *gorm.DB) error {
				deleted, err := database.DeleteDeferredUpdate(tx, u.ID)
				if err != nil || !deleted {
					return err
				}
				consumed = true
				return apply(tx, u)
			})
			if err != nil {
				return applied, fmt.Errorf("failed to apply deferred update %d: %w", u.ID, err)
			}
			if consumed {
				applied++
				metrics.IncDeferredUpdate(u.Target)
			}
		}

		if len(due) < batch {
			return applied, nil
		}
	}
}

// Sweeper runs Sweep on a fixed interval until its context is cancelled.
type Sweeper struct {
	db       *gorm.DB
	interval time.Duration
	batch    int
}

func NewSweeper(db *gorm.DB, interval time.Duration, batch int) *Sweeper {
	return &Sweeper{db: db, interval: interval, batch: batch}
}

func (s *Sweeper) Run(ctx context.Context) {
	zap.S().Infof("deferred update sweeper started, interval %s", s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			zap.S().Info("deferred update sweeper stopped")
			return
		case now := <-ticker.C:
			n, err := Sweep(ctx, s.db, now, s.batch)
			if err != nil {
				zap.S().Errorf("deferred update sweep failed after %d entries: %v", n, err)
				continue
			}
			if n > 0 {
				zap.S().Infof("deferred update sweep applied %d entries", n)
			}
		}
	}
}
