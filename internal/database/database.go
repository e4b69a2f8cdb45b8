package database

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/ZJUSCT/CSLearn/internal/database/models"
	"go.uber.org/zap"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func Init(dsn string) (*gorm.DB, error) {
	if !isMemory(dsn) {
		if _, err := os.Stat(dsn); os.IsNotExist(err) {
			zap.S().Infof("database file not found at '%s', creating directory for it.", dsn)
			// Ensure the directory for the database file exists.
			dbDir := filepath.Dir(dsn)
			if err := os.MkdirAll(dbDir, 0755); err != nil {
				return nil, err
			}
		}
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}

	// SQLite has a single writer; one connection also keeps a :memory: database alive.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	// Auto migrate schema
	err = db.AutoMigrate(
		&models.QueuedSubmission{},
		&models.Submission{},
		&models.SubmissionCode{},
		&models.Run{},
		&models.Progress{},
		&models.WindowProgress{},
		&models.LevelProgress{},
		&models.ExerciseProgress{},
		&models.Insight{},
		&models.DeferredUpdate{},
		&models.UserCourse{},
		&models.Activity{},
		&models.Streak{},
	)
	if err != nil {
		return nil, err
	}

	return db, nil
}

func isMemory(dsn string) bool {
	return dsn == ":memory:" || strings.HasPrefix(dsn, "file::memory:")
}
