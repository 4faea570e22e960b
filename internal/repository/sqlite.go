package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"profile-launcher/internal/core"
)

// SQLiteRepository stores profiles and the task audit log in SQLite via GORM.
// It implements core.ProfileStore and core.TaskLog.
type SQLiteRepository struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewSQLiteRepository opens (creating if needed) the database at dbPath and migrates it
func NewSQLiteRepository(dbPath string, log *zap.Logger) (*SQLiteRepository, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	config := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}

	db, err := gorm.Open(sqlite.Open(dbPath), config)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	repo := &SQLiteRepository{
		db:     db,
		logger: log.With(zap.String("component", "repository")),
	}

	if err := repo.Migrate(context.Background()); err != nil {
		return nil, err
	}

	return repo, nil
}

// Migrate runs database migrations
func (r *SQLiteRepository) Migrate(ctx context.Context) error {
	if err := r.db.WithContext(ctx).AutoMigrate(
		&core.Profile{},
		&core.TaskRun{},
	); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

// CreateProfile inserts a new profile, assigning an id when it has none
func (r *SQLiteRepository) CreateProfile(ctx context.Context, profile *core.Profile) error {
	if profile.ID == "" {
		profile.ID = uuid.NewString()
	}
	if err := r.db.WithContext(ctx).Create(profile).Error; err != nil {
		return fmt.Errorf("failed to create profile %s: %w", profile.ID, err)
	}
	r.logger.Info("profile created", zap.String("profile_id", profile.ID), zap.String("name", profile.Name))
	return nil
}

// GetProfile retrieves a profile by id
func (r *SQLiteRepository) GetProfile(ctx context.Context, id string) (*core.Profile, error) {
	var profile core.Profile
	result := r.db.WithContext(ctx).Where("id = ?", id).First(&profile)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", core.ErrProfileNotFound, id)
		}
		return nil, result.Error
	}
	return &profile, nil
}

// SaveProfile writes every column of profile, inserting it when missing
func (r *SQLiteRepository) SaveProfile(ctx context.Context, profile *core.Profile) error {
	if profile.ID == "" {
		return fmt.Errorf("%w: profile without id", core.ErrConfiguration)
	}
	profile.UpdatedAt = time.Now()
	if err := r.db.WithContext(ctx).Save(profile).Error; err != nil {
		return fmt.Errorf("failed to save profile %s: %w", profile.ID, err)
	}
	return nil
}

// ListProfiles returns every profile ordered by name
func (r *SQLiteRepository) ListProfiles(ctx context.Context) ([]*core.Profile, error) {
	var profiles []*core.Profile
	if err := r.db.WithContext(ctx).Order("name ASC").Find(&profiles).Error; err != nil {
		return nil, err
	}
	return profiles, nil
}

// DeleteProfile removes a profile. User data on disk is left alone.
func (r *SQLiteRepository) DeleteProfile(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Where("id = ?", id).Delete(&core.Profile{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", core.ErrProfileNotFound, id)
	}
	return nil
}

// RecordTaskRun appends a finished automation task to the audit log
func (r *SQLiteRepository) RecordTaskRun(ctx context.Context, task *core.AutomationTask) error {
	run := &core.TaskRun{
		TaskID:    task.ID,
		ProfileID: task.ProfileID,
		ScriptID:  task.ScriptID,
		Status:    task.Status,
		Error:     task.Error,
		StartedAt: task.StartTime,
		EndedAt:   task.EndTime,
	}

	seen := make(map[int]bool)
	for _, res := range task.Results {
		if !seen[res.Index] {
			seen[res.Index] = true
			run.Steps++
		}
		if res.Status == core.StepFailed {
			run.Failures++
		}
	}

	if err := r.db.WithContext(ctx).Create(run).Error; err != nil {
		return fmt.Errorf("failed to record task %s: %w", task.ID, err)
	}
	return nil
}

// TaskRuns returns the most recent runs for a profile, newest first.
// An empty profileID returns runs of every profile.
func (r *SQLiteRepository) TaskRuns(ctx context.Context, profileID string, limit int) ([]*core.TaskRun, error) {
	query := r.db.WithContext(ctx).Order("started_at DESC")
	if profileID != "" {
		query = query.Where("profile_id = ?", profileID)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	var runs []*core.TaskRun
	if err := query.Find(&runs).Error; err != nil {
		return nil, err
	}
	return runs, nil
}

// Close closes the database connection
func (r *SQLiteRepository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
