// Package storage provides launch history tracking using GORM and SQLite
package storage

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Sentinel errors following Dave Cheney's principle: define errors as values
var (
	ErrNilLaunch = errors.New("launch cannot be nil")
	ErrNotFound  = errors.New("launch not found")
)

// Install step outcomes stored in Launch.InstallStatus.
const (
	InstallSucceeded = "success"
	InstallFailed    = "failed"
	InstallCached    = "cached"
	InstallSkipped   = "skipped"
)

// Launch represents one run of the launcher pipeline
type Launch struct {
	ID uint `gorm:"primaryKey" json:"id"`

	// Where and with what
	WorkDir       string `gorm:"not null;index" json:"work_dir"`
	Python        string `gorm:"not null" json:"python"`
	Source        string `gorm:"not null;index" json:"source"`
	PythonVersion string `json:"python_version,omitempty"`
	App           string `gorm:"not null" json:"app"`

	// When
	StartedAt  time.Time `gorm:"not null;index" json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	// Outcome
	InstallStatus   string `json:"install_status"`
	InstallExitCode int    `json:"install_exit_code"`
	LaunchExitCode  int    `json:"launch_exit_code"`
	ErrorMessage    string `json:"error_message,omitempty"`

	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"-"`
}

// Duration returns how long the run took.
func (l *Launch) Duration() time.Duration {
	if l.FinishedAt.IsZero() {
		return 0
	}
	return l.FinishedAt.Sub(l.StartedAt)
}

// Succeeded reports whether the application exited cleanly.
func (l *Launch) Succeeded() bool {
	return l.ErrorMessage == "" && l.LaunchExitCode == 0
}

// Store defines the interface for launch storage operations
type Store interface {
	Close() error
	RecordLaunch(*Launch) error
	GetLaunch(id uint) (*Launch, error)
	ListLaunches(limit int) ([]*Launch, error)
	ListByWorkDir(workDir string, limit int) ([]*Launch, error)
	GetInstall(python, requirements string) (*InstallRecord, error)
	UpsertInstall(*InstallRecord) error
	DeleteInstall(python, requirements string) error
	GetStats() (map[string]interface{}, error)
}

// DB wraps gorm.DB with our launch operations
type DB struct {
	db *gorm.DB
}

var _ Store = (*DB)(nil)

// Config holds database configuration
type Config struct {
	DatabasePath string
	LogLevel     string // silent, error, warn, info
}

// InitDB initializes the database connection and runs migrations
func InitDB(cfg Config) (*DB, error) {
	logLevel := logger.Silent
	switch cfg.LogLevel {
	case "error":
		logLevel = logger.Error
	case "warn":
		logLevel = logger.Warn
	case "info":
		logLevel = logger.Info
	}

	db, err := gorm.Open(sqlite.Open(cfg.DatabasePath), &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&Launch{}, &InstallRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return &DB{db: db}, nil
}

// Close closes the database connection
func (d *DB) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying SQL DB: %w", err)
	}
	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("failed to close database connection: %w", err)
	}
	return nil
}

// RecordLaunch creates a new launch record
func (d *DB) RecordLaunch(launch *Launch) error {
	if launch == nil {
		return ErrNilLaunch
	}
	if err := d.db.Create(launch).Error; err != nil {
		return fmt.Errorf("failed to record launch: %w", err)
	}
	return nil
}

// GetLaunch retrieves a launch by ID
func (d *DB) GetLaunch(id uint) (*Launch, error) {
	var launch Launch
	err := d.db.First(&launch, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get launch %d: %w", id, err)
	}
	return &launch, nil
}

// ListLaunches returns the most recent launches first. A limit <= 0 returns all.
func (d *DB) ListLaunches(limit int) ([]*Launch, error) {
	var launches []*Launch
	q := d.db.Order("started_at DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&launches).Error; err != nil {
		return nil, fmt.Errorf("failed to list launches: %w", err)
	}
	return launches, nil
}

// ListByWorkDir returns the launches started from one directory
func (d *DB) ListByWorkDir(workDir string, limit int) ([]*Launch, error) {
	var launches []*Launch
	q := d.db.Where("work_dir = ?", workDir).Order("started_at DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&launches).Error; err != nil {
		return nil, fmt.Errorf("failed to list launches for %s: %w", workDir, err)
	}
	return launches, nil
}

// GetStats returns launch statistics
func (d *DB) GetStats() (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	var total int64
	if err := d.db.Model(&Launch{}).Count(&total).Error; err != nil {
		return nil, fmt.Errorf("failed to count total launches: %w", err)
	}
	stats["total_launches"] = total

	var failed int64
	if err := d.db.Model(&Launch{}).Where("launch_exit_code <> 0 OR error_message <> ''").
		Count(&failed).Error; err != nil {
		return nil, fmt.Errorf("failed to count failed launches: %w", err)
	}
	stats["failed_launches"] = failed

	var sourceCounts []struct {
		Source string
		Count  int64
	}
	if err := d.db.Model(&Launch{}).Select("source, COUNT(*) as count").
		Group("source").Scan(&sourceCounts).Error; err != nil {
		return nil, fmt.Errorf("failed to get source counts: %w", err)
	}
	stats["by_source"] = sourceCounts

	var installCounts []struct {
		InstallStatus string
		Count         int64
	}
	if err := d.db.Model(&Launch{}).Select("install_status, COUNT(*) as count").
		Group("install_status").Scan(&installCounts).Error; err != nil {
		return nil, fmt.Errorf("failed to get install status counts: %w", err)
	}
	stats["by_install_status"] = installCounts

	return stats, nil
}
