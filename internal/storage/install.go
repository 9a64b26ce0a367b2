package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Sentinel errors for install cache operations.
var (
	ErrNilInstall      = errors.New("install record cannot be nil")
	ErrInstallNotFound = errors.New("install record not found")
)

// InstallRecord remembers the last successful dependency install of a
// requirements file into one interpreter. Interpreter fingerprints the
// interpreter binary, so a recreated environment at the same path no longer
// matches.
type InstallRecord struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	Python           string    `gorm:"not null;uniqueIndex:idx_install_target" json:"python"`
	Requirements     string    `gorm:"not null;uniqueIndex:idx_install_target" json:"requirements"`
	RequirementsHash string    `gorm:"not null" json:"requirements_hash"`
	Interpreter      string    `gorm:"not null;default:''" json:"interpreter"`
	InstalledAt      time.Time `gorm:"not null" json:"installed_at"`
	CreatedAt        time.Time `json:"-"`
	UpdatedAt        time.Time `json:"-"`
}

// TableName overrides the table name for GORM.
func (InstallRecord) TableName() string {
	return "installs"
}

// GetInstall retrieves the install record for an interpreter and requirements file.
// Returns ErrInstallNotFound if none exists.
func (d *DB) GetInstall(python, requirements string) (*InstallRecord, error) {
	if python == "" {
		return nil, fmt.Errorf("python cannot be empty")
	}
	if requirements == "" {
		return nil, fmt.Errorf("requirements cannot be empty")
	}

	var rec InstallRecord
	if err := d.db.Where("python = ? AND requirements = ?", python, requirements).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInstallNotFound
		}
		return nil, fmt.Errorf("failed to get install record: %w", err)
	}
	return &rec, nil
}

// UpsertInstall inserts or replaces the record for (python, requirements).
func (d *DB) UpsertInstall(rec *InstallRecord) error {
	if rec == nil {
		return ErrNilInstall
	}
	if rec.InstalledAt.IsZero() {
		rec.InstalledAt = time.Now()
	}
	err := d.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "python"}, {Name: "requirements"}},
		DoUpdates: clause.AssignmentColumns([]string{"requirements_hash", "interpreter", "installed_at", "updated_at"}),
	}).Create(rec).Error
	if err != nil {
		return fmt.Errorf("failed to upsert install record: %w", err)
	}
	return nil
}

// Matches reports whether the record covers the given requirements content
// installed into the given interpreter. An empty fingerprint never matches.
func (r *InstallRecord) Matches(requirementsHash, interpreter string) bool {
	return interpreter != "" && r.Interpreter == interpreter && r.RequirementsHash == requirementsHash
}

// DeleteInstall forgets the record so the next run reinstalls.
func (d *DB) DeleteInstall(python, requirements string) error {
	if err := d.db.Where("python = ? AND requirements = ?", python, requirements).
		Delete(&InstallRecord{}).Error; err != nil {
		return fmt.Errorf("failed to delete install record: %w", err)
	}
	return nil
}

// HashFile returns the hex SHA-256 of a file's content.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
