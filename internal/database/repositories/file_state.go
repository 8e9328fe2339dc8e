package repositories

import (
	"time"

	"mediasentry/internal/database/models"

	"github.com/pterm/pterm"
	"gorm.io/gorm"
)

// FileStateRepository persists per-file ingestion progress keyed by
// (source name, absolute path).
type FileStateRepository interface {
	FindOrCreate(sourceName, path string) (*models.FileState, error)
	Find(sourceName, path string) (*models.FileState, error)
	UpdateTracking(sourceName, path string, offset, lineNumber, fileSize int64, fileIdent string, modifiedAt time.Time) error
	MarkActive(sourceName, path string, active bool) error
	RecordError(sourceName, path, message string) error
	DeactivateSource(sourceName string) error
	Count() (int64, error)
}

type fileStateRepo struct {
	db     *gorm.DB
	logger *pterm.Logger
}

func NewFileStateRepository(db *gorm.DB, logger *pterm.Logger) FileStateRepository {
	return &fileStateRepo{db: db, logger: logger}
}

// FindOrCreate returns the tracked state for a file, creating a zeroed row on
// first sight so a tailer always has something to resume from.
func (r *fileStateRepo) FindOrCreate(sourceName, path string) (*models.FileState, error) {
	var state models.FileState
	err := r.db.Where("source_name = ? AND path = ?", sourceName, path).
		FirstOrCreate(&state, models.FileState{SourceName: sourceName, Path: path}).Error
	if err != nil {
		r.logger.WithCaller().Error("Failed to load file state",
			r.logger.Args("source", sourceName, "path", path, "error", err))
		return nil, err
	}
	return &state, nil
}

func (r *fileStateRepo) Find(sourceName, path string) (*models.FileState, error) {
	var state models.FileState
	err := r.db.Where("source_name = ? AND path = ?", sourceName, path).First(&state).Error
	if err != nil {
		return nil, err
	}
	return &state, nil
}

// UpdateTracking is the hot path: it runs after every handled batch, so it
// uses direct SQL instead of loading the row. A successful update clears any
// recorded read error.
func (r *fileStateRepo) UpdateTracking(sourceName, path string, offset, lineNumber, fileSize int64, fileIdent string, modifiedAt time.Time) error {
	now := time.Now()
	return r.db.Exec(
		"UPDATE file_states SET byte_offset = ?, line_number = ?, file_size = ?, file_ident = ?, file_modified_at = ?, last_read_at = ?, last_error = '', updated_at = ? WHERE source_name = ? AND path = ?",
		offset, lineNumber, fileSize, fileIdent, modifiedAt, now, now, sourceName, path,
	).Error
}

func (r *fileStateRepo) MarkActive(sourceName, path string, active bool) error {
	return r.db.Exec(
		"UPDATE file_states SET is_active = ?, updated_at = ? WHERE source_name = ? AND path = ?",
		active, time.Now(), sourceName, path,
	).Error
}

func (r *fileStateRepo) RecordError(sourceName, path, message string) error {
	return r.db.Exec(
		"UPDATE file_states SET last_error = ?, updated_at = ? WHERE source_name = ? AND path = ?",
		message, time.Now(), sourceName, path,
	).Error
}

// DeactivateSource marks every file of a source inactive. Used on source
// stop and on startup recovery, where rows left active by a crash would
// otherwise look like running tailers.
func (r *fileStateRepo) DeactivateSource(sourceName string) error {
	return r.db.Exec(
		"UPDATE file_states SET is_active = 0, updated_at = ? WHERE source_name = ? AND is_active = 1",
		time.Now(), sourceName,
	).Error
}

func (r *fileStateRepo) Count() (int64, error) {
	var count int64
	err := r.db.Model(&models.FileState{}).Count(&count).Error
	return count, err
}
