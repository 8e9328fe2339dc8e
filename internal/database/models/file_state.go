package models

import (
	"time"
)

// FileState tracks ingestion progress for one physical log file. ByteOffset
// only moves forward, except when rotation is detected and it resets to zero.
// It is persisted after the entries read from the file have been handled
// downstream, never before, so a crash replays at most already-ingested
// lines (collapsed by the occurrence dedup key).
type FileState struct {
	ID             uint   `gorm:"primaryKey;autoIncrement"`
	SourceName     string `gorm:"not null;uniqueIndex:idx_file_state_source_path"`
	Path           string `gorm:"not null;uniqueIndex:idx_file_state_source_path"`
	ByteOffset     int64  `gorm:"default:0"`
	LineNumber     int64  `gorm:"default:0"`
	FileSize       int64  `gorm:"default:0"`
	FileIdent      string `gorm:"size:64"` // opaque identity ("dev:ino" on POSIX), empty when unavailable
	FileModifiedAt *time.Time
	LastReadAt     *time.Time
	IsActive       bool `gorm:"default:false;index"`
	LastError      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (FileState) TableName() string {
	return "file_states"
}
