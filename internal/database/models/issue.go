package models

import (
	"time"
)

// Issue is one aggregated problem: every log entry whose normalized message,
// exception type and source hash to the same fingerprint lands here. Counter
// columns are maintained by the aggregation engine (recomputed from the
// occurrence rows on every upsert); scripts/recount_issues can rebuild them.
type Issue struct {
	ID               string    `gorm:"primaryKey;size:36"`
	Fingerprint      string    `gorm:"uniqueIndex:idx_issue_fingerprint;size:32;not null"`
	Title            string    `gorm:"not null"`
	SourceName       string    `gorm:"not null;index"`
	Category         string    `gorm:"not null;index"`
	Severity         string    `gorm:"not null;index"`
	ExceptionType    string
	SampleMessage    string    `gorm:"type:text"`
	SampleStackTrace string    `gorm:"type:text"`
	FirstSeen        time.Time `gorm:"not null"`
	LastSeen         time.Time `gorm:"not null;index:idx_issue_last_seen"`
	OccurrenceCount  int64     `gorm:"default:0"`
	AffectedUsers    int64     `gorm:"default:0"`
	AffectedSessions int64     `gorm:"default:0"`
	ImpactScore      int       `gorm:"default:0;index:idx_issue_score"`
	Resolved         bool      `gorm:"default:false;index"`
	ResolvedAt       *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (Issue) TableName() string {
	return "issues"
}

// IssueOccurrence is one concrete log entry attached to an issue. EntryKey
// carries the entry dedup key; the unique index makes re-delivered lines
// (crash-restart re-reads) collapse instead of double-counting.
type IssueOccurrence struct {
	ID         uint      `gorm:"primaryKey;autoIncrement"`
	IssueID    string    `gorm:"not null;index:idx_occurrence_issue;size:36"`
	EntryKey   string    `gorm:"uniqueIndex:idx_occurrence_entry_key;size:128"`
	Timestamp  time.Time `gorm:"not null;index:idx_occurrence_timestamp"`
	SourceName string    `gorm:"not null;index"`
	FilePath   string
	UserID     string    `gorm:"index"`
	SessionID  string
	DeviceID   string
	ItemID     string
	CreatedAt  time.Time `gorm:"autoCreateTime"`

	Issue Issue `gorm:"foreignKey:IssueID;references:ID"`
}

func (IssueOccurrence) TableName() string {
	return "issue_occurrences"
}
