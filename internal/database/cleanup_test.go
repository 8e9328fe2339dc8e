package database

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"mediasentry/internal/database/models"

	"github.com/glebarez/sqlite"
	"github.com/pterm/pterm"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newCleanupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	if err := db.AutoMigrate(&models.Issue{}, &models.IssueOccurrence{}); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}
	return db
}

func seedIssue(t *testing.T, db *gorm.DB, id string, occurrences int64) {
	t.Helper()

	issue := &models.Issue{
		ID:              id,
		Fingerprint:     strings.ReplaceAll(id, "-", "")[:32],
		Title:           "Playback session terminated unexpectedly",
		SourceName:      "jellyfin-main",
		Category:        "playback",
		Severity:        "high",
		SampleMessage:   "Playback session terminated unexpectedly",
		FirstSeen:       time.Now().AddDate(0, 0, -120),
		LastSeen:        time.Now(),
		OccurrenceCount: occurrences,
	}
	if err := db.Create(issue).Error; err != nil {
		t.Fatalf("Failed to seed issue: %v", err)
	}
}

func seedOccurrence(t *testing.T, db *gorm.DB, issueID string, seq int, ts time.Time) {
	t.Helper()

	occ := &models.IssueOccurrence{
		IssueID:    issueID,
		EntryKey:   fmt.Sprintf("%d:error:jellyfin-main:%016x", ts.Unix(), seq),
		Timestamp:  ts,
		SourceName: "jellyfin-main",
		FilePath:   "/var/lib/jellyfin/log/log_20240115.log",
	}
	if err := db.Create(occ).Error; err != nil {
		t.Fatalf("Failed to seed occurrence: %v", err)
	}
}

func TestCleanupService_DeleteOldOccurrences(t *testing.T) {
	db := newCleanupTestDB(t)
	logger := pterm.DefaultLogger.WithLevel(pterm.LogLevelTrace)

	issueID := "11111111-1111-1111-1111-111111111111"
	seedIssue(t, db, issueID, 5)

	now := time.Now()
	for i := 0; i < 3; i++ {
		seedOccurrence(t, db, issueID, i, now.AddDate(0, 0, -90))
	}
	seedOccurrence(t, db, issueID, 3, now.Add(-1*time.Hour))
	seedOccurrence(t, db, issueID, 4, now.Add(-2*time.Hour))

	svc := NewCleanupService(db, logger, 60, time.Hour, "02:00", false, nil)

	deleted, err := svc.deleteOldOccurrences(now.AddDate(0, 0, -60))
	if err != nil {
		t.Fatalf("Failed to delete old occurrences: %v", err)
	}
	if deleted != 3 {
		t.Errorf("Expected 3 deleted occurrences, got %d", deleted)
	}

	var remaining int64
	if err := db.Model(&models.IssueOccurrence{}).Count(&remaining).Error; err != nil {
		t.Fatalf("Failed to count occurrences: %v", err)
	}
	if remaining != 2 {
		t.Errorf("Expected 2 remaining occurrences, got %d", remaining)
	}

	// The aggregated issue keeps its historical counters
	var issue models.Issue
	if err := db.First(&issue, "id = ?", issueID).Error; err != nil {
		t.Fatalf("Expected issue to survive cleanup: %v", err)
	}
	if issue.OccurrenceCount != 5 {
		t.Errorf("Expected occurrence count 5 to be preserved, got %d", issue.OccurrenceCount)
	}
}

func TestCleanupService_RunCleanupTracksStats(t *testing.T) {
	db := newCleanupTestDB(t)
	logger := pterm.DefaultLogger.WithLevel(pterm.LogLevelTrace)

	issueID := "22222222-2222-2222-2222-222222222222"
	seedIssue(t, db, issueID, 2)

	now := time.Now()
	seedOccurrence(t, db, issueID, 0, now.AddDate(0, 0, -45))
	seedOccurrence(t, db, issueID, 1, now.AddDate(0, 0, -40))

	svc := NewCleanupService(db, logger, 30, time.Hour, "02:00", false, nil)
	svc.runCleanup()

	stats := svc.GetStats()
	if stats.RecordsDeleted != 2 {
		t.Errorf("Expected 2 deleted records in stats, got %d", stats.RecordsDeleted)
	}
	if stats.LastRunTime.IsZero() {
		t.Error("Expected last run time to be recorded")
	}
	if !stats.NextScheduledRun.After(now.Add(-time.Minute)) {
		t.Errorf("Expected next scheduled run in the future, got %v", stats.NextScheduledRun)
	}
}

func TestCleanupService_ManualCleanupRequiresRetention(t *testing.T) {
	db := newCleanupTestDB(t)
	logger := pterm.DefaultLogger.WithLevel(pterm.LogLevelTrace)

	disabled := NewCleanupService(db, logger, 0, time.Hour, "02:00", false, nil)
	if err := disabled.ManualCleanup(); err == nil {
		t.Error("Expected error when retention is disabled")
	}

	enabled := NewCleanupService(db, logger, 30, time.Hour, "02:00", false, nil)
	if err := enabled.ManualCleanup(); err != nil {
		t.Errorf("Expected manual cleanup to start, got error: %v", err)
	}
}

func TestCleanupService_ParseCleanupTime(t *testing.T) {
	db := newCleanupTestDB(t)
	logger := pterm.DefaultLogger.WithLevel(pterm.LogLevelTrace)

	base := time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)

	svc := NewCleanupService(db, logger, 30, time.Hour, "23:45", false, nil)
	got := svc.parseCleanupTime(base)
	want := time.Date(2024, 3, 10, 23, 45, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("Expected cleanup time %v, got %v", want, got)
	}

	// Unparseable values fall back to the 02:00 default
	invalid := NewCleanupService(db, logger, 30, time.Hour, "not-a-time", false, nil)
	got = invalid.parseCleanupTime(base)
	want = time.Date(2024, 3, 10, 2, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("Expected fallback cleanup time %v, got %v", want, got)
	}
}
