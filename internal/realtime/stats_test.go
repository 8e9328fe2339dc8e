package realtime

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

func newStatsTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	if err := db.AutoMigrate(&models.Issue{}, &models.IssueOccurrence{}, &models.FileState{}); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}
	return db
}

func seedStatsIssue(t *testing.T, db *gorm.DB, id, severity string, score int, resolved bool) {
	t.Helper()

	issue := &models.Issue{
		ID:            id,
		Fingerprint:   strings.ReplaceAll(id, "-", "")[:32],
		Title:         "Connection timeout",
		SourceName:    "jellyfin-main",
		Category:      "network",
		Severity:      severity,
		SampleMessage: "Connection timeout",
		FirstSeen:     time.Now().Add(-24 * time.Hour),
		LastSeen:      time.Now(),
		ImpactScore:   score,
		Resolved:      resolved,
	}
	if err := db.Create(issue).Error; err != nil {
		t.Fatalf("Failed to seed issue: %v", err)
	}
}

func TestStatsCollector_CollectOnEmptyDatabase(t *testing.T) {
	db := newStatsTestDB(t)
	logger := pterm.DefaultLogger.WithLevel(pterm.LogLevelTrace)

	collector := NewStatsCollector(db, logger)
	before := collector.GetStats().Timestamp

	time.Sleep(time.Millisecond)
	collector.collectStats()

	stats := collector.GetStats()
	if !stats.Timestamp.After(before) {
		t.Error("Expected collection to complete against empty tables")
	}
	if stats.OpenIssues != 0 || stats.CriticalIssues != 0 || stats.TopScore != 0 {
		t.Errorf("Expected zero issue stats, got open=%d critical=%d top=%d",
			stats.OpenIssues, stats.CriticalIssues, stats.TopScore)
	}
	if stats.OccurrenceRate != 0 {
		t.Errorf("Expected zero occurrence rate, got %f", stats.OccurrenceRate)
	}
	if stats.ActiveFiles != 0 {
		t.Errorf("Expected zero active files, got %d", stats.ActiveFiles)
	}
}

func TestStatsCollector_CollectCountsIssuesAndFiles(t *testing.T) {
	db := newStatsTestDB(t)
	logger := pterm.DefaultLogger.WithLevel(pterm.LogLevelTrace)

	seedStatsIssue(t, db, "11111111-1111-1111-1111-111111111111", "critical", 88, false)
	seedStatsIssue(t, db, "22222222-2222-2222-2222-222222222222", "high", 55, false)
	// Resolved issues stay out of every aggregate, even with a higher score
	seedStatsIssue(t, db, "33333333-3333-3333-3333-333333333333", "critical", 90, true)

	now := time.Now()
	occurrences := []models.IssueOccurrence{
		{IssueID: "11111111-1111-1111-1111-111111111111", EntryKey: "k1", Timestamp: now, SourceName: "jellyfin-main"},
		{IssueID: "11111111-1111-1111-1111-111111111111", EntryKey: "k2", Timestamp: now, SourceName: "jellyfin-main"},
		{IssueID: "11111111-1111-1111-1111-111111111111", EntryKey: "k3", Timestamp: now.Add(-2 * time.Minute),
			SourceName: "jellyfin-main", CreatedAt: now.Add(-2 * time.Minute)},
	}
	for i := range occurrences {
		if err := db.Create(&occurrences[i]).Error; err != nil {
			t.Fatalf("Failed to seed occurrence: %v", err)
		}
	}

	states := []models.FileState{
		{SourceName: "jellyfin-main", Path: "/var/lib/jellyfin/log/log_1.log", IsActive: true},
		{SourceName: "jellyfin-main", Path: "/var/lib/jellyfin/log/log_2.log", IsActive: true},
		{SourceName: "sonarr", Path: "/config/logs/sonarr.txt", IsActive: false},
	}
	for i := range states {
		if err := db.Create(&states[i]).Error; err != nil {
			t.Fatalf("Failed to seed file state: %v", err)
		}
	}

	collector := NewStatsCollector(db, logger)
	collector.collectStats()

	stats := collector.GetStats()
	if stats.OpenIssues != 2 {
		t.Errorf("Expected 2 open issues, got %d", stats.OpenIssues)
	}
	if stats.CriticalIssues != 1 {
		t.Errorf("Expected 1 critical issue, got %d", stats.CriticalIssues)
	}
	if stats.TopScore != 88 {
		t.Errorf("Expected top score 88, got %d", stats.TopScore)
	}
	want := 2.0 / 60.0
	if stats.OccurrenceRate != want {
		t.Errorf("Expected occurrence rate %f, got %f", want, stats.OccurrenceRate)
	}
	if stats.ActiveFiles != 2 {
		t.Errorf("Expected 2 active files, got %d", stats.ActiveFiles)
	}
}

func TestStatsCollector_StartStop(t *testing.T) {
	db := newStatsTestDB(t)
	logger := pterm.DefaultLogger.WithLevel(pterm.LogLevelTrace)

	collector := NewStatsCollector(db, logger)
	before := collector.GetStats().Timestamp

	collector.Start(10 * time.Millisecond)

	deadline := time.Now().Add(2 * time.Second)
	for collector.GetStats().Timestamp.Equal(before) {
		if time.Now().After(deadline) {
			t.Fatal("Expected the collector to sample at least once")
		}
		time.Sleep(5 * time.Millisecond)
	}

	collector.Stop()
}
