package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"mediasentry/internal/issues"
)

// Issue mirrors the columns the recount touches.
type Issue struct {
	ID               string `gorm:"primaryKey"`
	Severity         string
	OccurrenceCount  int64
	AffectedUsers    int64
	AffectedSessions int64
	FirstSeen        time.Time
	LastSeen         time.Time
	ImpactScore      int
}

func (Issue) TableName() string {
	return "issues"
}

// rollup holds one issue's aggregates straight from the occurrence rows.
// First and Last are pointers so a NULL MIN/MAX (no rows left) scans cleanly.
type rollup struct {
	Occurrences int64
	Users       int64
	Sessions    int64
	First       *time.Time
	Last        *time.Time
}

func main() {
	dbPath := os.Getenv("DB_PATH")
	if dbPath == "" {
		dbPath = "./mediasentry.db"
	}

	fmt.Println("🔧 MediaSentry Issue Recount Tool")
	fmt.Println("==================================")
	fmt.Printf("Database: %s\n\n", dbPath)

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	var totalCount int64
	db.Model(&Issue{}).Count(&totalCount)
	fmt.Printf("📊 Found %d issues\n", totalCount)

	batchSize := 500
	offset := 0
	totalUpdated := 0
	totalEmpty := 0
	totalErrors := 0

	fmt.Println("\n🔄 Recounting from occurrence rows...")

	for {
		var batch []Issue
		result := db.Order("id").Limit(batchSize).Offset(offset).Find(&batch)
		if result.Error != nil {
			log.Fatalf("Failed to fetch issues: %v", result.Error)
		}
		if len(batch) == 0 {
			break
		}

		for i := range batch {
			issue := &batch[i]

			// Same aggregate the live upsert runs: blank user/session IDs
			// do not count as affected.
			var roll rollup
			err := db.Table("issue_occurrences").
				Select("COUNT(*) as occurrences, "+
					"COUNT(DISTINCT CASE WHEN user_id != '' THEN user_id END) as users, "+
					"COUNT(DISTINCT CASE WHEN session_id != '' THEN session_id END) as sessions, "+
					"MIN(timestamp) as first, MAX(timestamp) as last").
				Where("issue_id = ?", issue.ID).
				Scan(&roll).Error
			if err != nil {
				fmt.Printf("❌ Error counting issue %s: %v\n", issue.ID, err)
				totalErrors++
				continue
			}

			// Retention may have purged every row for an old issue. Leave
			// those untouched rather than zeroing their history.
			if roll.Occurrences == 0 {
				totalEmpty++
				continue
			}

			score := issues.ImpactScore(issue.Severity, roll.Occurrences,
				roll.Users, roll.Sessions, *roll.Last)

			changed := issue.OccurrenceCount != roll.Occurrences ||
				issue.AffectedUsers != roll.Users ||
				issue.AffectedSessions != roll.Sessions ||
				!issue.FirstSeen.Equal(*roll.First) ||
				!issue.LastSeen.Equal(*roll.Last) ||
				issue.ImpactScore != score

			if !changed {
				continue
			}

			issue.OccurrenceCount = roll.Occurrences
			issue.AffectedUsers = roll.Users
			issue.AffectedSessions = roll.Sessions
			issue.FirstSeen = *roll.First
			issue.LastSeen = *roll.Last
			issue.ImpactScore = score

			if err := db.Save(issue).Error; err != nil {
				fmt.Printf("❌ Error updating issue %s: %v\n", issue.ID, err)
				totalErrors++
			} else {
				totalUpdated++
			}
		}

		offset += batchSize
		fmt.Printf("   Processed %d / %d issues (Updated: %d, Errors: %d)\r",
			offset, totalCount, totalUpdated, totalErrors)
	}

	fmt.Printf("\n\n✅ Recount completed!\n")
	fmt.Printf("   Total issues: %d\n", totalCount)
	fmt.Printf("   Updated: %d\n", totalUpdated)
	fmt.Printf("   Without occurrence rows: %d\n", totalEmpty)
	fmt.Printf("   Errors: %d\n", totalErrors)
}
