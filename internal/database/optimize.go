package database

import (
	"github.com/pterm/pterm"
	"gorm.io/gorm"
)

// OptimizeDatabase applies additional optimizations after initial migrations
// This includes creating performance indexes and verifying SQLite settings
func OptimizeDatabase(db *gorm.DB, logger *pterm.Logger) error {
	logger.Debug("Applying database optimizations...")

	// Verify WAL mode is enabled (debug level - only show if there's a problem)
	var journalMode string
	if err := db.Raw("PRAGMA journal_mode").Scan(&journalMode).Error; err != nil {
		logger.Warn("Failed to check journal mode", logger.Args("error", err))
	} else if journalMode != "wal" {
		logger.Warn("Database not in WAL mode", logger.Args("mode", journalMode))
	} else {
		logger.Trace("Database journal mode verified", logger.Args("mode", journalMode))
	}

	// Verify page size (trace level - not critical)
	var pageSize int
	if err := db.Raw("PRAGMA page_size").Scan(&pageSize).Error; err != nil {
		logger.Debug("Failed to check page size", logger.Args("error", err))
	} else {
		logger.Trace("Database page size", logger.Args("bytes", pageSize))
	}

	// Create all indexes in a single batch for faster execution
	// IF NOT EXISTS makes this idempotent and fast on subsequent runs
	indexes := []string{
		// ===== COMPOSITE INDEXES (for common query patterns) =====

		// Issue + Time (per-issue timeline bucketing)
		`CREATE INDEX IF NOT EXISTS idx_occurrence_issue_time
		 ON issue_occurrences(issue_id, timestamp DESC)`,

		// Issue + User (distinct affected-user recounts)
		`CREATE INDEX IF NOT EXISTS idx_occurrence_issue_user
		 ON issue_occurrences(issue_id, user_id)
		 WHERE user_id != ''`,

		// Issue + Session (distinct affected-session recounts)
		`CREATE INDEX IF NOT EXISTS idx_occurrence_issue_session
		 ON issue_occurrences(issue_id, session_id)
		 WHERE session_id != ''`,

		// Source + Time (per-source occurrence rates)
		`CREATE INDEX IF NOT EXISTS idx_occurrence_source_time
		 ON issue_occurrences(source_name, timestamp DESC)`,

		// ===== PARTIAL INDEXES (for specific queries) =====

		// Unresolved issues ranked by score (top-issues queries)
		`CREATE INDEX IF NOT EXISTS idx_issues_open_score
		 ON issues(impact_score DESC, last_seen DESC)
		 WHERE resolved = 0`,

		// Per-source unresolved issues
		`CREATE INDEX IF NOT EXISTS idx_issues_source_open
		 ON issues(source_name, last_seen DESC)
		 WHERE resolved = 0`,

		// Stale running tailers (startup recovery scan)
		`CREATE INDEX IF NOT EXISTS idx_file_states_active
		 ON file_states(source_name, is_active)
		 WHERE is_active = 1`,

		// ===== CLEANUP INDEX =====
		// Index for retention queries (timestamp for deletion)
		`CREATE INDEX IF NOT EXISTS idx_occurrence_cleanup
		 ON issue_occurrences(timestamp)`,
	}

	indexCount := 0
	for _, indexSQL := range indexes {
		if err := db.Exec(indexSQL).Error; err != nil {
			logger.Warn("Failed to create index", logger.Args("error", err))
			return err
		}
		indexCount++
	}

	logger.Debug("Performance indexes verified", logger.Args("count", indexCount))

	// Analyze tables for query optimizer (only log if it fails)
	if err := db.Exec("ANALYZE").Error; err != nil {
		logger.Warn("Failed to analyze database", logger.Args("error", err))
	} else {
		logger.Trace("Database statistics analyzed")
	}

	logger.Debug("Database optimizations completed")
	return nil
}
