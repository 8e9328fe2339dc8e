package realtime

import (
	"sync"
	"time"

	"github.com/pterm/pterm"
	"gorm.io/gorm"
)

// StatsCollector samples ingestion throughput and issue counts from the
// database at a fixed interval. It is read-only and can run against the
// read-only connection so sampling never contends with entry writes.
type StatsCollector struct {
	db     *gorm.DB
	logger *pterm.Logger

	mu             sync.RWMutex
	occurrenceRate float64 // occurrences per second over the last minute
	openIssues     int64
	criticalIssues int64
	topScore       int64
	activeFiles    int64
	lastUpdate     time.Time

	cancel chan struct{}
	wg     sync.WaitGroup
}

// IngestStats represents the current ingestion statistics snapshot.
type IngestStats struct {
	OccurrenceRate float64   `json:"occurrence_rate"` // occurrences/sec
	OpenIssues     int64     `json:"open_issues"`
	CriticalIssues int64     `json:"critical_issues"`
	TopScore       int64     `json:"top_score"`
	ActiveFiles    int64     `json:"active_files"`
	Timestamp      time.Time `json:"timestamp"`
}

// NewStatsCollector creates a new ingestion statistics collector.
func NewStatsCollector(db *gorm.DB, logger *pterm.Logger) *StatsCollector {
	return &StatsCollector{
		db:         db,
		logger:     logger,
		lastUpdate: time.Now(),
		cancel:     make(chan struct{}),
	}
}

// Start begins collecting statistics at regular intervals.
func (c *StatsCollector) Start(interval time.Duration) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.collectStats()
			case <-c.cancel:
				return
			}
		}
	}()
	c.logger.Info("Ingestion stats collector started",
		c.logger.Args("interval", interval.String()))
}

// Stop halts collection and waits for the sampling goroutine to exit.
func (c *StatsCollector) Stop() {
	close(c.cancel)
	c.wg.Wait()
}

func (c *StatsCollector) collectStats() {
	now := time.Now()
	oneMinuteAgo := now.Add(-1 * time.Minute)

	// One aggregated query per table instead of a query per counter.
	type issueResult struct {
		OpenIssues     int64 `gorm:"column:open_issues"`
		CriticalIssues int64 `gorm:"column:critical_issues"`
		TopScore       int64 `gorm:"column:top_score"`
	}

	var issues issueResult
	err := c.db.Table("issues").
		Select(`
			COALESCE(SUM(CASE WHEN resolved = 0 THEN 1 ELSE 0 END), 0) as open_issues,
			COALESCE(SUM(CASE WHEN resolved = 0 AND severity = 'critical' THEN 1 ELSE 0 END), 0) as critical_issues,
			COALESCE(MAX(CASE WHEN resolved = 0 THEN impact_score END), 0) as top_score
		`).
		Scan(&issues).Error
	if err != nil {
		c.logger.Warn("Failed to collect issue stats", c.logger.Args("error", err))
		return
	}

	var recentOccurrences int64
	err = c.db.Table("issue_occurrences").
		Where("created_at > ?", oneMinuteAgo).
		Count(&recentOccurrences).Error
	if err != nil {
		c.logger.Warn("Failed to count recent occurrences", c.logger.Args("error", err))
		return
	}

	var activeFiles int64
	err = c.db.Table("file_states").
		Where("is_active = ?", true).
		Count(&activeFiles).Error
	if err != nil {
		c.logger.Warn("Failed to count active files", c.logger.Args("error", err))
		return
	}

	rate := float64(recentOccurrences) / 60.0

	c.mu.Lock()
	c.occurrenceRate = rate
	c.openIssues = issues.OpenIssues
	c.criticalIssues = issues.CriticalIssues
	c.topScore = issues.TopScore
	c.activeFiles = activeFiles
	c.lastUpdate = now
	c.mu.Unlock()

	c.logger.Trace("Collected ingestion stats",
		c.logger.Args(
			"occurrence_rate", rate,
			"open_issues", issues.OpenIssues,
			"active_files", activeFiles,
		))
}

// GetStats returns the current statistics snapshot.
func (c *StatsCollector) GetStats() *IngestStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return &IngestStats{
		OccurrenceRate: c.occurrenceRate,
		OpenIssues:     c.openIssues,
		CriticalIssues: c.criticalIssues,
		TopScore:       c.topScore,
		ActiveFiles:    c.activeFiles,
		Timestamp:      c.lastUpdate,
	}
}
