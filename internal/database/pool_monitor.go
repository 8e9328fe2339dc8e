package database

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/pterm/pterm"
)

// PoolStats is one sample of connection pool health. The occurrence write
// path runs one insert per log entry, so a saturated pool shows up here
// before it shows up as ingestion lag.
type PoolStats struct {
	MaxOpenConns int
	OpenConns    int
	InUse        int
	Idle         int
	WaitCount    int64
	WaitDuration time.Duration
	Timestamp    time.Time

	Utilization float64
	AvgWaitTime time.Duration

	IsHighUtilization bool
	IsSaturated       bool
}

// PoolMonitor samples database/sql pool statistics on an interval and warns
// when the pool runs hot.
type PoolMonitor struct {
	db        *sql.DB
	logger    *pterm.Logger
	interval  time.Duration
	threshold float64
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	mu           sync.RWMutex
	currentStats *PoolStats
	alertCount   int64
}

func NewPoolMonitor(db *sql.DB, logger *pterm.Logger, interval time.Duration, threshold float64) *PoolMonitor {
	return &PoolMonitor{
		db:        db,
		logger:    logger,
		interval:  interval,
		threshold: threshold,
	}
}

// Start begins monitoring the connection pool
func (pm *PoolMonitor) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	pm.cancel = cancel

	pm.wg.Add(1)
	go pm.monitorLoop(ctx)

	pm.logger.Debug("Connection pool monitoring started",
		pm.logger.Args("interval", pm.interval, "threshold", pm.threshold))
}

// Stop stops the pool monitor
func (pm *PoolMonitor) Stop() {
	if pm.cancel != nil {
		pm.cancel()
	}
	pm.wg.Wait()
	pm.logger.Debug("Connection pool monitoring stopped")
}

// GetCurrentStats returns a copy of the latest sample, nil before the first.
func (pm *PoolMonitor) GetCurrentStats() *PoolStats {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	if pm.currentStats == nil {
		return nil
	}
	statsCopy := *pm.currentStats
	return &statsCopy
}

// GetAlertCount returns the total number of high utilization alerts
func (pm *PoolMonitor) GetAlertCount() int64 {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.alertCount
}

// PrintSummary prints a human-readable summary of pool statistics
func (pm *PoolMonitor) PrintSummary() {
	stats := pm.GetCurrentStats()
	if stats == nil {
		pm.logger.Info("No pool statistics available yet")
		return
	}

	pm.logger.Info("📊 Connection Pool Summary",
		pm.logger.Args(
			"max_open_conns", stats.MaxOpenConns,
			"current_open", stats.OpenConns,
			"in_use", stats.InUse,
			"idle", stats.Idle,
			"utilization", fmt.Sprintf("%.1f%%", stats.Utilization*100),
			"total_waits", stats.WaitCount,
			"avg_wait_time", stats.AvgWaitTime,
			"total_alerts", pm.GetAlertCount(),
		))
}

func (pm *PoolMonitor) monitorLoop(ctx context.Context) {
	defer pm.wg.Done()

	ticker := time.NewTicker(pm.interval)
	defer ticker.Stop()

	pm.collectAndAnalyze()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pm.collectAndAnalyze()
		}
	}
}

func (pm *PoolMonitor) collectAndAnalyze() {
	stats := pm.collectStats()

	pm.mu.Lock()
	pm.currentStats = stats
	if stats.IsHighUtilization {
		pm.alertCount++
	}
	pm.mu.Unlock()

	pm.logger.Trace("Connection pool stats",
		pm.logger.Args(
			"max_open", stats.MaxOpenConns,
			"in_use", stats.InUse,
			"idle", stats.Idle,
			"utilization", fmt.Sprintf("%.1f%%", stats.Utilization*100),
			"wait_count", stats.WaitCount,
		))

	if stats.IsSaturated {
		pm.logger.Error("Connection pool saturated - entry writes are queueing",
			pm.logger.Args(
				"in_use", stats.InUse,
				"max_open", stats.MaxOpenConns,
				"wait_count", stats.WaitCount,
				"avg_wait_time", stats.AvgWaitTime,
			))
	} else if stats.IsHighUtilization {
		pm.logger.Warn("Connection pool high utilization",
			pm.logger.Args(
				"utilization", fmt.Sprintf("%.1f%%", stats.Utilization*100),
				"in_use", stats.InUse,
				"max_open", stats.MaxOpenConns,
				"threshold", fmt.Sprintf("%.1f%%", pm.threshold*100),
			))
	}
}

func (pm *PoolMonitor) collectStats() *PoolStats {
	dbStats := pm.db.Stats()

	stats := &PoolStats{
		MaxOpenConns: dbStats.MaxOpenConnections,
		OpenConns:    dbStats.OpenConnections,
		InUse:        dbStats.InUse,
		Idle:         dbStats.Idle,
		WaitCount:    dbStats.WaitCount,
		WaitDuration: dbStats.WaitDuration,
		Timestamp:    time.Now(),
	}

	if stats.MaxOpenConns > 0 {
		stats.Utilization = float64(stats.InUse) / float64(stats.MaxOpenConns)
	}
	if stats.WaitCount > 0 {
		stats.AvgWaitTime = stats.WaitDuration / time.Duration(stats.WaitCount)
	}

	stats.IsHighUtilization = stats.Utilization >= pm.threshold
	stats.IsSaturated = stats.InUse >= stats.MaxOpenConns && stats.MaxOpenConns > 0

	return stats
}
