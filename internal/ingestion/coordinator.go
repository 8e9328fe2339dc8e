package ingestion

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"mediasentry/internal/config"
	"mediasentry/internal/database/models"
	"mediasentry/internal/database/repositories"
	"mediasentry/internal/parser"
	"mediasentry/internal/realtime"

	"github.com/pterm/pterm"
)

// Coordinator owns one SourceScheduler per enabled log source and keeps that
// set in sync with the log_sources table, so sources can be added, disabled,
// or reconfigured at runtime without touching the others.
type Coordinator struct {
	sources  repositories.LogSourceRepository
	states   repositories.FileStateRepository
	registry *parser.Registry
	handler  EntryHandler
	sink     realtime.Sink
	cfg      config.IngestionConfig
	logger   *pterm.Logger

	mu         sync.RWMutex
	schedulers map[string]*SourceScheduler
	isRunning  bool

	syncStop chan struct{}
	syncOnce sync.Once
	syncWG   sync.WaitGroup
}

func NewCoordinator(
	sources repositories.LogSourceRepository,
	states repositories.FileStateRepository,
	registry *parser.Registry,
	handler EntryHandler,
	sink realtime.Sink,
	cfg config.IngestionConfig,
	logger *pterm.Logger,
) *Coordinator {
	return &Coordinator{
		sources:    sources,
		states:     states,
		registry:   registry,
		handler:    handler,
		sink:       sink,
		cfg:        cfg,
		logger:     logger,
		schedulers: make(map[string]*SourceScheduler),
		syncStop:   make(chan struct{}),
	}
}

// Start brings up a scheduler for every enabled source. Calling it while
// running is a no-op, so the maintenance pause/resume path can use it freely.
func (c *Coordinator) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isRunning {
		return nil
	}
	c.isRunning = true
	c.logger.Info("Starting ingestion coordinator")
	return c.syncLocked()
}

// Stop shuts down every scheduler in parallel and leaves the coordinator
// restartable.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.isRunning {
		return
	}
	c.isRunning = false

	var wg sync.WaitGroup
	for _, sched := range c.schedulers {
		wg.Add(1)
		go func(s *SourceScheduler) {
			defer wg.Done()
			s.Stop()
		}(sched)
	}
	wg.Wait()
	c.schedulers = make(map[string]*SourceScheduler)
	c.logger.Info("Stopped ingestion coordinator")
}

// Shutdown is the process-exit teardown: it ends the sync loop, then stops
// ingestion.
func (c *Coordinator) Shutdown() {
	c.syncOnce.Do(func() { close(c.syncStop) })
	c.syncWG.Wait()
	c.Stop()
}

// AddSource starts ingestion for a source that is not yet running.
func (c *Coordinator) AddSource(source *models.LogSource) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.isRunning {
		return fmt.Errorf("coordinator is not running")
	}
	if _, exists := c.schedulers[source.Name]; exists {
		return fmt.Errorf("source %q is already running", source.Name)
	}
	return c.addLocked(source)
}

// RemoveSource stops ingestion for one source, leaving all others untouched.
func (c *Coordinator) RemoveSource(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	sched, exists := c.schedulers[name]
	if !exists {
		return fmt.Errorf("source %q is not running", name)
	}
	sched.Stop()
	delete(c.schedulers, name)
	c.logger.Info("Removed ingestion source", c.logger.Args("source", name))
	return nil
}

// Restart reloads one source's row and restarts its scheduler with the fresh
// configuration.
func (c *Coordinator) Restart(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if sched, exists := c.schedulers[name]; exists {
		sched.Stop()
		delete(c.schedulers, name)
	}

	source, err := c.sources.FindByName(name)
	if err != nil {
		return fmt.Errorf("load source %q: %w", name, err)
	}
	if !source.Enabled {
		c.logger.Info("Source disabled, not restarting", c.logger.Args("source", name))
		return nil
	}
	return c.addLocked(source)
}

// SyncWithDatabase reconciles running schedulers against the enabled sources
// in the database: missing ones are started, disabled or deleted ones are
// stopped. While the coordinator is stopped this is a no-op.
func (c *Coordinator) SyncWithDatabase() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.isRunning {
		return nil
	}
	return c.syncLocked()
}

func (c *Coordinator) syncLocked() error {
	sources, err := c.sources.FindEnabled()
	if err != nil {
		return fmt.Errorf("load log sources: %w", err)
	}

	desired := make(map[string]*models.LogSource, len(sources))
	for _, source := range sources {
		desired[source.Name] = source
	}

	for name, sched := range c.schedulers {
		if _, keep := desired[name]; keep {
			continue
		}
		sched.Stop()
		delete(c.schedulers, name)
		c.logger.Info("Source no longer enabled, stopped",
			c.logger.Args("source", name))
	}

	for name, source := range desired {
		if _, exists := c.schedulers[name]; exists {
			continue
		}
		if err := c.addLocked(source); err != nil {
			c.logger.WithCaller().Error("Failed to start source",
				c.logger.Args("source", name, "error", err))
		}
	}
	return nil
}

func (c *Coordinator) addLocked(source *models.LogSource) error {
	provider, err := c.registry.Get(source.Provider)
	if err != nil {
		return err
	}
	sched := NewSourceScheduler(source, provider, c.states, c.handler, c.sink,
		c.schedulerConfig(source), c.logger)
	c.schedulers[source.Name] = sched
	sched.Start()
	return nil
}

// schedulerConfig applies per-source overrides on top of the global knobs.
// Zero values in the source row mean "use the default".
func (c *Coordinator) schedulerConfig(source *models.LogSource) SchedulerConfig {
	cfg := SchedulerConfig{
		PollInterval:   c.cfg.PollInterval,
		BatchSize:      c.cfg.BatchSize,
		MaxTailers:     c.cfg.MaxTailers,
		MaxFileAge:     time.Duration(c.cfg.MaxFileAgeDays) * 24 * time.Hour,
		StaggerDelay:   time.Duration(c.cfg.StaggerDelayMs) * time.Millisecond,
		AdmissionDelay: c.cfg.AdmissionDelay,
		SkipBackfill:   source.SkipBackfill,
		WatchEnabled:   c.cfg.WatchFiles,
	}
	if source.MaxTailers > 0 {
		cfg.MaxTailers = source.MaxTailers
	}
	if source.MaxFileAgeDays > 0 {
		cfg.MaxFileAge = time.Duration(source.MaxFileAgeDays) * 24 * time.Hour
	}
	if source.StartDelayMs > 0 {
		cfg.StaggerDelay = time.Duration(source.StartDelayMs) * time.Millisecond
	}
	return cfg
}

// StartSyncLoop re-syncs against the database on an interval until Shutdown.
func (c *Coordinator) StartSyncLoop(interval time.Duration) {
	if interval <= 0 {
		return
	}
	c.syncWG.Add(1)
	go func() {
		defer c.syncWG.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-c.syncStop:
				return
			case <-ticker.C:
				if err := c.SyncWithDatabase(); err != nil {
					c.logger.WithCaller().Error("Source sync failed",
						c.logger.Args("error", err))
				}
			}
		}
	}()
}

// ActiveTailers is the number of files currently being tailed across all
// sources.
func (c *Coordinator) ActiveTailers() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	total := 0
	for _, sched := range c.schedulers {
		total += sched.ActiveTailers()
	}
	return total
}

func (c *Coordinator) SchedulerCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.schedulers)
}

// Progress reports every running source's counts, sorted by source name.
func (c *Coordinator) Progress() []realtime.SourceSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snapshots := make([]realtime.SourceSnapshot, 0, len(c.schedulers))
	for _, sched := range c.schedulers {
		snapshots = append(snapshots, sched.Progress())
	}
	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].Source < snapshots[j].Source
	})
	return snapshots
}
