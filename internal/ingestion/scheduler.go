package ingestion

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"mediasentry/internal/database/models"
	"mediasentry/internal/database/repositories"
	"mediasentry/internal/discovery"
	"mediasentry/internal/parser"
	"mediasentry/internal/realtime"

	"github.com/fsnotify/fsnotify"
	"github.com/pterm/pterm"
)

const (
	defaultMaxTailers     = 5
	defaultAdmissionDelay = 2 * time.Second
	defaultStaggerDelay   = 250 * time.Millisecond
	stopTimeout           = 10 * time.Second
	eventBufferSize       = 256
)

// EntryHandler receives every assembled entry, in file order per file. A
// returned error freezes state persistence for that file, so the entry is
// re-delivered after the next restart instead of being lost.
type EntryHandler func(entry *parser.Entry) error

// SchedulerConfig carries the effective knobs for one source, with source
// overrides already applied on top of the global defaults.
type SchedulerConfig struct {
	PollInterval   time.Duration
	BatchSize      int
	MaxTailers     int
	MaxFileAge     time.Duration
	StaggerDelay   time.Duration
	AdmissionDelay time.Duration
	SkipBackfill   bool
	WatchEnabled   bool
}

// SourceScheduler runs ingestion for one log source: it discovers candidate
// files, ranks them newest first, admits them to tailing under a concurrency
// cap with staggered starts, and consumes the tailers' event stream on a
// single goroutine so per-file ordering carries through to the handler and
// to state persistence.
type SourceScheduler struct {
	source   *models.LogSource
	provider parser.Provider
	states   repositories.FileStateRepository
	handler  EntryHandler
	sink     realtime.Sink
	resolver *discovery.PathResolver
	cfg      SchedulerConfig
	logger   *pterm.Logger

	ctx            context.Context
	cancel         context.CancelFunc
	consumerCtx    context.Context
	consumerCancel context.CancelFunc

	events     chan TailEvent
	workerWG   sync.WaitGroup
	consumerWG sync.WaitGroup

	mu        sync.Mutex
	queue     []string
	tailers   map[string]*Tailer
	known     map[string]struct{}
	total     int
	skipped   int
	processed int
}

func NewSourceScheduler(
	source *models.LogSource,
	provider parser.Provider,
	states repositories.FileStateRepository,
	handler EntryHandler,
	sink realtime.Sink,
	cfg SchedulerConfig,
	logger *pterm.Logger,
) *SourceScheduler {
	if cfg.MaxTailers <= 0 {
		cfg.MaxTailers = defaultMaxTailers
	}
	if cfg.AdmissionDelay <= 0 {
		cfg.AdmissionDelay = defaultAdmissionDelay
	}
	if cfg.StaggerDelay <= 0 {
		cfg.StaggerDelay = defaultStaggerDelay
	}
	ctx, cancel := context.WithCancel(context.Background())
	consumerCtx, consumerCancel := context.WithCancel(context.Background())
	return &SourceScheduler{
		source:         source,
		provider:       provider,
		states:         states,
		handler:        handler,
		sink:           sink,
		resolver:       discovery.NewPathResolver(logger),
		cfg:            cfg,
		logger:         logger,
		ctx:            ctx,
		cancel:         cancel,
		consumerCtx:    consumerCtx,
		consumerCancel: consumerCancel,
		events:         make(chan TailEvent, eventBufferSize),
		tailers:        make(map[string]*Tailer),
		known:          make(map[string]struct{}),
	}
}

// Start discovers files and launches the admission loop. Rows left active by
// a previous crash are cleared first so the progress counts start honest.
func (s *SourceScheduler) Start() {
	if err := s.states.DeactivateSource(s.source.Name); err != nil {
		s.logger.WithCaller().Error("Failed to reset file states",
			s.logger.Args("source", s.source.Name, "error", err))
	}

	s.consumerWG.Add(1)
	go s.consumeEvents()

	roots := s.discover()

	s.workerWG.Add(1)
	go s.admitLoop()

	if s.cfg.WatchEnabled {
		s.watchRoots(roots)
	}

	s.pushProgress()
	s.logger.Info("Started ingestion",
		s.logger.Args("source", s.source.Name, "files", s.total, "skipped", s.skipped))
}

// effectiveSearch merges a source's configured paths and patterns with the
// provider defaults: explicit configuration wins, empty falls back.
func effectiveSearch(source *models.LogSource, provider parser.Provider) (roots, patterns []string) {
	roots = source.PathList()
	if len(roots) == 0 {
		roots = provider.DefaultSearchPaths()
	}
	patterns = source.PatternList()
	if len(patterns) == 0 {
		patterns = provider.FilePatterns()
	}
	return roots, patterns
}

// discover resolves candidate files, applies the age cutoff, and queues the
// survivors newest first. It returns the accessible roots for the watcher.
func (s *SourceScheduler) discover() []string {
	roots, patterns := effectiveSearch(s.source, s.provider)
	resolution := s.resolver.Resolve(roots, patterns)

	var cutoff time.Time
	if s.cfg.MaxFileAge > 0 {
		cutoff = time.Now().Add(-s.cfg.MaxFileAge)
	}

	type candidate struct {
		path  string
		mtime time.Time
	}
	var candidates []candidate

	s.mu.Lock()
	for _, path := range resolution.Files {
		s.known[path] = struct{}{}
		s.total++

		info, err := os.Stat(path)
		if err != nil {
			s.skipped++
			s.logger.Debug("Skipping unreadable file",
				s.logger.Args("source", s.source.Name, "path", path, "error", err))
			continue
		}
		if !cutoff.IsZero() && info.ModTime().Before(cutoff) {
			s.skipped++
			s.logger.Debug("Skipping file older than cutoff",
				s.logger.Args("source", s.source.Name, "path", path, "modified", info.ModTime()))
			continue
		}
		candidates = append(candidates, candidate{path: path, mtime: info.ModTime()})
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].mtime.After(candidates[j].mtime)
	})
	for _, c := range candidates {
		s.queue = append(s.queue, c.path)
	}
	s.mu.Unlock()

	var accessible []string
	for _, root := range resolution.Roots {
		if root.Accessible {
			accessible = append(accessible, root.Root)
		}
	}
	return accessible
}

// admitLoop drains the queue into running tailers. At the concurrency cap it
// waits and rechecks; after each admission it waits the stagger delay so a
// large queue does not open every file at once.
func (s *SourceScheduler) admitLoop() {
	defer s.workerWG.Done()

	for s.ctx.Err() == nil {
		path, ok := s.nextAdmission()
		if !ok {
			if !s.sleep(s.cfg.AdmissionDelay) {
				return
			}
			continue
		}
		s.startTailer(path)
		s.pushProgress()
		if !s.sleep(s.cfg.StaggerDelay) {
			return
		}
	}
}

func (s *SourceScheduler) nextAdmission() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 || len(s.tailers) >= s.cfg.MaxTailers {
		return "", false
	}
	path := s.queue[0]
	s.queue = s.queue[1:]
	return path, true
}

func (s *SourceScheduler) startTailer(path string) {
	state, err := s.states.FindOrCreate(s.source.Name, path)
	if err != nil {
		// Persistence trouble. Requeue and let the admission loop retry
		// after its delay.
		s.mu.Lock()
		s.queue = append(s.queue, path)
		s.mu.Unlock()
		return
	}

	resume := StateSnapshot{
		ByteOffset: state.ByteOffset,
		LineNumber: state.LineNumber,
		FileIdent:  state.FileIdent,
	}
	tailer := NewTailer(s.source.Name, path, s.provider, resume, TailerConfig{
		PollInterval: s.cfg.PollInterval,
		BatchSize:    s.cfg.BatchSize,
		SkipBackfill: s.cfg.SkipBackfill,
	}, s.events, s.logger)

	if err := s.states.MarkActive(s.source.Name, path, true); err != nil {
		s.logger.WithCaller().Error("Failed to mark file active",
			s.logger.Args("source", s.source.Name, "path", path, "error", err))
	}

	s.mu.Lock()
	s.tailers[path] = tailer
	s.mu.Unlock()
	tailer.Start()
}

// consumeEvents is the single consumer of every tailer's events. Handling an
// entry before persisting the state snapshot that covers it is what turns
// per-file FIFO into the at-least-once guarantee: a crash in between only
// re-delivers, and the dedup key absorbs the replay.
func (s *SourceScheduler) consumeEvents() {
	defer s.consumerWG.Done()

	// Paths whose handler failed. Their snapshots are dropped so a restart
	// replays from the last good offset; rotation resets the file anyway.
	frozen := make(map[string]bool)

	for {
		select {
		case ev, ok := <-s.events:
			if !ok {
				return
			}
			s.handleEvent(ev, frozen)
		case <-s.consumerCtx.Done():
			for {
				select {
				case ev, ok := <-s.events:
					if !ok {
						return
					}
					s.handleEvent(ev, frozen)
				default:
					return
				}
			}
		}
	}
}

func (s *SourceScheduler) handleEvent(ev TailEvent, frozen map[string]bool) {
	switch ev.Kind {
	case EventEntry:
		if err := s.handler(ev.Entry); err != nil {
			if !frozen[ev.Path] {
				s.logger.WithCaller().Error("Entry handler failed, freezing file progress",
					s.logger.Args("source", s.source.Name, "path", ev.Path, "error", err))
			}
			frozen[ev.Path] = true
			if rerr := s.states.RecordError(s.source.Name, ev.Path, err.Error()); rerr != nil {
				s.logger.WithCaller().Error("Failed to record entry error",
					s.logger.Args("path", ev.Path, "error", rerr))
			}
		}
	case EventState:
		if frozen[ev.Path] {
			return
		}
		st := ev.State
		err := s.states.UpdateTracking(st.SourceName, st.Path, st.ByteOffset, st.LineNumber, st.FileSize, st.FileIdent, st.ModifiedAt)
		if err != nil {
			s.logger.WithCaller().Error("Failed to persist file state",
				s.logger.Args("source", st.SourceName, "path", st.Path, "error", err))
		}
	case EventRotated:
		delete(frozen, ev.Path)
	case EventError:
		if err := s.states.RecordError(s.source.Name, ev.Path, ev.Err.Error()); err != nil {
			s.logger.WithCaller().Error("Failed to record tail error",
				s.logger.Args("path", ev.Path, "error", err))
		}
	}
}

// watchRoots enqueues log files created after startup. Rotation renames are
// ignored for paths already known; the running tailer handles those itself.
func (s *SourceScheduler) watchRoots(roots []string) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		s.logger.WithCaller().Warn("File watching unavailable",
			s.logger.Args("source", s.source.Name, "error", err))
		return
	}

	watched := 0
	for _, root := range roots {
		info, err := os.Stat(root)
		if err != nil || !info.IsDir() {
			continue
		}
		if err := watcher.Add(root); err != nil {
			s.logger.Debug("Cannot watch root",
				s.logger.Args("root", root, "error", err))
			continue
		}
		watched++
	}
	if watched == 0 {
		watcher.Close()
		return
	}

	s.workerWG.Add(1)
	go func() {
		defer s.workerWG.Done()
		defer watcher.Close()
		for {
			select {
			case <-s.ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				s.maybeEnqueue(ev.Name)
			case werr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Debug("Watcher error",
					s.logger.Args("source", s.source.Name, "error", werr))
			}
		}
	}()
}

func (s *SourceScheduler) maybeEnqueue(path string) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return
	}
	info, err := os.Stat(abs)
	if err != nil || !info.Mode().IsRegular() {
		return
	}
	if !s.matchesPatterns(filepath.Base(abs)) {
		return
	}

	s.mu.Lock()
	if _, dup := s.known[abs]; dup {
		s.mu.Unlock()
		return
	}
	s.known[abs] = struct{}{}
	s.queue = append(s.queue, abs)
	s.total++
	s.mu.Unlock()

	s.logger.Info("New log file discovered",
		s.logger.Args("source", s.source.Name, "path", abs))
	s.pushProgress()
}

func (s *SourceScheduler) matchesPatterns(base string) bool {
	_, patterns := effectiveSearch(s.source, s.provider)
	for _, pattern := range patterns {
		if ok, err := filepath.Match(filepath.Base(pattern), base); err == nil && ok {
			return true
		}
	}
	return false
}

// Stop halts admission and watching, stops every tailer (each flushes its
// pending entry and emits a final snapshot), then drains the event channel.
// A tailer stuck in I/O cannot hold shutdown past the stop timeout; in that
// case buffered events are drained and the rest abandoned.
func (s *SourceScheduler) Stop() {
	s.cancel()
	s.workerWG.Wait()

	s.mu.Lock()
	stopping := make([]*Tailer, 0, len(s.tailers))
	for _, t := range s.tailers {
		stopping = append(stopping, t)
	}
	s.tailers = make(map[string]*Tailer)
	s.processed += len(stopping)
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		var wg sync.WaitGroup
		for _, t := range stopping {
			wg.Add(1)
			go func(t *Tailer) {
				defer wg.Done()
				t.Stop()
			}(t)
		}
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		close(s.events)
		s.consumerWG.Wait()
	case <-time.After(stopTimeout):
		s.logger.WithCaller().Warn("Timed out waiting for tailers to stop",
			s.logger.Args("source", s.source.Name))
		s.consumerCancel()
		s.consumerWG.Wait()
	}

	if err := s.states.DeactivateSource(s.source.Name); err != nil {
		s.logger.WithCaller().Error("Failed to deactivate file states",
			s.logger.Args("source", s.source.Name, "error", err))
	}
	s.pushProgress()
	s.logger.Info("Stopped ingestion", s.logger.Args("source", s.source.Name))
}

// Progress returns the current counts. Total always equals
// skipped + queued + active + processed.
func (s *SourceScheduler) Progress() realtime.SourceSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return realtime.SourceSnapshot{
		Source:    s.source.Name,
		Total:     s.total,
		Skipped:   s.skipped,
		Queued:    len(s.queue),
		Active:    len(s.tailers),
		Processed: s.processed,
	}
}

func (s *SourceScheduler) ActiveTailers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tailers)
}

func (s *SourceScheduler) pushProgress() {
	s.sink.SourceProgress(s.Progress())
}

// sleep waits for d unless the scheduler is stopping first.
func (s *SourceScheduler) sleep(d time.Duration) bool {
	select {
	case <-s.ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
