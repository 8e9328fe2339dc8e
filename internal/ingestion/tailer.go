package ingestion

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"mediasentry/internal/parser"

	"github.com/pterm/pterm"
)

const (
	defaultPollInterval = 3 * time.Second
	defaultBatchSize    = 200
	readBufferSize      = 64 * 1024
)

// TailerConfig tunes a single file tailer.
type TailerConfig struct {
	// PollInterval is how often the file is checked for new data.
	PollInterval time.Duration
	// BatchSize caps how many lines are handled between state snapshots.
	BatchSize int
	// SkipBackfill starts a file with no saved progress at its current end
	// instead of ingesting existing content.
	SkipBackfill bool
}

// Tailer follows a single log file: it polls for appended data, assembles
// lines into entries, detects rotation, and emits everything as TailEvents on
// a channel owned by the scheduler. It never touches the database; the
// snapshots it emits carry all the state worth persisting.
type Tailer struct {
	sourceName string
	path       string
	provider   parser.Provider
	cfg        TailerConfig
	events     chan<- TailEvent
	logger     *pterm.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Resume hints from persisted state, consumed on the first open.
	resumeOffset int64
	resumeLine   int64
	resumeIdent  string
	opened       bool

	file     *os.File
	reader   *bufio.Reader
	asm      *Assembler
	readPos  int64
	partial  string
	ident    string
	lastSize int64
	lastMod  time.Time
}

// NewTailer builds a tailer that resumes from the given snapshot. Events are
// sent on the provided channel, which must be drained until after Stop
// returns.
func NewTailer(sourceName, path string, provider parser.Provider, resume StateSnapshot, cfg TailerConfig, events chan<- TailEvent, logger *pterm.Logger) *Tailer {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Tailer{
		sourceName:   sourceName,
		path:         path,
		provider:     provider,
		cfg:          cfg,
		events:       events,
		logger:       logger,
		ctx:          ctx,
		cancel:       cancel,
		resumeOffset: resume.ByteOffset,
		resumeLine:   resume.LineNumber,
		resumeIdent:  resume.FileIdent,
	}
}

func (t *Tailer) Start() {
	t.wg.Add(1)
	go t.tailLoop()
	t.logger.Debug("Started tailer",
		t.logger.Args("source", t.sourceName, "path", t.path, "offset", t.resumeOffset))
}

// Stop flushes any pending entry, emits a final state snapshot, and waits for
// the tail loop to exit.
func (t *Tailer) Stop() {
	t.cancel()
	t.wg.Wait()
}

func (t *Tailer) tailLoop() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.cfg.PollInterval)
	defer ticker.Stop()

	t.poll()
	for {
		select {
		case <-t.ctx.Done():
			t.finish()
			return
		case <-ticker.C:
			t.poll()
		}
	}
}

func (t *Tailer) poll() {
	if t.file == nil {
		if !t.open() {
			return
		}
	} else if reason, rotated := t.checkRotation(); rotated {
		t.resetForRotation(reason)
		if !t.open() {
			return
		}
	}
	t.readAvailable()
}

// open opens the file and seeks to the resume position. Saved offsets are
// dropped when they no longer describe the file at this path.
func (t *Tailer) open() bool {
	file, err := os.Open(t.path)
	if err != nil {
		if os.IsNotExist(err) {
			t.logger.Debug("Log file not present yet",
				t.logger.Args("source", t.sourceName, "path", t.path))
		} else {
			t.reportError(fmt.Errorf("open log file: %w", err))
		}
		return false
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		t.reportError(fmt.Errorf("stat log file: %w", err))
		return false
	}

	ident := fileIdent(info)
	size := info.Size()
	offset := t.resumeOffset
	line := t.resumeLine

	switch {
	case !t.opened && offset == 0 && line == 0 && t.cfg.SkipBackfill:
		offset = size
	case t.resumeIdent != "" && ident != "" && ident != t.resumeIdent:
		// The path points at a different file than the saved offsets
		// belong to.
		t.logger.Info("Log file changed since last run, starting over",
			t.logger.Args("source", t.sourceName, "path", t.path))
		offset, line = 0, 0
	case offset > size:
		t.logger.Info("Log file shrank since last run, starting over",
			t.logger.Args("source", t.sourceName, "path", t.path, "offset", offset, "size", size))
		offset, line = 0, 0
	}

	if offset > 0 {
		if _, err := file.Seek(offset, io.SeekStart); err != nil {
			file.Close()
			t.reportError(fmt.Errorf("seek log file: %w", err))
			return false
		}
	}

	t.file = file
	t.reader = bufio.NewReaderSize(file, readBufferSize)
	t.asm = NewAssembler(t.provider, t.sourceName, t.path, line, t.logger)
	t.readPos = offset
	t.partial = ""
	t.ident = ident
	t.lastSize = size
	t.lastMod = info.ModTime()
	t.resumeOffset, t.resumeLine, t.resumeIdent = 0, 0, ""
	t.opened = true
	return true
}

// checkRotation reports whether the file under the open handle has been
// truncated in place or replaced at its path.
func (t *Tailer) checkRotation() (string, bool) {
	held, err := t.file.Stat()
	if err != nil {
		t.reportError(fmt.Errorf("stat open handle: %w", err))
		return "", false
	}
	if held.Size() < t.readPos {
		return "truncated", true
	}

	current, err := os.Stat(t.path)
	if err != nil {
		// The path is gone but the handle still reads; keep draining it
		// until a replacement shows up.
		return "", false
	}
	if ident := fileIdent(current); ident != "" && t.ident != "" && ident != t.ident {
		return "replaced", true
	}
	return "", false
}

// resetForRotation flushes the pending entry from the old file, announces the
// rotation, and zeroes all progress so the new file is read from its start.
func (t *Tailer) resetForRotation(reason string) {
	if entry := t.asm.Flush(); entry != nil {
		t.emitEntry(entry)
	}
	t.logger.Info("Log file rotated",
		t.logger.Args("source", t.sourceName, "path", t.path, "reason", reason))
	t.events <- TailEvent{Kind: EventRotated, Path: t.path}

	t.closeFile()
	t.asm = NewAssembler(t.provider, t.sourceName, t.path, 0, t.logger)
	t.readPos = 0
	t.partial = ""
	t.ident = ""
	t.lastSize = 0
	t.lastMod = time.Time{}
	t.emitState()
}

// readAvailable drains the file to its current end. Only complete lines
// advance the read position; an unterminated final line is kept aside until
// its newline arrives.
func (t *Tailer) readAvailable() {
	lines := 0
	progressed := false
	for t.ctx.Err() == nil {
		s, err := t.reader.ReadString('\n')
		if err == nil {
			raw := t.partial + s
			t.partial = ""
			lineStart := t.readPos
			t.readPos += int64(len(raw))
			line := strings.TrimRight(raw, "\r\n")
			if entry := t.asm.Feed(line, lineStart, t.readPos); entry != nil {
				t.emitEntry(entry)
			}
			progressed = true
			lines++
			if lines >= t.cfg.BatchSize {
				t.refreshStat()
				t.emitState()
				lines = 0
			}
			continue
		}
		if len(s) > 0 {
			t.partial += s
		}
		if err != io.EOF {
			t.reportError(fmt.Errorf("read log file: %w", err))
		}
		break
	}
	if progressed {
		t.refreshStat()
		t.emitState()
	}
}

func (t *Tailer) refreshStat() {
	info, err := t.file.Stat()
	if err != nil {
		return
	}
	t.lastSize = info.Size()
	t.lastMod = info.ModTime()
}

// finish runs once on shutdown: the pending entry is emitted so nothing
// assembled is lost, and the final snapshot records full progress.
func (t *Tailer) finish() {
	if t.asm != nil {
		if entry := t.asm.Flush(); entry != nil {
			t.emitEntry(entry)
		}
		t.emitState()
	}
	t.closeFile()
}

func (t *Tailer) closeFile() {
	if t.file != nil {
		t.file.Close()
		t.file = nil
	}
	t.reader = nil
}

func (t *Tailer) emitEntry(entry *parser.Entry) {
	t.events <- TailEvent{Kind: EventEntry, Path: t.path, Entry: entry}
}

func (t *Tailer) emitState() {
	t.events <- TailEvent{
		Kind: EventState,
		Path: t.path,
		State: &StateSnapshot{
			SourceName: t.sourceName,
			Path:       t.path,
			ByteOffset: t.asm.SafeOffset(t.readPos),
			LineNumber: t.asm.SafeLineNumber(),
			FileSize:   t.lastSize,
			FileIdent:  t.ident,
			ModifiedAt: t.lastMod,
		},
	}
}

func (t *Tailer) reportError(err error) {
	t.logger.WithCaller().Error("Tailer error",
		t.logger.Args("source", t.sourceName, "path", t.path, "error", err))
	t.events <- TailEvent{Kind: EventError, Path: t.path, Err: err}
}
