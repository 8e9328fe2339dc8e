package ingestion

import (
	"bufio"
	"context"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"mediasentry/internal/discovery"
	"mediasentry/internal/parser"
	"mediasentry/internal/realtime"

	"github.com/pterm/pterm"
)

const backfillProgressEvery = 2000

// Backfiller re-reads whole files from byte zero for historical catch-up,
// independent of any live tailing. It streams line by line, so file size
// does not matter, and it never writes FileState: the live tailer's offsets
// stay authoritative.
type Backfiller struct {
	provider parser.Provider
	handler  EntryHandler
	sink     realtime.Sink
	logger   *pterm.Logger
}

// BackfillResult summarizes one file's backfill.
type BackfillResult struct {
	Path    string
	Lines   int64
	Entries int64
	Failed  int64
	Err     error
}

func NewBackfiller(provider parser.Provider, handler EntryHandler, sink realtime.Sink, logger *pterm.Logger) *Backfiller {
	return &Backfiller{provider: provider, handler: handler, sink: sink, logger: logger}
}

// Files backfills each path in order. One file's failure is recorded in its
// result and the batch continues with the next file.
func (b *Backfiller) Files(ctx context.Context, sourceName string, paths []string) []BackfillResult {
	results := make([]BackfillResult, 0, len(paths))
	for _, path := range paths {
		result := b.File(ctx, sourceName, path)
		if result.Err != nil {
			b.logger.WithCaller().Error("Backfill failed",
				b.logger.Args("source", sourceName, "path", path, "error", result.Err))
		}
		results = append(results, result)
		if ctx.Err() != nil {
			break
		}
	}
	return results
}

// File backfills a single file. The assembler is flushed at end of file so a
// trailing multi-line entry is not lost, and an unterminated final line is
// processed rather than held back: historical files do not grow.
func (b *Backfiller) File(ctx context.Context, sourceName, path string) BackfillResult {
	result := BackfillResult{Path: path}

	file, err := os.Open(path)
	if err != nil {
		result.Err = err
		return result
	}
	defer file.Close()

	reader := bufio.NewReaderSize(file, readBufferSize)
	asm := NewAssembler(b.provider, sourceName, path, 0, b.logger)
	var pos int64

	for {
		if ctx.Err() != nil {
			result.Err = ctx.Err()
			break
		}
		s, err := reader.ReadString('\n')
		if len(s) > 0 {
			lineStart := pos
			pos += int64(len(s))
			line := strings.TrimRight(s, "\r\n")
			if entry := asm.Feed(line, lineStart, pos); entry != nil {
				b.handleEntry(entry, &result)
			}
			result.Lines++
			if result.Lines%backfillProgressEvery == 0 {
				b.pushProgress(sourceName, &result, false)
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			result.Err = err
			break
		}
	}

	if entry := asm.Flush(); entry != nil {
		b.handleEntry(entry, &result)
	}
	b.pushProgress(sourceName, &result, true)
	return result
}

func (b *Backfiller) handleEntry(entry *parser.Entry, result *BackfillResult) {
	if err := b.handler(entry); err != nil {
		result.Failed++
		b.logger.WithCaller().Error("Backfill entry handler failed",
			b.logger.Args("path", result.Path, "error", err))
		return
	}
	result.Entries++
}

func (b *Backfiller) pushProgress(sourceName string, result *BackfillResult, done bool) {
	b.sink.BackfillProgress(realtime.BackfillSnapshot{
		Source:  sourceName,
		Path:    result.Path,
		Lines:   result.Lines,
		Entries: result.Entries,
		Done:    done,
	})
}

// BackfillOlder runs a one-shot backfill of the files the schedulers skipped
// for age, so history past the cutoff still reaches the issue store without
// occupying a tailer slot. Files modified inside the cutoff are left to their
// tailers.
func (c *Coordinator) BackfillOlder(ctx context.Context) {
	sources, err := c.sources.FindEnabled()
	if err != nil {
		c.logger.WithCaller().Error("Failed to load sources for backfill",
			c.logger.Args("error", err))
		return
	}

	resolver := discovery.NewPathResolver(c.logger)
	for _, source := range sources {
		provider, err := c.registry.Get(source.Provider)
		if err != nil {
			continue
		}
		cfg := c.schedulerConfig(source)
		if cfg.MaxFileAge <= 0 {
			continue
		}
		cutoff := time.Now().Add(-cfg.MaxFileAge)

		roots, patterns := effectiveSearch(source, provider)
		resolution := resolver.Resolve(roots, patterns)

		type aged struct {
			path  string
			mtime time.Time
		}
		var old []aged
		for _, path := range resolution.Files {
			info, err := os.Stat(path)
			if err == nil && info.ModTime().Before(cutoff) {
				old = append(old, aged{path: path, mtime: info.ModTime()})
			}
		}
		if len(old) == 0 {
			continue
		}
		// Oldest first, so replayed issues carry their real FirstSeen order.
		sort.Slice(old, func(i, j int) bool { return old[i].mtime.Before(old[j].mtime) })
		paths := make([]string, len(old))
		for i, f := range old {
			paths[i] = f.path
		}

		c.logger.Info("Backfilling files older than the age cutoff",
			c.logger.Args("source", source.Name, "files", len(paths)))
		NewBackfiller(provider, c.handler, c.sink, c.logger).Files(ctx, source.Name, paths)
		if ctx.Err() != nil {
			return
		}
	}
}
