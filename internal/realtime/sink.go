package realtime

import (
	"mediasentry/internal/database/models"

	"github.com/pterm/pterm"
)

// SourceSnapshot is one source's ingestion progress at a point in time.
// Counts always satisfy total = skipped + queued + active + processed.
type SourceSnapshot struct {
	Source    string `json:"source"`
	Total     int    `json:"total"`
	Skipped   int    `json:"skipped"`
	Queued    int    `json:"queued"`
	Active    int    `json:"active"`
	Processed int    `json:"processed"`
}

// BackfillSnapshot reports incremental progress of one file's backfill.
type BackfillSnapshot struct {
	Source  string `json:"source"`
	Path    string `json:"path"`
	Lines   int64  `json:"lines"`
	Entries int64  `json:"entries"`
	Done    bool   `json:"done"`
}

// Sink receives progress and issue notifications from the ingestion and
// aggregation paths. Implementations must return quickly: callers invoke
// these from tailer goroutines.
type Sink interface {
	SourceProgress(snapshot SourceSnapshot)
	BackfillProgress(snapshot BackfillSnapshot)
	IssueOpened(issue *models.Issue)
	IssueUpdated(issue *models.Issue)
}

// LoggerSink writes every notification to the process logger. It is the
// default sink when no external transport is wired up.
type LoggerSink struct {
	logger *pterm.Logger
}

func NewLoggerSink(logger *pterm.Logger) *LoggerSink {
	return &LoggerSink{logger: logger}
}

func (s *LoggerSink) SourceProgress(snapshot SourceSnapshot) {
	s.logger.Debug("Ingestion progress",
		s.logger.Args(
			"source", snapshot.Source,
			"total", snapshot.Total,
			"active", snapshot.Active,
			"queued", snapshot.Queued,
			"processed", snapshot.Processed,
			"skipped", snapshot.Skipped,
		))
}

func (s *LoggerSink) BackfillProgress(snapshot BackfillSnapshot) {
	if snapshot.Done {
		s.logger.Info("Backfill finished",
			s.logger.Args(
				"source", snapshot.Source,
				"path", snapshot.Path,
				"lines", snapshot.Lines,
				"entries", snapshot.Entries,
			))
		return
	}
	s.logger.Debug("Backfill progress",
		s.logger.Args("path", snapshot.Path, "lines", snapshot.Lines, "entries", snapshot.Entries))
}

func (s *LoggerSink) IssueOpened(issue *models.Issue) {
	s.logger.Warn("New issue detected",
		s.logger.Args(
			"title", issue.Title,
			"source", issue.SourceName,
			"category", issue.Category,
			"severity", issue.Severity,
			"score", issue.ImpactScore,
		))
}

func (s *LoggerSink) IssueUpdated(issue *models.Issue) {
	s.logger.Debug("Issue updated",
		s.logger.Args(
			"id", issue.ID,
			"occurrences", issue.OccurrenceCount,
			"score", issue.ImpactScore,
		))
}

// Multi fans every notification out to each sink, in order.
type Multi struct {
	sinks []Sink
}

func NewMulti(sinks ...Sink) *Multi {
	return &Multi{sinks: sinks}
}

func (m *Multi) SourceProgress(snapshot SourceSnapshot) {
	for _, s := range m.sinks {
		s.SourceProgress(snapshot)
	}
}

func (m *Multi) BackfillProgress(snapshot BackfillSnapshot) {
	for _, s := range m.sinks {
		s.BackfillProgress(snapshot)
	}
}

func (m *Multi) IssueOpened(issue *models.Issue) {
	for _, s := range m.sinks {
		s.IssueOpened(issue)
	}
}

func (m *Multi) IssueUpdated(issue *models.Issue) {
	for _, s := range m.sinks {
		s.IssueUpdated(issue)
	}
}
