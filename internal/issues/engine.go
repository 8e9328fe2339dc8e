package issues

import (
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"mediasentry/internal/database/models"
	"mediasentry/internal/database/repositories"
	"mediasentry/internal/parser"
	"mediasentry/internal/realtime"

	"github.com/google/uuid"
	"github.com/pterm/pterm"
	"gorm.io/gorm"
)

const lockStripes = 64

// Aggregator folds parsed entries into deduplicated issues. The upsert is a
// read-then-write sequence, so writers touching the same fingerprint are
// serialized through striped locks; writers on different fingerprints almost
// always proceed in parallel.
type Aggregator struct {
	repo   repositories.IssueRepository
	sink   realtime.Sink
	logger *pterm.Logger

	locks      [lockStripes]sync.Mutex
	duplicates atomic.Int64
}

func NewAggregator(repo repositories.IssueRepository, sink realtime.Sink, logger *pterm.Logger) *Aggregator {
	return &Aggregator{repo: repo, sink: sink, logger: logger}
}

// Ingest records one parsed entry against its issue, creating the issue on
// first sight. Re-delivered entries (same dedup key) are skipped without
// touching any counter, which is what makes crash-replay safe.
func (a *Aggregator) Ingest(entry *parser.Entry) error {
	category, severity := Classify(entry.Message, entry.Level)
	fingerprint := Fingerprint(entry.SourceName, entry.ExceptionType, entry.Message)

	lock := a.lockFor(fingerprint)
	lock.Lock()
	defer lock.Unlock()

	issue, err := a.repo.FindByFingerprint(fingerprint)
	isNew := false
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		issue = &models.Issue{
			ID:               uuid.NewString(),
			Fingerprint:      fingerprint,
			Title:            ExtractTitle(entry.Message),
			SourceName:       entry.SourceName,
			Category:         category,
			Severity:         severity,
			ExceptionType:    entry.ExceptionType,
			SampleMessage:    entry.Message,
			SampleStackTrace: entry.StackTrace,
			FirstSeen:        entry.Timestamp,
			LastSeen:         entry.Timestamp,
		}
		if err := a.repo.Create(issue); err != nil {
			return fmt.Errorf("create issue: %w", err)
		}
		isNew = true
	case err != nil:
		return fmt.Errorf("find issue by fingerprint: %w", err)
	}

	inserted, err := a.repo.InsertOccurrence(&models.IssueOccurrence{
		IssueID:    issue.ID,
		EntryKey:   entry.DedupKey(),
		Timestamp:  entry.Timestamp,
		SourceName: entry.SourceName,
		FilePath:   entry.FilePath,
		UserID:     entry.UserID,
		SessionID:  entry.SessionID,
		DeviceID:   entry.DeviceID,
		ItemID:     entry.ItemID,
	})
	if err != nil {
		return fmt.Errorf("insert occurrence: %w", err)
	}
	if !inserted {
		a.duplicates.Add(1)
		return nil
	}

	stats, err := a.repo.OccurrenceStats(issue.ID)
	if err != nil {
		return fmt.Errorf("recount occurrences: %w", err)
	}
	issue.OccurrenceCount = stats.Occurrences
	issue.AffectedUsers = stats.Users
	issue.AffectedSessions = stats.Sessions
	if entry.Timestamp.After(issue.LastSeen) {
		issue.LastSeen = entry.Timestamp
	}
	if entry.Timestamp.Before(issue.FirstSeen) {
		issue.FirstSeen = entry.Timestamp
	}
	if issue.Resolved {
		issue.Resolved = false
		issue.ResolvedAt = nil
		a.logger.Info("Resolved issue recurred, reopening",
			a.logger.Args("id", issue.ID, "title", issue.Title))
	}
	issue.ImpactScore = ImpactScore(issue.Severity, issue.OccurrenceCount,
		issue.AffectedUsers, issue.AffectedSessions, issue.LastSeen)

	if err := a.repo.Update(issue); err != nil {
		return fmt.Errorf("update issue: %w", err)
	}

	if isNew {
		a.sink.IssueOpened(issue)
	} else {
		a.sink.IssueUpdated(issue)
	}
	return nil
}

// Merge folds several issues into the first one in the list. Occurrences of
// the losers are re-pointed at the survivor, the survivor's span and counts
// are recomputed, and the loser rows are deleted, all in one transaction.
func (a *Aggregator) Merge(ids []string) (*models.Issue, error) {
	if len(ids) < 2 {
		return nil, fmt.Errorf("merge requires at least two issues, got %d", len(ids))
	}

	held, err := a.lockAll(ids)
	if err != nil {
		return nil, err
	}
	defer held.unlock()

	survivorID, loserIDs := ids[0], ids[1:]
	var survivor *models.Issue

	err = a.repo.InTransaction(func(tx repositories.IssueRepository) error {
		issues, err := tx.FindByIDs(ids)
		if err != nil {
			return fmt.Errorf("load issues: %w", err)
		}
		if len(issues) != len(ids) {
			return fmt.Errorf("merge: found %d of %d issues", len(issues), len(ids))
		}

		byID := make(map[string]*models.Issue, len(issues))
		for _, issue := range issues {
			byID[issue.ID] = issue
		}
		survivor = byID[survivorID]

		firstSeen, lastSeen := survivor.FirstSeen, survivor.LastSeen
		for _, id := range loserIDs {
			loser := byID[id]
			if loser.FirstSeen.Before(firstSeen) {
				firstSeen = loser.FirstSeen
			}
			if loser.LastSeen.After(lastSeen) {
				lastSeen = loser.LastSeen
			}
		}

		if err := tx.RepointOccurrences(loserIDs, survivorID); err != nil {
			return fmt.Errorf("repoint occurrences: %w", err)
		}
		stats, err := tx.OccurrenceStats(survivorID)
		if err != nil {
			return fmt.Errorf("recount occurrences: %w", err)
		}

		survivor.FirstSeen = firstSeen
		survivor.LastSeen = lastSeen
		survivor.OccurrenceCount = stats.Occurrences
		survivor.AffectedUsers = stats.Users
		survivor.AffectedSessions = stats.Sessions
		survivor.ImpactScore = ImpactScore(survivor.Severity, survivor.OccurrenceCount,
			survivor.AffectedUsers, survivor.AffectedSessions, survivor.LastSeen)

		if err := tx.Update(survivor); err != nil {
			return fmt.Errorf("update survivor: %w", err)
		}
		if err := tx.Delete(loserIDs); err != nil {
			return fmt.Errorf("delete merged issues: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	a.logger.Info("Merged issues",
		a.logger.Args("survivor", survivorID, "merged", len(loserIDs), "occurrences", survivor.OccurrenceCount))
	a.sink.IssueUpdated(survivor)
	return survivor, nil
}

// Resolve marks an issue handled. A later occurrence of the same
// fingerprint reopens it.
func (a *Aggregator) Resolve(id string) error {
	return a.setResolved(id, true)
}

// Reopen clears an issue's resolved flag by hand.
func (a *Aggregator) Reopen(id string) error {
	return a.setResolved(id, false)
}

func (a *Aggregator) setResolved(id string, resolved bool) error {
	issue, err := a.repo.FindByID(id)
	if err != nil {
		return fmt.Errorf("find issue: %w", err)
	}

	lock := a.lockFor(issue.Fingerprint)
	lock.Lock()
	defer lock.Unlock()

	// Re-read under the lock: an ingest may have raced the first read.
	issue, err = a.repo.FindByID(id)
	if err != nil {
		return fmt.Errorf("find issue: %w", err)
	}
	if issue.Resolved == resolved {
		return nil
	}

	issue.Resolved = resolved
	if resolved {
		now := time.Now()
		issue.ResolvedAt = &now
	} else {
		issue.ResolvedAt = nil
	}
	if err := a.repo.Update(issue); err != nil {
		return fmt.Errorf("update issue: %w", err)
	}
	a.sink.IssueUpdated(issue)
	return nil
}

// DuplicatesSkipped reports how many re-delivered entries were dropped by
// the occurrence dedup key since startup.
func (a *Aggregator) DuplicatesSkipped() int64 {
	return a.duplicates.Load()
}

func (a *Aggregator) lockFor(fingerprint string) *sync.Mutex {
	return &a.locks[stripeIndex(fingerprint)]
}

func stripeIndex(fingerprint string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(fingerprint))
	return h.Sum32() % lockStripes
}

type heldLocks struct {
	locks []*sync.Mutex
}

// lockAll acquires the lock stripes of every issue's fingerprint in index
// order so two concurrent merges cannot deadlock against each other.
func (a *Aggregator) lockAll(ids []string) (*heldLocks, error) {
	issues, err := a.repo.FindByIDs(ids)
	if err != nil {
		return nil, fmt.Errorf("load issues for locking: %w", err)
	}

	seen := make(map[uint32]bool, len(issues))
	indexes := make([]uint32, 0, len(issues))
	for _, issue := range issues {
		idx := stripeIndex(issue.Fingerprint)
		if !seen[idx] {
			seen[idx] = true
			indexes = append(indexes, idx)
		}
	}
	sort.Slice(indexes, func(i, j int) bool { return indexes[i] < indexes[j] })

	held := &heldLocks{locks: make([]*sync.Mutex, 0, len(indexes))}
	for _, idx := range indexes {
		a.locks[idx].Lock()
		held.locks = append(held.locks, &a.locks[idx])
	}
	return held, nil
}

func (h *heldLocks) unlock() {
	for i := len(h.locks) - 1; i >= 0; i-- {
		h.locks[i].Unlock()
	}
}
