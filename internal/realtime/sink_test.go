package realtime

import (
	"testing"

	"mediasentry/internal/database/models"
)

type countingSink struct {
	source   int
	backfill int
	opened   int
	updated  int
}

func (s *countingSink) SourceProgress(SourceSnapshot)     { s.source++ }
func (s *countingSink) BackfillProgress(BackfillSnapshot) { s.backfill++ }
func (s *countingSink) IssueOpened(*models.Issue)         { s.opened++ }
func (s *countingSink) IssueUpdated(*models.Issue)        { s.updated++ }

func TestMulti_FansOutToAllSinks(t *testing.T) {
	first := &countingSink{}
	second := &countingSink{}
	multi := NewMulti(first, second)

	multi.SourceProgress(SourceSnapshot{Source: "jellyfin-main", Total: 3, Active: 1, Processed: 2})
	multi.BackfillProgress(BackfillSnapshot{Source: "jellyfin-main", Path: "/var/lib/jellyfin/log/log_1.log", Done: true})
	multi.IssueOpened(&models.Issue{Title: "Connection timeout"})
	multi.IssueUpdated(&models.Issue{Title: "Connection timeout"})

	for i, sink := range []*countingSink{first, second} {
		if sink.source != 1 || sink.backfill != 1 || sink.opened != 1 || sink.updated != 1 {
			t.Errorf("Expected sink %d to receive every notification, got source=%d backfill=%d opened=%d updated=%d",
				i, sink.source, sink.backfill, sink.opened, sink.updated)
		}
	}
}
