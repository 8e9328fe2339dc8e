package ingestion

import (
	"strings"
	"testing"

	"mediasentry/internal/parser"
	"mediasentry/internal/parser/generic"
	"mediasentry/internal/parser/jellyfin"

	"github.com/pterm/pterm"
)

func testLogger() *pterm.Logger {
	return pterm.DefaultLogger.WithLevel(pterm.LogLevelTrace)
}

func newTestAssembler() *Assembler {
	logger := testLogger()
	return NewAssembler(generic.NewParser(logger), "jellyfin-main", "/var/lib/jellyfin/log/log_20240101.log", 0, logger)
}

// feedAll feeds lines with the byte offsets a tailer would compute (newline
// included) and returns every completed entry.
func feedAll(a *Assembler, lines ...string) []*parser.Entry {
	var entries []*parser.Entry
	var pos int64
	for _, line := range lines {
		start := pos
		pos += int64(len(line)) + 1
		if entry := a.Feed(line, start, pos); entry != nil {
			entries = append(entries, entry)
		}
	}
	return entries
}

func TestAssembler_EmitsOnNextEntryStart(t *testing.T) {
	a := newTestAssembler()

	entries := feedAll(a,
		"2024-01-01 00:00:00 ERROR Connection timeout",
		"2024-01-01 00:00:01 INFO Scan finished",
	)

	if len(entries) != 1 {
		t.Fatalf("Expected 1 completed entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Message != "Connection timeout" {
		t.Errorf("Expected message 'Connection timeout', got %q", entry.Message)
	}
	if entry.SourceName != "jellyfin-main" {
		t.Errorf("Expected source 'jellyfin-main', got %q", entry.SourceName)
	}
	if entry.FilePath != "/var/lib/jellyfin/log/log_20240101.log" {
		t.Errorf("Expected file path to be set, got %q", entry.FilePath)
	}

	second := a.Flush()
	if second == nil || second.Message != "Scan finished" {
		t.Errorf("Expected flush to return the second entry, got %+v", second)
	}
}

func TestAssembler_MultiLineEntry(t *testing.T) {
	a := newTestAssembler()

	frame1 := "  at MediaBrowser.Controller.Net.WebSocketHandler.ProcessMessage()"
	frame2 := "  at System.Net.Http.HttpClient.SendAsync()"
	entries := feedAll(a,
		"2024-01-01 00:00:00 ERROR Connection timeout",
		frame1,
		frame2,
		"2024-01-01 00:00:05 INFO Next entry",
	)

	if len(entries) != 1 {
		t.Fatalf("Expected 1 completed entry, got %d", len(entries))
	}
	entry := entries[0]

	wantStack := frame1 + "\n" + frame2
	if entry.StackTrace != wantStack {
		t.Errorf("Expected stack trace %q, got %q", wantStack, entry.StackTrace)
	}
	wantRaw := "2024-01-01 00:00:00 ERROR Connection timeout\n" + wantStack
	if entry.Raw != wantRaw {
		t.Errorf("Expected raw text %q, got %q", wantRaw, entry.Raw)
	}
}

func TestAssembler_ExceptionTypeFromContinuation(t *testing.T) {
	a := newTestAssembler()

	feedAll(a,
		"2024-01-01 00:00:00 ERROR Request to remote endpoint failed",
		"System.Net.Http.HttpRequestException: Connection refused",
		"   at System.Net.Http.HttpConnectionPool.ConnectAsync()",
	)

	entry := a.Flush()
	if entry == nil {
		t.Fatal("Expected a pending entry on flush")
	}
	if entry.ExceptionType != "System.Net.Http.HttpRequestException" {
		t.Errorf("Expected exception type from continuation, got %q", entry.ExceptionType)
	}
	if !strings.Contains(entry.StackTrace, "HttpRequestException") {
		t.Errorf("Expected exception header in stack trace, got %q", entry.StackTrace)
	}
}

func TestAssembler_InlineExceptionTypeKept(t *testing.T) {
	a := newTestAssembler()

	feedAll(a,
		"2024-01-01 00:00:00 ERROR System.IO.IOException: Disk read failed",
		"System.Net.Sockets.SocketException: Connection reset",
	)

	entry := a.Flush()
	if entry == nil {
		t.Fatal("Expected a pending entry on flush")
	}
	if entry.ExceptionType != "System.IO.IOException" {
		t.Errorf("Expected the inline exception type to win, got %q", entry.ExceptionType)
	}
}

func TestAssembler_FlushIdempotent(t *testing.T) {
	a := newTestAssembler()

	feedAll(a, "2024-01-01 00:00:00 WARN Cache nearly full")

	entry := a.Flush()
	if entry == nil || entry.Message != "Cache nearly full" {
		t.Fatalf("Expected first flush to return the entry, got %+v", entry)
	}
	if entry := a.Flush(); entry != nil {
		t.Errorf("Expected second flush to return nil, got %+v", entry)
	}
}

func TestAssembler_DropsUnclassifiableLines(t *testing.T) {
	a := newTestAssembler()

	entries := feedAll(a,
		"!!! corrupted line with no shape",
		"",
		"2024-01-01 00:00:00 INFO All good",
	)

	if len(entries) != 0 {
		t.Fatalf("Expected no completed entries, got %d", len(entries))
	}
	if a.Dropped() != 1 {
		t.Errorf("Expected 1 dropped line, got %d", a.Dropped())
	}
}

func TestAssembler_OrphanContinuationDropped(t *testing.T) {
	a := newTestAssembler()

	entries := feedAll(a, "  at System.Net.Http.HttpClient.SendAsync()")

	if len(entries) != 0 {
		t.Fatalf("Expected no completed entries, got %d", len(entries))
	}
	if a.Dropped() != 1 {
		t.Errorf("Expected orphan stack frame to be dropped, got %d", a.Dropped())
	}
}

func TestAssembler_SafeOffsetHoldsBackPendingEntry(t *testing.T) {
	a := newTestAssembler()

	line1 := "2024-01-01 00:00:00 ERROR Connection timeout"
	line2 := "  at MediaBrowser.Controller.Net.WebSocketHandler.ProcessMessage()"
	line3 := "2024-01-01 00:00:05 INFO Scan finished"

	end1 := int64(len(line1)) + 1
	end2 := end1 + int64(len(line2)) + 1
	end3 := end2 + int64(len(line3)) + 1

	a.Feed(line1, 0, end1)
	if got := a.SafeOffset(end1); got != 0 {
		t.Errorf("Expected safe offset 0 while entry pending, got %d", got)
	}
	if got := a.SafeLineNumber(); got != 0 {
		t.Errorf("Expected safe line number 0 while entry pending, got %d", got)
	}

	a.Feed(line2, end1, end2)
	if got := a.SafeOffset(end2); got != 0 {
		t.Errorf("Expected safe offset to stay 0 while accumulating, got %d", got)
	}

	if entry := a.Feed(line3, end2, end3); entry == nil {
		t.Fatal("Expected third line to complete the first entry")
	}
	if got := a.SafeOffset(end3); got != end2 {
		t.Errorf("Expected safe offset %d at the new pending entry, got %d", end2, got)
	}
	if got := a.SafeLineNumber(); got != 2 {
		t.Errorf("Expected safe line number 2, got %d", got)
	}
	if got := a.LineNumber(); got != 3 {
		t.Errorf("Expected 3 fed lines, got %d", got)
	}

	a.Flush()
	if got := a.SafeOffset(end3); got != end3 {
		t.Errorf("Expected safe offset %d after flush, got %d", end3, got)
	}
	if got := a.SafeLineNumber(); got != 3 {
		t.Errorf("Expected safe line number 3 after flush, got %d", got)
	}
}

func TestAssembler_ContinuationHeuristics(t *testing.T) {
	a := newTestAssembler()

	tests := []struct {
		name string
		line string
		want bool
	}{
		{"indented stack frame", "  at Foo.Bar()", true},
		{"inner exception marker", "---> System.Net.Sockets.SocketException: refused", true},
		{"exception header", "System.IO.IOException: device gone", true},
		{"wrapped indented text", "    expected token near line 4", true},
		{"indented timestamped line", "  [2024-01-01 00:00:00 +00:00] [INF] Server: started", false},
		{"top level prose", "Server started successfully", false},
		{"blank", "", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := a.isContinuation(tc.line); got != tc.want {
				t.Errorf("Expected isContinuation(%q) = %v, got %v", tc.line, tc.want, got)
			}
		})
	}
}

func TestAssembler_ProviderClassifierOverride(t *testing.T) {
	logger := testLogger()
	a := NewAssembler(jellyfin.NewParser(logger), "jellyfin-main", "/var/lib/jellyfin/log/log_20240101.log", 0, logger)

	entries := feedAll(a,
		"[2024-01-01 00:00:00.000 +00:00] [ERR] [12] Jellyfin.Api.Controllers.SessionController: Playback failed",
		"System.InvalidOperationException: Sequence contains no elements",
		"   at System.Linq.ThrowHelper.ThrowNoElementsException()",
		"--- End of stack trace from previous location ---",
	)

	if len(entries) != 0 {
		t.Fatalf("Expected everything to accumulate, got %d entries", len(entries))
	}
	entry := a.Flush()
	if entry == nil {
		t.Fatal("Expected a pending entry on flush")
	}
	if entry.ExceptionType != "System.InvalidOperationException" {
		t.Errorf("Expected exception type from header line, got %q", entry.ExceptionType)
	}
	if !strings.HasSuffix(entry.StackTrace, "--- End of stack trace from previous location ---") {
		t.Errorf("Expected the end-of-trace separator in the stack trace, got %q", entry.StackTrace)
	}
}
