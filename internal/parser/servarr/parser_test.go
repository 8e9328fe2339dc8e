package servarr

import (
	"testing"
	"time"

	"mediasentry/internal/parser"

	"github.com/pterm/pterm"
)

func TestParser_ParseLine_ShortDate(t *testing.T) {
	logger := pterm.DefaultLogger.WithLevel(pterm.LogLevelTrace)
	p := NewParser(logger)

	line := `24-1-15 14:23:05.2|Error|DownloadService|Failed to process download`

	entry := p.ParseLine(line)
	if entry == nil {
		t.Fatal("Expected entry-start line to parse")
	}
	if entry.Level != parser.LevelError {
		t.Errorf("Expected level 'error', got '%s'", entry.Level)
	}
	if entry.Component != "DownloadService" {
		t.Errorf("Expected component 'DownloadService', got '%s'", entry.Component)
	}
	if entry.Message != "Failed to process download" {
		t.Errorf("Expected message 'Failed to process download', got '%s'", entry.Message)
	}

	want := time.Date(2024, 1, 15, 14, 23, 5, 200000000, time.UTC)
	if !entry.Timestamp.Equal(want) {
		t.Errorf("Expected timestamp %v, got %v", want, entry.Timestamp)
	}
}

func TestParser_ParseLine_LongDate(t *testing.T) {
	logger := pterm.DefaultLogger.WithLevel(pterm.LogLevelTrace)
	p := NewParser(logger)

	line := `2024-01-15 14:23:05.2|Warn|ImportListSyncService|Import list unavailable`

	entry := p.ParseLine(line)
	if entry == nil {
		t.Fatal("Expected entry-start line to parse")
	}
	if entry.Level != parser.LevelWarn {
		t.Errorf("Expected level 'warn', got '%s'", entry.Level)
	}
}

func TestParser_ParseLine_MessageWithPipes(t *testing.T) {
	logger := pterm.DefaultLogger.WithLevel(pterm.LogLevelTrace)
	p := NewParser(logger)

	line := `24-1-15 14:23:05.2|Info|RssSyncService|Processing feed: item|with|pipes`

	entry := p.ParseLine(line)
	if entry == nil {
		t.Fatal("Expected entry-start line to parse")
	}
	if entry.Message != "Processing feed: item|with|pipes" {
		t.Errorf("Expected pipes preserved in message, got '%s'", entry.Message)
	}
}

func TestParser_ParseLine_Invalid(t *testing.T) {
	logger := pterm.DefaultLogger.WithLevel(pterm.LogLevelTrace)
	p := NewParser(logger)

	tests := []string{
		"",
		"not a log line",
		"System.Net.WebException: The request timed out",
		"   at NzbDrone.Core.Download.DownloadService.ProcessClientDownloads()",
		"too|few|parts",
	}

	for _, tc := range tests {
		if entry := p.ParseLine(tc); entry != nil {
			t.Errorf("Expected ParseLine to reject %q", tc)
		}
	}
}

func TestParser_ParseLineWithContext(t *testing.T) {
	logger := pterm.DefaultLogger.WithLevel(pterm.LogLevelTrace)
	p := NewParser(logger)

	previous := &parser.Entry{Message: "Failed to process download"}

	tests := []struct {
		name             string
		line             string
		previous         *parser.Entry
		wantEntry        bool
		wantContinuation bool
	}{
		{
			name:      "entry start flushes previous",
			line:      "24-1-15 14:23:06.0|Info|DownloadService|Retrying",
			previous:  previous,
			wantEntry: true,
		},
		{
			name:             "exception header continues previous",
			line:             "System.Net.WebException: The request timed out",
			previous:         previous,
			wantContinuation: true,
		},
		{
			name:             "stack frame continues previous",
			line:             "   at NzbDrone.Core.Download.DownloadService.ProcessClientDownloads()",
			previous:         previous,
			wantContinuation: true,
		},
		{
			name: "noise without previous entry",
			line: "orphaned text",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result := p.ParseLineWithContext(tc.line, parser.LineContext{PreviousEntry: tc.previous})
			if (result.Entry != nil) != tc.wantEntry {
				t.Errorf("Entry presence = %v, want %v", result.Entry != nil, tc.wantEntry)
			}
			if result.IsContinuation != tc.wantContinuation {
				t.Errorf("IsContinuation = %v, want %v", result.IsContinuation, tc.wantContinuation)
			}
			if tc.wantEntry && !result.PreviousComplete {
				t.Error("Entry start should mark the previous entry complete")
			}
		})
	}
}
