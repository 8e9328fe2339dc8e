package issues

import (
	"testing"

	"mediasentry/internal/parser"
)

func TestClassify_Categories(t *testing.T) {
	tests := []struct {
		name     string
		message  string
		expected string
	}{
		{"authentication", "Login failed for user admin", CategoryAuthentication},
		{"database", "SQLite Error 5: database is locked", CategoryDatabase},
		{"network", "Connection to upstream refused", CategoryNetwork},
		{"transcoding", "ffmpeg exited with code 1", CategoryTranscoding},
		{"playback", "Playback stopped unexpectedly", CategoryPlayback},
		{"filesystem", "No such file or directory", CategoryFilesystem},
		{"performance", "Thread pool starvation detected, slow request", CategoryPerformance},
		{"general fallback", "Something odd happened", CategoryGeneral},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			category, _ := Classify(tc.message, parser.LevelError)
			if category != tc.expected {
				t.Errorf("Classify(%q) category = %q, want %q", tc.message, category, tc.expected)
			}
		})
	}
}

// Overlapping keywords resolve by rule order: "permission denied" belongs to
// authentication even when the message also mentions a directory.
func TestClassify_FirstMatchWins(t *testing.T) {
	category, _ := Classify("Permission denied opening directory /mnt/media", parser.LevelError)
	if category != CategoryAuthentication {
		t.Errorf("Expected authentication, got %q", category)
	}
}

func TestClassify_SeverityFromLevel(t *testing.T) {
	tests := []struct {
		level    parser.Level
		expected string
	}{
		{parser.LevelError, SeverityHigh},
		{parser.LevelWarn, SeverityMedium},
		{parser.LevelInfo, SeverityInfo},
		{parser.LevelDebug, SeverityLow},
		{parser.Level("bogus"), SeverityUnknown},
	}

	for _, tc := range tests {
		_, severity := Classify("Nothing matching a keyword here", tc.level)
		if severity != tc.expected {
			t.Errorf("Classify(level=%q) severity = %q, want %q", tc.level, severity, tc.expected)
		}
	}
}

func TestClassify_CriticalKeywordOverridesLevel(t *testing.T) {
	_, severity := Classify("Unhandled fatal condition in session manager", parser.LevelWarn)
	if severity != SeverityCritical {
		t.Errorf("Expected critical, got %q", severity)
	}

	_, severity = Classify("Index file is corrupt, rebuilding", parser.LevelInfo)
	if severity != SeverityCritical {
		t.Errorf("Expected critical, got %q", severity)
	}
}
