package issues

import (
	"strings"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "uuid",
			input:    "Error from user 11111111-1111-1111-1111-111111111111",
			expected: "error from user <uuid>",
		},
		{
			name:     "bare hex id",
			input:    "Playback failed for item e8b2f3a19c4d4e5f8a7b6c5d4e3f2a1b",
			expected: "playback failed for item <uuid>",
		},
		{
			name:     "long integer",
			input:    "Request 1234567 timed out",
			expected: "request <id> timed out",
		},
		{
			name:     "short integer kept",
			input:    "Disk 2 offline after 30 retries",
			expected: "disk 2 offline after 30 retries",
		},
		{
			name:     "posix path",
			input:    "Cannot open /var/lib/jellyfin/media/movie.mkv for read",
			expected: "cannot open <path> for read",
		},
		{
			name:     "windows path",
			input:    `Cannot open C:\ProgramData\Jellyfin\log.txt for read`,
			expected: "cannot open <path> for read",
		},
		{
			name:     "ipv4",
			input:    "Connection to 192.168.1.50 refused",
			expected: "connection to <ip> refused",
		},
		{
			name:     "timestamp",
			input:    "Job started at 2024-01-15 08:30:12 and died",
			expected: "job started at <timestamp> and died",
		},
		{
			name:     "quoted string",
			input:    `Could not find codec "hevc_vaapi" on host`,
			expected: "could not find codec <string> on host",
		},
		{
			name:     "whitespace collapsed and lowercased",
			input:    "Upstream   DNS\tLookup FAILED",
			expected: "upstream dns lookup failed",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Normalize(tc.input); got != tc.expected {
				t.Errorf("Normalize(%q) = %q, want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestFingerprint_UUIDVariantsCollapse(t *testing.T) {
	a := Fingerprint("jellyfin", "", "Error from user 11111111-1111-1111-1111-111111111111")
	b := Fingerprint("jellyfin", "", "Error from user 22222222-2222-2222-2222-222222222222")

	if a != b {
		t.Errorf("Expected identical fingerprints for UUID variants, got %s and %s", a, b)
	}
}

func TestFingerprint_SourceIsPartOfIdentity(t *testing.T) {
	msg := "Database is locked"
	if Fingerprint("jellyfin", "", msg) == Fingerprint("sonarr", "", msg) {
		t.Error("Expected different fingerprints for different sources")
	}
}

func TestFingerprint_ExceptionTypeIsPartOfIdentity(t *testing.T) {
	msg := "Operation failed"
	a := Fingerprint("jellyfin", "System.IO.IOException", msg)
	b := Fingerprint("jellyfin", "System.Net.Sockets.SocketException", msg)
	if a == b {
		t.Error("Expected different fingerprints for different exception types")
	}
}

func TestFingerprint_Width(t *testing.T) {
	fp := Fingerprint("jellyfin", "", "anything at all")
	if len(fp) != 32 {
		t.Errorf("Expected 32 hex characters, got %d: %s", len(fp), fp)
	}
	for _, c := range fp {
		if !strings.ContainsRune("0123456789abcdef", c) {
			t.Errorf("Fingerprint contains non-hex character %q", c)
		}
	}
}

func TestExtractTitle(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "error prefix stripped",
			input:    "Error: Connection refused",
			expected: "Connection refused",
		},
		{
			name:     "warning prefix stripped",
			input:    "Warning: Disk almost full",
			expected: "Disk almost full",
		},
		{
			name:     "failed prefix stripped",
			input:    "Failed: transcode session",
			expected: "transcode session",
		},
		{
			name:     "leading article stripped",
			input:    "An unexpected token was found",
			expected: "unexpected token was found",
		},
		{
			name:     "stacked prefixes stripped",
			input:    "Error: Failed: open stream",
			expected: "open stream",
		},
		{
			name:     "first line only",
			input:    "Timeout waiting for upstream\n   at Jellyfin.Api.Play()",
			expected: "Timeout waiting for upstream",
		},
		{
			name:     "first sentence only",
			input:    "Timeout waiting for upstream. Retrying in 5s",
			expected: "Timeout waiting for upstream",
		},
		{
			name:     "empty input",
			input:    "",
			expected: "Unknown Error",
		},
		{
			name:     "whitespace only",
			input:    "   \n  ",
			expected: "Unknown Error",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := ExtractTitle(tc.input); got != tc.expected {
				t.Errorf("ExtractTitle(%q) = %q, want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestExtractTitle_TruncatesWithEllipsis(t *testing.T) {
	long := strings.Repeat("x", 500)
	title := ExtractTitle(long)

	if !strings.HasSuffix(title, "...") {
		t.Errorf("Expected ellipsis suffix, got %q", title)
	}
	if len(title) > maxTitleLength+3 {
		t.Errorf("Expected at most %d characters, got %d", maxTitleLength+3, len(title))
	}
}
