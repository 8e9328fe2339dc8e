package servarr

import (
	"os"
	"runtime"
	"strings"
	"time"

	"mediasentry/internal/parser"

	"github.com/pterm/pterm"
)

// Parser handles the pipe-delimited NLog layout shared by the *arr family
// (Sonarr, Radarr, Prowlarr, Lidarr):
//
//	24-1-15 14:23:05.2|Error|DownloadService|Failed to process download
//
// Exception blocks follow on their own lines below the entry, so this
// provider is context-aware: after an entry, any line that is not itself an
// entry start belongs to the previous one.
type Parser struct {
	logger *pterm.Logger
}

// NewParser creates a new *arr parser instance
func NewParser(logger *pterm.Logger) *Parser {
	return &Parser{logger: logger}
}

// Name returns the provider identifier
func (p *Parser) Name() string {
	return "servarr"
}

// ParseLine parses one pipe-delimited entry-start line, nil for anything else.
func (p *Parser) ParseLine(line string) *parser.Entry {
	parts := strings.SplitN(line, "|", 4)
	if len(parts) < 4 {
		return nil
	}

	timestamp, err := parseTimestamp(parts[0])
	if err != nil {
		return nil
	}

	message := parts[3]
	entry := &parser.Entry{
		Timestamp: timestamp,
		Level:     parser.ParseLevel(parts[1]),
		Message:   message,
		Component: parts[2],
		Raw:       line,
	}

	if excType, ok := parser.ExtractExceptionType(message); ok {
		entry.ExceptionType = excType
	}

	return entry
}

// ParseLineWithContext classifies a line with the assembler's state: entry
// starts flush the previous entry; everything else following an entry is
// NLog exception output and continues it.
func (p *Parser) ParseLineWithContext(line string, ctx parser.LineContext) parser.ContextResult {
	if entry := p.ParseLine(line); entry != nil {
		return parser.ContextResult{Entry: entry, PreviousComplete: true}
	}
	if ctx.PreviousEntry != nil && strings.TrimSpace(line) != "" {
		return parser.ContextResult{IsContinuation: true}
	}
	return parser.ContextResult{}
}

// IsContinuation covers the stack shapes for callers that skip the
// context-aware path (backfill tools, tests).
func (p *Parser) IsContinuation(line string) bool {
	if line == "" || p.ParseLine(line) != nil {
		return false
	}
	trimmed := strings.TrimLeft(line, " \t")
	if strings.HasPrefix(trimmed, "at ") && len(line) != len(trimmed) {
		return true
	}
	if strings.HasPrefix(trimmed, "---> ") || strings.HasPrefix(trimmed, "--- End of") {
		return true
	}
	_, ok := parser.ExtractExceptionType(line)
	return ok
}

// DefaultSearchPaths returns the well-known *arr log directories for the
// current platform.
func (p *Parser) DefaultSearchPaths() []string {
	switch runtime.GOOS {
	case "windows":
		programData := os.Getenv("ProgramData")
		if programData == "" {
			programData = "C:\\ProgramData"
		}
		return []string{
			programData + "\\Sonarr\\logs",
			programData + "\\Radarr\\logs",
			programData + "\\Prowlarr\\logs",
		}
	default:
		return []string{
			"/var/lib/sonarr/logs",
			"/var/lib/radarr/logs",
			"/var/lib/prowlarr/logs",
			"/var/lib/lidarr/logs",
			"/config/logs", // containerized installs
		}
	}
}

// FilePatterns returns the glob patterns *arr log files match
// (sonarr.txt, sonarr.0.txt, radarr.debug.txt, ...).
func (p *Parser) FilePatterns() []string {
	return []string{"*.txt"}
}

// parseTimestamp handles both the short (24-1-15) and long (2024-01-15)
// date variants. Fractional seconds are accepted by time.Parse without a
// layout marker.
func parseTimestamp(value string) (time.Time, error) {
	layouts := []string{
		"06-1-2 15:04:05",
		"2006-01-02 15:04:05",
	}
	var lastErr error
	for _, layout := range layouts {
		t, err := time.Parse(layout, value)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}
