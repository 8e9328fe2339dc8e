package jellyfin

import (
	"os"
	"regexp"
	"runtime"
	"strings"
	"time"

	"mediasentry/internal/parser"

	"github.com/pterm/pterm"
)

// Parser handles the Serilog file layout Jellyfin ships with:
//
//	[2024-01-15 08:30:12.345 +00:00] [ERR] [23] Jellyfin.Api.Controllers.SessionController: Message text
//
// The thread-id bracket is optional (console layout omits it).
type Parser struct {
	logger     *pterm.Logger
	entryRegex *regexp.Regexp
	idRegexes  map[string]*regexp.Regexp
}

// Entry-start pattern: bracketed timestamp with offset, three-letter level,
// optional thread id, source context, then the message.
const entryPattern = `^\[(\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}(?:\.\d{1,3})? [+-]\d{2}:\d{2})\] \[([A-Z]{3})\](?: \[(\d+)\])? (.+?): (.*)$`

// NewParser creates a new Jellyfin parser instance
func NewParser(logger *pterm.Logger) *Parser {
	// Messages carry GUIDs after these keywords when Jellyfin logs
	// playback and session activity
	idRegexes := make(map[string]*regexp.Regexp, 4)
	for _, keyword := range []string{"user", "session", "device", "item"} {
		idRegexes[keyword] = regexp.MustCompile(
			`(?i)` + keyword + `(?:[ _]?id)?["'\s:=]+"?([0-9a-fA-F]{8}-?[0-9a-fA-F]{4}-?[0-9a-fA-F]{4}-?[0-9a-fA-F]{4}-?[0-9a-fA-F]{12})"?`)
	}

	return &Parser{
		logger:     logger,
		entryRegex: regexp.MustCompile(entryPattern),
		idRegexes:  idRegexes,
	}
}

// Name returns the provider identifier
func (p *Parser) Name() string {
	return "jellyfin"
}

// ParseLine parses a Jellyfin entry-start line. Continuation lines (stack
// frames, inner exceptions) return nil.
func (p *Parser) ParseLine(line string) *parser.Entry {
	matches := p.entryRegex.FindStringSubmatch(line)
	if matches == nil {
		return nil
	}

	timestamp, err := parseTimestamp(matches[1])
	if err != nil {
		p.logger.Debug("Bracketed line with unparseable timestamp",
			p.logger.Args("timestamp", matches[1], "error", err))
		return nil
	}

	message := matches[5]
	entry := &parser.Entry{
		Timestamp: timestamp,
		Level:     parser.ParseLevel(matches[2]),
		Message:   message,
		Component: matches[4],
		ThreadID:  matches[3],
		UserID:    p.extractID("user", message),
		SessionID: p.extractID("session", message),
		DeviceID:  p.extractID("device", message),
		ItemID:    p.extractID("item", message),
		Raw:       line,
	}

	// Inline exception headers ("... : System.IO.IOException: disk full")
	// show up when Serilog renders the exception on the entry line itself
	if excType, ok := parser.ExtractExceptionType(message); ok {
		entry.ExceptionType = excType
	}

	return entry
}

// IsContinuation reports whether the line is .NET exception output: stack
// frames, exception headers, inner-exception markers, or the trailing
// "End of stack trace" separators.
func (p *Parser) IsContinuation(line string) bool {
	if line == "" {
		return false
	}
	if p.entryRegex.MatchString(line) {
		return false
	}

	trimmed := strings.TrimLeft(line, " \t")
	if strings.HasPrefix(trimmed, "at ") && len(line) != len(trimmed) {
		return true
	}
	if strings.HasPrefix(trimmed, "---> ") {
		return true
	}
	if strings.HasPrefix(trimmed, "--- End of") {
		return true
	}
	if _, ok := parser.ExtractExceptionType(line); ok {
		return true
	}
	// Wrapped message content keeps the Serilog indent
	return strings.HasPrefix(line, "  ")
}

// DefaultSearchPaths returns the well-known Jellyfin log directories for
// the current platform, most likely first.
func (p *Parser) DefaultSearchPaths() []string {
	switch runtime.GOOS {
	case "windows":
		programData := os.Getenv("ProgramData")
		if programData == "" {
			programData = "C:\\ProgramData"
		}
		return []string{programData + "\\Jellyfin\\Server\\log"}
	case "darwin":
		return []string{"/var/db/jellyfin/log"}
	default:
		return []string{
			"/var/lib/jellyfin/log",
			"/var/log/jellyfin",
			"/config/log", // containerized installs
		}
	}
}

// FilePatterns returns the glob patterns Jellyfin log files match.
func (p *Parser) FilePatterns() []string {
	return []string{"log_*.log", "jellyfin*.log", "*.log"}
}

func (p *Parser) extractID(keyword, message string) string {
	m := p.idRegexes[keyword].FindStringSubmatch(message)
	if m == nil {
		return ""
	}
	return strings.ToLower(m[1])
}

// parseTimestamp handles the bracketed Serilog timestamp. Milliseconds are
// optional: time.Parse accepts fractional seconds without a layout marker.
func parseTimestamp(value string) (time.Time, error) {
	return time.Parse("2006-01-02 15:04:05 -07:00", value)
}
