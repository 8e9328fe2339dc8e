package generic

import (
	"regexp"
	"time"

	"mediasentry/internal/parser"

	"github.com/pterm/pterm"
)

// Parser is the fallback for media apps without a dedicated provider. It
// accepts the common "timestamp LEVEL message" shape:
//
//	2024-01-01 00:00:00 ERROR Connection timeout
//	2024-01-01T00:00:00.123 [WARN] cache nearly full
//
// Continuation handling is left to the default assembler heuristics.
type Parser struct {
	logger     *pterm.Logger
	entryRegex *regexp.Regexp
}

const entryPattern = `^(\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}(?:[.,]\d+)?)\s+\[?(ERROR|ERR|FATAL|CRITICAL|WARNING|WARN|WRN|INFO|INF|DEBUG|DBG|TRACE|VERBOSE)\]?:?\s+(.*)$`

// NewParser creates a new generic parser instance
func NewParser(logger *pterm.Logger) *Parser {
	return &Parser{
		logger:     logger,
		entryRegex: regexp.MustCompile(entryPattern),
	}
}

// Name returns the provider identifier
func (p *Parser) Name() string {
	return "generic"
}

// ParseLine parses a "timestamp LEVEL message" line, nil for anything else.
func (p *Parser) ParseLine(line string) *parser.Entry {
	matches := p.entryRegex.FindStringSubmatch(line)
	if matches == nil {
		return nil
	}

	timestamp, err := parseTimestamp(matches[1])
	if err != nil {
		return nil
	}

	message := matches[3]
	entry := &parser.Entry{
		Timestamp: timestamp,
		Level:     parser.ParseLevel(matches[2]),
		Message:   message,
		Raw:       line,
	}

	if excType, ok := parser.ExtractExceptionType(message); ok {
		entry.ExceptionType = excType
	}

	return entry
}

// DefaultSearchPaths is empty: generic sources always configure explicit
// paths.
func (p *Parser) DefaultSearchPaths() []string {
	return nil
}

// FilePatterns returns the glob patterns generic log files match.
func (p *Parser) FilePatterns() []string {
	return []string{"*.log"}
}

func parseTimestamp(value string) (time.Time, error) {
	layouts := []string{
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
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
