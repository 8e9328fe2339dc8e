package parser

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Level is the normalized severity of a parsed log entry.
type Level string

const (
	LevelError Level = "error"
	LevelWarn  Level = "warn"
	LevelInfo  Level = "info"
	LevelDebug Level = "debug"
)

// ParseLevel maps the level tokens the supported media servers emit
// (Serilog three-letter codes, NLog names, plain syslog-style words) onto
// the four normalized levels. Unrecognized tokens map to info.
func ParseLevel(token string) Level {
	switch strings.ToUpper(strings.TrimSpace(token)) {
	case "ERR", "ERROR", "FTL", "FATAL", "CRITICAL", "CRIT":
		return LevelError
	case "WRN", "WARN", "WARNING":
		return LevelWarn
	case "DBG", "DEBUG", "TRACE", "TRC", "VRB", "VERBOSE":
		return LevelDebug
	default:
		return LevelInfo
	}
}

// Entry is one structured log entry. Immutable once emitted by the
// assembler: ownership passes to the aggregation stage.
type Entry struct {
	Timestamp time.Time
	Level     Level
	Message   string

	// SourceName is the configured log source (the Jellyfin or Sonarr
	// install). Set by the ingestion engine, not by providers.
	SourceName string

	// FilePath is the log file the entry came from. Set by the assembler.
	FilePath string

	// Component is the in-app origin when the format carries one
	// (Serilog SourceContext, NLog logger name).
	Component string

	ThreadID  string
	SessionID string
	UserID    string
	DeviceID  string
	ItemID    string

	ExceptionType string
	StackTrace    string
	Raw           string
}

// DedupKey derives the entry's deduplication key: second-precision
// timestamp, level and source combined with a hash of the message's first
// 200 characters. Re-delivery of the same physical line (crash-restart
// re-read of a not-yet-persisted offset) produces the same key; distinct
// events more than a second apart never collide.
func (e *Entry) DedupKey() string {
	msg := e.Message
	if len(msg) > 200 {
		msg = msg[:200]
	}
	sum := sha256.Sum256([]byte(msg))
	return fmt.Sprintf("%d:%s:%s:%s",
		e.Timestamp.UTC().Unix(), e.Level, e.SourceName, hex.EncodeToString(sum[:])[:16])
}

// exceptionRegex matches a .NET style exception header: a dotted type name
// ending in Exception or Error followed by a colon.
var exceptionRegex = regexp.MustCompile(`^\s*(?:--->\s*)?([A-Za-z_][A-Za-z0-9_.]*(?:Exception|Error)):\s`)

// ExtractExceptionType pulls the exception type out of a stack-trace header
// line ("System.Net.Sockets.SocketException: Connection refused"). Returns
// false when the line is not an exception header.
func ExtractExceptionType(line string) (string, bool) {
	m := exceptionRegex.FindStringSubmatch(line)
	if m == nil {
		return "", false
	}
	return m[1], true
}
