package issues

import (
	"strings"

	"mediasentry/internal/parser"
)

const (
	CategoryAuthentication = "authentication"
	CategoryDatabase       = "database"
	CategoryNetwork        = "network"
	CategoryTranscoding    = "transcoding"
	CategoryPlayback       = "playback"
	CategoryFilesystem     = "filesystem"
	CategoryPerformance    = "performance"
	CategoryGeneral        = "general"
)

const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"
	SeverityInfo     = "info"
	SeverityUnknown  = "unknown"
)

// categoryRules are evaluated in order and the first match wins, so a
// message containing both "permission denied" and "directory" lands in
// authentication, not filesystem. Keep the order stable.
var categoryRules = []struct {
	category string
	keywords []string
}{
	{CategoryAuthentication, []string{
		"authenticat", "unauthorized", "permission denied", "access denied",
		"forbidden", "invalid token", "api key", "login failed", "password",
	}},
	{CategoryDatabase, []string{
		"database", "sqlite", "sql error", "db is locked", "constraint",
		"migration", "deadlock", "transaction",
	}},
	{CategoryNetwork, []string{
		"connection", "timeout", "timed out", "unreachable", "refused",
		"socket", "dns", "tls", "certificate", "proxy",
	}},
	{CategoryTranscoding, []string{
		"transcod", "ffmpeg", "ffprobe", "encoder", "codec", "hwaccel",
		"vaapi", "nvenc", "qsv", "bitrate",
	}},
	{CategoryPlayback, []string{
		"playback", "stream", "direct play", "seek", "buffer",
		"subtitle", "hls", "dash segment",
	}},
	{CategoryFilesystem, []string{
		"file not found", "no such file", "could not find file", "directory",
		"disk", "no space left", "i/o error", "read-only", "mount",
	}},
	{CategoryPerformance, []string{
		"slow", "out of memory", "memory pressure", "cpu", "thread pool",
		"queue full", "exhausted", "high load",
	}},
}

// criticalKeywords promote an entry to critical regardless of its log level.
var criticalKeywords = []string{
	"fatal", "panic", "corrupt", "unrecoverable", "out of memory", "data loss",
}

// Classify maps an entry's message and level onto a category and severity.
// Category comes from the first matching keyword rule; severity is the
// level-derived baseline unless a critical keyword appears in the message.
func Classify(message string, level parser.Level) (category, severity string) {
	lower := strings.ToLower(message)
	return classifyCategory(lower), classifySeverity(lower, level)
}

func classifyCategory(lower string) string {
	for _, rule := range categoryRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				return rule.category
			}
		}
	}
	return CategoryGeneral
}

func classifySeverity(lower string, level parser.Level) string {
	for _, kw := range criticalKeywords {
		if strings.Contains(lower, kw) {
			return SeverityCritical
		}
	}
	switch level {
	case parser.LevelError:
		return SeverityHigh
	case parser.LevelWarn:
		return SeverityMedium
	case parser.LevelInfo:
		return SeverityInfo
	case parser.LevelDebug:
		return SeverityLow
	default:
		return SeverityUnknown
	}
}
