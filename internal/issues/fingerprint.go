package issues

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Substitution order is load-bearing: UUIDs must go before bare integers
// (their digit runs would otherwise match), paths before IPv4 (version-like
// path segments), quoted strings last so placeholders inside quotes are
// already stable.
var (
	uuidRegex        = regexp.MustCompile(`\b[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}\b|\b[0-9a-fA-F]{32}\b`)
	longIntRegex     = regexp.MustCompile(`\b\d{5,}\b`)
	windowsPathRegex = regexp.MustCompile(`\b[A-Za-z]:\\[^\s"']+`)
	posixPathRegex   = regexp.MustCompile(`(?:/[\w.+-]+){2,}/?`)
	ipv4Regex        = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)
	timestampRegex   = regexp.MustCompile(`\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}`)
	quotedRegex      = regexp.MustCompile(`"[^"]*"|'[^']*'`)
	whitespaceRegex  = regexp.MustCompile(`\s+`)
)

// Normalize rewrites the variable parts of an error message into
// placeholder tokens so recurring errors collapse onto one identity.
func Normalize(message string) string {
	s := uuidRegex.ReplaceAllString(message, "<UUID>")
	s = longIntRegex.ReplaceAllString(s, "<ID>")
	s = windowsPathRegex.ReplaceAllString(s, "<PATH>")
	s = posixPathRegex.ReplaceAllString(s, "<PATH>")
	s = ipv4Regex.ReplaceAllString(s, "<IP>")
	s = timestampRegex.ReplaceAllString(s, "<TIMESTAMP>")
	s = quotedRegex.ReplaceAllString(s, "<STRING>")
	s = whitespaceRegex.ReplaceAllString(s, " ")
	return strings.ToLower(strings.TrimSpace(s))
}

// Fingerprint derives the stable 32-hex identity an entry aggregates under.
// Source is part of the identity: the same message from a Jellyfin and a
// Sonarr install is two different problems.
func Fingerprint(source, exceptionType, message string) string {
	normalized := Normalize(message)
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%s:%s", source, exceptionType, normalized)))
	return hex.EncodeToString(sum[:])[:32]
}

const maxTitleLength = 120

var titlePrefixes = []string{"Error:", "Warning:", "Failed:", "A ", "An "}

// ExtractTitle reduces a raw message to a short issue title: first line,
// first sentence, severity-word prefixes stripped, ellipsis-truncated.
func ExtractTitle(message string) string {
	title := strings.TrimSpace(message)

	if idx := strings.IndexAny(title, "\r\n"); idx != -1 {
		title = strings.TrimSpace(title[:idx])
	}
	if idx := strings.Index(title, ". "); idx != -1 {
		title = title[:idx]
	}

	for stripped := true; stripped; {
		stripped = false
		for _, prefix := range titlePrefixes {
			if strings.HasPrefix(title, prefix) {
				title = strings.TrimSpace(title[len(prefix):])
				stripped = true
			}
		}
	}

	if len(title) > maxTitleLength {
		cut := maxTitleLength
		for cut > 0 && !utf8.RuneStart(title[cut]) {
			cut--
		}
		title = title[:cut] + "..."
	}
	if title == "" {
		return "Unknown Error"
	}
	return title
}
