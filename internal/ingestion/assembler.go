package ingestion

import (
	"regexp"
	"strings"

	"mediasentry/internal/parser"

	"github.com/pterm/pterm"
)

// timestampPrefixRegex recognizes a leading timestamp as the signal that an
// indented line is a real entry start and not a wrapped continuation.
var timestampPrefixRegex = regexp.MustCompile(`^\s*\[?\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}`)

// Assembler folds raw lines into complete entries, one instance per open
// file. A parsed entry-start line becomes the pending entry; continuation
// lines accumulate against it; the pending entry is emitted when the next
// entry-start arrives or on flush. Not safe for concurrent use: exactly one
// tailer feeds it.
type Assembler struct {
	provider   parser.Provider
	sourceName string
	path       string
	logger     *pterm.Logger

	contextParser parser.ContextParser
	classifier    parser.ContinuationClassifier

	pending      *parser.Entry
	continuation []string
	pendingStart int64
	pendingLine  int64
	lineNumber   int64
	dropped      int64
}

func NewAssembler(provider parser.Provider, sourceName, path string, startLine int64, logger *pterm.Logger) *Assembler {
	a := &Assembler{
		provider:   provider,
		sourceName: sourceName,
		path:       path,
		lineNumber: startLine,
		logger:     logger,
	}
	// Optional capabilities, detected once.
	a.contextParser, _ = provider.(parser.ContextParser)
	a.classifier, _ = provider.(parser.ContinuationClassifier)
	return a
}

// Feed hands the assembler one raw line spanning [startOffset, endOffset) in
// the file. It returns the previously pending entry when this line completes
// it, nil otherwise.
func (a *Assembler) Feed(line string, startOffset, endOffset int64) *parser.Entry {
	a.lineNumber++

	if a.contextParser != nil {
		return a.feedWithContext(line, startOffset)
	}

	if entry := a.provider.ParseLine(line); entry != nil {
		completed := a.takePending()
		a.startPending(entry, startOffset)
		return completed
	}

	if a.isContinuation(line) {
		if a.pending == nil {
			// A stack frame with nothing to attach to. Noise.
			a.dropLine(line)
			return nil
		}
		a.continuation = append(a.continuation, line)
		return nil
	}

	if strings.TrimSpace(line) != "" {
		a.dropLine(line)
	}
	return nil
}

func (a *Assembler) feedWithContext(line string, startOffset int64) *parser.Entry {
	result := a.contextParser.ParseLineWithContext(line, parser.LineContext{
		PreviousEntry:     a.pending,
		ContinuationLines: a.continuation,
		FilePath:          a.path,
		LineNumber:        a.lineNumber,
	})

	switch {
	case result.Entry != nil:
		completed := a.takePending()
		a.startPending(result.Entry, startOffset)
		return completed
	case result.IsContinuation && a.pending != nil:
		a.continuation = append(a.continuation, line)
		return nil
	case result.PreviousComplete:
		return a.takePending()
	default:
		if strings.TrimSpace(line) != "" {
			a.dropLine(line)
		}
		return nil
	}
}

// Flush completes the pending entry, if any. Idempotent: with nothing
// pending it returns nil and changes no state.
func (a *Assembler) Flush() *parser.Entry {
	return a.takePending()
}

// SafeOffset is the highest byte offset that may be persisted after handling
// everything emitted so far: the end of the last fed line, held back to the
// pending entry's first byte while one is accumulating. Restarting from it
// never skips an unemitted line.
func (a *Assembler) SafeOffset(lineEnd int64) int64 {
	if a.pending != nil {
		return a.pendingStart
	}
	return lineEnd
}

// LineNumber is the count of lines fed so far, including the initial offset
// the assembler was constructed with.
func (a *Assembler) LineNumber() int64 {
	return a.lineNumber
}

// SafeLineNumber is the line count matching SafeOffset: lines before the
// pending entry while one is accumulating, all fed lines otherwise.
func (a *Assembler) SafeLineNumber() int64 {
	if a.pending != nil {
		return a.pendingLine
	}
	return a.lineNumber
}

// Dropped is the count of lines that were neither entry starts nor
// attachable continuations.
func (a *Assembler) Dropped() int64 {
	return a.dropped
}

func (a *Assembler) startPending(entry *parser.Entry, startOffset int64) {
	entry.SourceName = a.sourceName
	entry.FilePath = a.path
	a.pending = entry
	a.continuation = a.continuation[:0]
	a.pendingStart = startOffset
	a.pendingLine = a.lineNumber - 1
}

func (a *Assembler) takePending() *parser.Entry {
	if a.pending == nil {
		return nil
	}
	entry := a.pending
	a.pending = nil

	if len(a.continuation) > 0 {
		joined := strings.Join(a.continuation, "\n")
		if entry.StackTrace != "" {
			entry.StackTrace += "\n" + joined
		} else {
			entry.StackTrace = joined
		}
		entry.Raw += "\n" + joined

		if entry.ExceptionType == "" {
			for _, line := range a.continuation {
				if exc, ok := parser.ExtractExceptionType(line); ok {
					entry.ExceptionType = exc
					break
				}
			}
		}
		a.continuation = a.continuation[:0]
	}
	return entry
}

// isContinuation applies the default heuristics when the provider supplies
// no classifier: stack frames, inner-exception markers, exception headers,
// and deep indentation without a timestamp all extend the pending entry.
func (a *Assembler) isContinuation(line string) bool {
	if a.classifier != nil {
		return a.classifier.IsContinuation(line)
	}

	if strings.TrimSpace(line) == "" {
		return false
	}
	trimmed := strings.TrimLeft(line, " \t")
	indent := len(line) - len(trimmed)

	if indent >= 2 && strings.HasPrefix(trimmed, "at ") {
		return true
	}
	if strings.HasPrefix(trimmed, "---> ") {
		return true
	}
	if _, ok := parser.ExtractExceptionType(line); ok {
		return true
	}
	if indent >= 2 && !timestampPrefixRegex.MatchString(line) {
		return true
	}
	return false
}

func (a *Assembler) dropLine(line string) {
	a.dropped++
	a.logger.Trace("Dropped unclassifiable line",
		a.logger.Args("source", a.sourceName, "path", a.path, "line_preview", truncate(line, 100)))
}

// truncate shortens a string to maxLen characters for log output.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
