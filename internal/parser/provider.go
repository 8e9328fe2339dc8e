package parser

// Provider parses one media-server log format. ParseLine is the required
// base capability: it parses a raw line as an entry start, returning nil
// for anything else (continuations, noise).
type Provider interface {
	Name() string
	ParseLine(line string) *Entry
	DefaultSearchPaths() []string
	FilePatterns() []string
}

// ContinuationClassifier is an optional capability for providers that know
// their format's continuation shapes better than the default heuristics.
// Discovered by type assertion on the Provider.
type ContinuationClassifier interface {
	IsContinuation(line string) bool
}

// LineContext is the assembler state handed to context-aware providers.
type LineContext struct {
	PreviousEntry     *Entry
	ContinuationLines []string
	FilePath          string
	LineNumber        int64
}

// ContextResult is the outcome of context-aware parsing. Exactly one of
// Entry or IsContinuation is meaningful; PreviousComplete tells the
// assembler the pending entry can be flushed even when this line is noise.
type ContextResult struct {
	Entry            *Entry
	IsContinuation   bool
	PreviousComplete bool
}

// ContextParser is an optional capability for providers that need the
// surrounding assembler state to disambiguate entry starts from
// continuations. Providers without it fall back to ParseLine plus the
// continuation heuristics.
type ContextParser interface {
	ParseLineWithContext(line string, ctx LineContext) ContextResult
}
