package ingestion

import (
	"time"

	"mediasentry/internal/parser"
)

// EventKind tags a TailEvent with its payload type.
type EventKind int

const (
	// EventEntry carries one complete parsed entry.
	EventEntry EventKind = iota
	// EventState carries a progress snapshot to persist. Tailers emit it
	// after the batch's entries, so persisting in arrival order gives the
	// handled-before-persisted guarantee for free.
	EventState
	// EventRotated signals the file was truncated or replaced and reading
	// restarted from byte zero.
	EventRotated
	// EventError carries a per-file read failure. The tailer keeps retrying;
	// the event is for recording, not teardown.
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventEntry:
		return "entry"
	case EventState:
		return "state"
	case EventRotated:
		return "rotated"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// StateSnapshot is the progress a tailer asks to have persisted for its file.
type StateSnapshot struct {
	SourceName string
	Path       string
	ByteOffset int64
	LineNumber int64
	FileSize   int64
	FileIdent  string
	ModifiedAt time.Time
}

// TailEvent is the one message type tailers emit. Exactly one payload field
// is set, selected by Kind. Events from one tailer arrive in file order;
// nothing is guaranteed across tailers.
type TailEvent struct {
	Kind  EventKind
	Path  string
	Entry *parser.Entry
	State *StateSnapshot
	Err   error
}
