// Package memory defines transcript persistence for voice sessions.
//
// A session's log is built in memory by its owner and handed to a
// [TranscriptStore] when the session ends. Two implementations ship with the
// module: the in-process [MemoryStore] and the PostgreSQL store in the
// postgres sub-package.
package memory

import (
	"context"
	"errors"
	"time"
)

// ErrEmptySessionID is returned when a store operation is called without a
// session identifier.
var ErrEmptySessionID = errors.New("memory: session id must not be empty")

// TranscriptStore persists completed session transcripts.
//
// Implementations must be safe for concurrent use.
type TranscriptStore interface {
	// SaveTranscript appends entries to the log for sessionID. Entries that
	// were already saved (same ID) are ignored, so handing the same log over
	// twice is harmless.
	SaveTranscript(ctx context.Context, sessionID string, entries []TranscriptEntry) error

	// Transcript returns the log for sessionID ordered by Seq. An unknown
	// session yields an empty, non-nil slice.
	Transcript(ctx context.Context, sessionID string) ([]TranscriptEntry, error)
}

// Searcher is implemented by stores that support keyword search over
// persisted entries.
type Searcher interface {
	Search(ctx context.Context, query string, opts SearchOpts) ([]TranscriptEntry, error)
}

// SearchOpts narrows a [Searcher.Search] call. Zero values mean "no filter".
type SearchOpts struct {
	SessionID string
	Role      string
	Agent     string
	After     time.Time
	Before    time.Time
	Limit     int
}

// Matches reports whether e passes every filter in o except the query text.
func (o SearchOpts) Matches(sessionID string, e TranscriptEntry) bool {
	switch {
	case o.SessionID != "" && o.SessionID != sessionID:
		return false
	case o.Role != "" && o.Role != e.Role:
		return false
	case o.Agent != "" && o.Agent != e.Agent:
		return false
	case !o.After.IsZero() && !e.Timestamp.After(o.After):
		return false
	case !o.Before.IsZero() && !e.Timestamp.Before(o.Before):
		return false
	}
	return true
}
