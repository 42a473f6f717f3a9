package memory

import (
	"time"

	"github.com/google/uuid"
)

// Speaker roles recorded on a [TranscriptEntry].
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// TranscriptEntry is one finalized utterance in a session log.
//
// Entries are append-only. Seq is the local processing order assigned by the
// owner of the log; it is the authoritative order even when timestamps tie.
type TranscriptEntry struct {
	// ID uniquely identifies the entry.
	ID string `json:"id"`

	// Seq is the monotonic position of the entry within its session, starting at 1.
	Seq int64 `json:"seq"`

	// Role is either [RoleUser] or [RoleAssistant].
	Role string `json:"role"`

	// Text is the final utterance text.
	Text string `json:"text"`

	// Agent names the orchestrator agent that produced an assistant entry.
	// Empty for entries spoken by the realtime backend itself.
	Agent string `json:"agent,omitempty"`

	// Timestamp is when the entry was finalized locally.
	Timestamp time.Time `json:"timestamp"`
}

// NewEntry returns an entry with a fresh ID stamped at now.
func NewEntry(seq int64, role, text, agent string, now time.Time) TranscriptEntry {
	return TranscriptEntry{
		ID:        uuid.NewString(),
		Seq:       seq,
		Role:      role,
		Text:      text,
		Agent:     agent,
		Timestamp: now,
	}
}

// IsAssistant reports whether the entry was spoken by the assistant side.
func (e TranscriptEntry) IsAssistant() bool { return e.Role == RoleAssistant }
