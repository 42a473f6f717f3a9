package orchestrator

import (
	"sync"
	"time"

	"github.com/MrWong99/voicelink/pkg/memory"
)

// History is a bounded buffer of recent session entries shared by all
// agents, so that each agent sees what the others (and the realtime
// backend) said.
//
// The buffer enforces both a maximum entry count and a maximum age; entries
// exceeding either limit are evicted on every [History.Add].
//
// All methods are safe for concurrent use.
type History struct {
	mu      sync.RWMutex
	entries []memory.TranscriptEntry
	maxSize int
	maxAge  time.Duration
	now     func() time.Time
}

// NewHistory creates a buffer that retains at most maxSize entries and
// evicts entries older than maxAge.
func NewHistory(maxSize int, maxAge time.Duration) *History {
	return &History{
		entries: make([]memory.TranscriptEntry, 0, maxSize),
		maxSize: maxSize,
		maxAge:  maxAge,
		now:     time.Now,
	}
}

// Add appends e and evicts what falls outside the limits.
func (h *History) Add(e memory.TranscriptEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.entries = append(h.entries, e)
	h.evict()
}

// Recent returns up to limit entries inside the age window, oldest first,
// skipping entries tagged with excludeAgent. An agent keeps its own
// exchanges, so it only needs everyone else's.
func (h *History) Recent(excludeAgent string, limit int) []memory.TranscriptEntry {
	h.mu.RLock()
	defer h.mu.RUnlock()

	cutoff := h.now().Add(-h.maxAge)
	result := make([]memory.TranscriptEntry, 0, min(limit, len(h.entries)))

	for i := len(h.entries) - 1; i >= 0 && len(result) < limit; i-- {
		e := h.entries[i]
		if e.Timestamp.Before(cutoff) {
			continue
		}
		if excludeAgent != "" && e.Agent == excludeAgent {
			continue
		}
		result = append(result, e)
	}

	for i, j := 0, len(result)-1; i < j; i, j = i+1, j-1 {
		result[i], result[j] = result[j], result[i]
	}
	return result
}

// Entries returns every buffered entry, oldest first.
func (h *History) Entries() []memory.TranscriptEntry {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]memory.TranscriptEntry, len(h.entries))
	copy(out, h.entries)
	return out
}

// Clear drops every entry.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = make([]memory.TranscriptEntry, 0, h.maxSize)
}

// evict removes entries that are too old or exceed maxSize. Survivors are
// copied to a fresh backing array so evicted entries can be collected.
// Must be called with h.mu held.
func (h *History) evict() {
	cutoff := h.now().Add(-h.maxAge)

	start := 0
	for start < len(h.entries) && h.entries[start].Timestamp.Before(cutoff) {
		start++
	}

	keep := h.entries[start:]
	if len(keep) > h.maxSize {
		keep = keep[len(keep)-h.maxSize:]
	}

	if start > 0 || len(keep) < len(h.entries) {
		fresh := make([]memory.TranscriptEntry, len(keep), h.maxSize)
		copy(fresh, keep)
		h.entries = fresh
	}
}
