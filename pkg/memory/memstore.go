package memory

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"
)

var (
	_ TranscriptStore = (*MemoryStore)(nil)
	_ Searcher        = (*MemoryStore)(nil)
)

// MemoryStore keeps transcripts in process memory. It is the default store
// when no database is configured. The zero value is ready to use.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string][]TranscriptEntry
	seen     map[string]struct{}
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// SaveTranscript implements [TranscriptStore].
func (s *MemoryStore) SaveTranscript(ctx context.Context, sessionID string, entries []TranscriptEntry) error {
	if sessionID == "" {
		return ErrEmptySessionID
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessions == nil {
		s.sessions = make(map[string][]TranscriptEntry)
		s.seen = make(map[string]struct{})
	}
	log := s.sessions[sessionID]
	for _, e := range entries {
		if e.ID != "" {
			if _, dup := s.seen[e.ID]; dup {
				continue
			}
			s.seen[e.ID] = struct{}{}
		}
		log = append(log, e)
	}
	slices.SortStableFunc(log, func(a, b TranscriptEntry) int {
		return cmp.Compare(a.Seq, b.Seq)
	})
	s.sessions[sessionID] = log
	return nil
}

// Transcript implements [TranscriptStore].
func (s *MemoryStore) Transcript(_ context.Context, sessionID string) ([]TranscriptEntry, error) {
	if sessionID == "" {
		return nil, ErrEmptySessionID
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]TranscriptEntry, len(s.sessions[sessionID]))
	copy(out, s.sessions[sessionID])
	return out, nil
}

// Search implements [Searcher] with a case-insensitive substring match on
// every query word.
func (s *MemoryStore) Search(_ context.Context, query string, opts SearchOpts) ([]TranscriptEntry, error) {
	words := strings.Fields(strings.ToLower(query))

	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	out := []TranscriptEntry{}
	for _, id := range ids {
		for _, e := range s.sessions[id] {
			if !opts.Matches(id, e) || !containsAll(strings.ToLower(e.Text), words) {
				continue
			}
			out = append(out, e)
			if opts.Limit > 0 && len(out) == opts.Limit {
				return out, nil
			}
		}
	}
	return out, nil
}

func containsAll(text string, words []string) bool {
	for _, w := range words {
		if !strings.Contains(text, w) {
			return false
		}
	}
	return true
}
