// Package mock provides a recording test double for [memory.TranscriptStore].
//
// Typical usage:
//
//	store := &mock.Store{}
//	// inject store into the system under test …
//	if got := store.SaveCount(); got != 1 {
//	    t.Errorf("expected 1 SaveTranscript call, got %d", got)
//	}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voicelink/pkg/memory"
)

// Save records one SaveTranscript call.
type Save struct {
	SessionID string
	Entries   []memory.TranscriptEntry
}

// Store is a configurable [memory.TranscriptStore]. It is safe for
// concurrent use.
type Store struct {
	mu    sync.Mutex
	saves []Save

	// SaveErr is returned by SaveTranscript when non-nil. The call is still
	// recorded.
	SaveErr error

	// TranscriptErr is returned by Transcript when non-nil.
	TranscriptErr error

	// Saved, if non-nil, receives the session id of every successful save.
	// Sends are non-blocking.
	Saved chan string
}

var _ memory.TranscriptStore = (*Store)(nil)

// SaveTranscript implements [memory.TranscriptStore].
func (s *Store) SaveTranscript(_ context.Context, sessionID string, entries []memory.TranscriptEntry) error {
	cp := make([]memory.TranscriptEntry, len(entries))
	copy(cp, entries)

	s.mu.Lock()
	s.saves = append(s.saves, Save{SessionID: sessionID, Entries: cp})
	err := s.SaveErr
	ch := s.Saved
	s.mu.Unlock()

	if err == nil && ch != nil {
		select {
		case ch <- sessionID:
		default:
		}
	}
	return err
}

// Transcript implements [memory.TranscriptStore]. It returns every entry saved
// for sessionID, in save order.
func (s *Store) Transcript(_ context.Context, sessionID string) ([]memory.TranscriptEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.TranscriptErr != nil {
		return nil, s.TranscriptErr
	}
	out := []memory.TranscriptEntry{}
	for _, sv := range s.saves {
		if sv.SessionID == sessionID {
			out = append(out, sv.Entries...)
		}
	}
	return out, nil
}

// Saves returns a copy of every recorded SaveTranscript call.
func (s *Store) Saves() []Save {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Save, len(s.saves))
	copy(out, s.saves)
	return out
}

// SaveCount returns the number of SaveTranscript calls.
func (s *Store) SaveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saves)
}
