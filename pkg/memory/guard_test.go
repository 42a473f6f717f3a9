package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/voicelink/pkg/memory"
	"github.com/MrWong99/voicelink/pkg/memory/mock"
)

type pingStore struct {
	mock.Store
	err error
}

func (p *pingStore) Ping(context.Context) error { return p.err }

func TestGuard_SaveFailureIsSwallowed(t *testing.T) {
	t.Parallel()

	inner := &mock.Store{SaveErr: errors.New("disk full")}
	g := memory.NewGuard(inner)
	entries := []memory.TranscriptEntry{memory.NewEntry(1, memory.RoleUser, "hi", "", time.Now())}

	if err := g.SaveTranscript(context.Background(), "s1", entries); err != nil {
		t.Fatalf("SaveTranscript = %v, want nil", err)
	}
	if !g.IsDegraded() {
		t.Error("guard not degraded after failed save")
	}
	if g.Lost() != 1 {
		t.Errorf("Lost = %d, want 1", g.Lost())
	}
	if err := g.Check(context.Background()); !errors.Is(err, memory.ErrDegraded) {
		t.Errorf("Check = %v, want ErrDegraded", err)
	}
}

func TestGuard_RecoversAfterSuccess(t *testing.T) {
	t.Parallel()

	inner := &mock.Store{SaveErr: errors.New("temporary")}
	g := memory.NewGuard(inner)
	_ = g.SaveTranscript(context.Background(), "s1", nil)

	inner.SaveErr = nil
	if err := g.SaveTranscript(context.Background(), "s1", nil); err != nil {
		t.Fatalf("SaveTranscript: %v", err)
	}
	if g.IsDegraded() {
		t.Error("guard still degraded after successful save")
	}
	if inner.SaveCount() != 2 {
		t.Errorf("SaveCount = %d, want 2", inner.SaveCount())
	}
}

func TestGuard_EmptySessionID(t *testing.T) {
	t.Parallel()

	g := memory.NewGuard(&mock.Store{})
	if err := g.SaveTranscript(context.Background(), "", nil); !errors.Is(err, memory.ErrEmptySessionID) {
		t.Errorf("err = %v, want ErrEmptySessionID", err)
	}
}

func TestGuard_Search(t *testing.T) {
	t.Parallel()

	t.Run("delegates to searcher", func(t *testing.T) {
		t.Parallel()
		store := memory.NewMemoryStore()
		g := memory.NewGuard(store)
		now := time.Now()
		_ = g.SaveTranscript(context.Background(), "s1", []memory.TranscriptEntry{
			memory.NewEntry(1, memory.RoleUser, "book a table", "", now),
			memory.NewEntry(2, memory.RoleAssistant, "which day?", "", now),
		})
		if !g.CanSearch() {
			t.Fatal("CanSearch = false for MemoryStore")
		}
		got, err := g.Search(context.Background(), "table", memory.SearchOpts{})
		if err != nil {
			t.Fatalf("Search: %v", err)
		}
		if len(got) != 1 || got[0].Text != "book a table" {
			t.Errorf("Search = %+v", got)
		}
	})

	t.Run("unsupported", func(t *testing.T) {
		t.Parallel()
		g := memory.NewGuard(&mock.Store{})
		if g.CanSearch() {
			t.Error("CanSearch = true for mock store")
		}
		if _, err := g.Search(context.Background(), "x", memory.SearchOpts{}); !errors.Is(err, memory.ErrSearchUnsupported) {
			t.Errorf("err = %v, want ErrSearchUnsupported", err)
		}
	})
}

func TestGuard_CheckPings(t *testing.T) {
	t.Parallel()

	store := &pingStore{err: errors.New("connection refused")}
	g := memory.NewGuard(store)
	if err := g.Check(context.Background()); err == nil {
		t.Fatal("Check = nil with failing ping")
	}
	store.err = nil
	if err := g.Check(context.Background()); err != nil {
		t.Errorf("Check = %v with healthy ping", err)
	}
}

func TestGuard_TranscriptErrorMarksDegraded(t *testing.T) {
	t.Parallel()

	g := memory.NewGuard(&mock.Store{TranscriptErr: errors.New("timeout")})
	if _, err := g.Transcript(context.Background(), "s1"); err == nil {
		t.Fatal("Transcript error not propagated")
	}
	if !g.IsDegraded() {
		t.Error("guard not degraded after failed read")
	}
}
