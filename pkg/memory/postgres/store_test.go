package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/MrWong99/voicelink/pkg/memory"
	"github.com/MrWong99/voicelink/pkg/memory/postgres"
)

const dsnEnv = "VOICELINK_TEST_POSTGRES_DSN"

// freshStore returns a store on an empty transcript_entries table. The
// tests need a live database and are skipped when dsnEnv is unset.
func freshStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := os.Getenv(dsnEnv)
	if dsn == "" {
		t.Skipf("%s not set", dsnEnv)
	}
	ctx := context.Background()

	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	_, err = conn.Exec(ctx, "DROP TABLE IF EXISTS transcript_entries CASCADE")
	conn.Close(ctx)
	if err != nil {
		t.Fatalf("reset schema: %v", err)
	}

	store, err := postgres.NewStore(ctx, dsn, postgres.WithMaxConns(4))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(store.Close)
	return store
}

func TestNewStore_BadDSN(t *testing.T) {
	t.Parallel()
	if _, err := postgres.NewStore(context.Background(), "postgres://localhost:badport/db"); err == nil {
		t.Fatal("NewStore accepted a malformed dsn")
	}
}

func TestStore_EmptySessionID(t *testing.T) {
	store := freshStore(t)
	ctx := context.Background()
	if err := store.SaveTranscript(ctx, "", nil); err != memory.ErrEmptySessionID {
		t.Errorf("SaveTranscript err = %v", err)
	}
	if _, err := store.Transcript(ctx, ""); err != memory.ErrEmptySessionID {
		t.Errorf("Transcript err = %v", err)
	}
}

func TestStore_SaveAndLoad(t *testing.T) {
	store := freshStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	log := []memory.TranscriptEntry{
		memory.NewEntry(2, memory.RoleAssistant, "It is sunny.", "weather", now),
		memory.NewEntry(1, memory.RoleUser, "How is the weather?", "", now),
	}
	if err := store.SaveTranscript(ctx, "s1", log); err != nil {
		t.Fatalf("SaveTranscript: %v", err)
	}
	// A second hand-off of the same log must not duplicate rows.
	if err := store.SaveTranscript(ctx, "s1", log); err != nil {
		t.Fatalf("SaveTranscript again: %v", err)
	}

	got, err := store.Transcript(ctx, "s1")
	if err != nil {
		t.Fatalf("Transcript: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Seq != 1 || got[1].Agent != "weather" {
		t.Errorf("got %+v, want seq order with agent preserved", got)
	}
	if !got[0].Timestamp.Equal(now) {
		t.Errorf("Timestamp = %v, want %v", got[0].Timestamp, now)
	}

	other, err := store.Transcript(ctx, "other")
	if err != nil {
		t.Fatalf("Transcript other: %v", err)
	}
	if len(other) != 0 {
		t.Errorf("other session: want 0 entries, got %d", len(other))
	}
}

func TestStore_Search(t *testing.T) {
	store := freshStore(t)
	ctx := context.Background()
	now := time.Now()

	if err := store.SaveTranscript(ctx, "s1", []memory.TranscriptEntry{
		memory.NewEntry(1, memory.RoleUser, "Find me a train to Hamburg.", "", now),
		memory.NewEntry(2, memory.RoleAssistant, "The next train to Hamburg leaves at nine.", "travel", now),
		memory.NewEntry(3, memory.RoleUser, "Thanks, and the weather?", "", now),
	}); err != nil {
		t.Fatalf("SaveTranscript: %v", err)
	}

	tests := []struct {
		name  string
		query string
		opts  memory.SearchOpts
		want  int
	}{
		{name: "keyword", query: "hamburg", opts: memory.SearchOpts{SessionID: "s1"}, want: 2},
		{name: "role filter", query: "hamburg", opts: memory.SearchOpts{Role: memory.RoleAssistant}, want: 1},
		{name: "agent filter", query: "train", opts: memory.SearchOpts{Agent: "travel"}, want: 1},
		{name: "limit", query: "hamburg", opts: memory.SearchOpts{Limit: 1}, want: 1},
		{name: "no match", query: "volcano", want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.Search(ctx, tt.query, tt.opts)
			if err != nil {
				t.Fatalf("Search: %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("len = %d, want %d", len(got), tt.want)
			}
		})
	}
}
