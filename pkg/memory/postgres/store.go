package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/voicelink/pkg/memory"
)

var (
	_ memory.TranscriptStore = (*Store)(nil)
	_ memory.Searcher        = (*Store)(nil)
)

// Store keeps transcripts in the transcript_entries table.
type Store struct {
	pool *pgxpool.Pool
}

// Option tunes the pool behind a [Store].
type Option func(*pgxpool.Config)

// WithMaxConns caps the pool size. Non-positive values keep the pgx default.
func WithMaxConns(n int32) Option {
	return func(c *pgxpool.Config) {
		if n > 0 {
			c.MaxConns = n
		}
	}
}

// NewStore opens a pool for dsn, pings it and applies [Migrate].
func NewStore(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	for _, o := range opts {
		o(cfg)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// Ping backs the relay readiness probe.
func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// Close releases the pool.
func (s *Store) Close() { s.pool.Close() }

const entryColumns = "id, seq, role, text, agent, timestamp"

// SaveTranscript writes entries in a single statement. Rows whose id is
// already stored are skipped, so repeating a hand-off is harmless.
func (s *Store) SaveTranscript(ctx context.Context, sessionID string, entries []memory.TranscriptEntry) error {
	if sessionID == "" {
		return memory.ErrEmptySessionID
	}
	if len(entries) == 0 {
		return nil
	}

	n := len(entries)
	var (
		ids    = make([]string, 0, n)
		seqs   = make([]int64, 0, n)
		roles  = make([]string, 0, n)
		texts  = make([]string, 0, n)
		agents = make([]string, 0, n)
		stamps = make([]time.Time, 0, n)
	)
	for _, e := range entries {
		ids = append(ids, e.ID)
		seqs = append(seqs, e.Seq)
		roles = append(roles, e.Role)
		texts = append(texts, e.Text)
		agents = append(agents, e.Agent)
		stamps = append(stamps, e.Timestamp)
	}

	const q = `
INSERT INTO transcript_entries (session_id, ` + entryColumns + `)
SELECT $1::text, u.* FROM unnest($2::text[], $3::bigint[], $4::text[], $5::text[], $6::text[], $7::timestamptz[]) AS u
ON CONFLICT (id) DO NOTHING`
	if _, err := s.pool.Exec(ctx, q, sessionID, ids, seqs, roles, texts, agents, stamps); err != nil {
		return fmt.Errorf("postgres: save %d entries for %s: %w", n, sessionID, err)
	}
	return nil
}

// Transcript returns the session log in seq order.
func (s *Store) Transcript(ctx context.Context, sessionID string) ([]memory.TranscriptEntry, error) {
	if sessionID == "" {
		return nil, memory.ErrEmptySessionID
	}
	return s.query(ctx, "load",
		"SELECT "+entryColumns+" FROM transcript_entries WHERE session_id = $1 ORDER BY seq",
		sessionID)
}

// Search matches query with plainto_tsquery against the english text
// vector, so plain words work without operator syntax.
func (s *Store) Search(ctx context.Context, query string, opts memory.SearchOpts) ([]memory.TranscriptEntry, error) {
	var f filter
	f.add("to_tsvector('english', text) @@ plainto_tsquery('english', %s)", query)
	if opts.SessionID != "" {
		f.add("session_id = %s", opts.SessionID)
	}
	if opts.Role != "" {
		f.add("role = %s", opts.Role)
	}
	if opts.Agent != "" {
		f.add("agent = %s", opts.Agent)
	}
	if !opts.After.IsZero() {
		f.add("timestamp > %s", opts.After)
	}
	if !opts.Before.IsZero() {
		f.add("timestamp < %s", opts.Before)
	}

	q := "SELECT " + entryColumns + " FROM transcript_entries WHERE " +
		strings.Join(f.conds, " AND ") + " ORDER BY session_id, seq"
	if opts.Limit > 0 {
		q += " LIMIT " + f.bind(opts.Limit)
	}
	return s.query(ctx, "search", q, f.args...)
}

func (s *Store) query(ctx context.Context, op, q string, args ...any) ([]memory.TranscriptEntry, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: %s: %w", op, err)
	}
	// Column order matches the TranscriptEntry field order.
	out, err := pgx.CollectRows(rows, pgx.RowToStructByPos[memory.TranscriptEntry])
	if err != nil {
		return nil, fmt.Errorf("postgres: %s: %w", op, err)
	}
	if out == nil {
		out = []memory.TranscriptEntry{}
	}
	return out, nil
}

// filter collects WHERE conditions with numbered placeholders.
type filter struct {
	conds []string
	args  []any
}

func (f *filter) bind(v any) string {
	f.args = append(f.args, v)
	return fmt.Sprintf("$%d", len(f.args))
}

func (f *filter) add(cond string, v any) {
	f.conds = append(f.conds, fmt.Sprintf(cond, f.bind(v)))
}
