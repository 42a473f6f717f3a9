package relay

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/voicelink/pkg/memory"
	"github.com/MrWong99/voicelink/pkg/protocol"
)

// saveTimeout bounds the transcript hand-off when a session ends.
const saveTimeout = 10 * time.Second

type errorBody struct {
	Error string `json:"error"`
}

// record keeps a final transcript line for the archive. Only the write pump
// calls it.
func (c *conn) record(m protocol.Message) {
	if c.srv.store == nil || !m.Type.IsTranscript() || !m.IsFinal {
		return
	}
	text := strings.TrimSpace(m.Text)
	if text == "" {
		return
	}
	c.seq++
	c.entries = append(c.entries, memory.NewEntry(c.seq, m.TranscriptRole(), text, "", time.Now()))
}

// archive hands the session's transcript to the store. It must run after the
// pumps have stopped.
func (c *conn) archive(ctx context.Context) {
	if c.srv.store == nil || len(c.entries) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), saveTimeout)
	defer cancel()
	if err := c.srv.store.SaveTranscript(ctx, c.id, c.entries); err != nil {
		c.log.Warn("relay: transcript not archived", "entries", len(c.entries), "err", err)
		return
	}
	c.log.Debug("relay: transcript archived", "entries", len(c.entries))
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.Transcript(r.Context(), r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "transcript unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	searcher, ok := s.store.(memory.Searcher)
	if !ok {
		writeJSON(w, http.StatusNotImplemented, errorBody{Error: "search not supported by the configured store"})
		return
	}

	q := r.URL.Query()
	opts := memory.SearchOpts{
		SessionID: q.Get("session"),
		Role:      q.Get("role"),
		Agent:     q.Get("agent"),
		Limit:     50,
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "limit must be a positive integer"})
			return
		}
		opts.Limit = min(n, 500)
	}
	for key, dst := range map[string]*time.Time{"after": &opts.After, "before": &opts.Before} {
		if v := q.Get(key); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				writeJSON(w, http.StatusBadRequest, errorBody{Error: key + " must be an RFC 3339 timestamp"})
				return
			}
			*dst = t
		}
	}

	entries, err := searcher.Search(r.Context(), q.Get("q"), opts)
	switch {
	case errors.Is(err, memory.ErrSearchUnsupported):
		writeJSON(w, http.StatusNotImplemented, errorBody{Error: "search not supported by the configured store"})
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "search failed"})
	default:
		writeJSON(w, http.StatusOK, entries)
	}
}
