package relay

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/voicelink/pkg/memory"
	"github.com/MrWong99/voicelink/pkg/protocol"
	"github.com/MrWong99/voicelink/pkg/provider/realtime"
	"github.com/MrWong99/voicelink/pkg/provider/realtime/mock"
)

// ── Helpers ──────────────────────────────────────────────────────────────────

func newTestServer(t *testing.T, cfg Config) (*Server, *httptest.Server) {
	t.Helper()
	srv := NewServer(cfg)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

func dialRelay(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/realtime"
	c, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { c.CloseNow() })
	return c
}

func readMsg(t *testing.T, c *websocket.Conn) protocol.Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := c.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	m, err := protocol.Decode(data)
	if err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return m
}

func writeMsg(t *testing.T, c *websocket.Conn, m protocol.Message) {
	t.Helper()
	data, err := protocol.Encode(m)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	writeRaw(t, c, string(data))
}

func writeRaw(t *testing.T, c *websocket.Conn, raw string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Write(ctx, websocket.MessageText, []byte(raw)); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func waitSession(t *testing.T, p *mock.Provider) *mock.Session {
	t.Helper()
	select {
	case s := <-p.Connected():
		return s
	case <-time.After(5 * time.Second):
		t.Fatal("no upstream session connected")
		return nil
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func frame(i int) string {
	return base64.StdEncoding.EncodeToString([]byte{byte(i), 0})
}

// start connects a client and returns it with its session id and upstream.
func start(t *testing.T, ts *httptest.Server, p *mock.Provider) (*websocket.Conn, string, *mock.Session) {
	t.Helper()
	c := dialRelay(t, ts)
	m := readMsg(t, c)
	if m.Type != protocol.KindConnectionEstablished || m.SessionID == "" {
		t.Fatalf("first message = %+v, want connection.established with id", m)
	}
	return c, m.SessionID, waitSession(t, p)
}

// ── Tests ────────────────────────────────────────────────────────────────────

func TestServer_ForwardsUpstreamEvents(t *testing.T) {
	t.Parallel()

	p := mock.NewProvider(realtime.Capabilities{})
	_, ts := newTestServer(t, Config{Provider: p})
	c, id, up := start(t, ts, p)

	tests := []struct {
		ev   realtime.Event
		want protocol.Message
	}{
		{
			ev:   realtime.Event{Type: realtime.EventAudioDelta, Audio: frame(7), ItemID: "it1"},
			want: protocol.AudioDelta(frame(7), "it1"),
		},
		{
			ev:   realtime.Event{Type: realtime.EventAudioDone, ItemID: "it1"},
			want: protocol.AudioDone("it1"),
		},
		{
			ev:   realtime.Event{Type: realtime.EventUserTranscript, Text: "hello", ItemID: "u1"},
			want: protocol.Transcript(protocol.RoleUser, "hello", true, "u1"),
		},
		{
			ev:   realtime.Event{Type: realtime.EventAssistantDelta, Text: "Hi", ItemID: "it1"},
			want: protocol.Transcript(protocol.RoleAssistant, "Hi", false, "it1"),
		},
		{
			ev:   realtime.Event{Type: realtime.EventAssistantDone, Text: "Hi there", ItemID: "it1"},
			want: protocol.Transcript(protocol.RoleAssistant, "Hi there", true, "it1"),
		},
		{
			ev:   realtime.Event{Type: realtime.EventError, Code: "rate_limit", Message: "slow down"},
			want: protocol.Error("slow down", "rate_limit"),
		},
	}

	// Session confirmations are not forwarded.
	up.Emit(realtime.Event{Type: realtime.EventSessionUpdated})
	for _, tt := range tests {
		up.Emit(tt.ev)
	}
	for _, tt := range tests {
		got := readMsg(t, c)
		want := tt.want
		want.SessionID = id
		if got.Type != want.Type || got.Text != want.Text || got.IsFinal != want.IsFinal ||
			got.ItemID != want.ItemID || got.Audio != want.Audio || got.Code != want.Code ||
			got.Message != want.Message || got.SessionID != want.SessionID {
			t.Errorf("event %v forwarded as %+v, want %+v", tt.ev.Type, got, want)
		}
	}
}

func TestServer_ForwardsClientCommands(t *testing.T) {
	t.Parallel()

	p := mock.NewProvider(realtime.Capabilities{})
	_, ts := newTestServer(t, Config{Provider: p})
	c, _, up := start(t, ts, p)

	for i := range 3 {
		writeMsg(t, c, protocol.AudioAppend(frame(i)))
	}
	writeMsg(t, c, protocol.AudioCommit())
	writeMsg(t, c, protocol.Interrupt())

	eventually(t, "commit and cancel", func() bool {
		commits, cancels := up.Counts()
		return commits == 1 && cancels == 1
	})
	want := []string{frame(0), frame(1), frame(2)}
	if got := up.AppendedAudio(); !slices.Equal(got, want) {
		t.Errorf("appended = %v, want %v", got, want)
	}
}

func TestServer_StartsFromBaseConfig(t *testing.T) {
	t.Parallel()

	base := protocol.DefaultSessionConfig()
	base.Voice = "verse"
	p := mock.NewProvider(realtime.Capabilities{})
	_, ts := newTestServer(t, Config{Provider: p, Session: &base})
	_, _, up := start(t, ts, p)

	if up.Config.Voice != "verse" {
		t.Errorf("upstream voice = %q, want verse", up.Config.Voice)
	}
}

func TestServer_SetBaseSessionAppliesToNewSessions(t *testing.T) {
	t.Parallel()

	p := mock.NewProvider(realtime.Capabilities{})
	srv, ts := newTestServer(t, Config{Provider: p})
	_, _, first := start(t, ts, p)

	next := protocol.DefaultSessionConfig()
	next.Instructions = "Answer in one sentence."
	srv.SetBaseSession(next)
	_, _, second := start(t, ts, p)

	if first.Config.Instructions != protocol.DefaultInstructions {
		t.Errorf("first session instructions = %q", first.Config.Instructions)
	}
	if second.Config.Instructions != "Answer in one sentence." {
		t.Errorf("second session instructions = %q", second.Config.Instructions)
	}
}

func TestServer_ReconfigureRebuildKeepsFrames(t *testing.T) {
	t.Parallel()

	p := mock.NewProvider(realtime.Capabilities{LiveUpdate: false})
	_, ts := newTestServer(t, Config{Provider: p})
	c, id, first := start(t, ts, p)

	writeMsg(t, c, protocol.AudioAppend(frame(0)))
	writeMsg(t, c, protocol.AudioAppend(frame(1)))
	writeMsg(t, c, protocol.InstructionsUpdate("be concise"))
	writeMsg(t, c, protocol.AudioAppend(frame(2)))
	writeMsg(t, c, protocol.AudioAppend(frame(3)))

	second := waitSession(t, p)
	eventually(t, "frames on rebuilt session", func() bool {
		return len(second.AppendedAudio()) == 2
	})
	eventually(t, "old session closed", first.Closed)

	if got, want := first.AppendedAudio(), []string{frame(0), frame(1)}; !slices.Equal(got, want) {
		t.Errorf("old session frames = %v, want %v", got, want)
	}
	if got, want := second.AppendedAudio(), []string{frame(2), frame(3)}; !slices.Equal(got, want) {
		t.Errorf("rebuilt session frames = %v, want %v", got, want)
	}
	if second.Config.Instructions != "be concise" {
		t.Errorf("rebuilt instructions = %q", second.Config.Instructions)
	}
	if second.Config.Voice != protocol.DefaultVoice {
		t.Errorf("rebuilt voice = %q, want merged default %q", second.Config.Voice, protocol.DefaultVoice)
	}
	if n := p.ConnectCount(); n != 2 {
		t.Errorf("ConnectCount = %d, want 2", n)
	}

	// The client saw neither a new connection.established nor an error: the
	// next message is the rebuilt session's event under the same id.
	second.Emit(realtime.Event{Type: realtime.EventAssistantDone, Text: "ok", ItemID: "it9"})
	m := readMsg(t, c)
	if m.Type != protocol.KindTranscriptAssistant || m.Text != "ok" {
		t.Fatalf("next message = %+v, want assistant transcript", m)
	}
	if m.SessionID != id {
		t.Errorf("sessionId = %q, want %q", m.SessionID, id)
	}
}

func TestServer_ReconfigureLive(t *testing.T) {
	t.Parallel()

	p := mock.NewProvider(realtime.Capabilities{LiveUpdate: true})
	_, ts := newTestServer(t, Config{Provider: p})
	c, _, up := start(t, ts, p)

	writeMsg(t, c, protocol.AudioAppend(frame(0)))
	writeMsg(t, c, protocol.InstructionsUpdate("be concise"))
	writeMsg(t, c, protocol.AudioAppend(frame(1)))

	eventually(t, "frames", func() bool { return len(up.AppendedAudio()) == 2 })
	updates := up.UpdateConfigs()
	if len(updates) != 1 || updates[0].Instructions != "be concise" {
		t.Fatalf("updates = %+v, want one with new instructions", updates)
	}
	if n := p.ConnectCount(); n != 1 {
		t.Errorf("ConnectCount = %d, want 1", n)
	}
}

func TestServer_ReconfigureFallsBackToRebuild(t *testing.T) {
	t.Parallel()

	p := mock.NewProvider(realtime.Capabilities{LiveUpdate: true})
	_, ts := newTestServer(t, Config{Provider: p})
	c, _, first := start(t, ts, p)
	first.SetUpdateErr(errors.New("update rejected"))

	writeMsg(t, c, protocol.SessionUpdate(protocol.SessionConfig{Voice: "verse"}))
	second := waitSession(t, p)
	if second.Config.Voice != "verse" {
		t.Errorf("rebuilt voice = %q, want verse", second.Config.Voice)
	}
}

func TestServer_RebuildFailureKeepsOldSession(t *testing.T) {
	t.Parallel()

	p := mock.NewProvider(realtime.Capabilities{})
	_, ts := newTestServer(t, Config{Provider: p})
	c, _, first := start(t, ts, p)
	p.SetConnectErr(errors.New("upstream down"))

	writeMsg(t, c, protocol.InstructionsUpdate("be concise"))
	m := readMsg(t, c)
	if m.Type != protocol.KindError || m.Code != protocol.CodeUpstreamError {
		t.Fatalf("got %+v, want UPSTREAM_ERROR", m)
	}

	writeMsg(t, c, protocol.AudioAppend(frame(5)))
	eventually(t, "frame on old session", func() bool {
		return slices.Equal(first.AppendedAudio(), []string{frame(5)})
	})
}

func TestServer_InvalidJSON(t *testing.T) {
	t.Parallel()

	p := mock.NewProvider(realtime.Capabilities{})
	_, ts := newTestServer(t, Config{Provider: p})
	c, id, up := start(t, ts, p)

	writeRaw(t, c, "{not json")
	m := readMsg(t, c)
	if m.Type != protocol.KindError || m.Code != protocol.CodeServerError {
		t.Fatalf("got %+v, want SERVER_ERROR", m)
	}
	if m.Message != msgInvalidJSON || m.SessionID != id {
		t.Errorf("error = %+v", m)
	}

	// The connection stays usable.
	writeMsg(t, c, protocol.AudioAppend(frame(1)))
	eventually(t, "frame after bad json", func() bool { return len(up.AppendedAudio()) == 1 })
}

func TestServer_UnknownTypeIgnored(t *testing.T) {
	t.Parallel()

	p := mock.NewProvider(realtime.Capabilities{})
	_, ts := newTestServer(t, Config{Provider: p})
	c, _, up := start(t, ts, p)

	writeRaw(t, c, `{"type":"response.create"}`)
	writeMsg(t, c, protocol.AudioAppend(frame(1)))
	eventually(t, "frame after unknown type", func() bool { return len(up.AppendedAudio()) == 1 })

	up.Emit(realtime.Event{Type: realtime.EventAudioDone, ItemID: "x"})
	if m := readMsg(t, c); m.Type != protocol.KindAudioDone {
		t.Fatalf("got %+v, want audio.done and no error reply", m)
	}
}

func TestServer_MissingConfig(t *testing.T) {
	t.Parallel()

	p := mock.NewProvider(realtime.Capabilities{})
	_, ts := newTestServer(t, Config{Provider: p})
	c, _, _ := start(t, ts, p)

	writeRaw(t, c, `{"type":"session.update"}`)
	m := readMsg(t, c)
	if m.Type != protocol.KindError || m.Code != protocol.CodeServerError {
		t.Fatalf("got %+v, want SERVER_ERROR", m)
	}
}

func TestServer_UpstreamFailureClosesWithError(t *testing.T) {
	t.Parallel()

	p := mock.NewProvider(realtime.Capabilities{})
	srv, ts := newTestServer(t, Config{Provider: p})
	c, _, up := start(t, ts, p)

	up.Fail(errors.New("boom"))
	m := readMsg(t, c)
	if m.Type != protocol.KindError || m.Code != protocol.CodeWebsocketError {
		t.Fatalf("got %+v, want WEBSOCKET_ERROR", m)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _, err := c.Read(ctx)
	if status := websocket.CloseStatus(err); status != websocket.StatusInternalError {
		t.Errorf("close status = %v (err %v), want %v", status, err, websocket.StatusInternalError)
	}
	eventually(t, "session removed", func() bool { return srv.Sessions().Len() == 0 })
}

func TestServer_UpstreamDialFailure(t *testing.T) {
	t.Parallel()

	p := mock.NewProvider(realtime.Capabilities{})
	p.SetConnectErr(errors.New("no route"))
	_, ts := newTestServer(t, Config{Provider: p})

	c := dialRelay(t, ts)
	if m := readMsg(t, c); m.Type != protocol.KindConnectionEstablished {
		t.Fatalf("first message = %+v, want connection.established", m)
	}
	m := readMsg(t, c)
	if m.Type != protocol.KindError || m.Code != protocol.CodeWebsocketError {
		t.Fatalf("got %+v, want WEBSOCKET_ERROR", m)
	}
}

func TestServer_SessionLimit(t *testing.T) {
	t.Parallel()

	p := mock.NewProvider(realtime.Capabilities{})
	sessions := NewSessionManager(SessionManagerConfig{MaxSessions: 1})
	_, ts := newTestServer(t, Config{Provider: p, Sessions: sessions})
	start(t, ts, p)

	c := dialRelay(t, ts)
	m := readMsg(t, c)
	if m.Type != protocol.KindError || m.Code != protocol.CodeSessionLimit {
		t.Fatalf("got %+v, want SESSION_LIMIT", m)
	}
	if got := sessions.Stats().Rejected; got != 1 {
		t.Errorf("Rejected = %d, want 1", got)
	}
}

func TestServer_ExpiredSessionIsClosed(t *testing.T) {
	t.Parallel()

	p := mock.NewProvider(realtime.Capabilities{})
	sessions := NewSessionManager(SessionManagerConfig{Timeout: time.Millisecond})
	_, ts := newTestServer(t, Config{Provider: p, Sessions: sessions})
	c, _, up := start(t, ts, p)

	time.Sleep(10 * time.Millisecond)
	if n := sessions.Cleanup(); n != 1 {
		t.Fatalf("Cleanup = %d, want 1", n)
	}
	m := readMsg(t, c)
	if m.Type != protocol.KindError || m.Message != msgSessionExpired {
		t.Fatalf("got %+v, want expiry error", m)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _, err := c.Read(ctx)
	if status := websocket.CloseStatus(err); status != websocket.StatusGoingAway {
		t.Errorf("close status = %v, want %v", status, websocket.StatusGoingAway)
	}
	eventually(t, "upstream closed", up.Closed)
}

func TestServer_ShutdownEndsSessions(t *testing.T) {
	t.Parallel()

	p := mock.NewProvider(realtime.Capabilities{})
	srv, ts := newTestServer(t, Config{Provider: p})
	c, _, _ := start(t, ts, p)

	// Drain the connection so the close handshake completes.
	go func() {
		for {
			if _, _, err := c.Read(context.Background()); err != nil {
				return
			}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if n := srv.Sessions().Len(); n != 0 {
		t.Errorf("sessions after shutdown = %d", n)
	}
}

func TestServer_Banner(t *testing.T) {
	t.Parallel()

	p := mock.NewProvider(realtime.Capabilities{})
	_, ts := newTestServer(t, Config{Provider: p, Version: "v1.2.3"})

	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var b banner
	if err := json.NewDecoder(resp.Body).Decode(&b); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if b.Message == "" || b.Version != "v1.2.3" {
		t.Errorf("banner = %+v", b)
	}

	resp2, err := http.Get(ts.URL + "/nope")
	if err != nil {
		t.Fatalf("GET /nope: %v", err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusNotFound {
		t.Errorf("unknown path status = %d, want 404", resp2.StatusCode)
	}
}

func TestServer_ArchivesTranscript(t *testing.T) {
	t.Parallel()

	p := mock.NewProvider(realtime.Capabilities{})
	store := memory.NewMemoryStore()
	srv, ts := newTestServer(t, Config{Provider: p, Store: store})
	c, id, up := start(t, ts, p)

	up.Emit(realtime.Event{Type: realtime.EventUserTranscript, Text: "hello there", ItemID: "u1"})
	up.Emit(realtime.Event{Type: realtime.EventAssistantDelta, Text: "Hi", ItemID: "a1"})
	up.Emit(realtime.Event{Type: realtime.EventAssistantDone, Text: "Hi, how can I help?", ItemID: "a1"})
	for range 3 {
		readMsg(t, c)
	}
	c.Close(websocket.StatusNormalClosure, "bye")
	eventually(t, "session removed", func() bool { return srv.Sessions().Len() == 0 })

	var entries []memory.TranscriptEntry
	getJSON(t, ts.URL+"/transcripts/"+id, &entries)
	if len(entries) != 2 {
		t.Fatalf("archived %d entries, want 2: %+v", len(entries), entries)
	}
	if entries[0].Role != memory.RoleUser || entries[0].Seq != 1 {
		t.Errorf("entries[0] = %+v", entries[0])
	}
	if entries[1].Role != memory.RoleAssistant || entries[1].Text != "Hi, how can I help?" {
		t.Errorf("entries[1] = %+v", entries[1])
	}

	var found []memory.TranscriptEntry
	getJSON(t, ts.URL+"/transcripts?q=hello&session="+id, &found)
	if len(found) != 1 || found[0].Text != "hello there" {
		t.Errorf("search = %+v", found)
	}

	resp, err := http.Get(ts.URL + "/transcripts?limit=zero")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want 400", resp.StatusCode)
	}
}

func getJSON(t *testing.T, url string, v any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s: status %d", url, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode %s: %v", url, err)
	}
}
