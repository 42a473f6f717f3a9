// Package transport owns the client side of the persistent voice session
// connection: a websocket carrying [protocol.Message] frames, the connection
// lifecycle state, and the server-assigned session identifier.
//
// A [Session] reports everything that happens on the wire through a single
// ordered event stream ([Session.Events]): decoded messages, decode failures,
// state transitions and transport errors. Events are queued without bound so
// that no producer (read loop or caller) ever blocks on a slow consumer.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/MrWong99/voicelink/pkg/protocol"
)

// ErrNotConnected is returned by send operations when the session is not in
// [protocol.StateConnected].
var ErrNotConnected = errors.New("transport: not connected")

// Error is a transport failure. It moves the session into
// [protocol.StateError]; an explicit [Session.Reset] is required before the
// next [Session.Connect].
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("transport: %s: %v", e.Op, e.Err) }

func (e *Error) Unwrap() error { return e.Err }

// defaultReadLimit accommodates large audio.delta frames; the websocket
// library default is 32 KiB.
const defaultReadLimit = 4 << 20

// ── Options ────────────────────────────────────────────────────────────────────

// Option configures a Session.
type Option func(*Session)

// WithHeader adds an HTTP header to the websocket handshake.
func WithHeader(key, value string) Option {
	return func(s *Session) { s.header.Add(key, value) }
}

// WithSessionConfig overrides the configuration sent in session.create.
func WithSessionConfig(cfg protocol.SessionConfig) Option {
	return func(s *Session) { s.cfg = cfg }
}

// WithReadLimit sets the maximum inbound frame size in bytes.
func WithReadLimit(n int64) Option {
	return func(s *Session) { s.readLimit = n }
}

// ── Session ────────────────────────────────────────────────────────────────────

// attempt tracks an in-flight Connect so Disconnect can abort the dial.
type attempt struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Session is a client connection to a voice session endpoint. All methods are
// safe for concurrent use.
type Session struct {
	url       string
	header    http.Header
	cfg       protocol.SessionConfig
	readLimit int64

	machine *protocol.Machine
	events  *mailbox

	mu         sync.Mutex
	conn       *websocket.Conn
	readCancel context.CancelFunc
	readDone   chan struct{}
	attempt    *attempt
	sessionID  string

	closeOnce sync.Once
}

// New returns a disconnected Session for the websocket endpoint at url.
func New(url string, opts ...Option) *Session {
	s := &Session{
		url:       url,
		header:    http.Header{},
		cfg:       protocol.DefaultSessionConfig(),
		readLimit: defaultReadLimit,
		events:    newMailbox(),
	}
	s.machine = protocol.NewMachine(func(from, to protocol.State) {
		s.events.put(Event{Kind: EventStateChange, From: from, State: to})
	})
	for _, o := range opts {
		o(s)
	}
	go s.events.run()
	return s
}

// Events returns the ordered event stream. The channel is closed by
// [Session.Close].
func (s *Session) Events() <-chan Event { return s.events.out }

// State returns the current connection state.
func (s *Session) State() protocol.State { return s.machine.State() }

// SessionID returns the server-assigned session identifier, or "" before one
// has been adopted.
func (s *Session) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// Connect dials the endpoint and negotiates the session by sending
// session.create as soon as the socket is open. It returns when the attempt
// completes. Connect while connecting or connected is a no-op.
func (s *Session) Connect(ctx context.Context) error {
	changed, err := s.machine.Fire(protocol.EventConnect)
	if err != nil {
		return fmt.Errorf("transport: connect: %w", err)
	}
	if !changed {
		return nil
	}

	dialCtx, cancel := context.WithCancel(ctx)
	att := &attempt{cancel: cancel, done: make(chan struct{})}
	s.mu.Lock()
	s.attempt = att
	s.sessionID = ""
	s.mu.Unlock()
	defer func() {
		cancel()
		s.mu.Lock()
		s.attempt = nil
		s.mu.Unlock()
		close(att.done)
	}()

	conn, _, err := websocket.Dial(dialCtx, s.url, &websocket.DialOptions{HTTPHeader: s.header})
	if err != nil {
		if s.machine.State() != protocol.StateConnecting {
			return fmt.Errorf("transport: connect: aborted: %w", err)
		}
		return s.fail("dial", err)
	}
	conn.SetReadLimit(s.readLimit)

	readCtx, readCancel := context.WithCancel(context.Background())
	readDone := make(chan struct{})

	s.mu.Lock()
	if s.machine.State() != protocol.StateConnecting {
		s.mu.Unlock()
		readCancel()
		_ = conn.Close(websocket.StatusNormalClosure, "disconnected")
		return fmt.Errorf("transport: connect: aborted: %w", context.Canceled)
	}
	s.conn, s.readCancel, s.readDone = conn, readCancel, readDone
	s.mu.Unlock()

	go s.readLoop(readCtx, conn, readDone)

	// session.create goes out before observers see connected, so it is
	// always the first frame on the wire.
	if err := s.write(ctx, conn, protocol.SessionCreate(s.cfg)); err != nil {
		if s.machine.State() == protocol.StateConnecting {
			_ = s.fail("negotiate", err)
		}
		return fmt.Errorf("transport: negotiate: %w", err)
	}
	if _, err := s.machine.Fire(protocol.EventOpen); err != nil {
		return fmt.Errorf("transport: connect: %w", err)
	}
	slog.Info("transport: connected", "url", s.url)
	return nil
}

// Disconnect closes the connection and waits until the session is
// disconnected. It is a no-op when already disconnected or disconnecting.
// From the error state it only releases resources; the state stays error.
func (s *Session) Disconnect(ctx context.Context) error {
	if s.machine.State() == protocol.StateError {
		s.release(websocket.StatusNormalClosure, "client disconnect")
		return nil
	}
	changed, err := s.machine.Fire(protocol.EventDisconnect)
	if err != nil {
		return fmt.Errorf("transport: disconnect: %w", err)
	}
	if !changed {
		return nil
	}

	s.mu.Lock()
	att := s.attempt
	s.mu.Unlock()
	if att != nil {
		att.cancel()
		select {
		case <-att.done:
		case <-ctx.Done():
			return fmt.Errorf("transport: disconnect: %w", ctx.Err())
		}
	}

	done := s.release(websocket.StatusNormalClosure, "client disconnect")
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return fmt.Errorf("transport: disconnect: %w", ctx.Err())
		}
	}

	// A concurrent failure may already have moved the session to error.
	if _, err := s.machine.Fire(protocol.EventClosed); err != nil {
		slog.Debug("transport: close after failure", "state", s.machine.State())
	}
	return nil
}

// Reset clears the error state so that Connect may be called again.
func (s *Session) Reset() error {
	if _, err := s.machine.Fire(protocol.EventReset); err != nil {
		return fmt.Errorf("transport: reset: %w", err)
	}
	s.release(websocket.StatusNormalClosure, "reset")
	s.mu.Lock()
	s.sessionID = ""
	s.mu.Unlock()
	return nil
}

// Close disconnects and ends the event stream. The Session cannot be reused.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.Disconnect(context.Background())
		s.events.close()
	})
	return err
}

// ── Sending ────────────────────────────────────────────────────────────────────

// Send writes m, stamped with the adopted session identifier. It fails with
// [ErrNotConnected] unless the session is connected.
func (s *Session) Send(ctx context.Context, m protocol.Message) error {
	s.mu.Lock()
	conn, id := s.conn, s.sessionID
	s.mu.Unlock()
	if conn == nil || s.machine.State() != protocol.StateConnected {
		return ErrNotConnected
	}
	if id != "" {
		m.SessionID = id
	}
	return s.write(ctx, conn, m)
}

func (s *Session) write(ctx context.Context, conn *websocket.Conn, m protocol.Message) error {
	data, err := protocol.Encode(m)
	if err != nil {
		return fmt.Errorf("transport: send: %w", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("transport: send %s: %w", m.Type, ctx.Err())
		}
		return s.fail("write", err)
	}
	return nil
}

// AppendAudio sends one base64 PCM16 frame.
func (s *Session) AppendAudio(ctx context.Context, payload string) error {
	return s.Send(ctx, protocol.AudioAppend(payload))
}

// Commit marks the end of the user's turn.
func (s *Session) Commit(ctx context.Context) error {
	return s.Send(ctx, protocol.AudioCommit())
}

// Interrupt asks the backend to stop the current response.
func (s *Session) Interrupt(ctx context.Context) error {
	return s.Send(ctx, protocol.Interrupt())
}

// UpdateInstructions changes the session instructions without reconnecting.
func (s *Session) UpdateInstructions(ctx context.Context, instructions string) error {
	return s.Send(ctx, protocol.InstructionsUpdate(instructions))
}

// ── Internals ──────────────────────────────────────────────────────────────────

func (s *Session) readLoop(ctx context.Context, conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			switch s.machine.State() {
			case protocol.StateDisconnecting, protocol.StateDisconnected, protocol.StateError:
				return
			}
			_ = s.fail("read", err)
			return
		}
		if typ != websocket.MessageText {
			slog.Debug("transport: ignoring binary frame", "bytes", len(data))
			continue
		}

		m, err := protocol.Decode(data)
		if err != nil {
			slog.Warn("transport: dropping malformed message", "err", err)
			s.events.put(Event{Kind: EventDecodeError, Err: err})
			continue
		}
		s.adopt(m.SessionID)
		s.events.put(Event{Kind: EventMessage, Message: m})
	}
}

// adopt records the first session identifier seen. Later mismatches are
// logged and ignored.
func (s *Session) adopt(id string) {
	if id == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.sessionID {
	case "":
		s.sessionID = id
		slog.Info("transport: session established", "session_id", id)
	case id:
	default:
		slog.Warn("transport: ignoring mismatched session id", "session_id", s.sessionID, "got", id)
	}
}

// fail moves the session to error, releases the socket and reports err.
func (s *Session) fail(op string, err error) error {
	terr := &Error{Op: op, Err: err}
	changed, _ := s.machine.Fire(protocol.EventFailure)
	s.release(websocket.StatusInternalError, op+" failed")
	if changed {
		slog.Warn("transport: connection failed", "op", op, "err", err)
		s.events.put(Event{Kind: EventError, Err: terr})
	}
	return terr
}

// release closes the current socket, if any, and returns the read loop's done
// channel so callers outside the read loop can wait for it.
func (s *Session) release(code websocket.StatusCode, reason string) <-chan struct{} {
	s.mu.Lock()
	conn, cancel, done := s.conn, s.readCancel, s.readDone
	s.conn, s.readCancel, s.readDone = nil, nil, nil
	s.mu.Unlock()

	if conn == nil {
		return nil
	}
	_ = conn.Close(code, reason)
	cancel()
	return done
}
