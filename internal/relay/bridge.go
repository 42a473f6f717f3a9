package relay

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voicelink/internal/observe"
	"github.com/MrWong99/voicelink/pkg/memory"
	"github.com/MrWong99/voicelink/pkg/protocol"
	"github.com/MrWong99/voicelink/pkg/provider/realtime"
)

// writeTimeout bounds the final error write before a close.
const writeTimeout = 5 * time.Second

// Client-facing error texts.
const (
	msgSessionLimit     = "Maximum concurrent sessions reached. Please try again later."
	msgUpstreamDial     = "Failed to connect to the voice backend."
	msgUpstreamLost     = "Connection to the voice backend was lost."
	msgReconfigure      = "Session configuration could not be applied."
	msgInvalidJSON      = "Invalid JSON format"
	msgMissingConfig    = "Session configuration is missing."
	msgSessionExpired   = "Session closed after inactivity."
	msgServerShutdown   = "Server is shutting down."
	msgUpstreamFallback = "The voice backend reported an error."
)

// conn bridges one client websocket and its upstream session.
type conn struct {
	srv *Server
	ws  *websocket.Conn
	id  string
	up  *upstream
	log *slog.Logger

	// Final transcripts kept for the archive; owned by the write pump.
	entries []memory.TranscriptEntry
	seq     int64

	failOnce sync.Once
}

func (s *Server) handleRealtime(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &s.accept)
	if err != nil {
		slog.Warn("relay: websocket accept failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	defer ws.CloseNow()
	ws.SetReadLimit(s.readLimit)

	c := &conn{srv: s, ws: ws}
	sess, err := s.sessions.Create(r.RemoteAddr, c.terminate)
	if err != nil {
		c.fail(protocol.CodeSessionLimit, msgSessionLimit, websocket.StatusTryAgainLater, "session limit")
		return
	}
	defer s.sessions.Remove(sess.ID)
	c.id = sess.ID

	ctx := observe.WithSession(r.Context(), sess.ID)
	ctx, span := observe.StartSpan(ctx, "relay.session")
	defer span.End()
	c.log = observe.Logger(ctx)

	if err := c.send(ctx, protocol.ConnectionEstablished(sess.ID)); err != nil {
		c.log.Warn("relay: client gone before session start", "err", err)
		return
	}

	up, err := dialUpstream(ctx, s.provider, s.breaker, s.metrics, *s.base.Load())
	if err != nil {
		c.log.Error("relay: upstream unavailable", "err", err)
		c.fail(protocol.CodeWebsocketError, msgUpstreamDial, websocket.StatusInternalError, "upstream unavailable")
		return
	}
	defer up.Close()
	c.up = up
	c.log.Info("relay: session started", "remote", r.RemoteAddr)

	// The read pump runs on the request context: cancelling a coder/websocket
	// read closes the connection, which must wait until the error is sent.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.readPump(ctx) })
	g.Go(func() error { return c.writePump(gctx) })
	g.Go(func() error { return c.keepalive(gctx) })

	err = g.Wait()
	c.archive(ctx)
	switch status := websocket.CloseStatus(err); {
	case err == nil, status == websocket.StatusNormalClosure, status == websocket.StatusGoingAway:
		c.log.Info("relay: session ended")
	default:
		c.log.Warn("relay: session ended with error", "err", err)
	}
}

// terminate ends the session on behalf of the session manager.
func (c *conn) terminate(cause error) {
	msg := msgServerShutdown
	if errors.Is(cause, ErrSessionExpired) {
		msg = msgSessionExpired
	}
	go c.fail(protocol.CodeWebsocketError, msg, websocket.StatusGoingAway, cause.Error())
}

// fail tells the client what went wrong and closes the connection. Only the
// first call has any effect.
func (c *conn) fail(code, message string, status websocket.StatusCode, reason string) {
	c.failOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		_ = c.send(ctx, protocol.Error(message, code))
		c.ws.Close(status, reason)
	})
}

// send stamps m with the session id and writes it.
func (c *conn) send(ctx context.Context, m protocol.Message) error {
	m.SessionID = c.id
	data, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	if err := c.ws.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("relay: send %s: %w", m.Type, err)
	}
	return nil
}

// ── Client → upstream ──────────────────────────────────────────────────────────

func (c *conn) readPump(ctx context.Context) error {
	for {
		typ, data, err := c.ws.Read(ctx)
		if err != nil {
			return err
		}
		c.srv.sessions.Touch(c.id)
		if typ != websocket.MessageText {
			c.log.Debug("relay: ignoring binary message", "bytes", len(data))
			continue
		}

		m, err := protocol.Decode(data)
		if err != nil {
			if err := c.rejectMessage(ctx, err); err != nil {
				return err
			}
			continue
		}
		if err := c.dispatch(ctx, m); err != nil {
			c.log.Error("relay: upstream request failed", "kind", m.Type, "err", err)
			c.fail(protocol.CodeWebsocketError, msgUpstreamLost, websocket.StatusInternalError, "upstream failure")
			return err
		}
	}
}

// rejectMessage answers a message that failed to decode. Unknown kinds are
// only logged.
func (c *conn) rejectMessage(ctx context.Context, err error) error {
	var de *protocol.DecodeError
	if !errors.As(err, &de) {
		return err
	}
	if de.Code == protocol.DecodeUnknownType {
		c.log.Warn("relay: unknown message type", "err", de)
		return nil
	}
	c.log.Warn("relay: malformed client message", "err", de)
	c.srv.metrics.RecordDecodeError(ctx, "client")
	msg := msgInvalidJSON
	if de.Code != protocol.DecodeInvalidJSON {
		msg = "Invalid message: " + de.Message
	}
	return c.send(ctx, protocol.Error(msg, protocol.CodeServerError))
}

func (c *conn) dispatch(ctx context.Context, m protocol.Message) error {
	switch m.Type {
	case protocol.KindAudioAppend:
		if err := c.up.Append(ctx, m.Audio); err != nil {
			return err
		}
		c.srv.metrics.RecordFrame(ctx, observe.DirectionUpstream)
	case protocol.KindAudioCommit:
		return c.up.Commit(ctx)
	case protocol.KindConversationInterrupt:
		return c.up.Cancel(ctx)
	case protocol.KindSessionCreate, protocol.KindSessionUpdate:
		cfg := m.Session
		if m.Type == protocol.KindSessionUpdate {
			cfg = m.Config
		}
		if cfg == nil {
			return c.send(ctx, protocol.Error(msgMissingConfig, protocol.CodeServerError))
		}
		mode, err := c.up.Reconfigure(ctx, *cfg)
		if err != nil {
			return err
		}
		c.log.Info("relay: session reconfigured", "kind", m.Type, "mode", mode)
	default:
		c.log.Warn("relay: ignoring message kind not accepted from clients", "kind", m.Type)
	}
	return nil
}

// ── Upstream → client ──────────────────────────────────────────────────────────

func (c *conn) writePump(ctx context.Context) error {
	sess := c.up.current()
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-c.up.rebuildFailed:
			c.log.Warn("relay: reconfigure not applied", "err", err)
			if err := c.send(ctx, protocol.Error(msgReconfigure, protocol.CodeUpstreamError)); err != nil {
				return err
			}
		case ev, ok := <-sess.Events():
			if !ok {
				if next := c.up.current(); next != sess {
					sess = next
					continue
				}
				err := cmp.Or(sess.Err(), errUpstreamClosed)
				c.log.Error("relay: upstream session ended", "err", err)
				c.fail(protocol.CodeWebsocketError, msgUpstreamLost, websocket.StatusInternalError, "upstream failure")
				return fmt.Errorf("relay: upstream ended: %w", err)
			}
			if err := c.forward(ctx, ev); err != nil {
				return err
			}
		}
	}
}

// forward translates one upstream event for the client.
func (c *conn) forward(ctx context.Context, ev realtime.Event) error {
	var m protocol.Message
	switch ev.Type {
	case realtime.EventAudioDelta:
		m = protocol.AudioDelta(ev.Audio, ev.ItemID)
		c.srv.metrics.RecordFrame(ctx, observe.DirectionDownstream)
	case realtime.EventAudioDone:
		m = protocol.AudioDone(ev.ItemID)
	case realtime.EventUserTranscript:
		m = protocol.Transcript(protocol.RoleUser, ev.Text, true, ev.ItemID)
	case realtime.EventAssistantDelta:
		m = protocol.Transcript(protocol.RoleAssistant, ev.Text, false, ev.ItemID)
	case realtime.EventAssistantDone:
		m = protocol.Transcript(protocol.RoleAssistant, ev.Text, true, ev.ItemID)
	case realtime.EventError:
		c.log.Warn("relay: upstream error", "code", ev.Code, "message", ev.Message)
		m = protocol.Error(cmp.Or(ev.Message, msgUpstreamFallback), cmp.Or(ev.Code, protocol.CodeUpstreamError))
	case realtime.EventSessionUpdated:
		c.log.Debug("relay: upstream confirmed session config")
		return nil
	default:
		return nil
	}
	c.record(m)
	return c.send(ctx, m)
}

func (c *conn) keepalive(ctx context.Context) error {
	ticker := time.NewTicker(c.srv.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, c.srv.pingTimeout)
			err := c.ws.Ping(pctx)
			cancel()
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				c.log.Warn("relay: client ping failed", "err", err)
				c.ws.CloseNow()
				return fmt.Errorf("relay: ping: %w", err)
			}
		}
	}
}

// Shutdown ends every live session and waits until their handlers return or
// ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	s.sessions.Shutdown()
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for s.sessions.Len() > 0 {
		select {
		case <-ctx.Done():
			return fmt.Errorf("relay: shutdown: %d sessions still open: %w", s.sessions.Len(), ctx.Err())
		case <-ticker.C:
		}
	}
	return nil
}
