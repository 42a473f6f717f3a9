// Package openai connects relay sessions to the OpenAI Realtime API.
//
// A session is one WebSocket to the realtime endpoint. The whole session
// object goes out as session.update straight after the handshake and again on
// every later update, so configuration changes never need a reconnect. Audio
// stays base64 PCM16 end to end.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/voicelink/pkg/protocol"
	"github.com/MrWong99/voicelink/pkg/provider/realtime"
)

var (
	_ realtime.Provider = (*Provider)(nil)
	_ realtime.Session  = (*session)(nil)
)

const (
	defaultModel   = "gpt-4o-realtime-preview-2024-10-01"
	defaultBaseURL = "wss://api.openai.com/v1/realtime"

	// Audio deltas can be large.
	readLimit = 4 << 20
)

var errSessionClosed = errors.New("openai: session closed")

// Option configures a [Provider].
type Option func(*Provider)

// WithModel picks the model query parameter.
func WithModel(model string) Option { return func(p *Provider) { p.model = model } }

// WithBaseURL points the provider at another endpoint. A model query
// parameter already present in u wins over [WithModel].
func WithBaseURL(u string) Option { return func(p *Provider) { p.baseURL = u } }

// WithEventBuffer sizes each session's event channel.
func WithEventBuffer(n int) Option { return func(p *Provider) { p.eventBuffer = n } }

// Provider dials OpenAI Realtime sessions.
type Provider struct {
	apiKey      string
	model       string
	baseURL     string
	eventBuffer int
}

// New returns a provider authenticating with apiKey.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{apiKey: apiKey, model: defaultModel, baseURL: defaultBaseURL, eventBuffer: 64}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Capabilities describes the OpenAI backend.
func (p *Provider) Capabilities() realtime.Capabilities {
	return realtime.Capabilities{
		LiveUpdate:         true,
		Voices:             []string{"alloy", "ash", "ballad", "coral", "echo", "sage", "shimmer", "verse"},
		MaxSessionDuration: 30 * time.Minute,
	}
}

func (p *Provider) dialURL() (string, error) {
	u, err := url.Parse(p.baseURL)
	if err != nil {
		return "", fmt.Errorf("openai: base url: %w", err)
	}
	if q := u.Query(); q.Get("model") == "" && p.model != "" {
		q.Set("model", p.model)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// Connect opens a session and applies cfg before returning.
func (p *Provider) Connect(ctx context.Context, cfg protocol.SessionConfig) (realtime.Session, error) {
	target, err := p.dialURL()
	if err != nil {
		return nil, err
	}
	hdr := http.Header{}
	hdr.Set("Authorization", "Bearer "+p.apiKey)
	hdr.Set("OpenAI-Beta", "realtime=v1")

	conn, _, err := websocket.Dial(ctx, target, &websocket.DialOptions{HTTPHeader: hdr})
	if err != nil {
		return nil, fmt.Errorf("openai: dial: %w", err)
	}
	conn.SetReadLimit(readLimit)

	s := newSession(conn, p.eventBuffer)
	if err := s.Update(ctx, cfg); err != nil {
		s.stop()
		conn.Close(websocket.StatusInternalError, "session update failed")
		return nil, fmt.Errorf("openai: initial session.update: %w", err)
	}
	go s.readLoop()
	return s, nil
}

type session struct {
	conn   *websocket.Conn
	events chan realtime.Event

	life context.Context
	stop context.CancelFunc

	closed  atomic.Bool
	errOnce sync.Once
	err     atomic.Pointer[error]
}

func newSession(conn *websocket.Conn, buffer int) *session {
	life, stop := context.WithCancel(context.Background())
	return &session{conn: conn, events: make(chan realtime.Event, buffer), life: life, stop: stop}
}

func (s *session) send(ctx context.Context, msg any) error {
	if s.closed.Load() {
		return errSessionClosed
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("openai: encode: %w", err)
	}
	if err := s.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("openai: write: %w", err)
	}
	return nil
}

// readLoop owns the events channel and closes it on exit.
func (s *session) readLoop() {
	defer close(s.events)
	for {
		_, data, err := s.conn.Read(s.life)
		if err != nil {
			if s.life.Err() == nil {
				s.fail(err)
			}
			return
		}
		var raw serverEvent
		if err := json.Unmarshal(data, &raw); err != nil {
			slog.Debug("openai: malformed server event", "err", err)
			continue
		}
		ev, ok := raw.toEvent()
		if !ok {
			continue
		}
		select {
		case s.events <- ev:
		case <-s.life.Done():
			return
		}
	}
}

func (s *session) fail(err error) {
	s.errOnce.Do(func() {
		wrapped := fmt.Errorf("openai: receive: %w", err)
		s.err.Store(&wrapped)
	})
}

// AppendAudio adds one base64 PCM16 chunk to the upstream input buffer.
func (s *session) AppendAudio(ctx context.Context, payload string) error {
	return s.send(ctx, audioAppend{Type: "input_audio_buffer.append", Audio: payload})
}

// Commit closes the current user turn and requests a response.
func (s *session) Commit(ctx context.Context) error {
	for _, typ := range []string{"input_audio_buffer.commit", "response.create"} {
		if err := s.send(ctx, bareEvent{Type: typ}); err != nil {
			return err
		}
	}
	return nil
}

// Cancel stops the response in progress.
func (s *session) Cancel(ctx context.Context) error {
	return s.send(ctx, bareEvent{Type: "response.cancel"})
}

// Update replaces the whole upstream session object.
func (s *session) Update(ctx context.Context, cfg protocol.SessionConfig) error {
	return s.send(ctx, sessionUpdate{Type: "session.update", Session: newSessionObject(cfg)})
}

func (s *session) Events() <-chan realtime.Event { return s.events }

// Err reports why the read loop ended, or nil after a local Close.
func (s *session) Err() error {
	if p := s.err.Load(); p != nil {
		return *p
	}
	return nil
}

// Close ends the session. Extra calls are no-ops.
func (s *session) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.stop()
	s.conn.Close(websocket.StatusNormalClosure, "session closed")
	return nil
}
