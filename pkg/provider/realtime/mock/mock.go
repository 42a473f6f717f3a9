// Package mock provides test doubles for the realtime package interfaces.
//
// Use Provider to verify Connect calls and hand out controlled sessions. Use
// Session to inject upstream events with Emit and to inspect which methods the
// relay invoked.
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/MrWong99/voicelink/pkg/protocol"
	"github.com/MrWong99/voicelink/pkg/provider/realtime"
)

// ErrClosed is returned by Session methods after Close.
var ErrClosed = errors.New("mock: session closed")

// Provider is a mock implementation of realtime.Provider.
type Provider struct {
	mu sync.Mutex

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// Caps is returned by Capabilities.
	Caps realtime.Capabilities

	// ConnectConfigs records the config of every Connect call in order.
	ConnectConfigs []protocol.SessionConfig

	// Sessions records every session returned by Connect in order.
	Sessions []*Session

	// connected is signalled after each successful Connect.
	connected chan *Session
}

// NewProvider returns a Provider with the given capabilities.
func NewProvider(caps realtime.Capabilities) *Provider {
	return &Provider{Caps: caps, connected: make(chan *Session, 16)}
}

// Connect records the call and returns a new Session, or ConnectErr.
func (p *Provider) Connect(_ context.Context, cfg protocol.SessionConfig) (realtime.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectConfigs = append(p.ConnectConfigs, cfg)
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	s := NewSession(cfg)
	p.Sessions = append(p.Sessions, s)
	if p.connected != nil {
		select {
		case p.connected <- s:
		default:
		}
	}
	return s, nil
}

// Capabilities returns Caps.
func (p *Provider) Capabilities() realtime.Capabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Caps
}

// SetConnectErr sets ConnectErr. Thread-safe.
func (p *Provider) SetConnectErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectErr = err
}

// Connected returns a channel signalled with every session Connect creates.
// Only providers built with NewProvider signal it.
func (p *Provider) Connected() <-chan *Session { return p.connected }

// Session returns the i-th created session, or nil. Thread-safe.
func (p *Provider) Session(i int) *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i < 0 || i >= len(p.Sessions) {
		return nil
	}
	return p.Sessions[i]
}

// ConnectCount returns the number of Connect calls. Thread-safe.
func (p *Provider) ConnectCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ConnectConfigs)
}

var _ realtime.Provider = (*Provider)(nil)

// Session is a mock implementation of realtime.Session.
type Session struct {
	mu sync.Mutex

	events    chan realtime.Event
	closed    bool
	closeOnce sync.Once
	err       error

	// Config is the configuration the session was opened with, updated by
	// successful Update calls.
	Config protocol.SessionConfig

	// UpdateErr, if non-nil, is returned by every Update call.
	UpdateErr error

	// AppendErr, if non-nil, is returned by every AppendAudio call.
	AppendErr error

	// Appended records every AppendAudio payload in order.
	Appended []string

	// Updates records every Update config in order.
	Updates []protocol.SessionConfig

	// CommitCount and CancelCount count Commit and Cancel calls.
	CommitCount int
	CancelCount int
}

// NewSession returns an open Session.
func NewSession(cfg protocol.SessionConfig) *Session {
	return &Session{events: make(chan realtime.Event, 64), Config: cfg}
}

// Emit delivers ev on the event stream. It reports false once closed.
func (s *Session) Emit(ev realtime.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.events <- ev
	return true
}

// Fail ends the session with err as if the upstream connection dropped.
func (s *Session) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.err = err
	s.closed = true
	s.closeOnce.Do(func() { close(s.events) })
}

func (s *Session) AppendAudio(_ context.Context, payload string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.AppendErr != nil {
		return s.AppendErr
	}
	s.Appended = append(s.Appended, payload)
	return nil
}

func (s *Session) Commit(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.CommitCount++
	return nil
}

func (s *Session) Cancel(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.CancelCount++
	return nil
}

func (s *Session) Update(_ context.Context, cfg protocol.SessionConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.Updates = append(s.Updates, cfg)
	if s.UpdateErr != nil {
		return s.UpdateErr
	}
	s.Config = cfg
	return nil
}

func (s *Session) Events() <-chan realtime.Event { return s.events }

func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.closeOnce.Do(func() { close(s.events) })
	return nil
}

// Closed reports whether Close or Fail was called. Thread-safe.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// AppendedAudio returns a copy of the recorded AppendAudio payloads.
func (s *Session) AppendedAudio() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.Appended...)
}

// UpdateConfigs returns a copy of the recorded Update configs.
func (s *Session) UpdateConfigs() []protocol.SessionConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.SessionConfig(nil), s.Updates...)
}

// SetUpdateErr sets UpdateErr. Thread-safe.
func (s *Session) SetUpdateErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.UpdateErr = err
}

// Counts returns CommitCount and CancelCount. Thread-safe.
func (s *Session) Counts() (commits, cancels int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CommitCount, s.CancelCount
}

var _ realtime.Session = (*Session)(nil)
