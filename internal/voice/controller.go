// Package voice ties the client-side pipeline together: microphone capture,
// the transport session, speaker playback, the transcript log and the agent
// orchestrator.
//
// A [Controller] runs one event loop goroutine that owns the connection state
// mirror, the pending frame queue and the transcript. Every other goroutine
// (device delivery, transport events, orchestrator tasks, callers) reaches that
// state only by sending work to the loop.
package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MrWong99/voicelink/internal/agent/orchestrator"
	"github.com/MrWong99/voicelink/internal/observe"
	"github.com/MrWong99/voicelink/internal/transport"
	"github.com/MrWong99/voicelink/pkg/audio"
	"github.com/MrWong99/voicelink/pkg/memory"
	"github.com/MrWong99/voicelink/pkg/protocol"
)

// Defaults for [New].
const (
	DefaultPendingFrames = 64
	DefaultConnectGrace  = 5 * time.Second

	noticeBuffer = 128
	frameBuffer  = 64
)

// ErrClosed is returned by operations on a closed Controller.
var ErrClosed = errors.New("voice: controller closed")

// ── Collaborators ──────────────────────────────────────────────────────────────

// Transport is the connection the controller drives. *transport.Session
// satisfies it.
type Transport interface {
	Events() <-chan transport.Event
	State() protocol.State
	SessionID() string
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Reset() error
	Close() error
	AppendAudio(ctx context.Context, payload string) error
	Commit(ctx context.Context) error
	Interrupt(ctx context.Context) error
	UpdateInstructions(ctx context.Context, instructions string) error
}

// Capturer produces encoded microphone frames. *audio.Capture satisfies it.
type Capturer interface {
	Start(ctx context.Context, onFrame func(audio.Frame)) error
	Stop()
}

// Player sounds inbound audio. *audio.Playback satisfies it.
type Player interface {
	Play(ctx context.Context, f audio.Frame) error
	Stop()
	Close() error
}

// Orchestrator runs background agent work for final user utterances.
// *orchestrator.Orchestrator satisfies it.
type Orchestrator interface {
	Start(ctx context.Context, in orchestrator.Input) *orchestrator.Task
	Observe(e memory.TranscriptEntry)
	Reset()
}

var (
	_ Transport    = (*transport.Session)(nil)
	_ Capturer     = (*audio.Capture)(nil)
	_ Player       = (*audio.Playback)(nil)
	_ Orchestrator = (*orchestrator.Orchestrator)(nil)
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option configures a Controller.
type Option func(*Controller)

// WithPendingFrames bounds the queue of frames captured before the connection
// is established.
func WithPendingFrames(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.maxPending = n
		}
	}
}

// WithConnectGrace sets how long captured frames are held while connecting.
func WithConnectGrace(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.grace = d
		}
	}
}

// WithOrchestrator routes final user transcripts through o.
func WithOrchestrator(o Orchestrator) Option {
	return func(c *Controller) { c.orch = o }
}

// WithStore hands the transcript of every finished connection to s.
func WithStore(s memory.TranscriptStore) Option {
	return func(c *Controller) { c.store = s }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// ── Controller ─────────────────────────────────────────────────────────────────

type taggedFrame struct {
	gen   uint64
	frame audio.Frame
}

type taskOutcome struct {
	gen  uint64
	task *orchestrator.Task
	out  orchestrator.Outcome
}

// Controller is one voice session as seen by the user. Its exported methods
// are safe for concurrent use.
type Controller struct {
	transport Transport
	capture   Capturer
	playback  Player
	orch      Orchestrator
	store     memory.TranscriptStore
	metrics   *observe.Metrics

	maxPending int
	grace      time.Duration

	// opMu serialises Connect and Disconnect.
	opMu chan struct{}

	cmds     chan func()
	frames   chan taggedFrame
	outcomes chan taskOutcome
	notices  chan Notice
	ctx      context.Context
	cancel   context.CancelFunc
	loopDone chan struct{}

	// Loop-owned state.
	state       protocol.State
	gen         uint64
	localID     string
	pending     []audio.Frame
	gating      bool
	dropped     int
	dropNoticed bool
	graceTimer  *time.Timer
	graceC      <-chan time.Time
	partial     map[string]*strings.Builder
	entries     []memory.TranscriptEntry
	seq         int64
	tasks       map[*orchestrator.Task]struct{}
	currentItem string
	cutItem     string
	outputDown  bool
}

// New returns a Controller and starts its event loop. Call Close to stop it.
func New(t Transport, capture Capturer, playback Player, opts ...Option) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		transport:  t,
		capture:    capture,
		playback:   playback,
		maxPending: DefaultPendingFrames,
		grace:      DefaultConnectGrace,
		opMu:       make(chan struct{}, 1),
		cmds:       make(chan func()),
		frames:     make(chan taggedFrame, frameBuffer),
		outcomes:   make(chan taskOutcome),
		notices:    make(chan Notice, noticeBuffer),
		ctx:        ctx,
		cancel:     cancel,
		loopDone:   make(chan struct{}),
		state:      t.State(),
		partial:    make(map[string]*strings.Builder),
		tasks:      make(map[*orchestrator.Task]struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	go c.loop()
	return c
}

// Notices returns the user-visible notice stream. Notices are dropped rather
// than blocking the controller when nobody reads them.
func (c *Controller) Notices() <-chan Notice { return c.notices }

// State returns the transport connection state.
func (c *Controller) State() protocol.State { return c.transport.State() }

// SessionID returns the server-assigned session identifier, if any.
func (c *Controller) SessionID() string { return c.transport.SessionID() }

// Connect opens the connection and starts the microphone concurrently.
// Frames captured before the connection is up are queued and flushed in
// order once it is. A microphone failure is reported as a notice and does
// not affect the connection. Connect returns when the attempt completes.
func (c *Controller) Connect(ctx context.Context) error {
	if err := c.lock(ctx); err != nil {
		return err
	}
	defer c.unlock()

	switch c.transport.State() {
	case protocol.StateConnecting, protocol.StateConnected:
		return nil
	case protocol.StateError:
		// The failed conversation was never disconnected; keep its log.
		if err := c.saveTranscript(ctx); err != nil {
			slog.Warn("voice: transcript of failed connection lost", "err", err)
		}
		if err := c.transport.Reset(); err != nil {
			return fmt.Errorf("voice: connect: %w", err)
		}
	}

	var gen uint64
	if err := c.exec(ctx, func() { gen = c.beginAttempt() }); err != nil {
		return fmt.Errorf("voice: connect: %w", err)
	}

	capErr := make(chan error, 1)
	go func() {
		capErr <- c.capture.Start(ctx, func(f audio.Frame) { c.enqueueFrame(gen, f) })
	}()

	err := c.transport.Connect(ctx)
	if cerr := <-capErr; cerr != nil {
		slog.Warn("voice: microphone unavailable", "err", cerr)
		c.notify(deviceNotice(cerr, false))
	}
	if err != nil {
		c.capture.Stop()
		return fmt.Errorf("voice: connect: %w", err)
	}
	return nil
}

// Disconnect ends the conversation: it stops the microphone, stops playback,
// discards queued frames and in-flight agent work, closes the connection and
// finally hands the transcript to the store. It is a no-op when there is
// nothing to tear down.
func (c *Controller) Disconnect(ctx context.Context) error {
	if err := c.lock(ctx); err != nil {
		return err
	}
	defer c.unlock()

	c.capture.Stop()
	if err := c.exec(ctx, func() {
		c.playback.Stop()
		c.abandon()
	}); err != nil {
		return fmt.Errorf("voice: disconnect: %w", err)
	}

	var errs []error
	if err := c.transport.Disconnect(ctx); err != nil {
		errs = append(errs, fmt.Errorf("voice: disconnect: %w", err))
	}

	if err := c.saveTranscript(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Interrupt silences the assistant. Playback stops before Interrupt returns;
// conversation.interrupt is sent when connected. Interrupting while not
// connected only logs a warning.
func (c *Controller) Interrupt(ctx context.Context) error {
	if err := c.exec(ctx, func() {
		c.playback.Stop()
		c.cutItem = c.currentItem
	}); err != nil {
		return fmt.Errorf("voice: interrupt: %w", err)
	}

	if st := c.transport.State(); st != protocol.StateConnected {
		slog.Warn("voice: interrupt while not connected", "state", st)
		return nil
	}
	if err := c.transport.Interrupt(ctx); err != nil {
		if errors.Is(err, transport.ErrNotConnected) {
			slog.Warn("voice: interrupt raced with disconnect")
			return nil
		}
		return fmt.Errorf("voice: interrupt: %w", err)
	}
	return nil
}

// Commit marks the end of the user's turn.
func (c *Controller) Commit(ctx context.Context) error {
	if err := c.transport.Commit(ctx); err != nil {
		return fmt.Errorf("voice: commit: %w", err)
	}
	return nil
}

// UpdateInstructions changes the live session instructions.
func (c *Controller) UpdateInstructions(ctx context.Context, instructions string) error {
	if err := c.transport.UpdateInstructions(ctx, instructions); err != nil {
		return fmt.Errorf("voice: update instructions: %w", err)
	}
	return nil
}

// Transcript returns a copy of the current connection's transcript.
func (c *Controller) Transcript(ctx context.Context) ([]memory.TranscriptEntry, error) {
	var out []memory.TranscriptEntry
	err := c.exec(ctx, func() { out = append([]memory.TranscriptEntry(nil), c.entries...) })
	return out, err
}

// Close disconnects, stops the event loop and releases the transport and the
// output device.
func (c *Controller) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := c.Disconnect(ctx)
	c.cancel()
	<-c.loopDone
	return errors.Join(err, c.playback.Close(), c.transport.Close())
}

// ── Plumbing ───────────────────────────────────────────────────────────────────

func (c *Controller) lock(ctx context.Context) error {
	select {
	case c.opMu <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) unlock() { <-c.opMu }

// exec runs fn on the event loop and waits for it.
func (c *Controller) exec(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	select {
	case c.cmds <- func() { fn(); close(done) }:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.ctx.Done():
		return ErrClosed
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.ctx.Done():
		return ErrClosed
	}
}

// enqueueFrame runs on the capture delivery goroutine.
func (c *Controller) enqueueFrame(gen uint64, f audio.Frame) {
	select {
	case c.frames <- taggedFrame{gen: gen, frame: f}:
	case <-c.ctx.Done():
	}
}

func (c *Controller) notify(n Notice) {
	select {
	case c.notices <- n:
	default:
		slog.Debug("voice: notice dropped", "kind", n.Kind)
	}
}

// saveTranscript takes the transcript log off the loop and hands it to the
// store.
func (c *Controller) saveTranscript(ctx context.Context) error {
	var (
		entries   []memory.TranscriptEntry
		sessionID string
	)
	if err := c.exec(ctx, func() {
		entries, sessionID = c.entries, c.transcriptID()
		c.entries = nil
	}); err != nil {
		return fmt.Errorf("voice: save transcript: %w", err)
	}
	if c.store == nil || len(entries) == 0 {
		return nil
	}
	if err := c.store.SaveTranscript(ctx, sessionID, entries); err != nil {
		slog.Error("voice: failed to save transcript", "session_id", sessionID, "entries", len(entries), "err", err)
		return fmt.Errorf("voice: save transcript: %w", err)
	}
	slog.Info("voice: transcript saved", "session_id", sessionID, "entries", len(entries))
	return nil
}
