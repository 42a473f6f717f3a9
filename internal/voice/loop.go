package voice

import (
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/voicelink/internal/agent/orchestrator"
	"github.com/MrWong99/voicelink/internal/observe"
	"github.com/MrWong99/voicelink/internal/transport"
	"github.com/MrWong99/voicelink/pkg/audio"
	"github.com/MrWong99/voicelink/pkg/memory"
	"github.com/MrWong99/voicelink/pkg/protocol"
)

func (c *Controller) loop() {
	defer close(c.loopDone)
	defer c.stopGrace()

	events := c.transport.Events()
	for {
		select {
		case <-c.ctx.Done():
			for t := range c.tasks {
				t.Cancel()
			}
			return
		case fn := <-c.cmds:
			fn()
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			c.handleEvent(ev)
		case tf := <-c.frames:
			c.handleFrame(tf)
		case out := <-c.outcomes:
			c.handleOutcome(out)
		case <-c.graceC:
			c.expireGrace()
		}
	}
}

// beginAttempt resets per-connection state and opens the pending queue. It
// returns the new connection generation.
func (c *Controller) beginAttempt() uint64 {
	c.abandon()
	c.gen++
	c.localID = uuid.NewString()
	c.entries = nil
	c.seq = 0
	c.currentItem, c.cutItem = "", ""
	c.outputDown = false
	clear(c.partial)
	if c.orch != nil {
		c.orch.Reset()
	}

	c.gating = true
	c.graceTimer = time.NewTimer(c.grace)
	c.graceC = c.graceTimer.C
	return c.gen
}

// abandon discards queued frames and in-flight agent work.
func (c *Controller) abandon() {
	c.gen++
	c.stopGrace()
	c.gating = false
	c.pending = nil
	c.dropped = 0
	c.dropNoticed = false
	for t := range c.tasks {
		t.Cancel()
	}
	clear(c.tasks)
}

func (c *Controller) stopGrace() {
	if c.graceTimer != nil {
		c.graceTimer.Stop()
	}
	c.graceTimer, c.graceC = nil, nil
}

// transcriptID names the current conversation for the store.
func (c *Controller) transcriptID() string {
	if id := c.transport.SessionID(); id != "" {
		return id
	}
	return c.localID
}

// ── Frames ─────────────────────────────────────────────────────────────────────

func (c *Controller) handleFrame(tf taggedFrame) {
	if tf.gen != c.gen {
		return
	}
	switch {
	case c.state == protocol.StateConnected:
		c.sendFrame(tf.frame)
	case c.gating:
		if len(c.pending) >= c.maxPending {
			c.pending[0] = audio.Frame{}
			c.pending = c.pending[1:]
			c.dropped++
		}
		c.pending = append(c.pending, tf.frame)
	default:
		c.dropped++
		if !c.dropNoticed {
			c.dropNoticed = true
			slog.Warn("voice: dropping frames until connected", "state", c.state)
			c.notify(Notice{Kind: NoticeFramesDropped, Message: msgFramesDropped})
		}
	}
}

func (c *Controller) sendFrame(f audio.Frame) {
	if err := c.transport.AppendAudio(c.ctx, f.Payload); err != nil {
		if !errors.Is(err, transport.ErrNotConnected) {
			slog.Debug("voice: frame not sent", "seq", f.Seq, "err", err)
		}
		return
	}
	c.metrics.RecordFrame(c.ctx, observe.DirectionUpstream)
}

// flush sends every queued frame in capture order.
func (c *Controller) flush() {
	c.stopGrace()
	c.gating = false
	pending := c.pending
	c.pending = nil
	if len(pending) > 0 {
		slog.Debug("voice: flushing queued frames", "frames", len(pending), "dropped", c.dropped)
	}
	for _, f := range pending {
		c.sendFrame(f)
	}
}

// expireGrace gives up on queueing: frames are dropped until connected.
func (c *Controller) expireGrace() {
	c.graceTimer, c.graceC = nil, nil
	if c.state == protocol.StateConnected || !c.gating {
		return
	}
	c.dropQueued("connect grace elapsed")
}

func (c *Controller) dropQueued(reason string) {
	c.gating = false
	n := len(c.pending) + c.dropped
	c.pending = nil
	if n > 0 && !c.dropNoticed {
		c.dropNoticed = true
		slog.Warn("voice: dropping queued frames", "reason", reason, "frames", n)
		c.notify(Notice{Kind: NoticeFramesDropped, Message: msgFramesDropped})
	}
}

// ── Transport events ───────────────────────────────────────────────────────────

func (c *Controller) handleEvent(ev transport.Event) {
	switch ev.Kind {
	case transport.EventStateChange:
		c.handleState(ev.From, ev.State)
	case transport.EventDecodeError:
		slog.Warn("voice: dropped malformed message", "err", ev.Err)
		c.metrics.RecordDecodeError(c.ctx, "server")
	case transport.EventError:
		slog.Warn("voice: transport failure", "err", ev.Err)
	case transport.EventMessage:
		c.handleMessage(ev.Message)
	}
}

func (c *Controller) handleState(from, to protocol.State) {
	c.state = to
	slog.Debug("voice: state changed", "from", from, "to", to)
	c.notify(Notice{Kind: NoticeState, Message: to.String()})

	switch to {
	case protocol.StateConnected:
		c.flush()
	case protocol.StateError:
		c.stopGrace()
		c.dropQueued("connection failed")
		c.capture.Stop()
		c.playback.Stop()
		if from == protocol.StateConnecting {
			c.notify(Notice{Kind: NoticeConnectionFailed, Message: msgConnectionFailed})
		} else {
			c.notify(Notice{Kind: NoticeConnectionLost, Message: msgConnectionLost})
		}
	}
}

func (c *Controller) handleMessage(m protocol.Message) {
	switch m.Type {
	case protocol.KindConnectionEstablished:
		slog.Info("voice: session established", "session_id", m.SessionID)
	case protocol.KindTranscriptUser, protocol.KindTranscriptAssistant:
		c.handleTranscript(m)
	case protocol.KindAudioDelta:
		c.handleAudio(m)
	case protocol.KindAudioDone:
		slog.Debug("voice: audio item done", "item_id", m.ItemID)
	case protocol.KindError:
		slog.Warn("voice: backend error", "code", m.Code, "message", m.Message)
		c.notify(Notice{Kind: NoticeBackendError, Message: msgBackendError})
	default:
		slog.Debug("voice: ignoring message", "kind", m.Type)
	}
}

func (c *Controller) handleAudio(m protocol.Message) {
	if m.ItemID != "" && m.ItemID == c.cutItem {
		return
	}
	c.currentItem = m.ItemID
	if c.outputDown {
		return
	}
	err := c.playback.Play(c.ctx, audio.FrameFromPayload(m.Audio))
	if err == nil {
		return
	}
	var devErr *audio.DeviceError
	if errors.As(err, &devErr) {
		slog.Warn("voice: audio output unavailable", "err", err)
		c.outputDown = true
		c.notify(deviceNotice(err, true))
		return
	}
	slog.Warn("voice: dropped undecodable audio", "item_id", m.ItemID, "err", err)
	c.metrics.RecordDecodeError(c.ctx, "audio")
}

func (c *Controller) handleTranscript(m protocol.Message) {
	role := m.TranscriptRole()
	if !m.IsFinal {
		b := c.partial[role]
		if b == nil {
			b = &strings.Builder{}
			c.partial[role] = b
		}
		b.WriteString(m.Text)
		c.notify(Notice{Kind: NoticePartial, Role: role, Message: b.String()})
		return
	}

	text := m.Text
	if b := c.partial[role]; b != nil {
		if text == "" {
			text = b.String()
		}
		delete(c.partial, role)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	e := c.appendEntry(role, text, "")
	switch {
	case c.orch == nil:
	case role == memory.RoleUser:
		c.startTask(e)
	default:
		c.orch.Observe(e)
	}
}

func (c *Controller) appendEntry(role, text, agentName string) memory.TranscriptEntry {
	c.seq++
	e := memory.NewEntry(c.seq, role, text, agentName, time.Now())
	c.entries = append(c.entries, e)
	c.notify(Notice{Kind: NoticeTranscript, Role: role, Agent: agentName, Message: text})
	return e
}

// ── Orchestration ──────────────────────────────────────────────────────────────

func (c *Controller) startTask(e memory.TranscriptEntry) {
	if c.state != protocol.StateConnected {
		return
	}
	gen := c.gen
	task := c.orch.Start(c.ctx, orchestrator.Input{SessionID: c.transcriptID(), Text: e.Text})
	c.tasks[task] = struct{}{}
	go func() {
		select {
		case out := <-task.Done():
			select {
			case c.outcomes <- taskOutcome{gen: gen, task: task, out: out}:
			case <-c.ctx.Done():
			}
		case <-c.ctx.Done():
			task.Cancel()
		}
	}()
}

func (c *Controller) handleOutcome(o taskOutcome) {
	delete(c.tasks, o.task)
	o.task.Cancel()
	if o.gen != c.gen || c.state != protocol.StateConnected {
		slog.Debug("voice: discarding stale orchestrator result")
		return
	}
	if o.out.Err != nil {
		slog.Warn("voice: orchestration failed", "err", o.out.Err)
		return
	}

	res := o.out.Result
	if res.InstructionUpdate != "" {
		if err := c.transport.UpdateInstructions(c.ctx, res.InstructionUpdate); err != nil {
			slog.Warn("voice: instruction update not applied", "err", err)
		} else {
			slog.Info("voice: instructions updated live", "agent", res.Agent)
			c.notify(Notice{Kind: NoticeInstructions, Message: msgInstructions})
		}
	}
	if res.RoutedOutput != "" {
		c.appendEntry(memory.RoleAssistant, res.RoutedOutput, res.Agent)
	}
}
