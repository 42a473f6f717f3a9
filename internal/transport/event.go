package transport

import (
	"sync"

	"github.com/MrWong99/voicelink/pkg/protocol"
)

// EventKind discriminates [Event] values.
type EventKind int

const (
	// EventMessage carries a decoded inbound message.
	EventMessage EventKind = iota
	// EventDecodeError reports a malformed inbound frame; the connection is
	// unaffected.
	EventDecodeError
	// EventStateChange reports a connection state transition.
	EventStateChange
	// EventError reports a transport failure (*[Error]).
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventMessage:
		return "message"
	case EventDecodeError:
		return "decode_error"
	case EventStateChange:
		return "state_change"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one entry of the session event stream.
type Event struct {
	Kind EventKind

	// Message is set for EventMessage.
	Message protocol.Message

	// From and State are set for EventStateChange.
	From  protocol.State
	State protocol.State

	// Err is set for EventDecodeError and EventError.
	Err error
}

// mailbox is an unbounded FIFO feeding a channel. put never blocks.
type mailbox struct {
	mu     sync.Mutex
	queue  []Event
	signal chan struct{}
	out    chan Event
	done   chan struct{}
	once   sync.Once
}

func newMailbox() *mailbox {
	return &mailbox{
		signal: make(chan struct{}, 1),
		out:    make(chan Event),
		done:   make(chan struct{}),
	}
}

func (m *mailbox) put(ev Event) {
	m.mu.Lock()
	m.queue = append(m.queue, ev)
	m.mu.Unlock()
	select {
	case m.signal <- struct{}{}:
	default:
	}
}

func (m *mailbox) run() {
	defer close(m.out)
	for {
		m.mu.Lock()
		if len(m.queue) == 0 {
			m.mu.Unlock()
			select {
			case <-m.signal:
				continue
			case <-m.done:
				return
			}
		}
		ev := m.queue[0]
		m.queue[0] = Event{}
		m.queue = m.queue[1:]
		m.mu.Unlock()

		select {
		case m.out <- ev:
		case <-m.done:
			return
		}
	}
}

func (m *mailbox) close() {
	m.once.Do(func() { close(m.done) })
}
