package protocol

import (
	"errors"
	"fmt"
	"sync"
)

// State is the connection lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateDisconnecting
	StateError
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Event drives a [Machine] transition.
type Event int

const (
	// EventConnect is a local request to open the connection.
	EventConnect Event = iota
	// EventOpen reports that the physical connection is open.
	EventOpen
	// EventDisconnect is a local request to close the connection.
	EventDisconnect
	// EventClosed reports that the physical connection is closed.
	EventClosed
	// EventFailure reports a transport failure.
	EventFailure
	// EventReset clears the error state.
	EventReset
)

func (e Event) String() string {
	switch e {
	case EventConnect:
		return "connect"
	case EventOpen:
		return "open"
	case EventDisconnect:
		return "disconnect"
	case EventClosed:
		return "closed"
	case EventFailure:
		return "failure"
	case EventReset:
		return "reset"
	default:
		return fmt.Sprintf("Event(%d)", int(e))
	}
}

// ErrIllegalTransition is returned when an event is not valid in the current
// state.
var ErrIllegalTransition = errors.New("protocol: illegal state transition")

// Next returns the state reached by applying ev in s. changed is false for
// documented no-ops (connect while connecting or connected, disconnect while
// disconnected or disconnecting, failure while already in error).
func Next(s State, ev Event) (next State, changed bool, err error) {
	switch ev {
	case EventConnect:
		switch s {
		case StateDisconnected:
			return StateConnecting, true, nil
		case StateConnecting, StateConnected:
			return s, false, nil
		}
	case EventOpen:
		if s == StateConnecting {
			return StateConnected, true, nil
		}
	case EventDisconnect:
		switch s {
		case StateConnected, StateConnecting:
			return StateDisconnecting, true, nil
		case StateDisconnected, StateDisconnecting:
			return s, false, nil
		}
	case EventClosed:
		switch s {
		case StateDisconnecting:
			return StateDisconnected, true, nil
		case StateDisconnected:
			return s, false, nil
		}
	case EventFailure:
		switch s {
		case StateError:
			return s, false, nil
		default:
			return StateError, true, nil
		}
	case EventReset:
		switch s {
		case StateError:
			return StateDisconnected, true, nil
		case StateDisconnected:
			return s, false, nil
		}
	}
	return s, false, fmt.Errorf("%w: %s in state %s", ErrIllegalTransition, ev, s)
}

// Machine is a concurrency-safe holder for a [State].
type Machine struct {
	mu       sync.Mutex
	state    State
	onChange func(from, to State)
}

// NewMachine returns a machine in [StateDisconnected]. onChange, if non-nil,
// is called after every effective transition, outside the lock.
func NewMachine(onChange func(from, to State)) *Machine {
	return &Machine{onChange: onChange}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Fire applies ev and reports whether the state changed.
func (m *Machine) Fire(ev Event) (changed bool, err error) {
	m.mu.Lock()
	from := m.state
	to, changed, err := Next(from, ev)
	if err == nil {
		m.state = to
	}
	m.mu.Unlock()

	if changed && m.onChange != nil {
		m.onChange(from, to)
	}
	return changed, err
}
