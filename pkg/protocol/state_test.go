package protocol

import (
	"errors"
	"sync"
	"testing"
)

func TestNext_Table(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from    State
		ev      Event
		to      State
		changed bool
		illegal bool
	}{
		{StateDisconnected, EventConnect, StateConnecting, true, false},
		{StateConnecting, EventConnect, StateConnecting, false, false},
		{StateConnected, EventConnect, StateConnected, false, false},
		{StateConnecting, EventOpen, StateConnected, true, false},
		{StateConnected, EventDisconnect, StateDisconnecting, true, false},
		{StateConnecting, EventDisconnect, StateDisconnecting, true, false},
		{StateDisconnected, EventDisconnect, StateDisconnected, false, false},
		{StateDisconnecting, EventDisconnect, StateDisconnecting, false, false},
		{StateDisconnecting, EventClosed, StateDisconnected, true, false},
		{StateConnecting, EventFailure, StateError, true, false},
		{StateConnected, EventFailure, StateError, true, false},
		{StateError, EventFailure, StateError, false, false},
		{StateError, EventReset, StateDisconnected, true, false},
		{StateError, EventConnect, StateError, false, true},
		{StateDisconnected, EventOpen, StateDisconnected, false, true},
		{StateConnected, EventReset, StateConnected, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.from.String()+"/"+tt.ev.String(), func(t *testing.T) {
			t.Parallel()
			to, changed, err := Next(tt.from, tt.ev)
			if tt.illegal {
				if !errors.Is(err, ErrIllegalTransition) {
					t.Fatalf("err = %v, want ErrIllegalTransition", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Next: %v", err)
			}
			if to != tt.to || changed != tt.changed {
				t.Errorf("Next = (%s, %v), want (%s, %v)", to, changed, tt.to, tt.changed)
			}
		})
	}
}

func TestMachine_NotifiesOnlyOnChange(t *testing.T) {
	t.Parallel()

	var (
		mu    sync.Mutex
		trans [][2]State
	)
	m := NewMachine(func(from, to State) {
		mu.Lock()
		trans = append(trans, [2]State{from, to})
		mu.Unlock()
	})

	for _, ev := range []Event{EventConnect, EventConnect, EventOpen, EventDisconnect, EventClosed} {
		if _, err := m.Fire(ev); err != nil {
			t.Fatalf("Fire(%s): %v", ev, err)
		}
	}
	if m.State() != StateDisconnected {
		t.Errorf("State = %s, want disconnected", m.State())
	}

	want := [][2]State{
		{StateDisconnected, StateConnecting},
		{StateConnecting, StateConnected},
		{StateConnected, StateDisconnecting},
		{StateDisconnecting, StateDisconnected},
	}
	mu.Lock()
	defer mu.Unlock()
	if len(trans) != len(want) {
		t.Fatalf("transitions = %v, want %v", trans, want)
	}
	for i := range want {
		if trans[i] != want[i] {
			t.Errorf("transition %d = %v, want %v", i, trans[i], want[i])
		}
	}
}

func TestMachine_IllegalLeavesStateUnchanged(t *testing.T) {
	t.Parallel()

	m := NewMachine(nil)
	if _, err := m.Fire(EventOpen); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("err = %v, want ErrIllegalTransition", err)
	}
	if m.State() != StateDisconnected {
		t.Errorf("State = %s, want disconnected", m.State())
	}
}
