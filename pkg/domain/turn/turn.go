// Package turn tracks whether the local user may send input. The state is
// driven only by the server's user_turn_start and user_turn_end signals.
package turn

import (
	"sync"

	"github.com/sipeed/agentc/pkg/events"
	"github.com/sipeed/agentc/pkg/logger"
)

// StartSignal is the inbound user_turn_start event.
type StartSignal struct{}

func (StartSignal) EventName() events.Name { return events.UserTurnStart }

// EndSignal is the inbound user_turn_end event.
type EndSignal struct{}

func (EndSignal) EventName() events.Name { return events.UserTurnEnd }

// StateChanged is emitted on every real transition.
type StateChanged struct {
	CanSendInput bool `json:"canSendInput"`
}

func (StateChanged) EventName() events.Name { return events.TurnStateChanged }

// State is the turn state.
type State int

const (
	CannotSend State = iota
	CanSend
)

func (s State) String() string {
	if s == CanSend {
		return "can_send"
	}
	return "cannot_send"
}

// Machine is the turn state machine. It starts in CannotSend.
type Machine struct {
	source events.Bus
	out    events.Bus

	mu       sync.Mutex
	canSend  bool
	startID  events.ListenerID
	endID    events.ListenerID
	disposed bool
}

// New subscribes to the turn signals on source and publishes
// turn-state-changed on out. A nil out publishes on source.
func New(source, out events.Bus) *Machine {
	if out == nil {
		out = source
	}
	m := &Machine{source: source, out: out}
	m.startID = source.On(events.UserTurnStart, func(events.Payload) { m.set(true) })
	m.endID = source.On(events.UserTurnEnd, func(events.Payload) { m.set(false) })
	return m
}

// CanSendInput reports whether the user may send input now.
func (m *Machine) CanSendInput() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.canSend
}

// State returns the current state.
func (m *Machine) State() State {
	if m.CanSendInput() {
		return CanSend
	}
	return CannotSend
}

// Reset returns the machine to CannotSend, e.g. after the connection drops.
func (m *Machine) Reset() {
	m.set(false)
}

func (m *Machine) set(canSend bool) {
	m.mu.Lock()
	if m.disposed || m.canSend == canSend {
		m.mu.Unlock()
		return
	}
	m.canSend = canSend
	m.mu.Unlock()

	logger.DebugCF("turn", "Turn state changed", map[string]interface{}{
		"can_send_input": canSend,
	})
	m.out.Emit(StateChanged{CanSendInput: canSend})
}

// Dispose unsubscribes from the turn signals and clears the listeners of
// turn-state-changed. Further signals are ignored.
func (m *Machine) Dispose() {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return
	}
	m.disposed = true
	m.mu.Unlock()

	m.source.Off(events.UserTurnStart, m.startID)
	m.source.Off(events.UserTurnEnd, m.endID)
	m.out.RemoveAllListeners(events.TurnStateChanged)
}
