package outbox

import (
	"fmt"
	"slices"
	"sync"
)

// State is the lifecycle stage of one optimistic send.
type State string

const (
	Composing     State = "composing"
	PendingLocal  State = "pending_local"
	PendingRemote State = "pending_remote"
	Confirmed     State = "confirmed"
	RolledBack    State = "rolled_back"
)

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Composing:     {PendingLocal},
	PendingLocal:  {PendingRemote, RolledBack},
	PendingRemote: {Confirmed, RolledBack},
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return len(validTransitions[s]) == 0
}

// machine tracks and enforces the transitions of one send.
type machine struct {
	mu      sync.Mutex
	current State
}

func newMachine() *machine {
	return &machine{current: Composing}
}

func (m *machine) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Transition moves to a new state and returns the previous one.
func (m *machine) Transition(to State) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !slices.Contains(validTransitions[m.current], to) {
		return m.current, fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	return from, nil
}
