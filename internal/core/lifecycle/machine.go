package lifecycle

import (
	"fmt"
	"sync"
)

const historySize = 10

// Machine is a concurrency-safe state holder.
type Machine struct {
	name        string
	transitions Transitions

	mu       sync.RWMutex
	current  State
	history  []Transition
	onChange func(name string, t Transition)
}

// NewMachine creates a machine in the initial state.
func NewMachine(name string, initial State, transitions Transitions) *Machine {
	return &Machine{
		name:        name,
		transitions: transitions,
		current:     initial,
	}
}

// Name returns the component name.
func (m *Machine) Name() string {
	return m.name
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition moves to the given state. Moving to the current state is a no-op.
func (m *Machine) Transition(to State, reason string) error {
	m.mu.Lock()
	from := m.current
	if from == to {
		m.mu.Unlock()
		return nil
	}
	if !m.transitions.CanTransition(from, to) {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s %s -> %s", ErrInvalidTransition, m.name, from, to)
	}

	t := NewTransition(from, to, reason)
	m.current = to
	if len(m.history) >= historySize {
		copy(m.history, m.history[1:])
		m.history[len(m.history)-1] = t
	} else {
		m.history = append(m.history, t)
	}
	fn := m.onChange
	m.mu.Unlock()

	if fn != nil {
		fn(m.name, t)
	}
	return nil
}

// History returns the most recent transitions, oldest first.
func (m *Machine) History() []Transition {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Transition, len(m.history))
	copy(out, m.history)
	return out
}

// SetStateChangeCallback registers a callback invoked after every transition.
func (m *Machine) SetStateChangeCallback(fn func(name string, t Transition)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = fn
}
