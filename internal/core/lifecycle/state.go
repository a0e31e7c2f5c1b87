// Package lifecycle tracks the state machine of a long-running component.
//
// Both the funding scheduler and the ingestion pipeline move through a small
// set of states. A Machine only allows the transitions listed in its table and
// keeps a short history so the health endpoint can show how a component got
// where it is.
//
//	m := lifecycle.NewMachine("funding", StateIdle, transitions)
//	m.Transition(StateWaiting, "next round in 7h59m")
package lifecycle

import (
	"errors"
	"time"
)

// State is a component state name.
type State string

// Shared terminal states.
const (
	StateRestarting State = "restarting"
	StateTerminated State = "terminated"
	StateStopped    State = "stopped"
)

// ErrInvalidTransition is returned when a transition is not in the table.
var ErrInvalidTransition = errors.New("invalid state transition")

// Transitions maps a state to the states it may move to.
type Transitions map[State][]State

// CanTransition checks if a transition from one state to another is valid.
// Any state may move to StateStopped.
func (t Transitions) CanTransition(from, to State) bool {
	if to == StateStopped {
		return true
	}
	for _, target := range t[from] {
		if target == to {
			return true
		}
	}
	return false
}

// Transition represents a state change with metadata.
type Transition struct {
	From      State     `json:"from"`
	To        State     `json:"to"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewTransition creates a new transition record.
func NewTransition(from, to State, reason string) Transition {
	return Transition{
		From:      from,
		To:        to,
		Reason:    reason,
		Timestamp: time.Now(),
	}
}

// Terminal reports whether no further work happens in s.
func (s State) Terminal() bool {
	return s == StateTerminated || s == StateStopped
}
