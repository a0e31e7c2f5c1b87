package lifecycle

import (
	"errors"
	"fmt"
	"testing"
)

const (
	stateA State = "a"
	stateB State = "b"
	stateC State = "c"
)

var testTransitions = Transitions{
	stateA: {stateB},
	stateB: {stateC, StateRestarting},
	stateC: {stateA},
	StateRestarting: {stateA, StateTerminated},
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name     string
		from     State
		to       State
		expected bool
	}{
		{"a to b", stateA, stateB, true},
		{"a to c", stateA, stateC, false},
		{"b to restarting", stateB, StateRestarting, true},
		{"restarting to terminated", StateRestarting, StateTerminated, true},
		{"terminated to a", StateTerminated, stateA, false},
		{"anything to stopped", stateC, StateStopped, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := testTransitions.CanTransition(tt.from, tt.to); got != tt.expected {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.expected)
			}
		})
	}
}

func TestMachine_Transition(t *testing.T) {
	m := NewMachine("test", stateA, testTransitions)

	var seen []Transition
	m.SetStateChangeCallback(func(name string, tr Transition) {
		if name != "test" {
			t.Errorf("callback name = %s, want test", name)
		}
		seen = append(seen, tr)
	})

	if err := m.Transition(stateB, "go"); err != nil {
		t.Fatalf("Transition failed: %v", err)
	}
	if err := m.Transition(stateB, "again"); err != nil {
		t.Fatalf("same-state transition should be a no-op: %v", err)
	}
	if err := m.Transition(stateA, "back"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
	if m.Current() != stateB {
		t.Errorf("Current() = %s, want %s", m.Current(), stateB)
	}
	if len(seen) != 1 || seen[0].From != stateA || seen[0].To != stateB {
		t.Errorf("unexpected callbacks: %+v", seen)
	}
}

func TestMachine_HistoryBounded(t *testing.T) {
	m := NewMachine("loop", stateA, testTransitions)
	cycle := []State{stateB, stateC, stateA}
	for i := 0; i < 30; i++ {
		if err := m.Transition(cycle[i%3], fmt.Sprintf("step %d", i)); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}

	h := m.History()
	if len(h) != historySize {
		t.Fatalf("history length = %d, want %d", len(h), historySize)
	}
	if h[len(h)-1].Reason != "step 29" {
		t.Errorf("last reason = %q, want step 29", h[len(h)-1].Reason)
	}
}

func TestStateTerminal(t *testing.T) {
	if !StateTerminated.Terminal() || !StateStopped.Terminal() {
		t.Error("terminated and stopped must be terminal")
	}
	if StateRestarting.Terminal() {
		t.Error("restarting is not terminal")
	}
}
