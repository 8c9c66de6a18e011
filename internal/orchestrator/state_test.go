package orchestrator

import "testing"

func TestStateTransitions(t *testing.T) {
	tests := []struct {
		from, to State
		ok       bool
	}{
		{StatePending, StateValidating, true},
		{StateValidating, StatePackaging, true},
		{StatePackaging, StateDeploying, true},
		{StateDeploying, StateInvoking, true},
		{StateInvoking, StateCompleted, true},
		{StateInvoking, StateFailed, true},
		{StatePackaging, StateFailed, true},
		{StatePending, StateInvoking, false},
		{StateValidating, StateCompleted, false},
		{StateCompleted, StateFailed, false},
		{StateFailed, StatePending, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.ok {
			t.Errorf("%s -> %s: expected %v, got %v", tt.from, tt.to, tt.ok, got)
		}
	}
}

func TestMachineRejectsSkippedStates(t *testing.T) {
	m := newMachine()
	if err := m.to(StateValidating); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.to(StateCompleted); err == nil {
		t.Error("expected validating -> completed to be rejected")
	}
	if m.state != StateValidating {
		t.Errorf("state changed on a rejected transition: %s", m.state)
	}
	for _, s := range []State{StatePackaging, StateDeploying, StateInvoking, StateCompleted} {
		if err := m.to(s); err != nil {
			t.Fatalf("to %s: %v", s, err)
		}
	}
	if !m.state.Terminal() {
		t.Error("expected completed to be terminal")
	}
}
