package orchestrator

import "fmt"

// State is a step of the execution state machine.
type State string

const (
	StatePending    State = "pending"
	StateValidating State = "validating"
	StatePackaging  State = "packaging"
	StateDeploying  State = "deploying"
	StateInvoking   State = "invoking"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// transitions lists the states reachable from each state.
var transitions = map[State][]State{
	StatePending:    {StateValidating},
	StateValidating: {StatePackaging, StateFailed},
	StatePackaging:  {StateDeploying, StateFailed},
	StateDeploying:  {StateInvoking, StateFailed},
	StateInvoking:   {StateCompleted, StateFailed},
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// CanTransition reports whether the machine may move from s to next.
func (s State) CanTransition(next State) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// machine tracks the state of one execution.
type machine struct {
	state State
}

func newMachine() *machine {
	return &machine{state: StatePending}
}

func (m *machine) to(next State) error {
	if !m.state.CanTransition(next) {
		return fmt.Errorf("invalid execution state transition %s -> %s", m.state, next)
	}
	m.state = next
	return nil
}
