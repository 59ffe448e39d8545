package reload

import (
	"fmt"
	"sync/atomic"
)

// State is the hot-update state of the Reloader.
type State int32

const (
	Idle State = iota
	Checking
	Applying
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Checking:
		return "checking"
	case Applying:
		return "applying"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// transitions lists every allowed edge. Failed always leads to a full
// reload, after which the machine returns to Idle.
var transitions = map[State][]State{
	Idle:     {Checking},
	Checking: {Idle, Applying, Failed},
	Applying: {Idle, Failed},
	Failed:   {Idle},
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// stateMachine is mutated only by the Reloader. Hot-update cycles may be
// started from several goroutines, so every edge is a compare-and-swap.
type stateMachine struct {
	v atomic.Int32
}

func (m *stateMachine) Load() State {
	return State(m.v.Load())
}

// begin moves Idle -> Checking and reports whether it won.
func (m *stateMachine) begin() bool {
	return m.v.CompareAndSwap(int32(Idle), int32(Checking))
}

// advance moves from -> to. It panics on an edge outside the table or when
// the current state is not from; both are programming errors.
func (m *stateMachine) advance(from, to State) {
	if !CanTransition(from, to) {
		panic(fmt.Sprintf("reload: invalid transition %s -> %s", from, to))
	}
	if !m.v.CompareAndSwap(int32(from), int32(to)) {
		panic(fmt.Sprintf("reload: transition %s -> %s from state %s", from, to, m.Load()))
	}
}
