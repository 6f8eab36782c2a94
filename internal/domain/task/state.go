package task

// State is a node of the task state machine.
type State string

const (
	StateSubmitted State = "submitted"
	StateWorking   State = "working"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCanceled  State = "canceled"
)

// transitions lists the allowed next states for every state.
// Terminal states have no outbound edges.
var transitions = map[State][]State{
	StateSubmitted: {StateWorking, StateCanceled},
	StateWorking:   {StateCompleted, StateFailed, StateCanceled},
	StateCompleted: nil,
	StateFailed:    nil,
	StateCanceled:  nil,
}

// States returns every known state in lifecycle order.
func States() []State {
	return []State{StateSubmitted, StateWorking, StateCompleted, StateFailed, StateCanceled}
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// IsTerminal reports whether no further transition is permitted from s.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCanceled
}

// CanTransition reports whether the state machine allows from -> to.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
