package session

import "fmt"

// State is a step of the two-phase session
type State int

const (
	StateConnecting1 State = iota
	StateDraining
	StateDisconnected1
	StateDelay
	StateConnecting2
	StateRecovering
	StateDisconnected2
	StateReporting
	StateDone
)

var stateNames = [...]string{
	StateConnecting1:   "connecting_1",
	StateDraining:      "draining",
	StateDisconnected1: "disconnected_1",
	StateDelay:         "delay",
	StateConnecting2:   "connecting_2",
	StateRecovering:    "recovering",
	StateDisconnected2: "disconnected_2",
	StateReporting:     "reporting",
	StateDone:          "done",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// PhaseError is a fatal error annotated with the state it ended
type PhaseError struct {
	Phase State
	Err   error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("%s: %v", e.Phase, e.Err)
}

func (e *PhaseError) Unwrap() error {
	return e.Err
}
