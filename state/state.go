// Package state implements the application lifecycle state machine.
//
// The machine is the single source of truth for run/pause/calibrate mode.
// State only changes through Transition (table-validated) or ForceState
// (recovery paths); every change is announced on the bus and handed to the
// persister.
package state

// State is an application lifecycle state.
type State string

// Application lifecycle states.
const (
	Initializing State = "initializing"
	Ready        State = "ready"
	Running      State = "running"
	Calibrating  State = "calibrating"
	Paused       State = "paused"
	Error        State = "error"
)

// transitions is the directed edge table of legal lifecycle transitions.
// Error keeps outgoing recovery edges so no state is terminal.
var transitions = map[State][]State{
	Initializing: {Ready, Error},
	Ready:        {Running, Calibrating, Error},
	Running:      {Paused, Ready, Error},
	Calibrating:  {Ready, Running, Error},
	Paused:       {Running, Ready, Error},
	Error:        {Initializing, Ready},
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// CanTransition reports whether the edge s→to is in the table.
func (s State) CanTransition(to State) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

func (s State) String() string { return string(s) }
