// Package lifecycle tracks where the process is between startup and shutdown.
package lifecycle

import "sync/atomic"

// State is the process lifecycle phase.
type State int32

const (
	StateStarting State = iota
	StateServing
	StateDraining
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateServing:
		return "serving"
	case StateDraining:
		return "shutting-down"
	default:
		return "unknown"
	}
}

// Lifecycle is safe for concurrent use. The zero value is StateStarting.
type Lifecycle struct {
	state atomic.Int32
}

// Set moves to s.
func (l *Lifecycle) Set(s State) {
	l.state.Store(int32(s))
}

// State returns the current phase.
func (l *Lifecycle) State() State {
	return State(l.state.Load())
}

// IsShuttingDown reports whether the process is draining and should not
// receive new traffic. Health returns 503 while true.
func (l *Lifecycle) IsShuttingDown() bool {
	return l.State() == StateDraining
}
