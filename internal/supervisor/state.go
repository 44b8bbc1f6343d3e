package supervisor

import (
	"errors"
	"fmt"
)

// State is the lifecycle state of the supervised backend.
//
// idle -> starting -> healthy -> (stopping | crashed)
// starting -> launch-failed
// idle | starting -> stopping
type State int32

const (
	StateIdle State = iota
	StateStarting
	StateHealthy
	StateStopping
	StateCrashed
	StateLaunchFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateHealthy:
		return "healthy"
	case StateStopping:
		return "stopping"
	case StateCrashed:
		return "crashed"
	case StateLaunchFailed:
		return "launch-failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition leaves s.
func (s State) Terminal() bool {
	return s == StateStopping || s == StateCrashed || s == StateLaunchFailed
}

// ErrInvalidTransition is wrapped by every rejected transition.
var ErrInvalidTransition = errors.New("invalid state transition")

// Machine is the lifecycle state machine. It holds no process and does no
// I/O; the Supervisor feeds it events. The zero value is idle.
//
// Only RequestStop reaches stopping, so an exit observed in any other state
// is a crash.
type Machine struct {
	state State
	// OnTransition observes every state change.
	OnTransition func(from, to State)
}

func (m *Machine) State() State { return m.state }

func (m *Machine) set(to State) {
	from := m.state
	m.state = to
	if m.OnTransition != nil {
		m.OnTransition(from, to)
	}
}

func (m *Machine) invalid(event string) error {
	return fmt.Errorf("%w: %s while %s", ErrInvalidTransition, event, m.state)
}

// Launch moves idle to starting; it is called right before the spawn.
func (m *Machine) Launch() error {
	if m.state != StateIdle {
		return m.invalid("launch")
	}
	m.set(StateStarting)
	return nil
}

// SpawnFailed moves starting to launch-failed.
func (m *Machine) SpawnFailed() error {
	if m.state != StateStarting {
		return m.invalid("spawn failure")
	}
	m.set(StateLaunchFailed)
	return nil
}

// Ready moves starting to healthy.
func (m *Machine) Ready() error {
	if m.state != StateStarting {
		return m.invalid("ready")
	}
	m.set(StateHealthy)
	return nil
}

// RequestStop moves any non-terminal state to stopping and reports whether
// it did. Repeated requests are no-ops.
func (m *Machine) RequestStop() bool {
	if m.state.Terminal() {
		return false
	}
	m.set(StateStopping)
	return true
}

// Exited records the process exit and reports whether it was a crash.
// After a stop request the exit is expected and the state stays stopping.
func (m *Machine) Exited() (crashed bool, err error) {
	switch m.state {
	case StateStopping:
		return false, nil
	case StateStarting, StateHealthy:
		m.set(StateCrashed)
		return true, nil
	default:
		return false, m.invalid("exit")
	}
}
