package actor

import (
	"sync"
	"time"
)

// State represents the current lifecycle state of an actor.
type State uint8

const (
	// StateCreated means the instance is constructed but has no context yet.
	StateCreated State = iota

	// StateStarting means the pre-start hook is running.
	StateStarting

	// StateRunning means the actor is processing messages.
	StateRunning

	// StateStopping means the post-stop hook is running; no further
	// messages are dequeued.
	StateStopping

	// StateStopped is terminal; the mailbox is destroyed.
	StateStopped

	// StateRestarting means the supervisor is tearing the actor down for a
	// restart.
	StateRestarting

	// StateFailed means a fault was reported to the owning supervisor.
	StateFailed
)

// String returns the string representation of State.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateRestarting:
		return "restarting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state admits no further transitions.
func (s State) Terminal() bool {
	return s == StateStopped
}

// Lifecycle tracks an actor's state transitions. Transitions are driven only
// by the runtime and the owning supervisor, never by the actor's own handler.
type Lifecycle struct {
	mu           sync.Mutex
	state        State
	lastChange   time.Time
	restartCount uint32
}

// NewLifecycle creates a tracker in the Created state.
func NewLifecycle() *Lifecycle {
	return &Lifecycle{state: StateCreated, lastChange: time.Now()}
}

// State returns the current state.
func (l *Lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// LastChange returns when the state last changed.
func (l *Lifecycle) LastChange() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastChange
}

// RestartCount returns how many times the actor has been restarted.
func (l *Lifecycle) RestartCount() uint32 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.restartCount
}

// TransitionTo moves to the given state if the transition is legal and
// reports whether it happened. Restarting increments the restart counter.
func (l *Lifecycle) TransitionTo(next State) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !validTransition(l.state, next) {
		return false
	}
	l.state = next
	l.lastChange = time.Now()
	if next == StateRestarting {
		l.restartCount++
	}
	return true
}

func validTransition(from, to State) bool {
	switch from {
	case StateCreated:
		return to == StateStarting || to == StateStopping
	case StateStarting:
		return to == StateRunning || to == StateFailed || to == StateStopping
	case StateRunning:
		return to == StateStopping || to == StateFailed || to == StateRestarting
	case StateStopping:
		return to == StateStopped || to == StateFailed
	case StateFailed:
		return to == StateRestarting || to == StateStopping || to == StateStopped
	case StateRestarting:
		return to == StateStarting || to == StateStopped
	case StateStopped:
		return false
	default:
		return false
	}
}
