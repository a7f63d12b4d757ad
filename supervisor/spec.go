// Package supervisor implements supervision trees: child specifications,
// restart strategies, restart-rate limiting and failure escalation.
package supervisor

import (
	"context"
	"errors"
	"time"

	"github.com/arborlab/arbor/health"
)

// Supervisor errors.
var (
	// ErrTooManyRestarts means the supervisor's own restart-rate limit was
	// exceeded and the failure is being escalated.
	ErrTooManyRestarts = errors.New("too many restarts")

	// ErrChildStartFailed wraps a child factory or start failure.
	ErrChildStartFailed = errors.New("child start failed")

	// ErrInvalidStrategy is returned for an unknown restart strategy.
	ErrInvalidStrategy = errors.New("invalid restart strategy")

	// ErrChildNotFound is returned when no child slot has the given id.
	ErrChildNotFound = errors.New("child not found")

	// ErrChildExists is returned when a child id is added twice.
	ErrChildExists = errors.New("child already exists")

	// ErrSupervisorStopped is returned for operations on a stopped
	// supervisor.
	ErrSupervisorStopped = errors.New("supervisor stopped")
)

// Child is the minimal contract a supervised entity must satisfy. Actor
// processes implement it directly; background tasks can implement it without
// depending on the actor behavior contract at all.
type Child interface {
	// Start launches the child. A returned error aborts the start.
	Start(ctx context.Context) error

	// Stop requests a cooperative stop and waits until ctx's deadline.
	Stop(ctx context.Context) error
}

// RestartKind selects the per-child restart policy.
type RestartKind uint8

const (
	// Permanent children are always restarted.
	Permanent RestartKind = iota

	// Transient children are restarted only on abnormal termination, and
	// only while the abnormal-termination count within the sliding window
	// stays below MaxRetries.
	Transient

	// Temporary children are never restarted; their slot is removed on
	// exit.
	Temporary
)

// String returns the string representation of RestartKind.
func (k RestartKind) String() string {
	switch k {
	case Permanent:
		return "permanent"
	case Transient:
		return "transient"
	case Temporary:
		return "temporary"
	default:
		return "unknown"
	}
}

// RestartPolicy is the per-child restart configuration. MaxRetries, Window
// and the backoff fields apply to Transient children only.
type RestartPolicy struct {
	Kind RestartKind

	// MaxRetries bounds abnormal terminations inside Window for Transient
	// children.
	MaxRetries int

	// Window is the sliding window for counting Transient retries.
	Window time.Duration

	// BaseDelay is the initial restart delay, doubled on every consecutive
	// restart up to MaxDelay.
	BaseDelay time.Duration

	// MaxDelay caps the exponential restart delay.
	MaxDelay time.Duration
}

// RestartPermanent returns the policy for children that must always run.
func RestartPermanent() RestartPolicy {
	return RestartPolicy{Kind: Permanent}
}

// RestartTemporary returns the policy for one-shot children.
func RestartTemporary() RestartPolicy {
	return RestartPolicy{Kind: Temporary}
}

// RestartTransient returns the policy for children restarted only on
// abnormal exit, with the given retry budget per window.
func RestartTransient(maxRetries int, window time.Duration) RestartPolicy {
	return RestartPolicy{
		Kind:       Transient,
		MaxRetries: maxRetries,
		Window:     window,
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   60 * time.Second,
	}
}

// ChildSpec describes how to (re)construct and restart one child slot. The
// spec persists across restarts of the child it describes and is removed
// only by an explicit supervisor call.
type ChildSpec struct {
	// ID is the stable identifier of the child slot.
	ID string

	// Factory constructs a fresh child instance on demand. It is invoked
	// once per start or restart.
	Factory func() (Child, error)

	// Restart is the per-child restart policy.
	Restart RestartPolicy

	// StopTimeout bounds how long Stop may take before the non-response is
	// treated as a fault. Zero uses the supervisor default.
	StopTimeout time.Duration

	// HealthCheck optionally configures periodic liveness probing for this
	// child; a committed Unhealthy result enters the restart path.
	HealthCheck *HealthCheck
}

// HealthCheck attaches a health probe to a child slot.
type HealthCheck struct {
	// Check produces the health result for the child.
	Check health.Checker

	// Config sets interval, timeout and flap-damping thresholds.
	Config health.Config
}
