// Package health implements pluggable periodic health checking for actors,
// with flap damping and supervisor feedback.
package health

import (
	"errors"
	"time"
)

// Monitoring errors.
var (
	// ErrNotMonitored is returned for operations on an unwatched address.
	ErrNotMonitored = errors.New("address not monitored")

	// ErrCheckFailed wraps a panicking or misbehaving checker.
	ErrCheckFailed = errors.New("health check failed")

	// ErrMonitorStopped is returned for operations on a stopped monitor.
	ErrMonitorStopped = errors.New("health monitor stopped")
)

// Status is the committed health state of a monitored actor.
type Status uint8

const (
	// StatusUnknown means no check result has been committed yet.
	StatusUnknown Status = iota

	// StatusHealthy means the actor responds normally.
	StatusHealthy

	// StatusDegraded means the actor responds but below expectations.
	StatusDegraded

	// StatusUnhealthy means the actor is considered failed.
	StatusUnhealthy
)

// String returns the string representation of Status.
func (s Status) String() string {
	switch s {
	case StatusUnknown:
		return "unknown"
	case StatusHealthy:
		return "healthy"
	case StatusDegraded:
		return "degraded"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "invalid"
	}
}

// rank orders statuses by severity for threshold selection.
func (s Status) rank() int {
	switch s {
	case StatusHealthy:
		return 0
	case StatusDegraded:
		return 1
	case StatusUnhealthy:
		return 2
	default:
		return -1
	}
}

// Result is a single check outcome, optionally with a reason for Degraded
// and Unhealthy results.
type Result struct {
	Status Status
	Reason string
}

// Healthy returns a healthy result.
func Healthy() Result {
	return Result{Status: StatusHealthy}
}

// Degraded returns a degraded result with a reason.
func Degraded(reason string) Result {
	return Result{Status: StatusDegraded, Reason: reason}
}

// Unhealthy returns an unhealthy result with a reason.
func Unhealthy(reason string) Result {
	return Result{Status: StatusUnhealthy, Reason: reason}
}

// Config controls one watch: probe schedule plus the consecutive-result
// thresholds that prevent flapping on a single transient outcome.
type Config struct {
	// Interval between checks.
	Interval time.Duration

	// Timeout per check; a check that does not return in time counts as an
	// Unhealthy result for that round.
	Timeout time.Duration

	// FailureThreshold is the number of consecutive worse results needed to
	// commit a downward transition.
	FailureThreshold int

	// SuccessThreshold is the number of consecutive better results needed
	// to commit an upward transition.
	SuccessThreshold int
}

// DefaultConfig returns the conventional watch configuration: 30s interval,
// 5s timeout, 3 failures down, 1 success up.
func DefaultConfig() Config {
	return Config{
		Interval:         30 * time.Second,
		Timeout:          5 * time.Second,
		FailureThreshold: 3,
		SuccessThreshold: 1,
	}
}

// normalize fills zero fields with defaults.
func (c Config) normalize() Config {
	d := DefaultConfig()
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = d.SuccessThreshold
	}
	return c
}
