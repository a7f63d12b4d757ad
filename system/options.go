package system

import (
	"fmt"
	"time"

	"github.com/arborlab/arbor/mailbox"
	"github.com/arborlab/arbor/message"
	"github.com/arborlab/arbor/supervisor"
)

// Config holds system-wide limits and defaults. The zero value is not
// usable; start from DefaultConfig and override.
type Config struct {
	// Name identifies this system in logs. Multiple systems can coexist in
	// one process; each owns its own broker and supervision tree.
	Name string

	// MaxActors caps concurrently registered actors. Zero means unlimited.
	MaxActors int

	// DefaultMailboxCapacity applies to spawns that do not set their own
	// capacity. Zero means unbounded mailboxes by default.
	DefaultMailboxCapacity int

	// SpawnTimeout bounds how long an actor's pre-start hook may run before
	// the spawn is abandoned.
	SpawnTimeout time.Duration

	// ShutdownTimeout is the grace period Shutdown uses when the caller's
	// context carries no deadline.
	ShutdownTimeout time.Duration

	// Supervision configures the root supervisor's restart-rate limit and
	// default child stop grace.
	Supervision supervisor.Options
}

// DefaultConfig returns the conventional system configuration.
func DefaultConfig() Config {
	return Config{
		Name:                   "arbor",
		DefaultMailboxCapacity: 1024,
		SpawnTimeout:           5 * time.Second,
		ShutdownTimeout:        30 * time.Second,
		Supervision:            supervisor.DefaultOptions(),
	}
}

// Validate reports configuration errors. Zero durations fall back to
// defaults rather than failing.
func (c Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("%w: empty system name", ErrInvalidConfig)
	}
	if c.MaxActors < 0 {
		return fmt.Errorf("%w: negative max actors", ErrInvalidConfig)
	}
	if c.DefaultMailboxCapacity < 0 {
		return fmt.Errorf("%w: negative default mailbox capacity", ErrInvalidConfig)
	}
	return nil
}

// normalize fills zero durations with defaults. Validate must have passed.
func (c Config) normalize() Config {
	d := DefaultConfig()
	if c.SpawnTimeout <= 0 {
		c.SpawnTimeout = d.SpawnTimeout
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = d.ShutdownTimeout
	}
	return c
}

// spawnConfig is the resolved per-spawn mailbox setup.
type spawnConfig struct {
	capacity  int
	unbounded bool
	policy    mailbox.BackpressurePolicy
	policySet bool
	priority  message.Priority
}

// SpawnOption customizes one spawn.
type SpawnOption func(*spawnConfig)

// WithMailboxCapacity bounds the actor's mailbox.
func WithMailboxCapacity(n int) SpawnOption {
	return func(c *spawnConfig) {
		c.capacity = n
		c.unbounded = false
	}
}

// WithUnboundedMailbox gives the actor an unbounded mailbox regardless of
// the system default capacity.
func WithUnboundedMailbox() SpawnOption {
	return func(c *spawnConfig) {
		c.unbounded = true
	}
}

// WithBackpressure overrides the backpressure policy of a bounded mailbox.
func WithBackpressure(p mailbox.BackpressurePolicy) SpawnOption {
	return func(c *spawnConfig) {
		c.policy = p
		c.policySet = true
	}
}

// WithTrafficPriority declares the priority class of the actor's expected
// traffic. Without an explicit backpressure override, the policy is derived
// from it: Critical and High block, Normal errors, Low drops.
func WithTrafficPriority(p message.Priority) SpawnOption {
	return func(c *spawnConfig) {
		c.priority = p
	}
}

func (s *System) resolveSpawn(opts []SpawnOption) spawnConfig {
	cfg := spawnConfig{
		capacity: s.cfg.DefaultMailboxCapacity,
		priority: message.PriorityNormal,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if !cfg.policySet {
		cfg.policy = mailbox.PolicyForPriority(cfg.priority)
	}
	return cfg
}

func (s *System) buildMailbox(cfg spawnConfig) *mailbox.Mailbox {
	if cfg.unbounded || cfg.capacity <= 0 {
		return mailbox.NewUnbounded()
	}
	return mailbox.NewBounded(cfg.capacity, cfg.policy)
}
