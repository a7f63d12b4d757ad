package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/arborlab/arbor/health"
	"github.com/arborlab/arbor/ids"
)

// Options configures a supervisor node.
type Options struct {
	// MaxRestarts bounds restarts across all children inside Window; once
	// exceeded the supervisor escalates its own failure instead of looping.
	MaxRestarts int

	// Window is the sliding window for the supervisor-level restart limit.
	Window time.Duration

	// StopTimeout is the default grace period for stopping a child.
	StopTimeout time.Duration
}

// DefaultOptions returns the conventional limits: 3 restarts per minute,
// 10 second stop grace period.
func DefaultOptions() Options {
	return Options{
		MaxRestarts: 3,
		Window:      time.Minute,
		StopTimeout: 10 * time.Second,
	}
}

// EscalationFunc receives the supervisor's own failure when its restart-rate
// limit is exceeded. For a root supervisor this must surface the failure to
// the embedding application.
type EscalationFunc func(err error)

type childRunState uint8

const (
	childPending childRunState = iota
	childRunning
	childStopping
	childStopped
	childFailed
	childRestarting
)

func (s childRunState) String() string {
	switch s {
	case childPending:
		return "pending"
	case childRunning:
		return "running"
	case childStopping:
		return "stopping"
	case childStopped:
		return "stopped"
	case childFailed:
		return "failed"
	case childRestarting:
		return "restarting"
	default:
		return "unknown"
	}
}

type childSlot struct {
	spec     ChildSpec
	child    Child
	state    childRunState
	backoff  *RestartBackoff
	restarts uint32

	// expectExit marks a supervisor-initiated stop so the exit report is
	// not treated as a failure.
	expectExit bool

	// healthAddr is the stable synthetic address used to key this slot's
	// health watch; it survives restarts of the child.
	healthAddr ids.Address
}

// Supervisor owns an ordered set of child slots and re-establishes a
// consistent state on failure according to its restart strategy. A
// supervisor implements Child itself, so supervisors nest into trees.
type Supervisor struct {
	name     string
	strategy Strategy
	opts     Options
	logger   zerolog.Logger

	escalate EscalationFunc
	monitor  *health.Monitor

	// mu serializes supervision decisions; one failure event is handled to
	// completion before the next begins.
	mu       sync.Mutex
	order    []string
	children map[string]*childSlot
	limiter  *RestartBackoff
	baseCtx  context.Context
	started  bool
	stopped  bool
}

// New creates a supervisor node with the given restart strategy.
func New(name string, strategy Strategy, opts Options, logger zerolog.Logger) (*Supervisor, error) {
	if !strategy.Valid() {
		return nil, fmt.Errorf("supervisor %s: %w", name, ErrInvalidStrategy)
	}
	if opts.MaxRestarts <= 0 {
		opts = DefaultOptions()
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = DefaultOptions().StopTimeout
	}

	log := logger.With().Str("component", "supervisor").Str("supervisor", name).Logger()
	return &Supervisor{
		name:     name,
		strategy: strategy,
		opts:     opts,
		logger:   log,
		monitor:  health.NewMonitor(log),
		children: make(map[string]*childSlot),
		limiter:  NewRestartBackoff(opts.MaxRestarts, opts.Window),
		baseCtx:  context.Background(),
	}, nil
}

// WithEscalation wires the parent (or embedding application) notifier for
// the supervisor's own failure.
func (s *Supervisor) WithEscalation(fn EscalationFunc) *Supervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.escalate = fn
	return s
}

// Name returns the supervisor name.
func (s *Supervisor) Name() string {
	return s.name
}

// Strategy returns the node-level restart strategy.
func (s *Supervisor) Strategy() Strategy {
	return s.strategy
}

// HealthMonitor returns the monitor that runs this node's child health
// checks.
func (s *Supervisor) HealthMonitor() *health.Monitor {
	return s.monitor
}

// AddChild registers a child slot without starting it; pending slots start,
// in declared order, when the supervisor starts.
func (s *Supervisor) AddChild(spec ChildSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrSupervisorStopped
	}
	return s.addLocked(spec)
}

// StartChild registers a child slot and starts it immediately.
func (s *Supervisor) StartChild(ctx context.Context, spec ChildSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrSupervisorStopped
	}
	if err := s.addLocked(spec); err != nil {
		return err
	}
	return s.startSlotLocked(ctx, s.children[spec.ID])
}

// StartChildren starts a batch of children in order. The batch carries no
// atomicity guarantee: if a later child fails to start, the earlier ones
// stay running and rollback is the caller's decision.
func (s *Supervisor) StartChildren(ctx context.Context, specs ...ChildSpec) error {
	for _, spec := range specs {
		if err := s.StartChild(ctx, spec); err != nil {
			return fmt.Errorf("batch start stopped at %q: %w", spec.ID, err)
		}
	}
	return nil
}

// StopChild gracefully stops one child without removing its slot.
func (s *Supervisor) StopChild(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot, exists := s.children[id]
	if !exists {
		return fmt.Errorf("stop child %q: %w", id, ErrChildNotFound)
	}
	return s.stopSlotLocked(ctx, slot)
}

// RemoveChild removes a child slot. A running child is stopped first.
func (s *Supervisor) RemoveChild(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot, exists := s.children[id]
	if !exists {
		return fmt.Errorf("remove child %q: %w", id, ErrChildNotFound)
	}
	if slot.state == childRunning {
		if err := s.stopSlotLocked(ctx, slot); err != nil {
			return err
		}
	}
	s.removeLocked(id)
	return nil
}

// Children returns the child slot ids in declared start order.
func (s *Supervisor) Children() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// ChildRestarts returns how many times the child slot has been restarted.
func (s *Supervisor) ChildRestarts(id string) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	slot, exists := s.children[id]
	if !exists {
		return 0, fmt.Errorf("child %q: %w", id, ErrChildNotFound)
	}
	return slot.restarts, nil
}

// ChildRunning reports whether the child slot currently has a running child.
func (s *Supervisor) ChildRunning(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	slot, exists := s.children[id]
	if !exists {
		return false, fmt.Errorf("child %q: %w", id, ErrChildNotFound)
	}
	return slot.state == childRunning, nil
}

// Start implements Child. It records the base context for restarts and
// starts all pending slots in declared order.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrSupervisorStopped
	}
	s.baseCtx = ctx
	s.started = true

	for _, id := range s.order {
		slot := s.children[id]
		if slot.state != childPending {
			continue
		}
		if err := s.startSlotLocked(ctx, slot); err != nil {
			return err
		}
	}
	return nil
}

// Stop implements Child. Children stop in reverse start order; a child that
// does not stop within its grace period is reported in the returned error.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return nil
	}
	s.stopped = true

	var errs []error
	for i := len(s.order) - 1; i >= 0; i-- {
		slot := s.children[s.order[i]]
		if err := s.stopSlotLocked(ctx, slot); err != nil {
			errs = append(errs, err)
		}
	}
	s.monitor.Stop()

	s.logger.Info().Msg("supervisor stopped")
	return errors.Join(errs...)
}

// ReportExit is the failure-handling entry point for child terminations.
// Wire it into the child's exit notification (actor processes do this via
// their exit handler). A nil err is a normal exit.
func (s *Supervisor) ReportExit(id string, err error) {
	s.handleExit(id, err, false)
}

// ReportFailure injects a synthetic failure for a child that is still
// running, such as a committed Unhealthy health result. The child is stopped
// and the failure enters the same restart-decision path as a crash.
func (s *Supervisor) ReportFailure(id string, err error) {
	s.handleExit(id, err, true)
}

func (s *Supervisor) handleExit(id string, reportErr error, stillRunning bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	slot, exists := s.children[id]
	if !exists {
		return
	}
	if slot.expectExit && !stillRunning {
		slot.expectExit = false
		slot.state = childStopped
		return
	}

	if stillRunning {
		// Synthetic failure: take the child down before deciding.
		stopCtx, cancel := context.WithTimeout(s.baseCtx, s.stopTimeout(slot))
		slot.expectExit = true
		slot.state = childStopping
		if err := slot.child.Stop(stopCtx); err != nil {
			s.logger.Warn().Err(err).Str("child", id).Msg("child did not stop for synthetic failure")
		}
		cancel()
		slot.expectExit = false
	}

	if reportErr == nil {
		s.handleNormalExitLocked(slot)
		return
	}

	slot.state = childFailed
	s.logger.Error().
		Err(reportErr).
		Str("child", id).
		Uint32("restart_count", slot.restarts).
		Msg("child failed")

	switch slot.spec.Restart.Kind {
	case Temporary:
		s.removeLocked(id)
		return
	case Transient:
		if slot.backoff.Count() >= slot.spec.Restart.MaxRetries {
			s.logger.Warn().
				Str("child", id).
				Int("max_retries", slot.spec.Restart.MaxRetries).
				Msg("transient retry budget exhausted; child stays down")
			return
		}
	}

	if s.limiter.LimitExceeded() {
		s.escalateLocked(fmt.Errorf("supervisor %s: %w: %d restarts in %v",
			s.name, ErrTooManyRestarts, s.limiter.Count(), s.opts.Window))
		return
	}
	s.limiter.RecordRestart()

	s.applyStrategyLocked(slot)
}

// handleNormalExitLocked applies the per-child policy to a clean exit:
// Permanent children come back, Transient and Temporary slots stay down.
func (s *Supervisor) handleNormalExitLocked(slot *childSlot) {
	switch slot.spec.Restart.Kind {
	case Permanent:
		if s.limiter.LimitExceeded() {
			s.escalateLocked(fmt.Errorf("supervisor %s: %w", s.name, ErrTooManyRestarts))
			return
		}
		s.limiter.RecordRestart()
		s.applyStrategyLocked(slot)
	case Temporary:
		s.removeLocked(slot.spec.ID)
	default:
		slot.state = childStopped
	}
}

// applyStrategyLocked executes one failure event: determine the affected
// sibling set, stop it in reverse start order, then restart in declared
// order. Restarts within the event are deterministic with respect to
// declared child order.
func (s *Supervisor) applyStrategyLocked(failed *childSlot) {
	failedIdx := s.indexOf(failed.spec.ID)
	if failedIdx < 0 {
		return
	}
	// Snapshot the affected set as ids, not indexes: membership can change
	// while the lock is released for the backoff sleep below.
	indexes := s.strategy.affected(len(s.order), failedIdx)
	affected := make([]string, len(indexes))
	for i, idx := range indexes {
		affected[i] = s.order[idx]
	}

	s.logger.Info().
		Stringer("strategy", s.strategy).
		Str("child", failed.spec.ID).
		Int("affected", len(affected)).
		Msg("applying restart strategy")

	// Stop still-running affected siblings, newest first.
	for i := len(affected) - 1; i >= 0; i-- {
		slot := s.children[affected[i]]
		if slot.state != childRunning {
			continue
		}
		stopCtx, cancel := context.WithTimeout(s.baseCtx, s.stopTimeout(slot))
		slot.expectExit = true
		slot.state = childStopping
		if err := slot.child.Stop(stopCtx); err != nil {
			s.logger.Warn().Err(err).Str("child", slot.spec.ID).Msg("affected child did not stop in time")
		}
		cancel()
		slot.expectExit = false
		slot.state = childStopped
	}

	// Exponential backoff before the new instance comes up. The lock is
	// released so unrelated failure events are not stalled by the delay.
	failed.backoff.RecordRestart()
	delay := failed.backoff.Delay()
	if failed.spec.Restart.Kind != Transient {
		delay = 0
	}
	if delay > 0 {
		s.mu.Unlock()
		time.Sleep(delay)
		s.mu.Lock()
		if s.stopped {
			return
		}
	}

	// Restart in declared order, re-resolving each slot by id: a sibling
	// removed during the sleep is skipped, as is one already brought back
	// by another path. Temporary siblings are not restarted.
	for _, id := range affected {
		slot, exists := s.children[id]
		if !exists || slot.state == childRunning {
			continue
		}
		if slot.spec.Restart.Kind == Temporary && slot.spec.ID != failed.spec.ID {
			continue
		}
		slot.state = childRestarting
		if err := s.startSlotLocked(s.baseCtx, slot); err != nil {
			s.logger.Error().Err(err).Str("child", slot.spec.ID).Msg("restart failed")
			// Route the start failure through the normal failure path
			// once this event finishes.
			go s.ReportExit(slot.spec.ID, err)
			continue
		}
		slot.restarts++
		s.logger.Warn().
			Str("child", slot.spec.ID).
			Uint32("restart_count", slot.restarts).
			Msg("child restarted")
	}
}

func (s *Supervisor) escalateLocked(err error) {
	s.logger.Error().Err(err).Msg("restart limit exceeded; escalating")
	if s.escalate == nil {
		return
	}
	// Escalation runs outside the lock: the parent may call back into this
	// supervisor to stop it.
	fn := s.escalate
	s.mu.Unlock()
	fn(err)
	s.mu.Lock()
}

func (s *Supervisor) addLocked(spec ChildSpec) error {
	if spec.ID == "" {
		return fmt.Errorf("%w: empty child id", ErrChildStartFailed)
	}
	if spec.Factory == nil {
		return fmt.Errorf("%w: child %q has no factory", ErrChildStartFailed, spec.ID)
	}
	if _, exists := s.children[spec.ID]; exists {
		return fmt.Errorf("child %q: %w", spec.ID, ErrChildExists)
	}

	policy := spec.Restart
	window := policy.Window
	if window <= 0 {
		window = s.opts.Window
	}
	backoff := NewRestartBackoff(maxInt(policy.MaxRetries, 1), window)
	if policy.BaseDelay > 0 || policy.MaxDelay > 0 {
		backoff.WithDelays(policy.BaseDelay, policy.MaxDelay)
	}

	slot := &childSlot{
		spec:       spec,
		state:      childPending,
		backoff:    backoff,
		healthAddr: ids.NamedAddress(spec.ID),
	}
	s.children[spec.ID] = slot
	s.order = append(s.order, spec.ID)
	return nil
}

func (s *Supervisor) startSlotLocked(ctx context.Context, slot *childSlot) error {
	child, err := slot.spec.Factory()
	if err != nil {
		slot.state = childFailed
		return fmt.Errorf("%w: factory for %q: %v", ErrChildStartFailed, slot.spec.ID, err)
	}
	if err := child.Start(ctx); err != nil {
		slot.state = childFailed
		return fmt.Errorf("%w: %q: %v", ErrChildStartFailed, slot.spec.ID, err)
	}

	slot.child = child
	slot.state = childRunning
	s.watchHealthLocked(slot)

	s.logger.Info().Str("child", slot.spec.ID).Msg("child started")
	return nil
}

func (s *Supervisor) stopSlotLocked(ctx context.Context, slot *childSlot) error {
	if slot.state != childRunning && slot.state != childStopping {
		return nil
	}
	stopCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		stopCtx, cancel = context.WithTimeout(ctx, s.stopTimeout(slot))
		defer cancel()
	}

	slot.expectExit = true
	slot.state = childStopping
	err := slot.child.Stop(stopCtx)
	slot.expectExit = false
	slot.state = childStopped
	if err != nil {
		return fmt.Errorf("stop child %q: %w", slot.spec.ID, err)
	}
	return nil
}

func (s *Supervisor) removeLocked(id string) {
	if slot, exists := s.children[id]; exists && slot.spec.HealthCheck != nil {
		_ = s.monitor.Unwatch(slot.healthAddr)
	}
	delete(s.children, id)
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// watchHealthLocked installs the slot's health watch once; the synthetic
// address is stable across restarts so the watch persists.
func (s *Supervisor) watchHealthLocked(slot *childSlot) {
	hc := slot.spec.HealthCheck
	if hc == nil {
		return
	}
	id := slot.spec.ID
	err := s.monitor.Watch(slot.healthAddr, hc.Check, hc.Config, func(_ ids.Address, reason string) {
		s.ReportFailure(id, fmt.Errorf("health check reported unhealthy: %s", reason))
	})
	if err != nil && !errors.Is(err, health.ErrMonitorStopped) {
		// Already watched from a previous start of this slot.
		s.logger.Debug().Err(err).Str("child", id).Msg("health watch reuse")
	}
}

func (s *Supervisor) stopTimeout(slot *childSlot) time.Duration {
	if slot.spec.StopTimeout > 0 {
		return slot.spec.StopTimeout
	}
	return s.opts.StopTimeout
}

func (s *Supervisor) indexOf(id string) int {
	for i, existing := range s.order {
		if existing == id {
			return i
		}
	}
	return -1
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
