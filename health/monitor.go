package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/arborlab/arbor/ids"
)

// Checker produces a health result for a monitored actor address. Checks run
// on a background schedule independent of message traffic and must be safe
// to call concurrently with the actor's own processing.
type Checker func(ctx context.Context, addr ids.Address) Result

// UnhealthyFunc is invoked when an Unhealthy status is committed for an
// address, typically wired to the owning supervisor's failure path.
type UnhealthyFunc func(addr ids.Address, reason string)

// Monitor runs periodic health checks for any number of actors, one
// background loop per watched address.
type Monitor struct {
	logger zerolog.Logger

	mu      sync.Mutex
	targets map[ids.Address]*watch
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMonitor creates an idle monitor.
func NewMonitor(logger zerolog.Logger) *Monitor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Monitor{
		logger:  logger.With().Str("component", "health").Logger(),
		targets: make(map[ids.Address]*watch),
		ctx:     ctx,
		cancel:  cancel,
	}
}

type watch struct {
	addr        ids.Address
	check       Checker
	cfg         Config
	onUnhealthy UnhealthyFunc
	cancel      context.CancelFunc

	mu          sync.Mutex
	status      Status
	reason      string
	pending     Status
	pendingRuns int
}

// Watch starts periodic checking of addr. onUnhealthy may be nil when no
// supervisor feedback is wanted.
func (m *Monitor) Watch(addr ids.Address, check Checker, cfg Config, onUnhealthy UnhealthyFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return ErrMonitorStopped
	}
	if _, exists := m.targets[addr]; exists {
		return fmt.Errorf("watch %s: already monitored", addr)
	}

	loopCtx, cancel := context.WithCancel(m.ctx)
	w := &watch{
		addr:        addr,
		check:       check,
		cfg:         cfg.normalize(),
		onUnhealthy: onUnhealthy,
		cancel:      cancel,
		status:      StatusUnknown,
	}
	m.targets[addr] = w

	m.wg.Add(1)
	go m.run(loopCtx, w)
	return nil
}

// Unwatch stops checking addr.
func (m *Monitor) Unwatch(addr ids.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, exists := m.targets[addr]
	if !exists {
		return fmt.Errorf("unwatch %s: %w", addr, ErrNotMonitored)
	}
	w.cancel()
	delete(m.targets, addr)
	return nil
}

// Status returns the committed status and reason for addr.
func (m *Monitor) Status(addr ids.Address) (Result, error) {
	m.mu.Lock()
	w, exists := m.targets[addr]
	m.mu.Unlock()

	if !exists {
		return Result{}, fmt.Errorf("status %s: %w", addr, ErrNotMonitored)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return Result{Status: w.status, Reason: w.reason}, nil
}

// Watched returns the number of monitored addresses.
func (m *Monitor) Watched() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.targets)
}

// Stop cancels all watches and waits for their loops to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	m.stopped = true
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()
}

func (m *Monitor) run(ctx context.Context, w *watch) {
	defer m.wg.Done()

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result := m.probe(ctx, w)
			m.apply(w, result)
		}
	}
}

// probe runs one check round, converting timeouts and panics into Unhealthy
// results.
func (m *Monitor) probe(ctx context.Context, w *watch) Result {
	checkCtx, cancel := context.WithTimeout(ctx, w.cfg.Timeout)
	defer cancel()

	resultCh := make(chan Result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultCh <- Unhealthy(fmt.Sprintf("%v: %v", ErrCheckFailed, r))
			}
		}()
		resultCh <- w.check(checkCtx, w.addr)
	}()

	select {
	case res := <-resultCh:
		return res
	case <-checkCtx.Done():
		return Unhealthy("health check timed out")
	}
}

// apply feeds one result through the threshold state machine and commits a
// transition once enough consecutive rounds agree.
func (m *Monitor) apply(w *watch, res Result) {
	w.mu.Lock()

	var committed bool
	var commitStatus Status
	var commitReason string

	switch {
	case w.status == StatusUnknown:
		// First result commits immediately.
		committed = true
	case res.Status == w.status:
		w.pending = StatusUnknown
		w.pendingRuns = 0
	default:
		if res.Status != w.pending {
			w.pending = res.Status
			w.pendingRuns = 0
		}
		w.pendingRuns++

		threshold := w.cfg.SuccessThreshold
		if res.Status.rank() > w.status.rank() {
			threshold = w.cfg.FailureThreshold
		}
		if w.pendingRuns >= threshold {
			committed = true
		}
	}

	if committed {
		w.status = res.Status
		w.reason = res.Reason
		w.pending = StatusUnknown
		w.pendingRuns = 0
		commitStatus = res.Status
		commitReason = res.Reason
	}
	w.mu.Unlock()

	if !committed {
		return
	}

	m.logger.Info().
		Stringer("actor", w.addr).
		Stringer("status", commitStatus).
		Str("reason", commitReason).
		Msg("health transition committed")

	if commitStatus == StatusUnhealthy && w.onUnhealthy != nil {
		w.onUnhealthy(w.addr, commitReason)
	}
}
