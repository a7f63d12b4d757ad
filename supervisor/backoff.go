package supervisor

import (
	"sync"
	"time"
)

const (
	defaultBaseDelay = 100 * time.Millisecond
	defaultMaxDelay  = 60 * time.Second

	// backoffShiftCap bounds the exponent so the delay computation cannot
	// overflow.
	backoffShiftCap = 10
)

// RestartBackoff tracks restart history in a sliding time window and derives
// exponential restart delays. Old restarts expire out of the window, so a
// burst of transient failures does not lock a child out forever.
type RestartBackoff struct {
	mu sync.Mutex

	maxRestarts int
	window      time.Duration
	history     []time.Time

	baseDelay time.Duration
	maxDelay  time.Duration
}

// NewRestartBackoff creates a tracker allowing maxRestarts per window with
// the default delay curve (100ms doubling up to 60s).
func NewRestartBackoff(maxRestarts int, window time.Duration) *RestartBackoff {
	return &RestartBackoff{
		maxRestarts: maxRestarts,
		window:      window,
		baseDelay:   defaultBaseDelay,
		maxDelay:    defaultMaxDelay,
	}
}

// WithDelays overrides the exponential delay curve.
func (b *RestartBackoff) WithDelays(base, max time.Duration) *RestartBackoff {
	b.mu.Lock()
	defer b.mu.Unlock()
	if base > 0 {
		b.baseDelay = base
	}
	if max > 0 {
		b.maxDelay = max
	}
	return b
}

// RecordRestart adds a restart to the window.
func (b *RestartBackoff) RecordRestart() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prune(time.Now())
	b.history = append(b.history, time.Now())
}

// Count returns the number of restarts inside the current window.
func (b *RestartBackoff) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prune(time.Now())
	return len(b.history)
}

// LimitExceeded reports whether the window already holds maxRestarts or more
// restarts.
func (b *RestartBackoff) LimitExceeded() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prune(time.Now())
	return len(b.history) >= b.maxRestarts
}

// Delay returns the exponential backoff delay for the next restart:
// baseDelay * 2^windowCount, capped at maxDelay.
func (b *RestartBackoff) Delay() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prune(time.Now())

	shift := len(b.history)
	if shift > backoffShiftCap {
		shift = backoffShiftCap
	}
	delay := b.baseDelay << uint(shift)
	if delay > b.maxDelay || delay <= 0 {
		delay = b.maxDelay
	}
	return delay
}

// Reset clears the restart history, typically after a sustained healthy
// period.
func (b *RestartBackoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.history = b.history[:0]
}

// prune drops history entries older than the window. Callers hold b.mu.
func (b *RestartBackoff) prune(now time.Time) {
	cutoff := now.Add(-b.window)
	kept := b.history[:0]
	for _, t := range b.history {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	b.history = kept
}
