package health

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/arborlab/arbor/ids"
)

func fastConfig() Config {
	return Config{
		Interval:         10 * time.Millisecond,
		Timeout:          100 * time.Millisecond,
		FailureThreshold: 3,
		SuccessThreshold: 1,
	}
}

func waitStatus(t *testing.T, m *Monitor, addr ids.Address, want Status) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		res, err := m.Status(addr)
		if err == nil && res.Status == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	res, _ := m.Status(addr)
	t.Fatalf("Status never reached %v, stuck at %v (%s)", want, res.Status, res.Reason)
}

// TestFirstResultCommitsImmediately verifies the Unknown state accepts the
// first check outcome without waiting for thresholds.
func TestFirstResultCommitsImmediately(t *testing.T) {
	m := NewMonitor(zerolog.Nop())
	defer m.Stop()

	addr := ids.NamedAddress("fresh")
	err := m.Watch(addr, func(context.Context, ids.Address) Result {
		return Healthy()
	}, fastConfig(), nil)
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	waitStatus(t, m, addr, StatusHealthy)
}

// TestFailureThresholdDamping verifies a downward transition needs the
// configured number of consecutive failures.
func TestFailureThresholdDamping(t *testing.T) {
	m := NewMonitor(zerolog.Nop())
	defer m.Stop()

	var rounds atomic.Int64
	addr := ids.NamedAddress("flappy")
	// Healthy first, then one isolated failure, then healthy again: the
	// single failure must not commit with FailureThreshold 3.
	err := m.Watch(addr, func(context.Context, ids.Address) Result {
		n := rounds.Add(1)
		if n == 2 {
			return Unhealthy("blip")
		}
		return Healthy()
	}, fastConfig(), nil)
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	waitStatus(t, m, addr, StatusHealthy)
	// Let several rounds pass, covering the blip.
	deadline := time.Now().Add(time.Second)
	for rounds.Load() < 6 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	res, err := m.Status(addr)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if res.Status != StatusHealthy {
		t.Fatalf("Single failure committed a transition: %v (%s)", res.Status, res.Reason)
	}
}

// TestConsecutiveFailuresCommit verifies sustained failure commits
// Unhealthy and fires the supervisor feedback exactly once per commit.
func TestConsecutiveFailuresCommit(t *testing.T) {
	m := NewMonitor(zerolog.Nop())
	defer m.Stop()

	var fired atomic.Int64
	var mu sync.Mutex
	var firedReason string

	var healthyFirst atomic.Bool
	healthyFirst.Store(true)

	addr := ids.NamedAddress("dying")
	err := m.Watch(addr, func(context.Context, ids.Address) Result {
		if healthyFirst.CompareAndSwap(true, false) {
			return Healthy()
		}
		return Unhealthy("disk gone")
	}, fastConfig(), func(_ ids.Address, reason string) {
		fired.Add(1)
		mu.Lock()
		firedReason = reason
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	waitStatus(t, m, addr, StatusUnhealthy)

	if got := fired.Load(); got != 1 {
		t.Errorf("Expected exactly one unhealthy notification, got %d", got)
	}
	mu.Lock()
	if firedReason != "disk gone" {
		t.Errorf("Wrong reason propagated: %q", firedReason)
	}
	mu.Unlock()

	res, _ := m.Status(addr)
	if res.Reason != "disk gone" {
		t.Errorf("Committed reason %q, want 'disk gone'", res.Reason)
	}
}

// TestTimeoutCountsAsUnhealthy verifies a check that overruns its timeout
// is treated as a failed round.
func TestTimeoutCountsAsUnhealthy(t *testing.T) {
	m := NewMonitor(zerolog.Nop())
	defer m.Stop()

	cfg := fastConfig()
	cfg.Timeout = 20 * time.Millisecond
	cfg.FailureThreshold = 1

	addr := ids.NamedAddress("stuck")
	err := m.Watch(addr, func(ctx context.Context, _ ids.Address) Result {
		<-ctx.Done()
		return Healthy()
	}, cfg, nil)
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	waitStatus(t, m, addr, StatusUnhealthy)
}

// TestPanickingChecker verifies a panicking checker is contained and read
// as a failed round.
func TestPanickingChecker(t *testing.T) {
	m := NewMonitor(zerolog.Nop())
	defer m.Stop()

	cfg := fastConfig()
	cfg.FailureThreshold = 1

	addr := ids.NamedAddress("buggy")
	err := m.Watch(addr, func(context.Context, ids.Address) Result {
		panic("checker bug")
	}, cfg, nil)
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	waitStatus(t, m, addr, StatusUnhealthy)
}

// TestRecoveryTransition verifies the upward path commits after
// SuccessThreshold good rounds.
func TestRecoveryTransition(t *testing.T) {
	m := NewMonitor(zerolog.Nop())
	defer m.Stop()

	cfg := fastConfig()
	cfg.FailureThreshold = 1
	cfg.SuccessThreshold = 2

	var healthy atomic.Bool
	addr := ids.NamedAddress("recovering")
	err := m.Watch(addr, func(context.Context, ids.Address) Result {
		if healthy.Load() {
			return Healthy()
		}
		return Unhealthy("starting up")
	}, cfg, nil)
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	waitStatus(t, m, addr, StatusUnhealthy)
	healthy.Store(true)
	waitStatus(t, m, addr, StatusHealthy)
}

// TestUnwatch verifies unwatched addresses stop being probed and report
// ErrNotMonitored.
func TestUnwatch(t *testing.T) {
	m := NewMonitor(zerolog.Nop())
	defer m.Stop()

	addr := ids.NamedAddress("gone")
	if err := m.Watch(addr, func(context.Context, ids.Address) Result {
		return Healthy()
	}, fastConfig(), nil); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	if m.Watched() != 1 {
		t.Fatalf("Expected 1 watched, got %d", m.Watched())
	}

	if err := m.Unwatch(addr); err != nil {
		t.Fatalf("Unwatch failed: %v", err)
	}
	if _, err := m.Status(addr); !errors.Is(err, ErrNotMonitored) {
		t.Fatalf("Expected ErrNotMonitored, got %v", err)
	}
	if err := m.Unwatch(addr); !errors.Is(err, ErrNotMonitored) {
		t.Fatalf("Expected ErrNotMonitored on double unwatch, got %v", err)
	}
}

// TestStoppedMonitorRejectsWatch verifies the stopped monitor contract.
func TestStoppedMonitorRejectsWatch(t *testing.T) {
	m := NewMonitor(zerolog.Nop())
	m.Stop()

	err := m.Watch(ids.NewAddress(), func(context.Context, ids.Address) Result {
		return Healthy()
	}, fastConfig(), nil)
	if !errors.Is(err, ErrMonitorStopped) {
		t.Fatalf("Expected ErrMonitorStopped, got %v", err)
	}
}

// TestConfigNormalize verifies zero fields pick up defaults.
func TestConfigNormalize(t *testing.T) {
	got := Config{}.normalize()
	want := DefaultConfig()
	if got != want {
		t.Errorf("normalize() = %+v, want defaults %+v", got, want)
	}

	custom := Config{Interval: time.Second}.normalize()
	if custom.Interval != time.Second {
		t.Error("normalize overwrote a set field")
	}
	if custom.Timeout != want.Timeout {
		t.Error("normalize did not fill the zero timeout")
	}
}
