package system

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/arborlab/arbor/actor"
	"github.com/arborlab/arbor/broker"
	"github.com/arborlab/arbor/message"
	"github.com/arborlab/arbor/supervisor"
)

type testMsg struct {
	body string
}

func (testMsg) MessageType() string { return "test.msg" }

type replyMsg struct {
	body string
}

func (replyMsg) MessageType() string { return "test.reply" }

func newTestSystem(t *testing.T) *System {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Name = "test-system"
	cfg.ShutdownTimeout = 2 * time.Second
	sys, err := New(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("New system failed: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = sys.Shutdown(ctx)
	})
	return sys
}

func collector(out chan<- string) actor.Behavior {
	return actor.BehaviorFunc(func(_ *actor.Context, env message.Envelope) error {
		out <- env.Payload.(testMsg).body
		return nil
	})
}

// TestSpawnAndSend covers the basic spawn-send-receive path.
func TestSpawnAndSend(t *testing.T) {
	sys := newTestSystem(t)
	ctx := context.Background()

	received := make(chan string, 1)
	addr, err := sys.Spawn("collector", collector(received), WithMailboxCapacity(16))
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}
	if addr.Name() != "collector" {
		t.Errorf("Expected named address, got %v", addr)
	}

	if err := sys.Send(ctx, addr, testMsg{body: "hello"}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	select {
	case got := <-received:
		if got != "hello" {
			t.Errorf("Expected 'hello', got %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Message never arrived")
	}
}

// TestSendNamed covers name resolution on the send path.
func TestSendNamed(t *testing.T) {
	sys := newTestSystem(t)
	ctx := context.Background()

	received := make(chan string, 1)
	if _, err := sys.Spawn("sink", collector(received)); err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}

	if err := sys.SendNamed(ctx, "sink", testMsg{body: "by-name"}); err != nil {
		t.Fatalf("SendNamed failed: %v", err)
	}
	select {
	case got := <-received:
		if got != "by-name" {
			t.Errorf("Expected 'by-name', got %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Message never arrived")
	}

	if err := sys.SendNamed(ctx, "nobody", testMsg{}); !errors.Is(err, broker.ErrActorNotFound) {
		t.Errorf("Expected ErrActorNotFound for unknown name, got %v", err)
	}
}

// TestRequestReply covers the correlated request/reply round trip.
func TestRequestReply(t *testing.T) {
	sys := newTestSystem(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	echo := actor.BehaviorFunc(func(_ *actor.Context, env message.Envelope) error {
		req := env.Payload.(testMsg)
		return sys.Reply(context.Background(), env, replyMsg{body: "echo: " + req.body})
	})
	addr, err := sys.Spawn("echo", echo)
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}

	resp, err := sys.Request(ctx, addr, testMsg{body: "ping"})
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if got := resp.(replyMsg).body; got != "echo: ping" {
		t.Errorf("Expected 'echo: ping', got %q", got)
	}

	// The private reply endpoint is retired after the call.
	if sys.ActorCount() != 1 {
		t.Errorf("Expected 1 actor after request, got %d", sys.ActorCount())
	}
}

// TestRequestTimeout verifies an unanswered request respects its context.
func TestRequestTimeout(t *testing.T) {
	sys := newTestSystem(t)

	silent := actor.BehaviorFunc(func(*actor.Context, message.Envelope) error {
		return nil
	})
	addr, err := sys.Spawn("silent", silent)
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = sys.Request(ctx, addr, testMsg{body: "anyone there"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Expected DeadlineExceeded, got %v", err)
	}
}

// TestReplyWithoutReplyAddress verifies Reply rejects plain sends.
func TestReplyWithoutReplyAddress(t *testing.T) {
	sys := newTestSystem(t)

	env := message.NewEnvelope(testMsg{})
	err := sys.Reply(context.Background(), env, replyMsg{})
	if !errors.Is(err, ErrNoReplyAddress) {
		t.Fatalf("Expected ErrNoReplyAddress, got %v", err)
	}
}

// TestPublishSubscribe covers topic fan-out through the system front door.
func TestPublishSubscribe(t *testing.T) {
	sys := newTestSystem(t)
	ctx := context.Background()

	chans := make([]chan string, 2)
	for i := range chans {
		chans[i] = make(chan string, 1)
		addr, err := sys.Spawn(fmt.Sprintf("sub-%d", i), collector(chans[i]))
		if err != nil {
			t.Fatalf("Spawn failed: %v", err)
		}
		if err := sys.Subscribe("news", addr); err != nil {
			t.Fatalf("Subscribe failed: %v", err)
		}
	}

	receipt, err := sys.Publish(ctx, "news", testMsg{body: "extra extra"})
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if receipt.Delivered != 2 {
		t.Fatalf("Expected 2 deliveries, got %d", receipt.Delivered)
	}

	for i, ch := range chans {
		select {
		case got := <-ch:
			if got != "extra extra" {
				t.Errorf("Subscriber %d got %q", i, got)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("Subscriber %d never received the publish", i)
		}
	}
}

// TestSupervisedRestart verifies a crashing supervised actor comes back
// under the same name with a fresh identity.
func TestSupervisedRestart(t *testing.T) {
	sys := newTestSystem(t)
	ctx := context.Background()

	var instances atomic.Int32
	crashOnBoom := func() actor.Behavior {
		instances.Add(1)
		return actor.BehaviorFunc(func(_ *actor.Context, env message.Envelope) error {
			if env.Payload.(testMsg).body == "boom" {
				return errors.New("worker exploded")
			}
			return nil
		})
	}

	first, err := sys.SpawnSupervised(SupervisedSpec{
		Name:    "worker",
		Factory: crashOnBoom,
		Restart: supervisor.RestartPermanent(),
	})
	if err != nil {
		t.Fatalf("SpawnSupervised failed: %v", err)
	}

	if err := sys.Send(ctx, first, testMsg{body: "boom"}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for instances.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if instances.Load() < 2 {
		t.Fatal("Supervisor never restarted the crashed actor")
	}

	// The name survives; the actor id does not.
	var second = first
	for time.Now().Before(deadline) {
		if addr, ok := sys.LookupName("worker"); ok && addr.ID() != first.ID() {
			second = addr
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if second.ID() == first.ID() {
		t.Fatal("Restarted actor kept the old identity")
	}
	if second.Name() != "worker" {
		t.Errorf("Restarted actor lost its name: %v", second)
	}

	if err := sys.Send(ctx, second, testMsg{body: "fine"}); err != nil {
		t.Errorf("Send to restarted actor failed: %v", err)
	}
}

// TestEscalationSurfacesOnFatalChannel verifies a restart storm reaches
// FatalErrors once the root supervisor gives up.
func TestEscalationSurfacesOnFatalChannel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Name = "fatal-test"
	cfg.Supervision = supervisor.Options{
		MaxRestarts: 1,
		Window:      time.Minute,
		StopTimeout: time.Second,
	}
	sys, err := New(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("New system failed: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = sys.Shutdown(ctx)
	}()
	ctx := context.Background()

	var instances atomic.Int32
	alwaysCrash := func() actor.Behavior {
		instances.Add(1)
		return actor.BehaviorFunc(func(*actor.Context, message.Envelope) error {
			return errors.New("always broken")
		})
	}

	if _, err := sys.SpawnSupervised(SupervisedSpec{
		Name:    "doomed",
		Factory: alwaysCrash,
		Restart: supervisor.RestartPermanent(),
	}); err != nil {
		t.Fatalf("SpawnSupervised failed: %v", err)
	}

	// Crash the current instance until the limit trips. Sends race with
	// restarts, so misses are retried against the current name holder.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case err := <-sys.FatalErrors():
			if !errors.Is(err, supervisor.ErrTooManyRestarts) {
				t.Fatalf("Expected ErrTooManyRestarts, got %v", err)
			}
			return
		default:
		}
		if addr, ok := sys.LookupName("doomed"); ok {
			_ = sys.Send(ctx, addr, testMsg{body: "poke"})
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("Escalation never reached the fatal channel")
}

// TestShutdownStopsEverything verifies shutdown retires all actors and is
// idempotent.
func TestShutdownStopsEverything(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Name = "shutdown-test"
	sys, err := New(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("New system failed: %v", err)
	}
	ctx := context.Background()

	addr, err := sys.Spawn("worker", actor.BehaviorFunc(func(*actor.Context, message.Envelope) error {
		return nil
	}))
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}
	if _, err := sys.SpawnSupervised(SupervisedSpec{
		Name: "supervised-worker",
		Factory: func() actor.Behavior {
			return actor.BehaviorFunc(func(*actor.Context, message.Envelope) error { return nil })
		},
		Restart: supervisor.RestartPermanent(),
	}); err != nil {
		t.Fatalf("SpawnSupervised failed: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := sys.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if err := sys.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Second shutdown not idempotent: %v", err)
	}

	if sys.ActorCount() != 0 {
		t.Errorf("Expected 0 actors after shutdown, got %d", sys.ActorCount())
	}
	if err := sys.Send(ctx, addr, testMsg{}); !errors.Is(err, broker.ErrActorNotFound) {
		t.Errorf("Expected ErrActorNotFound after shutdown, got %v", err)
	}
	if _, err := sys.Spawn("late", collector(make(chan string, 1))); !errors.Is(err, ErrSystemStopped) {
		t.Errorf("Expected ErrSystemStopped for post-shutdown spawn, got %v", err)
	}
}

// TestMaxActorsLimit verifies the spawn cap.
func TestMaxActorsLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Name = "limit-test"
	cfg.MaxActors = 2
	sys, err := New(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("New system failed: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = sys.Shutdown(ctx)
	}()

	noop := func() actor.Behavior {
		return actor.BehaviorFunc(func(*actor.Context, message.Envelope) error { return nil })
	}
	for i := 0; i < 2; i++ {
		if _, err := sys.Spawn(fmt.Sprintf("a-%d", i), noop()); err != nil {
			t.Fatalf("Spawn %d failed: %v", i, err)
		}
	}
	if _, err := sys.Spawn("overflow", noop()); !errors.Is(err, ErrTooManyActors) {
		t.Fatalf("Expected ErrTooManyActors, got %v", err)
	}
}

// TestSpawnPreStartFailure verifies a failing pre-start leaves no trace.
func TestSpawnPreStartFailure(t *testing.T) {
	sys := newTestSystem(t)

	_, err := sys.Spawn("broken", &failingInit{})
	if err == nil {
		t.Fatal("Expected spawn to fail")
	}
	if sys.ActorCount() != 0 {
		t.Errorf("Failed spawn left %d actors registered", sys.ActorCount())
	}
	if _, ok := sys.LookupName("broken"); ok {
		t.Error("Failed spawn left its name registered")
	}
}

type failingInit struct{}

func (f *failingInit) Receive(*actor.Context, message.Envelope) error { return nil }
func (f *failingInit) PreStart(*actor.Context) error {
	return errors.New("dependencies missing")
}

// TestStats verifies the aggregate counters.
func TestStats(t *testing.T) {
	sys := newTestSystem(t)
	ctx := context.Background()

	received := make(chan string, 4)
	addr, err := sys.Spawn("counted", collector(received))
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := sys.Send(ctx, addr, testMsg{body: "n"}); err != nil {
			t.Fatalf("Send failed: %v", err)
		}
	}
	for i := 0; i < 3; i++ {
		<-received
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if sys.Stats().MessagesHandled >= 3 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	stats := sys.Stats()
	if stats.Actors != 1 {
		t.Errorf("Expected 1 actor, got %d", stats.Actors)
	}
	if stats.MessagesHandled < 3 {
		t.Errorf("Expected at least 3 handled, got %d", stats.MessagesHandled)
	}
}

// TestChildSpawnThroughContext verifies behaviors can spawn children via
// their context.
func TestChildSpawnThroughContext(t *testing.T) {
	sys := newTestSystem(t)
	ctx := context.Background()

	spawned := make(chan error, 1)
	parent := actor.BehaviorFunc(func(actorCtx *actor.Context, _ message.Envelope) error {
		_, err := actorCtx.SpawnChild("offspring", actor.BehaviorFunc(func(*actor.Context, message.Envelope) error {
			return nil
		}))
		spawned <- err
		return nil
	})

	addr, err := sys.Spawn("parent", parent)
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}
	if err := sys.Send(ctx, addr, testMsg{body: "go"}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	select {
	case err := <-spawned:
		if err != nil {
			t.Fatalf("Child spawn failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Parent never processed the spawn request")
	}
	if _, ok := sys.LookupName("offspring"); !ok {
		t.Error("Spawned child not resolvable by name")
	}
}
