package broker

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/arborlab/arbor/ids"
	"github.com/arborlab/arbor/mailbox"
	"github.com/arborlab/arbor/message"
)

type testMsg struct {
	body string
}

func (testMsg) MessageType() string { return "test.msg" }

func newTestBroker() *Broker {
	return New(zerolog.Nop())
}

// TestRegisterAndDeliver covers the direct delivery hot path.
func TestRegisterAndDeliver(t *testing.T) {
	b := newTestBroker()
	ctx := context.Background()

	addr := ids.NamedAddress("target")
	mb := mailbox.NewUnbounded()
	if err := b.Register(addr, mb); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if err := b.DeliverDirect(ctx, addr, message.NewEnvelope(testMsg{body: "hi"})); err != nil {
		t.Fatalf("DeliverDirect failed: %v", err)
	}

	env, err := mb.TryDequeue()
	if err != nil {
		t.Fatalf("Message not in mailbox: %v", err)
	}
	if env.Payload.(testMsg).body != "hi" {
		t.Errorf("Wrong payload delivered")
	}
}

// TestDeliverUnknownAddress verifies ErrActorNotFound for unregistered and
// retired addresses.
func TestDeliverUnknownAddress(t *testing.T) {
	b := newTestBroker()
	ctx := context.Background()

	err := b.DeliverDirect(ctx, ids.NewAddress(), message.NewEnvelope(testMsg{}))
	if !errors.Is(err, ErrActorNotFound) {
		t.Fatalf("Expected ErrActorNotFound, got %v", err)
	}

	addr := ids.NewAddress()
	if err := b.Register(addr, mailbox.NewUnbounded()); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := b.Unregister(addr); err != nil {
		t.Fatalf("Unregister failed: %v", err)
	}
	err = b.DeliverDirect(ctx, addr, message.NewEnvelope(testMsg{}))
	if !errors.Is(err, ErrActorNotFound) {
		t.Fatalf("Expected ErrActorNotFound after retirement, got %v", err)
	}
}

// TestDeliverToStoppedActor verifies closed mailboxes map to
// ErrActorStopped.
func TestDeliverToStoppedActor(t *testing.T) {
	b := newTestBroker()
	addr := ids.NewAddress()
	mb := mailbox.NewUnbounded()
	if err := b.Register(addr, mb); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	mb.Close()

	err := b.DeliverDirect(context.Background(), addr, message.NewEnvelope(testMsg{}))
	if !errors.Is(err, ErrActorStopped) {
		t.Fatalf("Expected ErrActorStopped, got %v", err)
	}
}

// TestNameUniqueness verifies one live holder per name.
func TestNameUniqueness(t *testing.T) {
	b := newTestBroker()

	first := ids.NamedAddress("singleton")
	if err := b.Register(first, mailbox.NewUnbounded()); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	second := ids.NamedAddress("singleton")
	err := b.Register(second, mailbox.NewUnbounded())
	if !errors.Is(err, ErrAlreadyRegistered) {
		t.Fatalf("Expected ErrAlreadyRegistered for duplicate name, got %v", err)
	}

	// The name frees up once its holder retires.
	if err := b.Unregister(first); err != nil {
		t.Fatalf("Unregister failed: %v", err)
	}
	if err := b.Register(second, mailbox.NewUnbounded()); err != nil {
		t.Fatalf("Register after name freed failed: %v", err)
	}

	got, ok := b.LookupName("singleton")
	if !ok || got != second {
		t.Errorf("LookupName resolved to %v, want %v", got, second)
	}
}

// TestDeliverByKey covers routing by pre-computed key.
func TestDeliverByKey(t *testing.T) {
	b := newTestBroker()
	addr := ids.NewAddress()
	mb := mailbox.NewUnbounded()
	if err := b.Register(addr, mb); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if err := b.DeliverByKey(context.Background(), addr.RoutingKey(), message.NewEnvelope(testMsg{body: "keyed"})); err != nil {
		t.Fatalf("DeliverByKey failed: %v", err)
	}
	if _, err := mb.TryDequeue(); err != nil {
		t.Fatalf("Keyed delivery missing: %v", err)
	}

	err := b.DeliverByKey(context.Background(), 0xdead, message.NewEnvelope(testMsg{}))
	if !errors.Is(err, ErrActorNotFound) {
		t.Fatalf("Expected ErrActorNotFound for unknown key, got %v", err)
	}
}

// TestPublishFanOut verifies every subscriber receives the message and the
// receipt accounts for all of them.
func TestPublishFanOut(t *testing.T) {
	b := newTestBroker()
	ctx := context.Background()

	boxes := make([]*mailbox.Mailbox, 3)
	for i := range boxes {
		addr := ids.NewAddress()
		boxes[i] = mailbox.NewUnbounded()
		if err := b.Register(addr, boxes[i]); err != nil {
			t.Fatalf("Register failed: %v", err)
		}
		if err := b.Subscribe("events", addr); err != nil {
			t.Fatalf("Subscribe failed: %v", err)
		}
	}

	receipt, err := b.Publish(ctx, "events", testMsg{body: "fan"})
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if receipt.Subscribers != 3 || receipt.Delivered != 3 {
		t.Fatalf("Expected 3/3 delivery, got %d/%d", receipt.Delivered, receipt.Subscribers)
	}
	if len(receipt.Failed) != 0 {
		t.Fatalf("Unexpected failures: %v", receipt.Failed)
	}

	for i, mb := range boxes {
		if _, err := mb.TryDequeue(); err != nil {
			t.Errorf("Subscriber %d missing message: %v", i, err)
		}
	}
}

// TestPublishNoSubscribers verifies zero-subscriber publish succeeds.
func TestPublishNoSubscribers(t *testing.T) {
	b := newTestBroker()

	receipt, err := b.Publish(context.Background(), "empty", testMsg{})
	if err != nil {
		t.Fatalf("Publish to empty topic failed: %v", err)
	}
	if receipt.Subscribers != 0 || receipt.Delivered != 0 {
		t.Errorf("Expected empty receipt, got %+v", receipt)
	}
}

// TestPublishPartialFailure verifies one bad subscriber does not abort the
// fan-out.
func TestPublishPartialFailure(t *testing.T) {
	b := newTestBroker()
	ctx := context.Background()

	good := ids.NewAddress()
	goodMb := mailbox.NewUnbounded()
	if err := b.Register(good, goodMb); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	bad := ids.NewAddress()
	badMb := mailbox.NewBounded(1, mailbox.Error)
	if err := b.Register(bad, badMb); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	for _, addr := range []ids.Address{good, bad} {
		if err := b.Subscribe("mixed", addr); err != nil {
			t.Fatalf("Subscribe failed: %v", err)
		}
	}

	// Fill the bad subscriber's mailbox so the publish overflows it.
	if err := badMb.Enqueue(ctx, message.NewEnvelope(testMsg{})); err != nil {
		t.Fatalf("Priming enqueue failed: %v", err)
	}

	receipt, err := b.Publish(ctx, "mixed", testMsg{body: "partial"})
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if receipt.Delivered != 1 {
		t.Errorf("Expected 1 delivered, got %d", receipt.Delivered)
	}
	if len(receipt.Failed) != 1 || receipt.Failed[0].Address != bad {
		t.Errorf("Expected exactly the bad subscriber to fail, got %v", receipt.Failed)
	}
	if !errors.Is(receipt.Failed[0].Err, mailbox.ErrMailboxFull) {
		t.Errorf("Expected ErrMailboxFull in receipt, got %v", receipt.Failed[0].Err)
	}
}

// TestUnsubscribe verifies next-publish visibility of subscription changes.
func TestUnsubscribe(t *testing.T) {
	b := newTestBroker()
	ctx := context.Background()

	addr := ids.NewAddress()
	mb := mailbox.NewUnbounded()
	if err := b.Register(addr, mb); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := b.Subscribe("topic", addr); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if got := b.SubscriberCount("topic"); got != 1 {
		t.Fatalf("Expected 1 subscriber, got %d", got)
	}

	b.Unsubscribe("topic", addr)
	if got := b.SubscriberCount("topic"); got != 0 {
		t.Fatalf("Expected 0 subscribers, got %d", got)
	}

	receipt, err := b.Publish(ctx, "topic", testMsg{})
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if receipt.Subscribers != 0 {
		t.Errorf("Unsubscribed actor still targeted: %+v", receipt)
	}

	// Unsubscribing twice is a no-op.
	b.Unsubscribe("topic", addr)
}

// TestSubscribeRequiresRegistration verifies only routable actors can
// subscribe.
func TestSubscribeRequiresRegistration(t *testing.T) {
	b := newTestBroker()
	err := b.Subscribe("topic", ids.NewAddress())
	if !errors.Is(err, ErrActorNotFound) {
		t.Fatalf("Expected ErrActorNotFound, got %v", err)
	}
}

// TestUnregisterClearsSubscriptions verifies retirement drops topic
// membership.
func TestUnregisterClearsSubscriptions(t *testing.T) {
	b := newTestBroker()

	addr := ids.NewAddress()
	if err := b.Register(addr, mailbox.NewUnbounded()); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := b.Subscribe("a", addr); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if err := b.Subscribe("b", addr); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	if err := b.Unregister(addr); err != nil {
		t.Fatalf("Unregister failed: %v", err)
	}
	if b.SubscriberCount("a") != 0 || b.SubscriberCount("b") != 0 {
		t.Error("Retired address still subscribed")
	}
	if b.ActorCount() != 0 {
		t.Errorf("Expected 0 actors, got %d", b.ActorCount())
	}
}
