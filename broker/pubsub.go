package broker

import (
	"context"
	"fmt"

	"github.com/arborlab/arbor/ids"
	"github.com/arborlab/arbor/mailbox"
	"github.com/arborlab/arbor/message"
)

// FailedDelivery records one subscriber the publish could not reach.
type FailedDelivery struct {
	Address ids.Address
	Err     error
}

// Receipt summarizes one publish: how many subscribers were targeted and how
// delivery went for each. Publishing to a topic with no subscribers is a
// trivial success.
type Receipt struct {
	Topic       string
	Subscribers int
	Delivered   int
	Failed      []FailedDelivery
}

// Subscribe adds a registered address to a topic. The change takes effect
// for the next publish; an in-flight publish keeps its snapshot.
func (b *Broker) Subscribe(topic string, addr ids.Address) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.routes[addr]; !exists {
		return fmt.Errorf("subscribe %s to %q: %w", addr, topic, ErrActorNotFound)
	}
	subs, ok := b.topics[topic]
	if !ok {
		subs = make(map[ids.Address]struct{})
		b.topics[topic] = subs
	}
	subs[addr] = struct{}{}
	return nil
}

// Unsubscribe removes an address from a topic. Unsubscribing an address that
// is not subscribed is a no-op.
func (b *Broker) Unsubscribe(topic string, addr ids.Address) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if subs, ok := b.topics[topic]; ok {
		delete(subs, addr)
		if len(subs) == 0 {
			delete(b.topics, topic)
		}
	}
}

// SubscriberCount returns the current number of subscribers for a topic.
func (b *Broker) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}

// Publish fans a message out to every subscriber registered at the time of
// the call. Fan-out delivery to each subscriber is independent; per-subscriber
// failures are collected in the receipt rather than aborting the publish.
func (b *Broker) Publish(ctx context.Context, topic string, msg message.Message) (Receipt, error) {
	env := message.NewEnvelope(msg)
	return b.PublishEnvelope(ctx, topic, env)
}

// PublishEnvelope is Publish for a pre-built envelope, preserving its sender
// and correlation metadata across the fan-out.
func (b *Broker) PublishEnvelope(ctx context.Context, topic string, env message.Envelope) (Receipt, error) {
	// Snapshot the subscriber set so enqueues run without the lock and
	// subscription changes only affect the next publish.
	b.mu.RLock()
	targets := make([]ids.Address, 0, len(b.topics[topic]))
	for addr := range b.topics[topic] {
		targets = append(targets, addr)
	}
	mailboxes := make([]*mailboxRef, 0, len(targets))
	for _, addr := range targets {
		if mb, ok := b.routes[addr]; ok {
			mailboxes = append(mailboxes, &mailboxRef{addr: addr, mb: mb})
		}
	}
	b.mu.RUnlock()

	receipt := Receipt{Topic: topic, Subscribers: len(mailboxes)}
	for _, ref := range mailboxes {
		if err := b.enqueue(ctx, ref.addr, ref.mb, env); err != nil {
			receipt.Failed = append(receipt.Failed, FailedDelivery{Address: ref.addr, Err: err})
			continue
		}
		receipt.Delivered++
	}

	if len(receipt.Failed) > 0 {
		b.logger.Warn().
			Str("topic", topic).
			Int("failed", len(receipt.Failed)).
			Int("delivered", receipt.Delivered).
			Msg("partial publish delivery")
	}
	return receipt, nil
}

type mailboxRef struct {
	addr ids.Address
	mb   *mailbox.Mailbox
}
