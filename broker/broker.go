// Package broker provides in-process message routing: direct point-to-point
// delivery by address and topic-based publish/subscribe fan-out.
package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/arborlab/arbor/ids"
	"github.com/arborlab/arbor/mailbox"
	"github.com/arborlab/arbor/message"
)

// Broker errors.
var (
	// ErrActorNotFound is returned when the target address has been retired
	// or was never registered.
	ErrActorNotFound = errors.New("actor not found")

	// ErrActorStopped is returned when the target's mailbox is closed.
	ErrActorStopped = errors.New("actor stopped")

	// ErrAlreadyRegistered is returned when an address is registered twice.
	ErrAlreadyRegistered = errors.New("address already registered")
)

// Broker routes envelopes between actors. The routing and subscription
// tables are many-reader structures with serialized writers; no lock is held
// across an enqueue, so a blocking mailbox never stalls unrelated routing.
type Broker struct {
	mu     sync.RWMutex
	routes map[ids.Address]*mailbox.Mailbox
	byKey  map[uint64]*mailbox.Mailbox
	names  map[string]ids.Address
	topics map[string]map[ids.Address]struct{}

	logger zerolog.Logger
}

// New creates an empty broker.
func New(logger zerolog.Logger) *Broker {
	return &Broker{
		routes: make(map[ids.Address]*mailbox.Mailbox),
		byKey:  make(map[uint64]*mailbox.Mailbox),
		names:  make(map[string]ids.Address),
		topics: make(map[string]map[ids.Address]struct{}),
		logger: logger.With().Str("component", "broker").Logger(),
	}
}

// Register makes an address routable. Named addresses are additionally
// entered into the name table; a name can only be held by one live actor.
func (b *Broker) Register(addr ids.Address, mb *mailbox.Mailbox) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.routes[addr]; exists {
		return fmt.Errorf("register %s: %w", addr, ErrAlreadyRegistered)
	}
	if name := addr.Name(); name != "" {
		if _, exists := b.names[name]; exists {
			return fmt.Errorf("register name %q: %w", name, ErrAlreadyRegistered)
		}
		b.names[name] = addr
	}

	b.routes[addr] = mb
	b.byKey[addr.RoutingKey()] = mb
	return nil
}

// Unregister retires an address: it is removed from the routing table, the
// name table and every topic subscription. Messages sent afterwards fail
// with ErrActorNotFound.
func (b *Broker) Unregister(addr ids.Address) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.routes[addr]; !exists {
		return fmt.Errorf("unregister %s: %w", addr, ErrActorNotFound)
	}
	delete(b.routes, addr)
	delete(b.byKey, addr.RoutingKey())
	if name := addr.Name(); name != "" && b.names[name] == addr {
		delete(b.names, name)
	}
	for topic, subs := range b.topics {
		delete(subs, addr)
		if len(subs) == 0 {
			delete(b.topics, topic)
		}
	}
	return nil
}

// LookupName resolves a stable name to the address currently holding it.
func (b *Broker) LookupName(name string) (ids.Address, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	addr, ok := b.names[name]
	return addr, ok
}

// ActorCount returns the number of registered addresses.
func (b *Broker) ActorCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.routes)
}

// DeliverDirect enqueues an envelope into the target's mailbox: one table
// lookup, no topic matching. This is the hot path for known topologies.
// Errors: ErrActorNotFound for retired addresses, ErrActorStopped for closed
// mailboxes, and the mailbox's own backpressure failure otherwise.
func (b *Broker) DeliverDirect(ctx context.Context, target ids.Address, env message.Envelope) error {
	b.mu.RLock()
	mb, ok := b.routes[target]
	b.mu.RUnlock()

	if !ok {
		return fmt.Errorf("deliver to %s: %w", target, ErrActorNotFound)
	}
	return b.enqueue(ctx, target, mb, env)
}

// DeliverByKey is DeliverDirect keyed by a pre-computed routing key, for
// callers that cache keys instead of addresses.
func (b *Broker) DeliverByKey(ctx context.Context, key uint64, env message.Envelope) error {
	b.mu.RLock()
	mb, ok := b.byKey[key]
	b.mu.RUnlock()

	if !ok {
		return fmt.Errorf("deliver by key %d: %w", key, ErrActorNotFound)
	}
	return b.enqueue(ctx, ids.Address{}, mb, env)
}

func (b *Broker) enqueue(ctx context.Context, target ids.Address, mb *mailbox.Mailbox, env message.Envelope) error {
	err := mb.Enqueue(ctx, env)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mailbox.ErrMailboxClosed):
		return fmt.Errorf("deliver to %s: %w", target, ErrActorStopped)
	default:
		return fmt.Errorf("deliver to %s: %w", target, err)
	}
}
