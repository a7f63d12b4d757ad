// Package mailbox implements the per-actor FIFO message queue with
// configurable capacity and backpressure behavior.
package mailbox

import (
	"context"
	"errors"
	"sync"

	"github.com/arborlab/arbor/message"
)

// Mailbox errors.
var (
	// ErrMailboxFull is returned by Enqueue under the Error policy when a
	// bounded mailbox is at capacity.
	ErrMailboxFull = errors.New("mailbox is full")

	// ErrMailboxClosed is returned when operating on a closed mailbox.
	// Enqueue on a closed mailbox never silently succeeds.
	ErrMailboxClosed = errors.New("mailbox is closed")

	// ErrMailboxEmpty is returned by TryDequeue when no envelope is queued.
	ErrMailboxEmpty = errors.New("mailbox is empty")
)

// BackpressurePolicy controls what Enqueue does when a bounded mailbox is
// full. It has no effect on unbounded mailboxes.
type BackpressurePolicy uint8

const (
	// Block suspends the caller until capacity frees or the mailbox closes.
	Block BackpressurePolicy = iota

	// Drop silently discards the incoming envelope. Note this drops the
	// newest message, not the oldest; drop-oldest would require eviction
	// from the queue head, which this policy does not do.
	Drop

	// Error returns ErrMailboxFull immediately, leaving disposal to the
	// caller.
	Error
)

// String returns the string representation of BackpressurePolicy.
func (p BackpressurePolicy) String() string {
	switch p {
	case Block:
		return "block"
	case Drop:
		return "drop"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// PolicyForPriority returns the conventional default policy for a message
// priority class: Critical/High block, Normal errors, Low drops. Callers may
// override per mailbox.
func PolicyForPriority(p message.Priority) BackpressurePolicy {
	switch p {
	case message.PriorityCritical, message.PriorityHigh:
		return Block
	case message.PriorityLow:
		return Drop
	default:
		return Error
	}
}

// Options configures a mailbox at construction time.
type Options struct {
	// Capacity bounds the queue; zero means unbounded.
	Capacity int

	// Policy applies when a bounded mailbox is full.
	Policy BackpressurePolicy
}

// Mailbox is a FIFO queue owned by exactly one actor instance: many senders,
// a single consumer. Delivery order equals enqueue order per sender.
type Mailbox struct {
	mu       sync.Mutex
	queue    *ring
	capacity int
	policy   BackpressurePolicy
	closed   bool

	// Broadcast channels, closed and replaced on state changes so any
	// number of waiters can re-check under the lock.
	itemWait  chan struct{}
	spaceWait chan struct{}

	stats Stats
}

// New creates a mailbox. A zero Capacity yields an unbounded queue.
func New(opts Options) *Mailbox {
	hint := opts.Capacity
	if hint <= 0 || hint > 1024 {
		hint = 0
	}
	return &Mailbox{
		queue:     newRing(hint),
		capacity:  opts.Capacity,
		policy:    opts.Policy,
		itemWait:  make(chan struct{}),
		spaceWait: make(chan struct{}),
	}
}

// NewUnbounded creates an unbounded mailbox.
func NewUnbounded() *Mailbox {
	return New(Options{})
}

// NewBounded creates a bounded mailbox of the given capacity and policy.
func NewBounded(capacity int, policy BackpressurePolicy) *Mailbox {
	return New(Options{Capacity: capacity, Policy: policy})
}

// Capacity returns the configured capacity; zero means unbounded.
func (m *Mailbox) Capacity() int {
	return m.capacity
}

// Policy returns the configured backpressure policy.
func (m *Mailbox) Policy() BackpressurePolicy {
	return m.policy
}

// Len returns the number of queued envelopes.
func (m *Mailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queue.len()
}

// Enqueue appends an envelope to the queue. On a full bounded mailbox the
// configured policy applies: Block suspends until space frees or ctx is
// canceled, Drop discards the envelope, Error returns ErrMailboxFull.
// Enqueue on a closed mailbox always fails with ErrMailboxClosed.
func (m *Mailbox) Enqueue(ctx context.Context, env message.Envelope) error {
	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return ErrMailboxClosed
		}

		if m.capacity <= 0 || m.queue.len() < m.capacity {
			m.queue.push(env)
			m.stats.recordEnqueue()
			m.wakeItemWaiters()
			m.mu.Unlock()
			return nil
		}

		switch m.policy {
		case Error:
			m.mu.Unlock()
			return ErrMailboxFull
		case Drop:
			m.stats.recordDrop()
			m.mu.Unlock()
			return nil
		}

		// Block: wait for the consumer to free capacity, then retry.
		wait := m.spaceWait
		m.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Dequeue removes and returns the oldest envelope, suspending the caller
// until one is available, the mailbox is closed, or ctx is canceled. A closed
// empty mailbox returns ErrMailboxClosed.
func (m *Mailbox) Dequeue(ctx context.Context) (message.Envelope, error) {
	for {
		m.mu.Lock()
		if m.queue.len() > 0 {
			env := m.queue.pop()
			m.stats.recordDequeue()
			m.wakeSpaceWaiters()
			m.mu.Unlock()
			return env, nil
		}
		if m.closed {
			m.mu.Unlock()
			return message.Envelope{}, ErrMailboxClosed
		}

		wait := m.itemWait
		m.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return message.Envelope{}, ctx.Err()
		}
	}
}

// TryDequeue removes and returns the oldest envelope without blocking.
func (m *Mailbox) TryDequeue() (message.Envelope, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.queue.len() > 0 {
		env := m.queue.pop()
		m.stats.recordDequeue()
		m.wakeSpaceWaiters()
		return env, nil
	}
	if m.closed {
		return message.Envelope{}, ErrMailboxClosed
	}
	return message.Envelope{}, ErrMailboxEmpty
}

// Close marks the mailbox closed, wakes all waiters and discards any queued
// envelopes. It returns the number of envelopes dropped so the caller can log
// the loss. Close is idempotent.
func (m *Mailbox) Close() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0
	}
	m.closed = true

	dropped := m.queue.reset()
	for i := 0; i < dropped; i++ {
		m.stats.recordDrop()
	}

	m.wakeItemWaiters()
	m.wakeSpaceWaiters()
	return dropped
}

// Closed reports whether the mailbox has been closed.
func (m *Mailbox) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Stats returns a snapshot of the mailbox counters.
func (m *Mailbox) Stats() StatsSnapshot {
	m.mu.Lock()
	depth := m.queue.len()
	m.mu.Unlock()
	return m.stats.snapshot(depth)
}

// wakeItemWaiters must be called with m.mu held.
func (m *Mailbox) wakeItemWaiters() {
	close(m.itemWait)
	m.itemWait = make(chan struct{})
}

// wakeSpaceWaiters must be called with m.mu held.
func (m *Mailbox) wakeSpaceWaiters() {
	close(m.spaceWait)
	m.spaceWait = make(chan struct{})
}
