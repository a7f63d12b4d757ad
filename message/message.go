// Package message defines the message contract and the envelope that wraps
// every payload delivered between actors.
package message

// Priority classifies messages for mailbox backpressure selection and,
// where a mailbox supports it, processing order.
type Priority uint8

const (
	// PriorityLow is for background work that can be deferred or dropped.
	PriorityLow Priority = iota

	// PriorityNormal is the default for routine messages.
	PriorityNormal

	// PriorityHigh is for time-sensitive messages.
	PriorityHigh

	// PriorityCritical is reserved for system messages such as shutdown
	// signals and supervisor commands.
	PriorityCritical
)

// String returns the string representation of Priority.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Guarantee is the advisory delivery guarantee declared by a message type.
// It is consumed by mailbox/broker policy selection, not enforced by the
// message itself.
type Guarantee uint8

const (
	// AtMostOnce messages may be dropped under backpressure.
	AtMostOnce Guarantee = iota

	// AtLeastOnce messages should not be silently discarded.
	AtLeastOnce

	// ExactlyOnce is carried for completeness; in-process delivery does not
	// deduplicate, so it behaves like AtLeastOnce.
	ExactlyOnce
)

// String returns the string representation of Guarantee.
func (g Guarantee) String() string {
	switch g {
	case AtMostOnce:
		return "at-most-once"
	case AtLeastOnce:
		return "at-least-once"
	case ExactlyOnce:
		return "exactly-once"
	default:
		return "unknown"
	}
}

// Message is the contract every payload delivered through the runtime must
// implement. Payloads must be safe to share: the same logical message may be
// re-queued or fanned out to multiple subscribers, so implementations should
// be immutable or independently copyable.
type Message interface {
	// MessageType returns a stable type identifier used for routing keys
	// and logging. It should be constant per concrete type.
	MessageType() string
}

// Prioritized is optionally implemented by messages that want a non-default
// priority class.
type Prioritized interface {
	Priority() Priority
}

// Guaranteed is optionally implemented by messages that declare a default
// delivery guarantee.
type Guaranteed interface {
	Guarantee() Guarantee
}

// PriorityOf returns the declared priority of msg, or PriorityNormal.
func PriorityOf(msg Message) Priority {
	if p, ok := msg.(Prioritized); ok {
		return p.Priority()
	}
	return PriorityNormal
}

// GuaranteeOf returns the declared delivery guarantee of msg, or AtMostOnce.
func GuaranteeOf(msg Message) Guarantee {
	if g, ok := msg.(Guaranteed); ok {
		return g.Guarantee()
	}
	return AtMostOnce
}
