package message

import (
	"time"

	"github.com/arborlab/arbor/ids"
)

// Envelope wraps a message payload with its delivery metadata. Envelopes are
// immutable once constructed; the With* builders return modified copies.
type Envelope struct {
	// Payload is the wrapped message.
	Payload Message

	// Sender is the address of the sending actor, if any.
	Sender ids.Address

	// ReplyTo is the address replies should be delivered to, if any.
	ReplyTo ids.Address

	// Timestamp records envelope creation time.
	Timestamp time.Time

	// CorrelationID pairs a request with its reply. Zero when unused.
	CorrelationID ids.MessageID

	// Priority is extracted from the payload at construction time.
	Priority Priority

	// Deadline is the delivery deadline; zero means no deadline.
	Deadline time.Time
}

// NewEnvelope wraps a payload, stamping it with the current time and the
// payload's declared priority.
func NewEnvelope(payload Message) Envelope {
	return Envelope{
		Payload:   payload,
		Timestamp: time.Now(),
		Priority:  PriorityOf(payload),
	}
}

// WithSender returns a copy of the envelope with the sender address set.
func (e Envelope) WithSender(sender ids.Address) Envelope {
	e.Sender = sender
	return e
}

// WithReplyTo returns a copy of the envelope with the reply address set.
func (e Envelope) WithReplyTo(replyTo ids.Address) Envelope {
	e.ReplyTo = replyTo
	return e
}

// WithCorrelationID returns a copy of the envelope with the correlation id set.
func (e Envelope) WithCorrelationID(id ids.MessageID) Envelope {
	e.CorrelationID = id
	return e
}

// WithDeadline returns a copy of the envelope with a delivery deadline.
func (e Envelope) WithDeadline(deadline time.Time) Envelope {
	e.Deadline = deadline
	return e
}

// WithTTL returns a copy of the envelope whose deadline is now+ttl.
func (e Envelope) WithTTL(ttl time.Duration) Envelope {
	e.Deadline = e.Timestamp.Add(ttl)
	return e
}

// Expired reports whether the envelope's deadline has passed. Envelopes
// without a deadline never expire.
func (e Envelope) Expired() bool {
	if e.Deadline.IsZero() {
		return false
	}
	return time.Now().After(e.Deadline)
}

// MessageType returns the payload's type identifier.
func (e Envelope) MessageType() string {
	return e.Payload.MessageType()
}
