package message

import (
	"testing"
	"time"

	"github.com/arborlab/arbor/ids"
)

type plainMsg struct{}

func (plainMsg) MessageType() string { return "test.plain" }

type urgentMsg struct{}

func (urgentMsg) MessageType() string { return "test.urgent" }
func (urgentMsg) Priority() Priority  { return PriorityCritical }
func (urgentMsg) Guarantee() Guarantee {
	return AtLeastOnce
}

func TestPriorityDefaults(t *testing.T) {
	if got := PriorityOf(plainMsg{}); got != PriorityNormal {
		t.Errorf("Expected PriorityNormal for undeclared priority, got %v", got)
	}
	if got := PriorityOf(urgentMsg{}); got != PriorityCritical {
		t.Errorf("Expected declared PriorityCritical, got %v", got)
	}
	if got := GuaranteeOf(plainMsg{}); got != AtMostOnce {
		t.Errorf("Expected AtMostOnce default, got %v", got)
	}
	if got := GuaranteeOf(urgentMsg{}); got != AtLeastOnce {
		t.Errorf("Expected declared AtLeastOnce, got %v", got)
	}
}

func TestEnvelopeCapturesMetadata(t *testing.T) {
	before := time.Now()
	env := NewEnvelope(urgentMsg{})

	if env.MessageType() != "test.urgent" {
		t.Errorf("Wrong message type %q", env.MessageType())
	}
	if env.Priority != PriorityCritical {
		t.Errorf("Envelope did not capture payload priority, got %v", env.Priority)
	}
	if env.Timestamp.Before(before) {
		t.Error("Timestamp predates construction")
	}
	if !env.Sender.IsZero() || !env.ReplyTo.IsZero() {
		t.Error("Fresh envelope should have no sender or reply address")
	}
}

// TestEnvelopeBuildersCopy verifies the With* builders leave the original
// untouched.
func TestEnvelopeBuildersCopy(t *testing.T) {
	original := NewEnvelope(plainMsg{})
	sender := ids.NamedAddress("sender")
	corr := ids.NewMessageID()

	modified := original.
		WithSender(sender).
		WithReplyTo(sender).
		WithCorrelationID(corr)

	if !original.Sender.IsZero() {
		t.Error("WithSender mutated the original envelope")
	}
	if modified.Sender != sender || modified.ReplyTo != sender {
		t.Error("Builder did not set addresses on the copy")
	}
	if modified.CorrelationID != corr {
		t.Error("Builder did not set correlation id on the copy")
	}
	if modified.Priority != original.Priority {
		t.Error("Builders must not disturb the captured priority")
	}
}

func TestEnvelopeExpiry(t *testing.T) {
	env := NewEnvelope(plainMsg{})
	if env.Expired() {
		t.Error("Envelope without deadline must never expire")
	}

	ttl := env.WithTTL(time.Nanosecond)
	time.Sleep(time.Millisecond)
	if !ttl.Expired() {
		t.Error("Envelope past its TTL must report expired")
	}

	future := env.WithDeadline(time.Now().Add(time.Hour))
	if future.Expired() {
		t.Error("Envelope with future deadline must not report expired")
	}
}
