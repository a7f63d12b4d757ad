package system

import (
	"context"
	"fmt"

	"github.com/arborlab/arbor/broker"
	"github.com/arborlab/arbor/ids"
	"github.com/arborlab/arbor/mailbox"
	"github.com/arborlab/arbor/message"
)

// Send delivers a message directly to the target's mailbox. Backpressure
// behavior follows the target mailbox's policy; a blocking enqueue honors
// ctx cancellation.
func (s *System) Send(ctx context.Context, target ids.Address, msg message.Message) error {
	return s.broker.DeliverDirect(ctx, target, message.NewEnvelope(msg))
}

// SendEnvelope delivers a pre-built envelope, for callers that set sender,
// reply-to, deadline or correlation metadata themselves.
func (s *System) SendEnvelope(ctx context.Context, target ids.Address, env message.Envelope) error {
	return s.broker.DeliverDirect(ctx, target, env)
}

// SendNamed resolves a stable name and delivers to the actor holding it.
func (s *System) SendNamed(ctx context.Context, name string, msg message.Message) error {
	addr, ok := s.broker.LookupName(name)
	if !ok {
		return fmt.Errorf("send to %q: %w", name, broker.ErrActorNotFound)
	}
	return s.broker.DeliverDirect(ctx, addr, message.NewEnvelope(msg))
}

// Publish fans a message out to all current subscribers of topic and
// returns a per-subscriber delivery receipt. Publishing to a topic with no
// subscribers succeeds with an empty receipt.
func (s *System) Publish(ctx context.Context, topic string, msg message.Message) (broker.Receipt, error) {
	return s.broker.Publish(ctx, topic, msg)
}

// Subscribe adds the actor at addr to a topic. Delivery starts with the
// next publish; earlier messages are not replayed.
func (s *System) Subscribe(topic string, addr ids.Address) error {
	return s.broker.Subscribe(topic, addr)
}

// Unsubscribe removes the actor at addr from a topic.
func (s *System) Unsubscribe(topic string, addr ids.Address) {
	s.broker.Unsubscribe(topic, addr)
}

// Reply answers a request envelope: the response carries the request's
// correlation id back to its reply address.
func (s *System) Reply(ctx context.Context, req message.Envelope, msg message.Message) error {
	if req.ReplyTo.IsZero() {
		return fmt.Errorf("reply to %s request: %w", req.MessageType(), ErrNoReplyAddress)
	}
	env := message.NewEnvelope(msg).WithCorrelationID(req.CorrelationID)
	return s.broker.DeliverDirect(ctx, req.ReplyTo, env)
}

// Request sends msg to target and blocks until the correlated reply
// arrives or ctx is done. The responder must answer via Reply (or deliver
// to the envelope's reply address with its correlation id). Each call
// registers a private, anonymous reply endpoint that is retired when the
// call returns.
func (s *System) Request(ctx context.Context, target ids.Address, msg message.Message) (message.Message, error) {
	replyAddr := ids.NewAddress()
	replyMb := mailbox.NewBounded(replyMailboxCapacity, mailbox.Error)
	if err := s.broker.Register(replyAddr, replyMb); err != nil {
		return nil, fmt.Errorf("request to %s: %w", target, err)
	}
	defer func() {
		_ = s.broker.Unregister(replyAddr)
		replyMb.Close()
	}()

	corr := ids.NewMessageID()
	env := message.NewEnvelope(msg).
		WithReplyTo(replyAddr).
		WithCorrelationID(corr)

	if err := s.broker.DeliverDirect(ctx, target, env); err != nil {
		return nil, err
	}

	for {
		reply, err := replyMb.Dequeue(ctx)
		if err != nil {
			return nil, fmt.Errorf("request to %s: %w", target, err)
		}
		// A stale or misdirected response does not satisfy the call.
		if reply.CorrelationID != corr {
			s.logger.Warn().
				Str("type", reply.MessageType()).
				Stringer("correlation", reply.CorrelationID).
				Msg("discarding uncorrelated reply")
			continue
		}
		return reply.Payload, nil
	}
}

// replyMailboxCapacity leaves room for stray late responses without letting
// a misbehaving responder pile up unbounded state.
const replyMailboxCapacity = 4
