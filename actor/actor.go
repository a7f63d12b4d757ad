// Package actor defines the behavior contract, the actor context, and the
// process loop that drives a single actor's lifecycle.
package actor

import "github.com/arborlab/arbor/message"

// Behavior is the user-supplied state machine of an actor. Receive is invoked
// for one envelope at a time; no two invocations for the same actor ever
// overlap, so implementations need no internal locking for actor-owned state.
type Behavior interface {
	// Receive processes a single envelope. Returning an error routes the
	// failure through the actor's error directive (see ErrorDirector).
	Receive(ctx *Context, env message.Envelope) error
}

// BehaviorFunc adapts a plain function to the Behavior interface.
type BehaviorFunc func(ctx *Context, env message.Envelope) error

// Receive implements Behavior.
func (f BehaviorFunc) Receive(ctx *Context, env message.Envelope) error {
	return f(ctx, env)
}

// PreStarter is optionally implemented by behaviors that need setup before
// the first message. A PreStart error aborts the spawn.
type PreStarter interface {
	PreStart(ctx *Context) error
}

// PostStopper is optionally implemented by behaviors that need teardown
// after the last message.
type PostStopper interface {
	PostStop(ctx *Context) error
}

// Directive tells the runtime how to react to a handler error.
type Directive uint8

const (
	// DirectiveEscalate propagates the failure to the owning supervisor for
	// strategy-level handling. This is the default.
	DirectiveEscalate Directive = iota

	// DirectiveResume discards the error and continues with the next
	// message.
	DirectiveResume

	// DirectiveRestart asks the owning supervisor to tear down and recreate
	// this actor.
	DirectiveRestart

	// DirectiveStop terminates this actor only, as a normal exit.
	DirectiveStop
)

// String returns the string representation of Directive.
func (d Directive) String() string {
	switch d {
	case DirectiveResume:
		return "resume"
	case DirectiveRestart:
		return "restart"
	case DirectiveStop:
		return "stop"
	case DirectiveEscalate:
		return "escalate"
	default:
		return "unknown"
	}
}

// ErrorDirector is optionally implemented by behaviors that want to classify
// their own handler errors. Behaviors without it escalate every error.
type ErrorDirector interface {
	OnError(err error) Directive
}

// DirectiveFor returns the behavior's directive for err, or
// DirectiveEscalate when the behavior has no OnError hook.
func DirectiveFor(b Behavior, err error) Directive {
	if d, ok := b.(ErrorDirector); ok {
		return d.OnError(err)
	}
	return DirectiveEscalate
}
