package actor

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/arborlab/arbor/ids"
	"github.com/arborlab/arbor/mailbox"
	"github.com/arborlab/arbor/message"
)

// ExitReport describes how a process terminated. Err is nil for a normal
// stop; otherwise Directive carries the behavior's classification of the
// fault.
type ExitReport struct {
	Address   ids.Address
	Err       error
	Directive Directive
}

// Abnormal reports whether the process exited with a fault.
func (r ExitReport) Abnormal() bool {
	return r.Err != nil
}

// ExitHandler receives the exit report of a process, typically the owning
// supervisor's failure-handling entry point.
type ExitHandler func(report ExitReport)

// Process drives a single actor: it owns the mailbox, runs the lifecycle
// state machine, and invokes the behavior one envelope at a time.
type Process struct {
	address   ids.Address
	behavior  Behavior
	mailbox   *mailbox.Mailbox
	lifecycle *Lifecycle
	context   *Context
	logger    zerolog.Logger
	onExit    ExitHandler

	cancel   context.CancelFunc
	done     chan struct{}
	doneOnce sync.Once
	stopOnce sync.Once
}

// NewProcess creates a process for the given behavior. The mailbox must be
// owned exclusively by this process. onExit may be nil for unsupervised
// actors; spawner may be nil for actors that never spawn children.
func NewProcess(address ids.Address, behavior Behavior, mb *mailbox.Mailbox, logger zerolog.Logger, spawner ChildSpawner, onExit ExitHandler) *Process {
	return &Process{
		address:   address,
		behavior:  behavior,
		mailbox:   mb,
		lifecycle: NewLifecycle(),
		context:   NewContext(address, logger, spawner),
		logger:    logger.With().Stringer("actor", address).Logger(),
		onExit:    onExit,
		done:      make(chan struct{}),
	}
}

// Address returns the process address.
func (p *Process) Address() ids.Address {
	return p.address
}

// State returns the current lifecycle state.
func (p *Process) State() State {
	return p.lifecycle.State()
}

// Mailbox returns the process mailbox, for enqueue-side registration.
func (p *Process) Mailbox() *mailbox.Mailbox {
	return p.mailbox
}

// Context returns the actor context, mainly for stats inspection.
func (p *Process) Context() *Context {
	return p.context
}

// Done is closed once the process has fully stopped or failed.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Start runs the pre-start hook and launches the message loop. A pre-start
// failure aborts the spawn: the mailbox is closed and an error returned.
// Start must be called at most once.
func (p *Process) Start(ctx context.Context) error {
	if !p.lifecycle.TransitionTo(StateStarting) {
		return fmt.Errorf("actor %s cannot start from state %s", p.address, p.lifecycle.State())
	}

	if err := p.preStart(); err != nil {
		p.lifecycle.TransitionTo(StateFailed)
		p.mailbox.Close()
		p.closeDone()
		return fmt.Errorf("actor %s init failed: %w", p.address, err)
	}

	p.lifecycle.TransitionTo(StateRunning)

	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	go p.run(loopCtx)

	p.logger.Debug().Msg("actor started")
	return nil
}

// Stop requests a cooperative stop and waits for the process to finish, up
// to ctx's deadline. The in-flight handler always completes; a non-response
// within the deadline is returned as an error for the caller to escalate.
func (p *Process) Stop(ctx context.Context) error {
	p.context.RequestStop()
	p.stopOnce.Do(func() {
		if p.cancel != nil {
			p.cancel()
		} else {
			// Never started, or the spawn aborted in pre-start: finalize
			// directly. An aborted spawn moves from failed to stopped here.
			p.lifecycle.TransitionTo(StateStopping)
			p.mailbox.Close()
			p.lifecycle.TransitionTo(StateStopped)
			p.closeDone()
		}
	})

	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("actor %s did not stop within grace period: %w", p.address, ctx.Err())
	}
}

// run is the message loop: dequeue, handle, repeat. It exits on cooperative
// stop, loop-context cancellation, mailbox close, or a fault the behavior
// does not resume from.
func (p *Process) run(ctx context.Context) {
	for {
		if p.context.StopRequested() {
			p.finishStop(nil)
			return
		}

		env, err := p.mailbox.Dequeue(ctx)
		if err != nil {
			// Closed mailbox or canceled context both mean shutdown.
			p.finishStop(nil)
			return
		}

		if env.Expired() {
			p.logger.Debug().Str("type", env.MessageType()).Msg("dropping expired envelope")
			continue
		}

		handlerErr := p.invoke(env)
		if handlerErr == nil {
			continue
		}

		directive := DirectiveFor(p.behavior, handlerErr)
		switch directive {
		case DirectiveResume:
			p.logger.Warn().Err(handlerErr).Msg("handler error resumed")
		case DirectiveStop:
			p.finishStop(nil)
			return
		default: // DirectiveRestart, DirectiveEscalate
			p.finishFail(handlerErr, directive)
			return
		}
	}
}

// invoke runs the behavior for one envelope, converting panics into errors.
func (p *Process) invoke(env message.Envelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	p.context.RecordMessage()
	return p.behavior.Receive(p.context, env)
}

// finishStop performs the normal Stopping -> Stopped path.
func (p *Process) finishStop(err error) {
	p.lifecycle.TransitionTo(StateStopping)

	if dropped := p.mailbox.Close(); dropped > 0 {
		p.logger.Warn().Int("dropped", dropped).Msg("unprocessed messages dropped at stop")
	}
	p.postStop()

	p.lifecycle.TransitionTo(StateStopped)
	p.logger.Debug().Msg("actor stopped")
	p.closeDone()

	if p.onExit != nil {
		p.onExit(ExitReport{Address: p.address, Err: err, Directive: DirectiveStop})
	}
}

// finishFail records the fault and reports it to the owner without entering
// the terminal Stopped state; the supervisor decides what happens next.
func (p *Process) finishFail(err error, directive Directive) {
	p.lifecycle.TransitionTo(StateFailed)

	if dropped := p.mailbox.Close(); dropped > 0 {
		p.logger.Warn().Int("dropped", dropped).Msg("unprocessed messages dropped at failure")
	}
	p.postStop()

	p.logger.Error().Err(err).Stringer("directive", directive).Msg("actor failed")
	p.closeDone()

	if p.onExit != nil {
		p.onExit(ExitReport{Address: p.address, Err: err, Directive: directive})
	}
}

// closeDone marks the process finished. It may be reached both from a failed
// Start and from a later defensive Stop, so the close is guarded.
func (p *Process) closeDone() {
	p.doneOnce.Do(func() { close(p.done) })
}

func (p *Process) preStart() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pre-start panic: %v", r)
		}
	}()

	if ps, ok := p.behavior.(PreStarter); ok {
		return ps.PreStart(p.context)
	}
	return nil
}

func (p *Process) postStop() {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().Interface("panic", r).Msg("post-stop hook panicked")
		}
	}()

	if ps, ok := p.behavior.(PostStopper); ok {
		if err := ps.PostStop(p.context); err != nil {
			p.logger.Warn().Err(err).Msg("post-stop hook failed")
		}
	}
}
