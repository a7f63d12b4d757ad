package system

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arborlab/arbor/actor"
	"github.com/arborlab/arbor/ids"
	"github.com/arborlab/arbor/supervisor"
)

// SupervisedSpec describes a supervised actor slot. The name doubles as the
// child slot id and the actor's stable routable name; each restart mints a
// fresh actor id behind the same name.
type SupervisedSpec struct {
	// Name is the stable slot id and actor name. Required, unique.
	Name string

	// Factory builds a fresh behavior per start or restart. State that must
	// survive restarts belongs outside the behavior.
	Factory func() actor.Behavior

	// Restart is the per-child restart policy.
	Restart supervisor.RestartPolicy

	// StopTimeout bounds graceful stop for this child; zero uses the
	// supervisor default.
	StopTimeout time.Duration

	// HealthCheck optionally probes the actor; a committed Unhealthy result
	// restarts it through the normal failure path.
	HealthCheck *supervisor.HealthCheck

	// Mailbox customizes the actor's mailbox.
	Mailbox []SpawnOption
}

// SpawnSupervised creates an actor under the root supervisor and returns
// the address of its first instance. After a restart the slot's current
// address is resolvable via LookupName(spec.Name).
func (s *System) SpawnSupervised(spec SupervisedSpec) (ids.Address, error) {
	if spec.Name == "" {
		return ids.Address{}, fmt.Errorf("%w: supervised spec needs a name", supervisor.ErrChildStartFailed)
	}
	if spec.Factory == nil {
		return ids.Address{}, fmt.Errorf("%w: supervised spec %q needs a factory", supervisor.ErrChildStartFailed, spec.Name)
	}

	child := &actorChild{
		sys:     s,
		name:    spec.Name,
		factory: spec.Factory,
		mailbox: s.resolveSpawn(spec.Mailbox),
	}

	err := s.root.StartChild(s.baseCtx, supervisor.ChildSpec{
		ID: spec.Name,
		Factory: func() (supervisor.Child, error) {
			return child, nil
		},
		Restart:     spec.Restart,
		StopTimeout: spec.StopTimeout,
		HealthCheck: spec.HealthCheck,
	})
	if err != nil {
		return ids.Address{}, err
	}
	return child.address(), nil
}

// actorChild adapts an actor process to the supervisor's Child contract.
// The same value is reused across restarts; every Start builds a fresh
// process, behavior and address.
type actorChild struct {
	sys     *System
	name    string
	factory func() actor.Behavior
	mailbox spawnConfig

	mu       sync.Mutex
	proc     *actor.Process
	suppress *atomic.Bool
}

func (c *actorChild) address() ids.Address {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.proc == nil {
		return ids.Address{}
	}
	return c.proc.Address()
}

// Start implements supervisor.Child.
func (c *actorChild) Start(context.Context) error {
	addr := ids.NamedAddress(c.name)
	mb := c.sys.buildMailbox(c.mailbox)

	// suppress is set when the supervisor itself stops this instance, so
	// the resulting exit report does not loop back as a restart trigger.
	// It is scoped to the instance: a report from an old process cannot be
	// confused with the state of its replacement.
	suppress := new(atomic.Bool)
	proc := actor.NewProcess(addr, c.factory(), mb, c.sys.logger, c.sys.childSpawner(), func(report actor.ExitReport) {
		c.sys.detach(report.Address)
		if suppress.Load() {
			return
		}
		c.sys.root.ReportExit(c.name, report.Err)
	})

	if err := c.sys.attach(addr, proc, true); err != nil {
		return err
	}
	// The loop runs on the system base context so child lifetime is bound
	// to the system, not to the supervisor's transient start context.
	if err := c.sys.startProcess(proc); err != nil {
		c.sys.detach(addr)
		return err
	}

	c.mu.Lock()
	c.proc = proc
	c.suppress = suppress
	c.mu.Unlock()
	return nil
}

// Stop implements supervisor.Child.
func (c *actorChild) Stop(ctx context.Context) error {
	c.mu.Lock()
	proc := c.proc
	suppress := c.suppress
	c.mu.Unlock()

	if proc == nil {
		return nil
	}
	suppress.Store(true)
	err := proc.Stop(ctx)
	c.sys.detach(proc.Address())
	return err
}
