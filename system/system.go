// Package system provides the actor system: the front door that spawns
// actors, routes messages through the broker and owns the supervision tree
// and graceful shutdown.
package system

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/arborlab/arbor/actor"
	"github.com/arborlab/arbor/broker"
	"github.com/arborlab/arbor/ids"
	"github.com/arborlab/arbor/supervisor"
)

// System errors.
var (
	// ErrInvalidConfig is returned by New for a rejected configuration.
	ErrInvalidConfig = errors.New("invalid system config")

	// ErrSystemStopped is returned for operations after Shutdown.
	ErrSystemStopped = errors.New("actor system stopped")

	// ErrTooManyActors is returned when MaxActors is reached.
	ErrTooManyActors = errors.New("actor limit reached")

	// ErrSpawnTimeout means the actor's pre-start hook did not finish within
	// the spawn timeout.
	ErrSpawnTimeout = errors.New("spawn timed out")

	// ErrNoReplyAddress is returned by Reply for an envelope that carries no
	// reply address.
	ErrNoReplyAddress = errors.New("envelope has no reply address")
)

type procEntry struct {
	proc       *actor.Process
	supervised bool
}

// System owns a broker, a root supervisor and the set of live actor
// processes. Systems are independent: a process may run several, each fully
// isolated from the others.
type System struct {
	cfg    Config
	logger zerolog.Logger
	broker *broker.Broker
	root   *supervisor.Supervisor

	// baseCtx parents every actor loop; Shutdown cancels it as the final
	// backstop after cooperative stops.
	baseCtx context.Context
	cancel  context.CancelFunc

	mu      sync.Mutex
	procs   map[ids.Address]procEntry
	order   []ids.Address
	stopped bool

	fatal chan error
}

// New creates and starts an actor system.
func New(cfg Config, logger zerolog.Logger) (*System, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.normalize()

	log := logger.With().Str("system", cfg.Name).Logger()
	root, err := supervisor.New(cfg.Name+"-root", supervisor.OneForOne, cfg.Supervision, log)
	if err != nil {
		return nil, err
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	s := &System{
		cfg:     cfg,
		logger:  log,
		broker:  broker.New(log),
		root:    root,
		baseCtx: baseCtx,
		cancel:  cancel,
		procs:   make(map[ids.Address]procEntry),
		fatal:   make(chan error, 1),
	}

	root.WithEscalation(s.onEscalation)
	if err := root.Start(baseCtx); err != nil {
		cancel()
		return nil, err
	}

	log.Info().Msg("actor system started")
	return s, nil
}

// Name returns the system name.
func (s *System) Name() string {
	return s.cfg.Name
}

// Broker exposes the routing layer for callers that registered their own
// mailboxes.
func (s *System) Broker() *broker.Broker {
	return s.broker
}

// RootSupervisor returns the root of the supervision tree. Nested
// supervisors attach here via StartChild.
func (s *System) RootSupervisor() *supervisor.Supervisor {
	return s.root
}

// FatalErrors delivers failures the root supervisor could not contain. The
// embedding application decides whether to restart or exit; the channel
// holds at most one error.
func (s *System) FatalErrors() <-chan error {
	return s.fatal
}

// Spawn creates an unsupervised actor. A non-empty name must be unique
// among live actors and is resolvable through LookupName; an empty name
// spawns an anonymous actor. A pre-start failure aborts the spawn.
func (s *System) Spawn(name string, behavior actor.Behavior, opts ...SpawnOption) (ids.Address, error) {
	spawnCfg := s.resolveSpawn(opts)

	addr := ids.NewAddress()
	if name != "" {
		addr = ids.NamedAddress(name)
	}

	mb := s.buildMailbox(spawnCfg)
	proc := actor.NewProcess(addr, behavior, mb, s.logger, s.childSpawner(), func(report actor.ExitReport) {
		s.detach(report.Address)
		if report.Abnormal() {
			s.logger.Error().
				Err(report.Err).
				Stringer("actor", report.Address).
				Msg("unsupervised actor failed")
		}
	})

	if err := s.attach(addr, proc, false); err != nil {
		return ids.Address{}, err
	}
	if err := s.startProcess(proc); err != nil {
		s.detach(addr)
		return ids.Address{}, err
	}
	return addr, nil
}

// LookupName resolves a stable actor name to its current address.
func (s *System) LookupName(name string) (ids.Address, bool) {
	return s.broker.LookupName(name)
}

// ActorCount returns the number of live actors.
func (s *System) ActorCount() int {
	return s.broker.ActorCount()
}

// Shutdown stops the system: the supervision tree first, then remaining
// unsupervised actors in reverse spawn order. Without a caller deadline the
// configured shutdown timeout applies. Shutdown is idempotent.
func (s *System) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true

	unsupervised := make([]*actor.Process, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		if entry, ok := s.procs[s.order[i]]; ok && !entry.supervised {
			unsupervised = append(unsupervised, entry.proc)
		}
	}
	s.mu.Unlock()

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
		defer cancel()
	}

	var errs []error
	if err := s.root.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("supervision tree: %w", err))
	}
	for _, proc := range unsupervised {
		if err := proc.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
		s.detach(proc.Address())
	}
	s.cancel()

	s.logger.Info().Msg("actor system stopped")
	return errors.Join(errs...)
}

// Stats is a point-in-time summary of the system.
type Stats struct {
	// Actors is the number of registered addresses, reply endpoints
	// included.
	Actors int

	// SupervisedChildren is the number of child slots under the root
	// supervisor.
	SupervisedChildren int

	// MessagesHandled totals processed messages across live actors.
	MessagesHandled uint64
}

// Stats returns current system statistics.
func (s *System) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	var handled uint64
	for _, entry := range s.procs {
		handled += entry.proc.Context().MessagesHandled()
	}
	return Stats{
		Actors:             s.broker.ActorCount(),
		SupervisedChildren: len(s.root.Children()),
		MessagesHandled:    handled,
	}
}

// childSpawner lets behaviors spawn actors through Context.SpawnChild. The
// children spawn unsupervised; binding them to a supervisor slot is an
// explicit SpawnSupervised call.
func (s *System) childSpawner() actor.ChildSpawner {
	return func(name string, behavior actor.Behavior) (ids.Address, error) {
		return s.Spawn(name, behavior)
	}
}

// attach registers the process with the broker and the live table.
func (s *System) attach(addr ids.Address, proc *actor.Process, supervised bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrSystemStopped
	}
	if s.cfg.MaxActors > 0 && len(s.procs) >= s.cfg.MaxActors {
		return fmt.Errorf("%w: %d", ErrTooManyActors, s.cfg.MaxActors)
	}
	if err := s.broker.Register(addr, proc.Mailbox()); err != nil {
		return err
	}

	s.procs[addr] = procEntry{proc: proc, supervised: supervised}
	s.order = append(s.order, addr)
	return nil
}

// detach retires the address everywhere. Safe to call more than once.
func (s *System) detach(addr ids.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.procs[addr]; !ok {
		return
	}
	_ = s.broker.Unregister(addr)
	delete(s.procs, addr)
	for i, existing := range s.order {
		if existing == addr {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// startProcess runs Start with the spawn timeout applied to the pre-start
// phase. The actor loop itself runs on the system's base context.
func (s *System) startProcess(proc *actor.Process) error {
	startErr := make(chan error, 1)
	go func() {
		startErr <- proc.Start(s.baseCtx)
	}()

	timer := time.NewTimer(s.cfg.SpawnTimeout)
	defer timer.Stop()

	select {
	case err := <-startErr:
		return err
	case <-timer.C:
		// Abandon the spawn; the stuck pre-start goroutine is cleaned up
		// whenever it finally returns.
		go func() {
			if err := <-startErr; err == nil {
				stopCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
				defer cancel()
				_ = proc.Stop(stopCtx)
				s.detach(proc.Address())
			}
		}()
		return fmt.Errorf("actor %s: %w", proc.Address(), ErrSpawnTimeout)
	}
}

func (s *System) onEscalation(err error) {
	s.logger.Error().Err(err).Msg("supervision tree escalated to system root")
	select {
	case s.fatal <- err:
	default:
	}
}
