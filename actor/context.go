package actor

import (
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/arborlab/arbor/ids"
)

// ChildSpawner creates and registers a new supervised actor whose lifetime is
// bound to the spawning actor. The runtime injects the implementation.
type ChildSpawner func(name string, behavior Behavior) (ids.Address, error)

// Context is the handle through which a behavior observes its own identity,
// records metrics, spawns children and requests termination. It is only ever
// touched from the actor's own handling turn and is not safe for concurrent
// use from outside it.
type Context struct {
	address ids.Address
	logger  zerolog.Logger
	spawner ChildSpawner

	stopRequested int32
	handled       uint64
}

// NewContext creates a context for the given address. The spawner may be nil
// for actors that never spawn children.
func NewContext(address ids.Address, logger zerolog.Logger, spawner ChildSpawner) *Context {
	return &Context{
		address: address,
		logger:  logger.With().Stringer("actor", address).Logger(),
		spawner: spawner,
	}
}

// Address returns the actor's own address.
func (c *Context) Address() ids.Address {
	return c.address
}

// Logger returns a logger scoped to this actor.
func (c *Context) Logger() zerolog.Logger {
	return c.logger
}

// RequestStop asks the runtime to stop this actor. The request is
// cooperative: it takes effect only after the current message finishes.
func (c *Context) RequestStop() {
	atomic.StoreInt32(&c.stopRequested, 1)
}

// StopRequested reports whether a cooperative stop has been requested.
func (c *Context) StopRequested() bool {
	return atomic.LoadInt32(&c.stopRequested) == 1
}

// SpawnChild creates a new supervised actor bound to the current one.
func (c *Context) SpawnChild(name string, behavior Behavior) (ids.Address, error) {
	if c.spawner == nil {
		return ids.Address{}, fmt.Errorf("actor %s cannot spawn children: no spawner configured", c.address)
	}
	return c.spawner(name, behavior)
}

// RecordMessage increments the processed-message counter. The counter is a
// plain numeric observability hook; exporting it is the embedder's concern.
func (c *Context) RecordMessage() {
	atomic.AddUint64(&c.handled, 1)
}

// MessagesHandled returns the processed-message counter.
func (c *Context) MessagesHandled() uint64 {
	return atomic.LoadUint64(&c.handled)
}
