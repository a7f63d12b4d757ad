// Package ids provides identifier types used across the runtime:
// actor identifiers, message identifiers and routing addresses.
package ids

import (
	"fmt"
	"hash/fnv"

	"github.com/google/uuid"
)

// ActorID is a globally unique identifier minted once per spawned actor
// instance. It is never reused, even across restarts of the same child slot.
type ActorID struct {
	value uuid.UUID
}

// NewActorID mints a fresh actor identifier.
func NewActorID() ActorID {
	return ActorID{value: uuid.New()}
}

// UUID returns the underlying UUID value.
func (id ActorID) UUID() uuid.UUID {
	return id.value
}

// IsZero reports whether the identifier is the zero value.
func (id ActorID) IsZero() bool {
	return id.value == uuid.UUID{}
}

// String returns the canonical UUID string form.
func (id ActorID) String() string {
	return id.value.String()
}

// MessageID is a unique identifier for a single message, used for
// request/response correlation.
type MessageID struct {
	value uuid.UUID
}

// NewMessageID mints a fresh message identifier.
func NewMessageID() MessageID {
	return MessageID{value: uuid.New()}
}

// UUID returns the underlying UUID value.
func (id MessageID) UUID() uuid.UUID {
	return id.value
}

// IsZero reports whether the identifier is the zero value.
func (id MessageID) IsZero() bool {
	return id.value == uuid.UUID{}
}

// String returns the canonical UUID string form.
func (id MessageID) String() string {
	return id.value.String()
}

// Address identifies a spawned actor for routing purposes. Every address
// carries a unique ActorID; named addresses additionally carry a stable,
// human-readable name that survives restarts of the same child slot.
//
// Address is a comparable value type and can be used as a map key.
type Address struct {
	id   ActorID
	name string
}

// NewAddress creates an anonymous address with a fresh ActorID.
func NewAddress() Address {
	return Address{id: NewActorID()}
}

// NamedAddress creates an address with a fresh ActorID and a stable name.
func NamedAddress(name string) Address {
	return Address{id: NewActorID(), name: name}
}

// ID returns the unique actor identifier of this address.
func (a Address) ID() ActorID {
	return a.id
}

// Name returns the stable name of this address, or "" for anonymous actors.
func (a Address) Name() string {
	return a.name
}

// IsZero reports whether the address is the zero value.
func (a Address) IsZero() bool {
	return a.id.IsZero()
}

// RoutingKey returns a pre-computable hash of the address, usable by brokers
// to avoid repeated hashing on the delivery hot path.
func (a Address) RoutingKey() uint64 {
	h := fnv.New64a()
	h.Write(a.id.value[:])
	return h.Sum64()
}

// String returns "name/uuid" for named addresses and the bare UUID otherwise.
func (a Address) String() string {
	if a.name != "" {
		return fmt.Sprintf("%s/%s", a.name, a.id)
	}
	return a.id.String()
}
