package schema

import (
	"sync"

	"github.com/google/uuid"
)

// IDGenerator generates primary key values for new rows. NewID returns
// false when the database is expected to assign the key.
type IDGenerator interface {
	NewID() (any, bool)
}

// The IDGeneratorFunc type is an adapter to allow the use of ordinary
// functions as IDGenerator.
type IDGeneratorFunc func() (any, bool)

// NewID calls f().
func (f IDGeneratorFunc) NewID() (any, bool) { return f() }

// UUIDGenerator generates random (version 4) UUID strings.
type UUIDGenerator struct{}

// NewID implements IDGenerator.
func (UUIDGenerator) NewID() (any, bool) {
	return uuid.NewString(), true
}

// IDRegistry maps column types to ID generators. The zero value is empty
// and ready for use.
type IDRegistry struct {
	mu sync.RWMutex
	m  map[Type]IDGenerator
}

// NewIDRegistry returns a registry with the default generators: uuid
// columns receive random UUIDs and every other type relies on the database.
func NewIDRegistry() *IDRegistry {
	r := &IDRegistry{}
	r.Register(TypeUUID, UUIDGenerator{})
	return r
}

// Register sets the generator for the given column type. A nil generator
// removes the registration.
func (r *IDRegistry) Register(t Type, g IDGenerator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if g == nil {
		delete(r.m, t)
		return
	}
	if r.m == nil {
		r.m = make(map[Type]IDGenerator)
	}
	r.m[t] = g
}

// For returns the generator registered for the column type.
func (r *IDRegistry) For(t Type) (IDGenerator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.m[t]
	return g, ok
}

// NewID generates a key for a column of type t. It returns false when no
// generator is registered or the generator defers to the database.
func (r *IDRegistry) NewID(t Type) (any, bool) {
	g, ok := r.For(t)
	if !ok {
		return nil, false
	}
	return g.NewID()
}

var defaultIDs = NewIDRegistry()

// RegisterIDGenerator sets the generator for the given column type in the
// default registry used by tables without their own registry.
func RegisterIDGenerator(t Type, g IDGenerator) {
	defaultIDs.Register(t, g)
}

// IDGeneratorFor returns the generator of the default registry.
func IDGeneratorFor(t Type) (IDGenerator, bool) {
	return defaultIDs.For(t)
}

// DefaultIDs returns the default registry.
func DefaultIDs() *IDRegistry {
	return defaultIDs
}
