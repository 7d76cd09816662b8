// Package entity provides the record type persisted by tables: a set of
// named fields with per-field dirty tracking, a tri-state newness flag and
// per-field validation errors.
//
// An Entity is not safe for concurrent use.
package entity

import (
	"maps"
	"slices"
)

// Newness tells whether an entity is known to be stored in the database.
type Newness int8

// Newness values.
const (
	// NewnessUnknown entities are resolved by a primary key lookup on save.
	NewnessUnknown Newness = iota
	// NewnessNew entities are inserted on save.
	NewnessNew
	// NewnessPersisted entities are updated on save.
	NewnessPersisted
)

// String implements fmt.Stringer.
func (n Newness) String() string {
	switch n {
	case NewnessNew:
		return "new"
	case NewnessPersisted:
		return "persisted"
	default:
		return "unknown"
	}
}

// Entity is a row-like record.
type Entity struct {
	source  string
	fields  map[string]any
	order   []string
	dirty   map[string]bool
	hidden  map[string]bool
	newness Newness
	errors  map[string][]string
}

// New returns an entity holding props. Every property is marked dirty and
// the newness is NewnessUnknown. Properties are ordered by name.
func New(props map[string]any) *Entity {
	e := &Entity{}
	for _, k := range slices.Sorted(maps.Keys(props)) {
		e.Set(k, props[k])
	}
	return e
}

// Hydrate returns a clean persisted entity for a row loaded from source.
func Hydrate(source string, props map[string]any) *Entity {
	e := New(props)
	e.source = source
	e.Clean()
	e.newness = NewnessPersisted
	return e
}

// Factory builds entities for rows loaded by a table.
type Factory func(source string, props map[string]any) *Entity

// Source returns the alias of the table the entity came from.
func (e *Entity) Source() string { return e.source }

// SetSource sets the alias of the table the entity belongs to.
func (e *Entity) SetSource(source string) { e.source = source }

// Get returns the value of field, or nil if it is not set.
func (e *Entity) Get(field string) any {
	return e.fields[field]
}

// Lookup returns the value of field and whether it is set.
func (e *Entity) Lookup(field string) (any, bool) {
	v, ok := e.fields[field]
	return v, ok
}

// Has reports if field is set to a non-nil value.
func (e *Entity) Has(field string) bool {
	return e.fields[field] != nil
}

// Set sets field to v and marks it dirty.
func (e *Entity) Set(field string, v any) *Entity {
	if e.fields == nil {
		e.fields = make(map[string]any)
	}
	if _, ok := e.fields[field]; !ok {
		e.order = append(e.order, field)
	}
	e.fields[field] = v
	e.SetDirty(field, true)
	return e
}

// SetAll sets every property of props, in name order.
func (e *Entity) SetAll(props map[string]any) *Entity {
	for _, k := range slices.Sorted(maps.Keys(props)) {
		e.Set(k, props[k])
	}
	return e
}

// Unset removes the given fields.
func (e *Entity) Unset(fields ...string) *Entity {
	for _, f := range fields {
		if _, ok := e.fields[f]; !ok {
			continue
		}
		delete(e.fields, f)
		delete(e.dirty, f)
		e.order = slices.DeleteFunc(e.order, func(s string) bool { return s == f })
	}
	return e
}

// Properties returns the names of all set fields in insertion order.
func (e *Entity) Properties() []string {
	return slices.Clone(e.order)
}

// SetHidden marks fields as hidden from Visible.
func (e *Entity) SetHidden(fields ...string) *Entity {
	if e.hidden == nil {
		e.hidden = make(map[string]bool)
	}
	for _, f := range fields {
		e.hidden[f] = true
	}
	return e
}

// Visible returns the properties that are not hidden.
func (e *Entity) Visible() []string {
	return slices.DeleteFunc(e.Properties(), func(f string) bool { return e.hidden[f] })
}

// SetDirty marks or unmarks field as changed.
func (e *Entity) SetDirty(field string, dirty bool) *Entity {
	if !dirty {
		delete(e.dirty, field)
		return e
	}
	if e.dirty == nil {
		e.dirty = make(map[string]bool)
	}
	e.dirty[field] = true
	return e
}

// Dirty reports if field changed since the entity was loaded or saved.
func (e *Entity) Dirty(field string) bool {
	return e.dirty[field]
}

// DirtyFields returns the changed fields in insertion order.
func (e *Entity) DirtyFields() []string {
	out := make([]string, 0, len(e.dirty))
	for _, f := range e.order {
		if e.dirty[f] {
			out = append(out, f)
		}
	}
	return out
}

// IsDirty reports if any field changed.
func (e *Entity) IsDirty() bool {
	return len(e.dirty) > 0
}

// Clean clears the dirty set and the recorded errors.
func (e *Entity) Clean() *Entity {
	clear(e.dirty)
	clear(e.errors)
	return e
}

// Extract returns the values of the given fields that are set. With
// onlyDirty, unchanged fields are skipped.
func (e *Entity) Extract(fields []string, onlyDirty bool) map[string]any {
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		v, ok := e.fields[f]
		if !ok || (onlyDirty && !e.dirty[f]) {
			continue
		}
		out[f] = v
	}
	return out
}

// ToMap returns a shallow copy of all fields.
func (e *Entity) ToMap() map[string]any {
	return maps.Clone(e.fields)
}

// Newness returns the newness of the entity.
func (e *Entity) Newness() Newness { return e.newness }

// SetNewness sets the newness of the entity.
func (e *Entity) SetNewness(n Newness) *Entity {
	e.newness = n
	return e
}

// IsNew reports if the entity is known to be new. Unknown entities are not
// new.
func (e *Entity) IsNew() bool { return e.newness == NewnessNew }

// SetNew marks the entity as new or persisted.
func (e *Entity) SetNew(isNew bool) *Entity {
	if isNew {
		e.newness = NewnessNew
	} else {
		e.newness = NewnessPersisted
	}
	return e
}

// Errors returns the validation errors recorded per field.
func (e *Entity) Errors() map[string][]string {
	return maps.Clone(e.errors)
}

// FieldErrors returns the validation errors recorded for field.
func (e *Entity) FieldErrors(field string) []string {
	return e.errors[field]
}

// HasErrors reports if any validation error is recorded.
func (e *Entity) HasErrors() bool {
	return len(e.errors) > 0
}

// SetErrors replaces the recorded validation errors.
func (e *Entity) SetErrors(errs map[string][]string) *Entity {
	e.errors = maps.Clone(errs)
	return e
}

// AddError records a validation error for field.
func (e *Entity) AddError(field, msg string) *Entity {
	if e.errors == nil {
		e.errors = make(map[string][]string)
	}
	e.errors[field] = append(e.errors[field], msg)
	return e
}
