// Package event provides the synchronous, ordered and stoppable event bus
// used by tables to announce their lifecycle.
//
// Listeners run in registration order. A listener stops the dispatch by
// returning a Stop decision carrying a substitute result:
//
//	bus.On(event.BeforeSave, func(ctx context.Context, e *event.Event) error {
//		if e.Entity.Get("locked") == true {
//			return event.Stop(false)
//		}
//		return nil
//	})
//
// Any other non-nil error aborts the dispatch and is returned to the caller.
package event

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sync"

	"github.com/syssam/tabula/entity"
)

// Lifecycle event names fired by tables.
const (
	BeforeFind     = "Model.beforeFind"
	BeforeValidate = "Model.beforeValidate"
	AfterValidate  = "Model.afterValidate"
	BeforeSave     = "Model.beforeSave"
	AfterSave      = "Model.afterSave"
	BeforeDelete   = "Model.beforeDelete"
	AfterDelete    = "Model.afterDelete"
)

// Event is a single notification. Depending on the event, Entity or Query
// is set; Options holds the options of the running operation and Validator
// is set for the validation events.
type Event struct {
	Name      string
	Subject   any
	Entity    *entity.Entity
	Query     any
	Options   any
	Validator any
	Data      map[string]any

	stopped bool
	result  any
}

// New returns a new event with the given name and subject.
func New(name string, subject any) *Event {
	return &Event{Name: name, Subject: subject}
}

// IsStopped reports if a listener stopped the event.
func (e *Event) IsStopped() bool { return e.stopped }

// Result returns the result supplied by the listener that stopped the
// event, or set with SetResult.
func (e *Event) Result() any { return e.result }

// SetResult sets the result without stopping the event.
func (e *Event) SetResult(v any) { e.result = v }

// StopError is the decision returned by listeners to stop propagation.
type StopError struct {
	Result any
}

// Error implements the error interface.
func (e *StopError) Error() string {
	return "event: propagation stopped"
}

// Stop returns a decision stopping the dispatch with the given result.
func Stop(result any) error {
	return &StopError{Result: result}
}

// IsStop reports if err is a Stop decision.
func IsStop(err error) bool {
	var s *StopError
	return errors.As(err, &s)
}

// Listener handles an event.
type Listener func(context.Context, *Event) error

// Subscriber is implemented by listener objects that handle several events.
type Subscriber interface {
	ImplementedEvents() map[string]Listener
}

// Bus dispatches events to listeners. It is safe for concurrent use; the
// zero value is ready for use.
type Bus struct {
	mu        sync.RWMutex
	listeners map[string][]Listener
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// On appends a listener for the named event.
func (b *Bus) On(name string, l Listener) *Bus {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.listeners == nil {
		b.listeners = make(map[string][]Listener)
	}
	b.listeners[name] = append(b.listeners[name], l)
	return b
}

// Attach registers all listeners of s. Listeners of the same subscriber are
// registered in event name order.
func (b *Bus) Attach(s Subscriber) *Bus {
	events := s.ImplementedEvents()
	for _, name := range slices.Sorted(maps.Keys(events)) {
		b.On(name, events[name])
	}
	return b
}

// Off removes all listeners of the named event.
func (b *Bus) Off(name string) *Bus {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.listeners, name)
	return b
}

// Listeners returns the number of listeners registered for the named event.
func (b *Bus) Listeners(name string) int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners[name])
}

// Dispatch runs the listeners of e.Name in registration order. A Stop
// decision marks e as stopped, records its result and skips the remaining
// listeners; the returned error is nil in that case. Dispatching on a nil
// bus is a no-op.
func (b *Bus) Dispatch(ctx context.Context, e *Event) error {
	if b == nil {
		return nil
	}
	b.mu.RLock()
	ls := slices.Clone(b.listeners[e.Name])
	b.mu.RUnlock()
	for _, l := range ls {
		err := l(ctx, e)
		if err == nil {
			continue
		}
		var stop *StopError
		if errors.As(err, &stop) {
			e.stopped = true
			e.result = stop.Result
			return nil
		}
		return err
	}
	return nil
}
