package orm

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/syssam/tabula"
	"github.com/syssam/tabula/dialect/sql"
	"github.com/syssam/tabula/entity"
	"github.com/syssam/tabula/event"
)

// MethodFunc is a method a behavior adds to the tables loading it.
type MethodFunc func(ctx context.Context, args ...any) (any, error)

// Behavior is a reusable set of methods, finders and listeners shared by
// tables. A behavior implementing event.Subscriber has its listeners
// attached to the event bus of the table.
type Behavior interface {
	// Name identifies the behavior in its table.
	Name() string
	// Initialize binds the behavior to t. It is called once, before the
	// methods and finders are registered.
	Initialize(t *Table) error
	Methods() map[string]MethodFunc
	Finders() map[string]FinderFunc
}

type (
	behaviorMethod struct {
		behavior string
		fn       MethodFunc
	}
	behaviorFinder struct {
		behavior string
		fn       FinderFunc
	}
)

// BehaviorRegistry holds the behaviors of a table and dispatches their
// methods and finders. Method names are case-insensitive.
type BehaviorRegistry struct {
	table *Table

	mu      sync.RWMutex
	loaded  []Behavior
	methods map[string]behaviorMethod
	finders map[string]behaviorFinder
}

func newBehaviorRegistry(t *Table) *BehaviorRegistry {
	return &BehaviorRegistry{
		table:   t,
		methods: make(map[string]behaviorMethod),
		finders: make(map[string]behaviorFinder),
	}
}

// Load initializes b and registers its methods, finders and listeners. A
// behavior name may be loaded once, and two behaviors may not provide the
// same method or finder.
func (r *BehaviorRegistry) Load(b Behavior) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := b.Name()
	if slices.ContainsFunc(r.loaded, func(l Behavior) bool { return strings.EqualFold(l.Name(), name) }) {
		return fmt.Errorf("tabula/orm: behavior %s is already loaded in %s", name, r.table.Alias())
	}
	methods, finders := b.Methods(), b.Finders()
	for m := range methods {
		if prev, ok := r.methods[strings.ToLower(m)]; ok {
			return fmt.Errorf("tabula/orm: %s cannot load behavior %s: method %s is provided by %s", r.table.Alias(), name, m, prev.behavior)
		}
	}
	for f := range finders {
		if prev, ok := r.finders[strings.ToLower(finderName(f))]; ok {
			return fmt.Errorf("tabula/orm: %s cannot load behavior %s: finder %s is provided by %s", r.table.Alias(), name, f, prev.behavior)
		}
	}
	if err := b.Initialize(r.table); err != nil {
		return fmt.Errorf("tabula/orm: initialize behavior %s of %s: %w", name, r.table.Alias(), err)
	}
	for m, fn := range methods {
		r.methods[strings.ToLower(m)] = behaviorMethod{behavior: name, fn: fn}
	}
	for f, fn := range finders {
		r.finders[strings.ToLower(finderName(f))] = behaviorFinder{behavior: name, fn: fn}
	}
	if s, ok := b.(event.Subscriber); ok {
		r.table.bus.Attach(s)
	}
	r.loaded = append(r.loaded, b)
	return nil
}

// Loaded returns the names of the loaded behaviors in load order.
func (r *BehaviorRegistry) Loaded() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.loaded))
	for i, b := range r.loaded {
		names[i] = b.Name()
	}
	return names
}

// Get returns the loaded behavior with the given name.
func (r *BehaviorRegistry) Get(name string) (Behavior, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, b := range r.loaded {
		if strings.EqualFold(b.Name(), name) {
			return b, true
		}
	}
	return nil, false
}

// Has reports if the named behavior is loaded.
func (r *BehaviorRegistry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// HasMethod reports if a loaded behavior provides the method.
func (r *BehaviorRegistry) HasMethod(method string) bool {
	if r == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.methods[strings.ToLower(method)]
	return ok
}

// Call invokes the behavior method.
func (r *BehaviorRegistry) Call(ctx context.Context, method string, args ...any) (any, error) {
	r.mu.RLock()
	m, ok := r.methods[strings.ToLower(method)]
	r.mu.RUnlock()
	if !ok {
		return nil, &tabula.UnknownMethodError{Table: r.table.Alias(), Method: method}
	}
	return m.fn(ctx, args...)
}

// HasFinder reports if a loaded behavior provides the finder typ.
func (r *BehaviorRegistry) HasFinder(typ string) bool {
	if r == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.finders[strings.ToLower(finderName(typ))]
	return ok
}

// CallFinder applies the behavior finder typ to q.
func (r *BehaviorRegistry) CallFinder(ctx context.Context, typ string, q *Query, opts Options) (*Query, error) {
	r.mu.RLock()
	f, ok := r.finders[strings.ToLower(finderName(typ))]
	r.mu.RUnlock()
	if !ok {
		return nil, &tabula.UnknownFinderError{Table: r.table.Alias(), Finder: typ}
	}
	return f.fn(ctx, q, opts)
}

// AddBehavior loads b into the table.
func (t *Table) AddBehavior(b Behavior) error {
	return t.behaviors.Load(b)
}

// Behaviors returns the behavior registry of the table.
func (t *Table) Behaviors() *BehaviorRegistry { return t.behaviors }

// HasBehavior reports if the named behavior is loaded.
func (t *Table) HasBehavior(name string) bool {
	return t.behaviors.Has(name)
}

// TimestampBehavior maintains the creation and modification times of rows.
// Columns missing from the table are ignored.
//
//	orm.WithBehaviors(&orm.TimestampBehavior{})
type TimestampBehavior struct {
	// Created is the column set on insert. Defaults to "created".
	Created string
	// Modified is the column set on every save. Defaults to "modified".
	Modified string
	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time

	table *Table
}

// Name implements Behavior.
func (*TimestampBehavior) Name() string { return "Timestamp" }

// Initialize implements Behavior.
func (b *TimestampBehavior) Initialize(t *Table) error {
	if b.Created == "" {
		b.Created = "created"
	}
	if b.Modified == "" {
		b.Modified = "modified"
	}
	if b.Now == nil {
		b.Now = time.Now
	}
	b.table = t
	return nil
}

// ImplementedEvents implements event.Subscriber.
func (b *TimestampBehavior) ImplementedEvents() map[string]event.Listener {
	return map[string]event.Listener{
		event.BeforeSave: b.beforeSave,
	}
}

func (b *TimestampBehavior) beforeSave(ctx context.Context, ev *event.Event) error {
	if ev.Subject != b.table {
		return nil
	}
	e := ev.Entity
	now := b.Now()
	if e.IsNew() && !e.Dirty(b.Created) {
		if err := b.set(ctx, e, b.Created, now); err != nil {
			return err
		}
	}
	if e.Dirty(b.Modified) {
		return nil
	}
	return b.set(ctx, e, b.Modified, now)
}

func (b *TimestampBehavior) set(ctx context.Context, e *entity.Entity, column string, now time.Time) error {
	ok, err := b.table.HasField(ctx, column)
	if err != nil || !ok {
		return err
	}
	e.Set(column, now)
	return nil
}

// Methods implements Behavior. The method "touch" sets the modification
// time of the entity it receives and returns it.
func (b *TimestampBehavior) Methods() map[string]MethodFunc {
	return map[string]MethodFunc{
		"touch": func(ctx context.Context, args ...any) (any, error) {
			if len(args) == 0 {
				return nil, fmt.Errorf("tabula/orm: touch of %s needs an entity", b.table.Alias())
			}
			e, ok := args[0].(*entity.Entity)
			if !ok || e == nil {
				return nil, fmt.Errorf("tabula/orm: touch: unexpected argument %T", args[0])
			}
			return e, b.set(ctx, e, b.Modified, b.Now())
		},
	}
}

// Finders implements Behavior. The finder "recent" sorts rows by
// decreasing creation time and keeps the number given by the "limit"
// option, 10 by default.
func (b *TimestampBehavior) Finders() map[string]FinderFunc {
	return map[string]FinderFunc{
		"recent": func(_ context.Context, q *Query, opts Options) (*Query, error) {
			limit, ok := opts["limit"].(int)
			if !ok || limit <= 0 {
				limit = 10
			}
			return q.OrderBy(sql.Desc(b.Created)).Limit(limit), nil
		},
	}
}

var (
	_ Behavior         = (*TimestampBehavior)(nil)
	_ event.Subscriber = (*TimestampBehavior)(nil)
)
