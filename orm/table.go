// Package orm maps database tables to entities. A Table owns the
// associations, validators and finders of one database table and runs the
// save and delete pipelines:
//
//	articles, err := orm.New(
//		orm.WithTable("articles"),
//		orm.WithDriver(drv),
//		orm.WithLocator(locator),
//		orm.WithInitialize(func(t *orm.Table) error {
//			if _, err := t.BelongsTo("Authors"); err != nil {
//				return err
//			}
//			_, err := t.HasMany("Comments", orm.Dependent(true))
//			return err
//		}),
//	)
//	if err != nil {
//		return err
//	}
//	ok, err := articles.Save(ctx, entity.New(map[string]any{
//		"title":  "First",
//		"author": entity.New(map[string]any{"name": "a8m"}),
//	}))
//
// Saves write the BelongsTo associations first, the row second and the
// other associations last, all in one transaction unless NonAtomic is given.
package orm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/go-openapi/inflect"
	"golang.org/x/sync/singleflight"

	"github.com/syssam/tabula"
	"github.com/syssam/tabula/dialect"
	"github.com/syssam/tabula/dialect/sql"
	sqlschema "github.com/syssam/tabula/dialect/sql/schema"
	"github.com/syssam/tabula/entity"
	"github.com/syssam/tabula/event"
	"github.com/syssam/tabula/schema"
	"github.com/syssam/tabula/validation"
)

// DefaultValidator is the name of the validator used by saves.
const DefaultValidator = "default"

// Table is the persistence gateway of a database table. It is safe for
// concurrent use once initialized.
type Table struct {
	table        string
	alias        string
	driver       dialect.Driver
	columns      map[string]any
	inspector    sqlschema.Inspector
	factory      entity.Factory
	bus          *event.Bus
	behaviors    *BehaviorRegistry
	pending      []Behavior
	locator      *Locator
	logger       *slog.Logger
	primaryKey   []string
	displayField string
	initialize   []func(*Table) error
	ids          *schema.IDRegistry
	builders     map[string]ValidatorBuilder

	mu           sync.RWMutex
	schema       *schema.Table
	associations []Association
	finders      map[string]FinderFunc
	validators   map[string]*validation.Validator
	group        singleflight.Group
}

// New returns a table configured with the given options. Either a table
// name or an alias is required.
func New(opts ...Option) (*Table, error) {
	t := &Table{}
	for _, opt := range opts {
		opt(t)
	}
	if t.table == "" && t.alias == "" {
		return nil, errors.New("tabula/orm: table name or alias is required")
	}
	if t.logger == nil {
		t.logger = slog.Default()
	}
	if t.bus == nil {
		t.bus = event.NewBus()
	}
	if t.ids == nil {
		t.ids = schema.DefaultIDs()
	}
	if t.factory == nil {
		t.factory = entity.Hydrate
	}
	if t.schema == nil && t.columns != nil {
		s, err := schema.FromMap(t.Table(), t.columns)
		if err != nil {
			return nil, fmt.Errorf("tabula/orm: table %s: %w", t.Alias(), err)
		}
		t.schema = s
	}
	t.registerFinders()
	t.behaviors = newBehaviorRegistry(t)
	for _, b := range t.pending {
		if err := t.AddBehavior(b); err != nil {
			return nil, err
		}
	}
	if t.locator != nil {
		t.locator.Set(t.Alias(), t)
	}
	for _, fn := range t.initialize {
		if err := fn(t); err != nil {
			return nil, fmt.Errorf("tabula/orm: initialize %s: %w", t.Alias(), err)
		}
	}
	return t, nil
}

// Table returns the database table name. It defaults to the underscored
// alias.
func (t *Table) Table() string {
	if t.table == "" {
		return inflect.Underscore(t.alias)
	}
	return t.table
}

// Alias returns the alias of the table. It defaults to the camelized table
// name.
func (t *Table) Alias() string {
	if t.alias == "" {
		return inflect.Camelize(t.table)
	}
	return t.alias
}

// String implements fmt.Stringer.
func (t *Table) String() string {
	return t.Alias()
}

// Driver returns the database driver of the table.
func (t *Table) Driver() dialect.Driver { return t.driver }

// EventBus returns the event bus of the table.
func (t *Table) EventBus() *event.Bus { return t.bus }

// Locator returns the locator the table is registered in, if any.
func (t *Table) Locator() *Locator { return t.locator }

// Logger returns the logger of the table.
func (t *Table) Logger() *slog.Logger { return t.logger }

// Schema returns the description of the table. Without an explicit schema,
// the table is inspected on first use and the result is cached.
func (t *Table) Schema(ctx context.Context) (*schema.Table, error) {
	t.mu.RLock()
	s := t.schema
	t.mu.RUnlock()
	if s != nil {
		return s, nil
	}
	if t.inspector == nil {
		return nil, fmt.Errorf("tabula/orm: table %s has no schema and no inspector", t.Alias())
	}
	v, err, _ := t.group.Do("schema", func() (any, error) {
		s, err := t.inspector.InspectTable(ctx, t.Table())
		if err != nil {
			return nil, err
		}
		t.mu.Lock()
		t.schema = s
		t.mu.Unlock()
		t.logger.Debug("tabula: table described", "table", t.Table(), "columns", len(s.Columns))
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*schema.Table), nil
}

// HasField reports if the table has the named column.
func (t *Table) HasField(ctx context.Context, field string) (bool, error) {
	s, err := t.Schema(ctx)
	if err != nil {
		return false, err
	}
	return s.HasColumn(field), nil
}

// PrimaryKey returns the primary key columns: the configured ones, else the
// primary key of the schema.
func (t *Table) PrimaryKey(ctx context.Context) ([]string, error) {
	if len(t.primaryKey) > 0 {
		return t.primaryKey, nil
	}
	s, err := t.Schema(ctx)
	if err != nil {
		return nil, err
	}
	return s.PrimaryKey, nil
}

// DisplayField returns the column used to represent rows in lists: the
// configured one, else "name", else "title", else the first primary key
// column.
func (t *Table) DisplayField(ctx context.Context) (string, error) {
	if t.displayField != "" {
		return t.displayField, nil
	}
	s, err := t.Schema(ctx)
	if err != nil {
		return "", err
	}
	for _, c := range []string{"name", "title"} {
		if s.HasColumn(c) {
			return c, nil
		}
	}
	pk, err := t.PrimaryKey(ctx)
	if err != nil || len(pk) == 0 {
		return "", err
	}
	return pk[0], nil
}

// NewEntity returns a new entity of the table.
func (t *Table) NewEntity(props map[string]any) *entity.Entity {
	e := entity.New(props)
	e.SetSource(t.Alias())
	return e
}

// Get returns the row with the given primary key.
func (t *Table) Get(ctx context.Context, key ...any) (*entity.Entity, error) {
	pk, err := t.PrimaryKey(ctx)
	if err != nil {
		return nil, err
	}
	if len(key) != len(pk) {
		return nil, &tabula.MissingKeyError{Table: t.Alias(), Op: "get", Missing: pk[min(len(key), len(pk)):]}
	}
	e, err := t.Query().Where(sql.ColumnsEQ(pk, key)).First(ctx)
	if err != nil {
		return nil, err
	}
	if e == nil {
		id := any(key)
		if len(key) == 1 {
			id = key[0]
		}
		return nil, tabula.NewNotFoundErrorWithID(t.Alias(), id)
	}
	return e, nil
}

// Association returns the association registered under alias. Aliases are
// case-insensitive.
func (t *Table) Association(alias string) (Association, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, a := range t.associations {
		if strings.EqualFold(a.Name(), alias) {
			return a, true
		}
	}
	return nil, false
}

// Associations returns the associations in declaration order.
func (t *Table) Associations() []Association {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.Clone(t.associations)
}

func (t *Table) addAssociation(a Association) {
	t.mu.Lock()
	defer t.mu.Unlock()
	i := slices.IndexFunc(t.associations, func(x Association) bool {
		return strings.EqualFold(x.Name(), a.Name())
	})
	if i >= 0 {
		t.associations[i] = a
		return
	}
	t.associations = append(t.associations, a)
}

// Validator returns the named validator. Validators are built on first use
// by the builder registered with WithValidator or SetValidatorBuilder; the
// default validator has no rules unless a builder is registered for it.
func (t *Table) Validator(name string) (*validation.Validator, error) {
	if name == "" {
		name = DefaultValidator
	}
	t.mu.RLock()
	v, ok := t.validators[name]
	build, hasBuilder := t.builders[name]
	t.mu.RUnlock()
	if ok {
		return v, nil
	}
	if !hasBuilder && name != DefaultValidator {
		return nil, fmt.Errorf("tabula/orm: table %s has no validator %q", t.Alias(), name)
	}
	r, err, _ := t.group.Do("validator:"+name, func() (any, error) {
		t.mu.RLock()
		v, ok := t.validators[name]
		t.mu.RUnlock()
		if ok {
			return v, nil
		}
		v = validation.New()
		if hasBuilder {
			v = build(v)
		}
		v.Provider("table", t)
		t.SetValidator(name, v)
		return v, nil
	})
	if err != nil {
		return nil, err
	}
	return r.(*validation.Validator), nil
}

// SetValidator registers v under name, replacing the cached one.
func (t *Table) SetValidator(name string, v *validation.Validator) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.validators == nil {
		t.validators = make(map[string]*validation.Validator)
	}
	t.validators[name] = v
}

// SetValidatorBuilder registers the builder of the named validator and drops
// the cached one.
func (t *Table) SetValidatorBuilder(name string, build ValidatorBuilder) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.builders == nil {
		t.builders = make(map[string]ValidatorBuilder)
	}
	t.builders[name] = build
	delete(t.validators, name)
}

// IsUnique reports if no other row holds the values of the given fields of
// e. Rows are compared on all fields; an entity with a nil value in one of
// the fields is unique. It implements validation.UniqueChecker.
func (t *Table) IsUnique(ctx context.Context, e *entity.Entity, fields ...string) (bool, error) {
	conds := make([]*sql.Predicate, 0, len(fields)+1)
	for _, f := range fields {
		v := e.Get(f)
		if v == nil {
			return true, nil
		}
		conds = append(conds, sql.EQ(f, v))
	}
	if e.Newness() == entity.NewnessPersisted {
		pk, err := t.PrimaryKey(ctx)
		if err != nil {
			return false, err
		}
		if keys, ok := keyValues(e, pk); ok {
			conds = append(conds, sql.Not(sql.ColumnsEQ(pk, keys)))
		}
	}
	exists, err := t.exists(ctx, sql.And(conds...))
	return !exists, err
}

// keyValues returns the values of the given fields of e, and false if one
// of them is not set or empty.
func keyValues(e *entity.Entity, fields []string) ([]any, bool) {
	values := make([]any, len(fields))
	for i, f := range fields {
		v := e.Get(f)
		if v == nil || v == "" {
			return nil, false
		}
		values[i] = v
	}
	return values, len(fields) > 0
}

var _ validation.UniqueChecker = (*Table)(nil)
