package orm

import (
	"log/slog"
	"maps"
	"strings"

	"github.com/syssam/tabula/dialect"
	sqlschema "github.com/syssam/tabula/dialect/sql/schema"
	"github.com/syssam/tabula/entity"
	"github.com/syssam/tabula/event"
	"github.com/syssam/tabula/schema"
	"github.com/syssam/tabula/validation"
)

// Option configures a Table.
type Option func(*Table)

// WithTable sets the database table name.
func WithTable(name string) Option {
	return func(t *Table) { t.table = name }
}

// WithAlias sets the alias of the table. Associations and entities refer to
// the table by its alias.
func WithAlias(alias string) Option {
	return func(t *Table) { t.alias = alias }
}

// WithDriver sets the database driver used by the table.
func WithDriver(drv dialect.Driver) Option {
	return func(t *Table) { t.driver = drv }
}

// WithSchema sets the description of the table, disabling introspection.
func WithSchema(s *schema.Table) Option {
	return func(t *Table) { t.schema = s }
}

// WithColumns sets the description of the table from a raw column map. See
// schema.FromMap for the accepted layout.
//
//	orm.WithColumns(map[string]any{
//		"id":    "integer",
//		"title": map[string]any{"type": "string", "null": false},
//		"_constraints": map[string]any{
//			"primary": map[string]any{"type": "primary", "columns": []string{"id"}},
//		},
//	})
func WithColumns(columns map[string]any) Option {
	return func(t *Table) { t.columns = columns }
}

// WithInspector sets the inspector used to describe the table lazily when no
// schema was given.
func WithInspector(insp sqlschema.Inspector) Option {
	return func(t *Table) { t.inspector = insp }
}

// WithEntityFactory sets the function building entities for loaded rows.
func WithEntityFactory(f entity.Factory) Option {
	return func(t *Table) { t.factory = f }
}

// WithEventBus sets the event bus of the table. Tables sharing a bus share
// their listeners.
func WithEventBus(bus *event.Bus) Option {
	return func(t *Table) { t.bus = bus }
}

// WithBehaviors loads the given behaviors when the table is created.
func WithBehaviors(bs ...Behavior) Option {
	return func(t *Table) { t.pending = append(t.pending, bs...) }
}

// WithLocator registers the table in l under its alias. Associations resolve
// their targets through the locator of their source table.
func WithLocator(l *Locator) Option {
	return func(t *Table) { t.locator = l }
}

// WithLogger sets the logger of the table.
func WithLogger(l *slog.Logger) Option {
	return func(t *Table) { t.logger = l }
}

// WithPrimaryKey overrides the primary key of the schema.
func WithPrimaryKey(columns ...string) Option {
	return func(t *Table) { t.primaryKey = columns }
}

// WithDisplayField overrides the display field.
func WithDisplayField(field string) Option {
	return func(t *Table) { t.displayField = field }
}

// WithInitialize registers a function called once the table is built. It is
// the place to declare associations, finders and listeners.
//
//	orm.WithInitialize(func(t *orm.Table) error {
//		_, err := t.BelongsTo("Authors")
//		return err
//	})
func WithInitialize(fn func(*Table) error) Option {
	return func(t *Table) { t.initialize = append(t.initialize, fn) }
}

// WithIDRegistry sets the generators of primary key values. It defaults to
// schema.DefaultIDs().
func WithIDRegistry(r *schema.IDRegistry) Option {
	return func(t *Table) { t.ids = r }
}

// ValidatorBuilder configures the validator it receives.
type ValidatorBuilder func(*validation.Validator) *validation.Validator

// WithValidator registers the builder of the named validator. The validator
// is built on first use.
func WithValidator(name string, build ValidatorBuilder) Option {
	return func(t *Table) {
		if t.builders == nil {
			t.builders = make(map[string]ValidatorBuilder)
		}
		t.builders[name] = build
	}
}

// SaveOptions holds the options of a save. Listeners of Model.beforeSave
// receive a pointer to the options and may adjust them; the association
// phases use a copy taken after that event.
type SaveOptions struct {
	// Atomic runs the save in a transaction. Defaults to true.
	Atomic bool
	// Validate runs the validator before saving. Defaults to true.
	Validate bool
	// Validator is the name of the validator. Defaults to "default".
	Validator string
	// AllAssociated saves every association with a dirty property.
	// Defaults to true.
	AllAssociated bool
	// Associated lists the aliases of the saved associations when
	// AllAssociated is false.
	Associated []string
	// Extra holds options for listeners and behaviors.
	Extra map[string]any

	nested map[string][]SaveOption
}

// DeleteOptions holds the options of a delete.
type DeleteOptions struct {
	// Atomic runs the delete in a transaction. Defaults to true.
	Atomic bool
	// Extra holds options for listeners and behaviors.
	Extra map[string]any
}

// SaveOption configures a save.
type SaveOption interface {
	applySave(*SaveOptions)
}

// DeleteOption configures a delete.
type DeleteOption interface {
	applyDelete(*DeleteOptions)
}

type saveOptionFunc func(*SaveOptions)

func (f saveOptionFunc) applySave(o *SaveOptions) { f(o) }

type nonAtomic struct{}

func (nonAtomic) applySave(o *SaveOptions)     { o.Atomic = false }
func (nonAtomic) applyDelete(o *DeleteOptions) { o.Atomic = false }

// NonAtomic disables the transaction wrapping a save or a delete. Writes
// done before a failure are kept.
func NonAtomic() interface {
	SaveOption
	DeleteOption
} {
	return nonAtomic{}
}

type extra struct {
	key   string
	value any
}

func (e extra) applySave(o *SaveOptions) {
	if o.Extra == nil {
		o.Extra = make(map[string]any)
	}
	o.Extra[e.key] = e.value
}

func (e extra) applyDelete(o *DeleteOptions) {
	if o.Extra == nil {
		o.Extra = make(map[string]any)
	}
	o.Extra[e.key] = e.value
}

// Extra sets an option read by listeners and behaviors.
func Extra(key string, value any) interface {
	SaveOption
	DeleteOption
} {
	return extra{key: key, value: value}
}

// SkipValidation disables the validation phase.
func SkipValidation() SaveOption {
	return saveOptionFunc(func(o *SaveOptions) { o.Validate = false })
}

// Validate selects the named validator.
func Validate(name string) SaveOption {
	return saveOptionFunc(func(o *SaveOptions) {
		o.Validate = true
		o.Validator = name
	})
}

// NoAssociated saves the entity alone.
func NoAssociated() SaveOption {
	return saveOptionFunc(func(o *SaveOptions) {
		o.AllAssociated = false
		o.Associated = nil
	})
}

// Associated limits the saved associations to the given aliases.
func Associated(aliases ...string) SaveOption {
	return saveOptionFunc(func(o *SaveOptions) {
		o.AllAssociated = false
		o.Associated = append(o.Associated, aliases...)
	})
}

// AssociatedWith sets the options used to save the entities of the alias
// association. Unless every association is saved, the alias is added to the
// saved ones.
func AssociatedWith(alias string, opts ...SaveOption) SaveOption {
	return saveOptionFunc(func(o *SaveOptions) {
		if !o.AllAssociated {
			o.Associated = append(o.Associated, alias)
		}
		if o.nested == nil {
			o.nested = make(map[string][]SaveOption)
		}
		key := strings.ToLower(alias)
		o.nested[key] = append(o.nested[key], opts...)
	})
}

func newSaveOptions(opts []SaveOption) *SaveOptions {
	o := &SaveOptions{Atomic: true, Validate: true, Validator: DefaultValidator, AllAssociated: true}
	for _, opt := range opts {
		opt.applySave(o)
	}
	return o
}

func newDeleteOptions(opts []DeleteOption) *DeleteOptions {
	o := &DeleteOptions{Atomic: true}
	for _, opt := range opts {
		opt.applyDelete(o)
	}
	return o
}

func (o *SaveOptions) clone() *SaveOptions {
	c := *o
	c.Associated = append([]string(nil), o.Associated...)
	c.Extra = maps.Clone(o.Extra)
	return &c
}

// forAssociation returns the options of the saves run by the alias
// association: atomicity, validation and extra options are inherited, the
// nested entities save their own associations, and the options given with
// AssociatedWith are applied last.
func (o *SaveOptions) forAssociation(alias string) *SaveOptions {
	n := &SaveOptions{
		Atomic:        o.Atomic,
		Validate:      o.Validate,
		Validator:     DefaultValidator,
		AllAssociated: true,
		Extra:         maps.Clone(o.Extra),
	}
	for _, opt := range o.nested[strings.ToLower(alias)] {
		opt.applySave(n)
	}
	return n
}

func (o *DeleteOptions) clone() *DeleteOptions {
	return &DeleteOptions{Atomic: o.Atomic, Extra: maps.Clone(o.Extra)}
}
