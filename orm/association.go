package orm

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/go-openapi/inflect"

	"github.com/syssam/tabula"
	"github.com/syssam/tabula/entity"
)

// Kind is the variant of an association.
type Kind uint8

// Association kinds.
const (
	KindBelongsTo Kind = iota + 1
	KindHasOne
	KindHasMany
	KindBelongsToMany
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindBelongsTo:
		return "belongsTo"
	case KindHasOne:
		return "hasOne"
	case KindHasMany:
		return "hasMany"
	case KindBelongsToMany:
		return "belongsToMany"
	default:
		return "unknown"
	}
}

// Association is a named edge from a source table to a target table. The
// entities of the target are stored on the source entity under Property.
type Association interface {
	// Name returns the alias of the association, unique per source table.
	Name() string
	Kind() Kind
	Source() *Table
	Target() *Table
	// ForeignKey returns the columns holding the reference.
	ForeignKey() []string
	// BindingKey returns the referenced columns.
	BindingKey(context.Context) ([]string, error)
	Property() string
	Conditions() map[string]any
	Dependent() bool
	CascadeCallbacks() bool
	// IsOwningSide reports if side is the table the other side of the
	// association refers to. The rows of an owning side are written before
	// the rows referring to them.
	IsOwningSide(side *Table) bool
	// Save persists the entities stored under Property of e.
	Save(ctx context.Context, e *entity.Entity, opts *SaveOptions) (bool, error)
	// CascadeDelete removes or detaches the rows related to the deleted
	// entity e, depending on the cascade policy of the association.
	CascadeDelete(ctx context.Context, e *entity.Entity, opts *DeleteOptions) error
	// Attach loads the related entities of the given source entities and
	// stores them under Property.
	Attach(ctx context.Context, entities []*entity.Entity) error
}

// Strategy selects how the links of a BelongsToMany association are saved.
type Strategy string

// Save strategies.
const (
	// Append adds the missing links and keeps the existing ones.
	Append Strategy = "append"
	// Replace removes the links to entities that are not part of the saved
	// set.
	Replace Strategy = "replace"
)

// AssociationOption configures an association.
type AssociationOption func(*association)

// Target sets the target table. Without it, the target is looked up by
// alias in the locator of the source table.
func Target(t *Table) AssociationOption {
	return func(a *association) { a.target = t }
}

// ForeignKey sets the foreign key columns.
func ForeignKey(columns ...string) AssociationOption {
	return func(a *association) { a.foreignKey = columns }
}

// TargetForeignKey sets the columns of the join table referring to the
// target of a BelongsToMany association.
func TargetForeignKey(columns ...string) AssociationOption {
	return func(a *association) { a.targetForeignKey = columns }
}

// BindingKey sets the referenced columns. It defaults to the primary key of
// the referenced table.
func BindingKey(columns ...string) AssociationOption {
	return func(a *association) { a.bindingKey = columns }
}

// JoinTable sets the name of the join table of a BelongsToMany association.
func JoinTable(name string) AssociationOption {
	return func(a *association) { a.joinTable = name }
}

// Through sets the table of the join rows of a BelongsToMany association.
// Join rows are then saved and deleted through it, firing its events.
func Through(t *Table) AssociationOption {
	return func(a *association) { a.through = t }
}

// Conditions sets extra conditions matching the target rows.
func Conditions(conds map[string]any) AssociationOption {
	return func(a *association) { a.conditions = conds }
}

// Dependent removes the target rows when the source row is deleted.
func Dependent(b bool) AssociationOption {
	return func(a *association) { a.dependent = b }
}

// CascadeCallbacks deletes dependent rows one by one through the target
// table, firing its events and cascades, instead of a bulk delete.
func CascadeCallbacks(b bool) AssociationOption {
	return func(a *association) { a.cascadeCallbacks = b }
}

// Property sets the entity property holding the related entities.
func Property(name string) AssociationOption {
	return func(a *association) { a.property = name }
}

// SaveStrategy sets the save strategy of a BelongsToMany association.
func SaveStrategy(s Strategy) AssociationOption {
	return func(a *association) { a.strategy = s }
}

// Sort sets the order of the related entities loaded by Attach.
func Sort(columns ...string) AssociationOption {
	return func(a *association) { a.sort = columns }
}

// association holds the configuration shared by all kinds.
type association struct {
	name             string
	source           *Table
	target           *Table
	foreignKey       []string
	targetForeignKey []string
	bindingKey       []string
	joinTable        string
	through          *Table
	conditions       map[string]any
	dependent        bool
	cascadeCallbacks bool
	property         string
	strategy         Strategy
	sort             []string
}

func newAssociation(source *Table, alias string, opts []AssociationOption) (*association, error) {
	a := &association{name: alias, source: source, strategy: Replace}
	for _, opt := range opts {
		opt(a)
	}
	if a.target == nil {
		if source.locator == nil {
			return nil, &tabula.MissingTableError{Name: alias}
		}
		t, ok := source.locator.Get(alias)
		if !ok {
			return nil, &tabula.MissingTableError{Name: alias}
		}
		a.target = t
	}
	return a, nil
}

func (a *association) Name() string               { return a.name }
func (a *association) Source() *Table             { return a.source }
func (a *association) Target() *Table             { return a.target }
func (a *association) ForeignKey() []string       { return a.foreignKey }
func (a *association) Property() string           { return a.property }
func (a *association) Conditions() map[string]any { return maps.Clone(a.conditions) }
func (a *association) Dependent() bool            { return a.dependent }
func (a *association) CascadeCallbacks() bool     { return a.cascadeCallbacks }

// singular returns the underscored singular form of an alias, e.g.
// "BlogPosts" to "blog_post".
func singular(alias string) string {
	return inflect.Underscore(inflect.Singularize(alias))
}

// targetQuery returns a query on the target rows matching the association
// conditions.
func (a *association) targetQuery() *Query {
	q := a.target.Query().Conditions(a.conditions)
	if len(a.sort) > 0 {
		q.OrderBy(a.sort...)
	}
	return q
}

// keyOf returns the values of the given key columns of e.
func (a *association) keyOf(e *entity.Entity, columns []string) ([]any, error) {
	values, ok := keyValues(e, columns)
	if !ok {
		return nil, &tabula.MissingKeyError{Table: a.source.Alias(), Op: "save " + a.name, Missing: missingKeys(e, columns)}
	}
	return values, nil
}

func missingKeys(e *entity.Entity, columns []string) []string {
	var missing []string
	for _, c := range columns {
		if v := e.Get(c); v == nil || v == "" {
			missing = append(missing, c)
		}
	}
	return missing
}

// setKeys sets the given columns of e to values, leaving equal values
// untouched.
func setKeys(e *entity.Entity, columns []string, values []any) {
	for i, c := range columns {
		if v, ok := e.Lookup(c); ok && keyString(v) == keyString(values[i]) {
			continue
		}
		e.Set(c, values[i])
	}
}

// keyString returns a comparable representation of a key value. Keys loaded
// from different drivers may hold different integer types.
func keyString(v any) string {
	switch v := v.(type) {
	case []byte:
		return string(v)
	case []any:
		parts := make([]string, len(v))
		for i := range v {
			parts[i] = keyString(v[i])
		}
		return strings.Join(parts, "\x00")
	}
	return fmt.Sprint(v)
}

// attachValue stores v under the property of e without marking it dirty.
func attachValue(e *entity.Entity, property string, v any) {
	e.Set(property, v)
	e.SetDirty(property, false)
}

// distinctValues returns the distinct non-nil values of column in the given
// entities, in first-seen order.
func distinctValues(entities []*entity.Entity, column string) []any {
	seen := make(map[string]bool)
	var values []any
	for _, e := range entities {
		v := e.Get(column)
		if v == nil {
			continue
		}
		if k := keyString(v); !seen[k] {
			seen[k] = true
			values = append(values, v)
		}
	}
	return values
}

func singleColumn(name string, columns []string) (string, error) {
	if len(columns) != 1 {
		return "", fmt.Errorf("tabula/orm: association %s: eager loading requires a single column key, got %v", name, columns)
	}
	return columns[0], nil
}

// sortAssociationTypes resolves the aliases to associations and splits them
// into parents, written before the entity, and children, written after it.
// The order of the aliases is kept within each group.
func (t *Table) sortAssociationTypes(aliases []string) (parents, children []Association, err error) {
	for _, alias := range aliases {
		a, ok := t.Association(alias)
		if !ok {
			return nil, nil, &tabula.UnknownAssociationError{Table: t.Alias(), Name: alias}
		}
		if a.IsOwningSide(t) {
			children = append(children, a)
		} else {
			parents = append(parents, a)
		}
	}
	return parents, children, nil
}

// selectAssociations returns the aliases of the associations saved with o.
func (t *Table) selectAssociations(o *SaveOptions) []string {
	if !o.AllAssociated {
		var aliases []string
		for _, alias := range o.Associated {
			if !slices.ContainsFunc(aliases, func(s string) bool { return strings.EqualFold(s, alias) }) {
				aliases = append(aliases, alias)
			}
		}
		return aliases
	}
	all := t.Associations()
	aliases := make([]string, len(all))
	for i, a := range all {
		aliases[i] = a.Name()
	}
	return aliases
}

// junctionName returns the default join table name of two tables: their
// names in lexical order joined by an underscore.
func junctionName(a, b string) string {
	names := []string{a, b}
	slices.Sort(names)
	return strings.Join(names, "_")
}
