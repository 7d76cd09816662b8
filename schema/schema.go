package schema

import (
	"fmt"
	"slices"
	"strings"
)

// Type is the abstract type of a column.
type Type string

// Column types.
const (
	TypeInteger    Type = "integer"
	TypeBigInteger Type = "biginteger"
	TypeString     Type = "string"
	TypeText       Type = "text"
	TypeBoolean    Type = "boolean"
	TypeFloat      Type = "float"
	TypeDecimal    Type = "decimal"
	TypeDateTime   Type = "datetime"
	TypeDate       Type = "date"
	TypeTime       Type = "time"
	TypeUUID       Type = "uuid"
	TypeBinary     Type = "binary"
	TypeJSON       Type = "json"
)

var types = []Type{
	TypeInteger, TypeBigInteger, TypeString, TypeText, TypeBoolean, TypeFloat,
	TypeDecimal, TypeDateTime, TypeDate, TypeTime, TypeUUID, TypeBinary, TypeJSON,
}

// Valid reports if t is one of the known column types.
func (t Type) Valid() bool {
	return slices.Contains(types, t)
}

// Numeric reports if t holds numbers.
func (t Type) Numeric() bool {
	switch t {
	case TypeInteger, TypeBigInteger, TypeFloat, TypeDecimal:
		return true
	}
	return false
}

// String implements fmt.Stringer.
func (t Type) String() string { return string(t) }

// Column describes a single table column.
type Column struct {
	Name          string `yaml:"name"`
	Type          Type   `yaml:"type"`
	Nullable      bool   `yaml:"null,omitempty"`
	Default       any    `yaml:"default,omitempty"`
	Size          int    `yaml:"length,omitempty"`
	Unique        bool   `yaml:"unique,omitempty"`
	AutoIncrement bool   `yaml:"autoIncrement,omitempty"`
}

// ConstraintType is the kind of a table constraint.
type ConstraintType string

// Constraint kinds.
const (
	ConstraintPrimary ConstraintType = "primary"
	ConstraintUnique  ConstraintType = "unique"
	ConstraintForeign ConstraintType = "foreign"
)

// Constraint is a named table constraint. RefTable and RefColumns are set
// for foreign keys only.
type Constraint struct {
	Name       string         `yaml:"name"`
	Type       ConstraintType `yaml:"type"`
	Columns    []string       `yaml:"columns"`
	RefTable   string         `yaml:"refTable,omitempty"`
	RefColumns []string       `yaml:"refColumns,omitempty"`
}

// Table describes a database table.
type Table struct {
	Name        string
	Columns     []*Column
	PrimaryKey  []string
	Constraints []*Constraint
}

// NewTable returns a new table description with the given name.
func NewTable(name string) *Table {
	return &Table{Name: name}
}

// AddColumn appends a column, replacing an existing column with the same name.
func (t *Table) AddColumn(c *Column) *Table {
	for i := range t.Columns {
		if t.Columns[i].Name == c.Name {
			t.Columns[i] = c
			return t
		}
	}
	t.Columns = append(t.Columns, c)
	return t
}

// Column returns the column with the given name.
func (t *Table) Column(name string) (*Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return nil, false
}

// HasColumn reports if the table has a column with the given name.
func (t *Table) HasColumn(name string) bool {
	_, ok := t.Column(name)
	return ok
}

// ColumnType returns the type of the named column, or the empty Type if
// the column does not exist.
func (t *Table) ColumnType(name string) Type {
	if c, ok := t.Column(name); ok {
		return c.Type
	}
	return ""
}

// ColumnNames returns the column names in declaration order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// SetPrimaryKey sets the primary key columns, recording a "primary"
// constraint for them.
func (t *Table) SetPrimaryKey(columns ...string) *Table {
	t.PrimaryKey = columns
	t.Constraints = slices.DeleteFunc(t.Constraints, func(c *Constraint) bool {
		return c.Type == ConstraintPrimary
	})
	t.Constraints = append(t.Constraints, &Constraint{Name: "primary", Type: ConstraintPrimary, Columns: columns})
	return t
}

// AddConstraint adds a named constraint. Every constrained column must
// exist, and a primary constraint also sets the primary key.
func (t *Table) AddConstraint(c *Constraint) error {
	switch c.Type {
	case ConstraintPrimary, ConstraintUnique:
	case ConstraintForeign:
		if c.RefTable == "" {
			return fmt.Errorf("schema: foreign key %q on %s has no referenced table", c.Name, t.Name)
		}
	default:
		return fmt.Errorf("schema: unknown constraint type %q for %s.%s", c.Type, t.Name, c.Name)
	}
	if len(c.Columns) == 0 {
		return fmt.Errorf("schema: constraint %q on %s has no columns", c.Name, t.Name)
	}
	for _, col := range c.Columns {
		if !t.HasColumn(col) {
			return fmt.Errorf("schema: constraint %q references non-existent column %s.%s", c.Name, t.Name, col)
		}
	}
	if c.Type == ConstraintPrimary {
		t.SetPrimaryKey(c.Columns...)
		t.Constraints[len(t.Constraints)-1] = c
		return nil
	}
	t.Constraints = append(t.Constraints, c)
	return nil
}

// Constraint returns the constraint with the given name.
func (t *Table) Constraint(name string) (*Constraint, bool) {
	for _, c := range t.Constraints {
		if c.Name == name {
			return c, true
		}
	}
	return nil, false
}

// FromMap builds a table description from a raw column map. Each value is
// either a type name or a map with the keys "type", "null", "default",
// "length", "unique" and "autoIncrement". The special key "_constraints"
// maps constraint names to maps with the keys "type", "columns" and, for
// foreign keys, "references" ([table, column...]).
//
// Columns are added in sorted name order.
func FromMap(name string, m map[string]any) (*Table, error) {
	t := NewTable(name)
	names := make([]string, 0, len(m))
	for k := range m {
		if k != "_constraints" {
			names = append(names, k)
		}
	}
	slices.Sort(names)
	for _, n := range names {
		c, err := columnFromAny(n, m[n])
		if err != nil {
			return nil, fmt.Errorf("schema: column %s.%s: %w", name, n, err)
		}
		t.AddColumn(c)
	}
	raw, ok := m["_constraints"]
	if !ok {
		return t, nil
	}
	consts, ok := stringMap(raw)
	if !ok {
		return nil, fmt.Errorf("schema: _constraints of %s must be a map, got %T", name, raw)
	}
	cnames := make([]string, 0, len(consts))
	for k := range consts {
		cnames = append(cnames, k)
	}
	slices.Sort(cnames)
	for _, cn := range cnames {
		def, ok := stringMap(consts[cn])
		if !ok {
			return nil, fmt.Errorf("schema: constraint %s.%s must be a map, got %T", name, cn, consts[cn])
		}
		c := &Constraint{Name: cn}
		typ, _ := def["type"].(string)
		c.Type = ConstraintType(strings.ToLower(typ))
		c.Columns = toStrings(def["columns"])
		if refs := toStrings(def["references"]); len(refs) > 0 {
			c.RefTable, c.RefColumns = refs[0], refs[1:]
		}
		if err := t.AddConstraint(c); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func columnFromAny(name string, v any) (*Column, error) {
	switch d := v.(type) {
	case string:
		return newColumn(name, d)
	case Type:
		return newColumn(name, string(d))
	}
	if v, ok := stringMap(v); ok {
		typ, _ := v["type"].(string)
		c, err := newColumn(name, typ)
		if err != nil {
			return nil, err
		}
		c.Nullable, _ = v["null"].(bool)
		c.Default = v["default"]
		c.Unique, _ = v["unique"].(bool)
		c.AutoIncrement, _ = v["autoIncrement"].(bool)
		switch n := v["length"].(type) {
		case int:
			c.Size = n
		case int64:
			c.Size = int(n)
		case float64:
			c.Size = int(n)
		}
		return c, nil
	}
	return nil, fmt.Errorf("unexpected definition %T", v)
}

// stringMap returns v as a map keyed by strings. YAML documents decode
// mappings with a null key, such as "null: true", to map[any]any; the nil
// key becomes "null" and other keys are formatted with fmt.Sprint.
func stringMap(v any) (map[string]any, bool) {
	switch v := v.(type) {
	case map[string]any:
		return v, true
	case map[any]any:
		m := make(map[string]any, len(v))
		for k, e := range v {
			if k == nil {
				m["null"] = e
				continue
			}
			m[fmt.Sprint(k)] = e
		}
		return m, true
	}
	return nil, false
}

func newColumn(name, typ string) (*Column, error) {
	t := Type(strings.ToLower(typ))
	if !t.Valid() {
		return nil, fmt.Errorf("unknown type %q", typ)
	}
	return &Column{Name: name, Type: t}, nil
}

// ToMap converts the description back into a raw column map accepted by FromMap.
func (t *Table) ToMap() map[string]any {
	m := make(map[string]any, len(t.Columns)+1)
	for _, c := range t.Columns {
		def := map[string]any{"type": string(c.Type)}
		if c.Nullable {
			def["null"] = true
		}
		if c.Default != nil {
			def["default"] = c.Default
		}
		if c.Size > 0 {
			def["length"] = c.Size
		}
		if c.Unique {
			def["unique"] = true
		}
		if c.AutoIncrement {
			def["autoIncrement"] = true
		}
		m[c.Name] = def
	}
	if len(t.Constraints) > 0 {
		consts := make(map[string]any, len(t.Constraints))
		for _, c := range t.Constraints {
			def := map[string]any{"type": string(c.Type), "columns": slices.Clone(c.Columns)}
			if c.RefTable != "" {
				def["references"] = append([]string{c.RefTable}, c.RefColumns...)
			}
			consts[c.Name] = def
		}
		m["_constraints"] = consts
	}
	return m
}

func toStrings(v any) []string {
	switch v := v.(type) {
	case string:
		return []string{v}
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
