package orm

import (
	"context"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/syssam/tabula/schema"
)

// Config is the declarative description of a table.
//
//	tables:
//	  - table: articles
//	    displayField: title
//	    columns:
//	      id: integer
//	      title: {type: string, null: false}
//	      author_id: integer
//	      _constraints:
//	        primary: {type: primary, columns: [id]}
//	    associations:
//	      - kind: belongsTo
//	        alias: Authors
//	      - kind: hasMany
//	        alias: Comments
//	        dependent: true
type Config struct {
	Table        string              `yaml:"table,omitempty"`
	Alias        string              `yaml:"alias,omitempty"`
	PrimaryKey   []string            `yaml:"primaryKey,omitempty"`
	DisplayField string              `yaml:"displayField,omitempty"`
	Columns      map[string]any      `yaml:"columns,omitempty"`
	Associations []AssociationConfig `yaml:"associations,omitempty"`
}

// AssociationConfig is the declarative description of an association.
type AssociationConfig struct {
	Kind             string         `yaml:"kind"`
	Alias            string         `yaml:"alias"`
	Target           string         `yaml:"target,omitempty"`
	ForeignKey       []string       `yaml:"foreignKey,omitempty"`
	TargetForeignKey []string       `yaml:"targetForeignKey,omitempty"`
	BindingKey       []string       `yaml:"bindingKey,omitempty"`
	JoinTable        string         `yaml:"joinTable,omitempty"`
	Through          string         `yaml:"through,omitempty"`
	Conditions       map[string]any `yaml:"conditions,omitempty"`
	Dependent        bool           `yaml:"dependent,omitempty"`
	CascadeCallbacks bool           `yaml:"cascadeCallbacks,omitempty"`
	Property         string         `yaml:"property,omitempty"`
	Strategy         Strategy       `yaml:"saveStrategy,omitempty"`
	Sort             []string       `yaml:"sort,omitempty"`
}

type configFile struct {
	Tables []*Config `yaml:"tables"`
}

// LoadConfig parses a YAML document holding a list of tables under the
// "tables" key.
func LoadConfig(data []byte) ([]*Config, error) {
	var f configFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("tabula/orm: parsing config: %w", err)
	}
	for i, c := range f.Tables {
		if c == nil || (c.Table == "" && c.Alias == "") {
			return nil, fmt.Errorf("tabula/orm: config of table %d has no table name or alias", i)
		}
		for _, a := range c.Associations {
			if _, err := ParseKind(a.Kind); err != nil {
				return nil, fmt.Errorf("tabula/orm: config of %s: %w", c.Table+c.Alias, err)
			}
		}
	}
	return f.Tables, nil
}

// MarshalConfig encodes the configurations in the layout read by
// LoadConfig.
func MarshalConfig(cfgs ...*Config) ([]byte, error) {
	return yaml.Marshal(configFile{Tables: cfgs})
}

// ConfigOf returns the configuration describing t. Associations are listed
// in declaration order.
func ConfigOf(ctx context.Context, t *Table) (*Config, error) {
	s, err := t.Schema(ctx)
	if err != nil {
		return nil, err
	}
	c := &Config{
		Table:        t.Table(),
		Alias:        t.Alias(),
		PrimaryKey:   t.primaryKey,
		DisplayField: t.displayField,
		Columns:      s.ToMap(),
	}
	for _, a := range t.Associations() {
		ac := AssociationConfig{
			Kind:             a.Kind().String(),
			Alias:            a.Name(),
			ForeignKey:       a.ForeignKey(),
			Conditions:       a.Conditions(),
			Dependent:        a.Dependent(),
			CascadeCallbacks: a.CascadeCallbacks(),
			Property:         a.Property(),
		}
		if !strings.EqualFold(a.Target().Alias(), a.Name()) {
			ac.Target = a.Target().Alias()
		}
		if m, ok := a.(*BelongsToMany); ok {
			ac.TargetForeignKey = m.targetForeignKey
			ac.JoinTable = m.joinTable
			ac.Strategy = m.strategy
		}
		c.Associations = append(c.Associations, ac)
	}
	return c, nil
}

// ConfigFromSchema returns the configuration of a table described by s.
func ConfigFromSchema(s *schema.Table) *Config {
	return &Config{Table: s.Name, Columns: s.ToMap()}
}

func (c *Config) options() []Option {
	var opts []Option
	if c.Table != "" {
		opts = append(opts, WithTable(c.Table))
	}
	if c.Alias != "" {
		opts = append(opts, WithAlias(c.Alias))
	}
	if len(c.PrimaryKey) > 0 {
		opts = append(opts, WithPrimaryKey(c.PrimaryKey...))
	}
	if c.DisplayField != "" {
		opts = append(opts, WithDisplayField(c.DisplayField))
	}
	if c.Columns != nil {
		opts = append(opts, WithColumns(c.Columns))
	}
	return opts
}

// ParseKind parses the name of an association kind, e.g. "hasMany".
func ParseKind(s string) (Kind, error) {
	for _, k := range []Kind{KindBelongsTo, KindHasOne, KindHasMany, KindBelongsToMany} {
		if strings.EqualFold(k.String(), s) {
			return k, nil
		}
	}
	return 0, fmt.Errorf("tabula/orm: unknown association kind %q", s)
}

// declare declares the association described by c.
func (t *Table) declare(c AssociationConfig) error {
	kind, err := ParseKind(c.Kind)
	if err != nil {
		return err
	}
	var opts []AssociationOption
	if c.Target != "" {
		target, ok := t.lookup(c.Target)
		if !ok {
			return fmt.Errorf("association %s: target %s is not registered", c.Alias, c.Target)
		}
		opts = append(opts, Target(target))
	}
	if c.Through != "" {
		through, ok := t.lookup(c.Through)
		if !ok {
			return fmt.Errorf("association %s: join table %s is not registered", c.Alias, c.Through)
		}
		opts = append(opts, Through(through))
	}
	if len(c.ForeignKey) > 0 {
		opts = append(opts, ForeignKey(c.ForeignKey...))
	}
	if len(c.TargetForeignKey) > 0 {
		opts = append(opts, TargetForeignKey(c.TargetForeignKey...))
	}
	if len(c.BindingKey) > 0 {
		opts = append(opts, BindingKey(c.BindingKey...))
	}
	if c.JoinTable != "" {
		opts = append(opts, JoinTable(c.JoinTable))
	}
	if len(c.Conditions) > 0 {
		opts = append(opts, Conditions(c.Conditions))
	}
	if c.Property != "" {
		opts = append(opts, Property(c.Property))
	}
	if c.Strategy != "" {
		opts = append(opts, SaveStrategy(c.Strategy))
	}
	if len(c.Sort) > 0 {
		opts = append(opts, Sort(c.Sort...))
	}
	opts = append(opts, Dependent(c.Dependent), CascadeCallbacks(c.CascadeCallbacks))
	switch kind {
	case KindBelongsTo:
		_, err = t.BelongsTo(c.Alias, opts...)
	case KindHasOne:
		_, err = t.HasOne(c.Alias, opts...)
	case KindHasMany:
		_, err = t.HasMany(c.Alias, opts...)
	case KindBelongsToMany:
		_, err = t.BelongsToMany(c.Alias, opts...)
	}
	return err
}

func (t *Table) lookup(alias string) (*Table, bool) {
	if t.locator == nil {
		return nil, false
	}
	return t.locator.Get(alias)
}
