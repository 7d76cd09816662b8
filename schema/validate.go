package schema

import (
	"fmt"
	"slices"
	"strings"
)

// Problem is an issue found in a table description.
type Problem struct {
	Table   string
	Column  string
	Message string
}

func (p *Problem) Error() string {
	if p.Column != "" {
		return fmt.Sprintf("%s.%s: %s", p.Table, p.Column, p.Message)
	}
	return fmt.Sprintf("%s: %s", p.Table, p.Message)
}

// Report holds the problems found by Validate and Compare. Errors make a
// table unusable for saving or loading; warnings do not.
type Report struct {
	Errors   []*Problem
	Warnings []*Problem
}

// Errorf records an error on table, and column when not empty.
func (r *Report) Errorf(table, column, format string, args ...any) {
	r.Errors = append(r.Errors, &Problem{Table: table, Column: column, Message: fmt.Sprintf(format, args...)})
}

// Warnf records a warning on table, and column when not empty.
func (r *Report) Warnf(table, column, format string, args ...any) {
	r.Warnings = append(r.Warnings, &Problem{Table: table, Column: column, Message: fmt.Sprintf(format, args...)})
}

// Merge appends the problems of o to r.
func (r *Report) Merge(o *Report) *Report {
	if o != nil {
		r.Errors = append(r.Errors, o.Errors...)
		r.Warnings = append(r.Warnings, o.Warnings...)
	}
	return r
}

// HasErrors returns true if there are any errors.
func (r *Report) HasErrors() bool {
	return len(r.Errors) > 0
}

// HasWarnings returns true if there are any warnings.
func (r *Report) HasWarnings() bool {
	return len(r.Warnings) > 0
}

// String returns a human-readable summary of the report.
func (r *Report) String() string {
	var sb strings.Builder
	for _, s := range []struct {
		title    string
		problems []*Problem
	}{{"Errors", r.Errors}, {"Warnings", r.Warnings}} {
		if len(s.problems) == 0 {
			continue
		}
		sb.WriteString(s.title + ":\n")
		for _, p := range s.problems {
			sb.WriteString("  - " + p.Error() + "\n")
		}
	}
	if !r.HasErrors() && !r.HasWarnings() {
		sb.WriteString("No issues found")
	}
	return sb.String()
}

// ValidateOption configures Validate.
type ValidateOption func(*validateConfig)

type validateConfig struct {
	refs map[string]*Table
}

// References adds tables that foreign constraints may refer to. They are
// not validated themselves.
func References(tables ...*Table) ValidateOption {
	return func(c *validateConfig) {
		for _, t := range tables {
			c.refs[t.Name] = t
		}
	}
}

// Validate checks the given tables: primary keys and constraints must name
// existing columns, and foreign constraints must refer to existing columns
// of one of the tables or of a table given with References.
func Validate(tables []*Table, opts ...ValidateOption) *Report {
	cfg := &validateConfig{refs: make(map[string]*Table)}
	for _, opt := range opts {
		opt(cfg)
	}
	r := &Report{}
	seen := make(map[string]bool, len(tables))
	for _, t := range tables {
		if seen[t.Name] {
			r.Errorf(t.Name, "", "duplicate table name")
		}
		seen[t.Name] = true
		cfg.refs[t.Name] = t
	}
	for _, t := range tables {
		validateTable(t, cfg.refs, r)
	}
	return r
}

// ValidateTable checks a single table. Foreign constraints are only checked
// for their local columns.
func ValidateTable(t *Table) *Report {
	r := &Report{}
	validateTable(t, nil, r)
	return r
}

func validateTable(t *Table, refs map[string]*Table, r *Report) {
	if len(t.PrimaryKey) == 0 {
		r.Warnf(t.Name, "", "table has no primary key")
	}
	seen := make(map[string]bool, len(t.Columns))
	for _, c := range t.Columns {
		if seen[c.Name] {
			r.Errorf(t.Name, c.Name, "duplicate column name")
		}
		seen[c.Name] = true
		if !c.Type.Valid() {
			r.Errorf(t.Name, c.Name, "unknown column type %q", c.Type)
		}
	}
	for _, c := range t.PrimaryKey {
		if !seen[c] {
			r.Errorf(t.Name, "", "primary key references non-existent column %q", c)
		}
	}
	for _, c := range t.Constraints {
		for _, col := range c.Columns {
			if !seen[col] {
				r.Errorf(t.Name, "", "constraint %q references non-existent column %q", c.Name, col)
			}
		}
		if c.Type != ConstraintForeign || refs == nil {
			continue
		}
		ref, ok := refs[c.RefTable]
		switch {
		case !ok:
			r.Errorf(t.Name, "", "foreign key %q references non-existent table %q", c.Name, c.RefTable)
			continue
		case len(c.RefColumns) != len(c.Columns):
			r.Errorf(t.Name, "", "foreign key %q has %d columns but references %d", c.Name, len(c.Columns), len(c.RefColumns))
		}
		for i, col := range c.RefColumns {
			rc, ok := ref.Column(col)
			if !ok {
				r.Errorf(t.Name, "", "foreign key %q references non-existent column %s.%s", c.Name, c.RefTable, col)
				continue
			}
			if i < len(c.Columns) {
				if lc, ok := t.Column(c.Columns[i]); ok && lc.Type != rc.Type {
					r.Warnf(t.Name, lc.Name, "foreign key %q column type %s differs from %s.%s type %s", c.Name, lc.Type, c.RefTable, col, rc.Type)
				}
			}
		}
	}
}

// Compare reports how the declared tables differ from the actual tables of
// the database. Declared tables and columns missing from the database and a
// different primary key are errors. Type and nullability differences, and
// required database columns the declaration leaves out, are warnings.
func Compare(declared, actual []*Table) *Report {
	r := &Report{}
	byName := make(map[string]*Table, len(actual))
	for _, t := range actual {
		byName[t.Name] = t
	}
	for _, d := range declared {
		a, ok := byName[d.Name]
		if !ok {
			r.Errorf(d.Name, "", "table does not exist in the database")
			continue
		}
		for _, dc := range d.Columns {
			ac, ok := a.Column(dc.Name)
			switch {
			case !ok:
				r.Errorf(d.Name, dc.Name, "column does not exist in the database")
			case ac.Type != dc.Type:
				r.Warnf(d.Name, dc.Name, "declared as %s but the database column is %s", dc.Type, ac.Type)
			case ac.Nullable != dc.Nullable:
				r.Warnf(d.Name, dc.Name, "declared with null %t but the database column has null %t", dc.Nullable, ac.Nullable)
			}
		}
		for _, ac := range a.Columns {
			if !d.HasColumn(ac.Name) && !ac.Nullable && ac.Default == nil && !ac.AutoIncrement {
				r.Warnf(d.Name, ac.Name, "required column is not declared, inserts will fail")
			}
		}
		if len(a.PrimaryKey) > 0 && !slices.Equal(a.PrimaryKey, d.PrimaryKey) {
			r.Errorf(d.Name, "", "primary key (%s) differs from the database primary key (%s)",
				strings.Join(d.PrimaryKey, ", "), strings.Join(a.PrimaryKey, ", "))
		}
	}
	return r
}
