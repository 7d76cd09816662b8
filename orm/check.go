package orm

import (
	"context"
	"fmt"
	"slices"

	"github.com/syssam/tabula"
	sqlschema "github.com/syssam/tabula/dialect/sql/schema"
	"github.com/syssam/tabula/schema"
)

// CheckAssociations reports the associations of tables whose keys or join
// tables do not exist in the database described by insp: the foreign and
// binding keys of every association, and the join table of BelongsToMany
// associations with both of its foreign keys.
func CheckAssociations(ctx context.Context, insp sqlschema.Inspector, tables ...*Table) (*schema.Report, error) {
	c := &checker{insp: insp, tables: make(map[string]*schema.Table), report: &schema.Report{}}
	for _, t := range tables {
		for _, a := range t.Associations() {
			if err := c.association(ctx, a); err != nil {
				return nil, fmt.Errorf("tabula/orm: checking association %s of %s: %w", a.Name(), t.Alias(), err)
			}
		}
	}
	return c.report, nil
}

type checker struct {
	insp   sqlschema.Inspector
	tables map[string]*schema.Table
	report *schema.Report
}

func (c *checker) association(ctx context.Context, a Association) error {
	binding, err := a.BindingKey(ctx)
	if err != nil {
		return err
	}
	name := fmt.Sprintf("%s.%s", a.Source().Alias(), a.Name())
	switch a := a.(type) {
	case *BelongsTo:
		if err := c.require(ctx, name, a.Source().Table(), a.ForeignKey()); err != nil {
			return err
		}
		return c.require(ctx, name, a.Target().Table(), binding)
	case *BelongsToMany:
		if err := c.require(ctx, name, a.Source().Table(), binding); err != nil {
			return err
		}
		join := a.joinTable
		if a.through != nil {
			join = a.through.Table()
		}
		return c.require(ctx, name, join, append(slices.Clone(a.ForeignKey()), a.TargetForeignKey()...))
	default:
		if err := c.require(ctx, name, a.Source().Table(), binding); err != nil {
			return err
		}
		return c.require(ctx, name, a.Target().Table(), a.ForeignKey())
	}
}

// require records an error for each of columns missing from table, or one
// error if the table itself does not exist.
func (c *checker) require(ctx context.Context, assoc, table string, columns []string) error {
	s, ok := c.tables[table]
	if !ok {
		var err error
		s, err = c.insp.InspectTable(ctx, table)
		switch {
		case tabula.IsMissingTable(err):
			s = nil
		case err != nil:
			return err
		}
		c.tables[table] = s
	}
	if s == nil {
		c.report.Errorf(table, "", "table used by association %s does not exist", assoc)
		return nil
	}
	for _, col := range columns {
		if !s.HasColumn(col) {
			c.report.Errorf(table, col, "column used by association %s does not exist", assoc)
		}
	}
	return nil
}
