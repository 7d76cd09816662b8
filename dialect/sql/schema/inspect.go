// Package schema introspects table descriptions from a live database using
// the Atlas inspectors.
package schema

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	atlas "ariga.io/atlas/sql/schema"
	"ariga.io/atlas/sql/mysql"
	"ariga.io/atlas/sql/postgres"
	"ariga.io/atlas/sql/sqlite"

	"github.com/syssam/tabula"
	"github.com/syssam/tabula/dialect"
	desc "github.com/syssam/tabula/schema"
)

// Inspector returns the description of a database table.
type Inspector interface {
	InspectTable(ctx context.Context, name string) (*desc.Table, error)
}

// The InspectorFunc type is an adapter to allow the use of ordinary
// functions as Inspector.
type InspectorFunc func(context.Context, string) (*desc.Table, error)

// InspectTable calls f(ctx, name).
func (f InspectorFunc) InspectTable(ctx context.Context, name string) (*desc.Table, error) {
	return f(ctx, name)
}

// Atlas is an Inspector backed by the Atlas driver of the database dialect.
type Atlas struct {
	dialect string
	insp    atlas.Inspector
}

// NewInspector returns an Atlas based inspector for the given database.
// Opening the MySQL and PostgreSQL drivers queries the server version.
func NewInspector(db *sql.DB, dialectName string) (*Atlas, error) {
	var (
		insp atlas.Inspector
		err  error
	)
	switch dialectName {
	case dialect.SQLite:
		insp, err = sqlite.Open(db)
	case dialect.MySQL:
		insp, err = mysql.Open(db)
	case dialect.Postgres:
		insp, err = postgres.Open(db)
	default:
		return nil, fmt.Errorf("dialect/sql/schema: unsupported dialect %q", dialectName)
	}
	if err != nil {
		return nil, fmt.Errorf("dialect/sql/schema: open %s inspector: %w", dialectName, err)
	}
	return &Atlas{dialect: dialectName, insp: insp}, nil
}

// InspectTable inspects the named table in the connected schema. A missing
// table is reported as *tabula.MissingTableError.
func (a *Atlas) InspectTable(ctx context.Context, name string) (*desc.Table, error) {
	s, err := a.insp.InspectSchema(ctx, "", &atlas.InspectOptions{Tables: []string{name}})
	if err != nil {
		if atlas.IsNotExistError(err) {
			return nil, &tabula.MissingTableError{Name: name}
		}
		return nil, fmt.Errorf("dialect/sql/schema: inspect %q: %w", name, err)
	}
	for _, t := range s.Tables {
		if t.Name == name {
			return a.convert(t), nil
		}
	}
	return nil, &tabula.MissingTableError{Name: name}
}

func (a *Atlas) convert(t *atlas.Table) *desc.Table {
	out := desc.NewTable(t.Name)
	var pk []string
	if t.PrimaryKey != nil {
		for _, p := range t.PrimaryKey.Parts {
			if p.C != nil {
				pk = append(pk, p.C.Name)
			}
		}
	}
	for _, c := range t.Columns {
		col := &desc.Column{
			Name:          c.Name,
			Type:          columnType(c.Type),
			AutoIncrement: autoIncrement(a.dialect, c, pk),
		}
		if c.Type != nil {
			col.Nullable = c.Type.Null
			if s, ok := c.Type.Type.(*atlas.StringType); ok {
				col.Size = s.Size
			}
		}
		switch d := c.Default.(type) {
		case *atlas.Literal:
			col.Default = strings.Trim(d.V, `'"`)
		case *atlas.RawExpr:
			col.Default = d.X
		}
		out.AddColumn(col)
	}
	if len(pk) > 0 {
		out.SetPrimaryKey(pk...)
	}
	for _, idx := range t.Indexes {
		if !idx.Unique {
			continue
		}
		cols := partColumns(idx.Parts)
		if len(cols) == 1 {
			if c, ok := out.Column(cols[0]); ok {
				c.Unique = true
			}
		}
		// Constraint columns come from the inspected table itself.
		_ = out.AddConstraint(&desc.Constraint{Name: idx.Name, Type: desc.ConstraintUnique, Columns: cols})
	}
	for _, fk := range t.ForeignKeys {
		c := &desc.Constraint{Name: fk.Symbol, Type: desc.ConstraintForeign}
		for _, col := range fk.Columns {
			c.Columns = append(c.Columns, col.Name)
		}
		for _, col := range fk.RefColumns {
			c.RefColumns = append(c.RefColumns, col.Name)
		}
		if fk.RefTable != nil {
			c.RefTable = fk.RefTable.Name
		}
		if c.Name == "" {
			c.Name = t.Name + "_" + strings.Join(c.Columns, "_") + "_fk"
		}
		_ = out.AddConstraint(c)
	}
	return out
}

func partColumns(parts []*atlas.IndexPart) []string {
	cols := make([]string, 0, len(parts))
	for _, p := range parts {
		if p.C != nil {
			cols = append(cols, p.C.Name)
		}
	}
	return cols
}

// columnType maps an Atlas column type to the abstract column type.
func columnType(ct *atlas.ColumnType) desc.Type {
	if ct == nil {
		return desc.TypeString
	}
	switch t := ct.Type.(type) {
	case *atlas.IntegerType:
		if strings.Contains(strings.ToLower(t.T), "big") {
			return desc.TypeBigInteger
		}
		if strings.EqualFold(t.T, "tinyint(1)") {
			return desc.TypeBoolean
		}
		return desc.TypeInteger
	case *atlas.BoolType:
		return desc.TypeBoolean
	case *atlas.FloatType:
		return desc.TypeFloat
	case *atlas.DecimalType:
		return desc.TypeDecimal
	case *atlas.StringType:
		if strings.Contains(strings.ToLower(t.T), "text") {
			return desc.TypeText
		}
		return desc.TypeString
	case *atlas.TimeType:
		switch strings.ToLower(t.T) {
		case "date":
			return desc.TypeDate
		case "time", "time without time zone", "time with time zone":
			return desc.TypeTime
		}
		return desc.TypeDateTime
	case *atlas.UUIDType:
		return desc.TypeUUID
	case *atlas.BinaryType:
		return desc.TypeBinary
	case *atlas.JSONType:
		return desc.TypeJSON
	}
	raw := strings.ToLower(ct.Raw)
	switch {
	case raw == "uuid":
		return desc.TypeUUID
	case strings.Contains(raw, "int"):
		return desc.TypeInteger
	case strings.Contains(raw, "text") || strings.Contains(raw, "clob"):
		return desc.TypeText
	}
	return desc.TypeString
}

// autoIncrement reports if the database assigns values of the column. In
// SQLite an INTEGER primary key column is an alias of the rowid.
func autoIncrement(dialectName string, c *atlas.Column, pk []string) bool {
	for _, attr := range c.Attrs {
		switch attr.(type) {
		case *sqlite.AutoIncrement, *mysql.AutoIncrement, *postgres.Identity:
			return true
		}
	}
	if c.Type != nil {
		if t, ok := c.Type.Type.(*atlas.IntegerType); ok {
			switch strings.ToLower(t.T) {
			case postgres.TypeSerial, postgres.TypeBigSerial, postgres.TypeSmallSerial:
				return true
			}
			if dialectName == dialect.SQLite && len(pk) == 1 && pk[0] == c.Name && strings.EqualFold(t.T, "integer") {
				return true
			}
		}
	}
	return false
}

var _ Inspector = (*Atlas)(nil)
