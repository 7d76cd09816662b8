package orm

import (
	"context"
	"fmt"
	"maps"

	"github.com/syssam/tabula"
	"github.com/syssam/tabula/dialect/sql"
	"github.com/syssam/tabula/entity"
	"github.com/syssam/tabula/event"
	"github.com/syssam/tabula/schema"
)

// Options holds the options of a finder. The keys "conditions", "fields",
// "order", "limit", "offset" and "contain" are applied to the query by
// Query.ApplyOptions; the other keys are read by the finders.
type Options map[string]any

// Formatter maps the result of a query. Formatters run in registration
// order on the value returned by Query.Result.
type Formatter func(ctx context.Context, v any) (any, error)

// Query is a lazily executed select on the rows of a table.
type Query struct {
	table      *Table
	fields     []string
	where      *sql.Predicate
	order      []string
	limit      int
	offset     int
	contain    []string
	hydrate    bool
	formatters []Formatter
	options    Options
}

// Query returns a new query on the rows of the table.
func (t *Table) Query() *Query {
	return &Query{table: t, hydrate: true}
}

// Table returns the table queried by q.
func (q *Query) Table() *Table { return q.table }

// Select adds the selected columns. Without columns, every column is
// selected.
func (q *Query) Select(columns ...string) *Query {
	q.fields = append(q.fields, columns...)
	return q
}

// Where adds predicates, combined with AND.
func (q *Query) Where(preds ...*sql.Predicate) *Query {
	for _, p := range preds {
		if p == nil {
			continue
		}
		if q.where == nil {
			q.where = p
			continue
		}
		q.where = sql.And(q.where, p)
	}
	return q
}

// Conditions adds the predicate of a condition map. See sql.Conditions.
func (q *Query) Conditions(conds map[string]any) *Query {
	if len(conds) == 0 {
		return q
	}
	return q.Where(sql.Conditions(conds))
}

// OrderBy adds sort columns. Use sql.Desc for descending order.
func (q *Query) OrderBy(columns ...string) *Query {
	q.order = append(q.order, columns...)
	return q
}

// Limit limits the number of rows. Zero removes the limit.
func (q *Query) Limit(n int) *Query {
	q.limit = n
	return q
}

// Offset skips the first n rows.
func (q *Query) Offset(n int) *Query {
	q.offset = n
	return q
}

// Contain loads the entities of the given associations into the loaded
// entities.
func (q *Query) Contain(aliases ...string) *Query {
	q.contain = append(q.contain, aliases...)
	return q
}

// Hydrate selects the value returned by Result: entities when true, the
// default, and raw rows otherwise.
func (q *Query) Hydrate(b bool) *Query {
	q.hydrate = b
	return q
}

// IsHydrated reports if Result returns entities.
func (q *Query) IsHydrated() bool { return q.hydrate }

// Formatter adds a formatter of the result.
func (q *Query) Formatter(f Formatter) *Query {
	q.formatters = append(q.formatters, f)
	return q
}

// ApplyOptions applies the query options of opts and records opts for the
// listeners of Model.beforeFind.
func (q *Query) ApplyOptions(opts Options) *Query {
	for k, v := range opts {
		switch k {
		case "conditions":
			if m, ok := v.(map[string]any); ok {
				q.Conditions(m)
			}
		case "fields":
			q.Select(toStrings(v)...)
		case "order":
			q.OrderBy(toStrings(v)...)
		case "limit":
			if n, ok := v.(int); ok {
				q.Limit(n)
			}
		case "offset":
			if n, ok := v.(int); ok {
				q.Offset(n)
			}
		case "contain":
			q.Contain(toStrings(v)...)
		}
	}
	if q.options == nil {
		q.options = make(Options, len(opts))
	}
	maps.Copy(q.options, opts)
	return q
}

// Options returns the options applied to q.
func (q *Query) Options() Options {
	return maps.Clone(q.options)
}

// Clone returns a copy of q.
func (q *Query) Clone() *Query {
	c := *q
	c.fields = append([]string(nil), q.fields...)
	c.order = append([]string(nil), q.order...)
	c.contain = append([]string(nil), q.contain...)
	c.formatters = append([]Formatter(nil), q.formatters...)
	c.options = maps.Clone(q.options)
	return &c
}

func (q *Query) selector() *sql.Selector {
	s := sql.Dialect(q.table.driver.Dialect()).Select(q.fields...).From(q.table.Table())
	s.Where(q.where)
	if len(q.order) > 0 {
		s.OrderBy(q.order...)
	}
	if q.limit > 0 {
		s.Limit(q.limit)
	}
	if q.offset > 0 {
		s.Offset(q.offset)
	}
	return s
}

// beforeFind fires Model.beforeFind. Listeners may change q, or stop the
// event to provide the result of the query.
func (q *Query) beforeFind(ctx context.Context) (*event.Event, error) {
	ev := &event.Event{Name: event.BeforeFind, Subject: q.table, Query: q, Options: q.Options()}
	if err := q.table.bus.Dispatch(ctx, ev); err != nil {
		return nil, err
	}
	return ev, nil
}

// All returns the entities of the matching rows, with the associations of
// Contain loaded.
func (q *Query) All(ctx context.Context) ([]*entity.Entity, error) {
	ev, err := q.beforeFind(ctx)
	if err != nil {
		return nil, err
	}
	if ev.IsStopped() {
		switch r := ev.Result().(type) {
		case nil:
			return nil, nil
		case []*entity.Entity:
			return r, nil
		default:
			return nil, fmt.Errorf("tabula/orm: %s: beforeFind result %T is not a list of entities", q.table.Alias(), r)
		}
	}
	return q.entities(ctx)
}

// First returns the entity of the first matching row, or nil.
func (q *Query) First(ctx context.Context) (*entity.Entity, error) {
	es, err := q.Clone().Limit(1).All(ctx)
	if err != nil || len(es) == 0 {
		return nil, err
	}
	return es[0], nil
}

// Rows returns the matching rows as column maps.
func (q *Query) Rows(ctx context.Context) ([]map[string]any, error) {
	ev, err := q.beforeFind(ctx)
	if err != nil {
		return nil, err
	}
	if ev.IsStopped() {
		switch r := ev.Result().(type) {
		case nil:
			return nil, nil
		case []map[string]any:
			return r, nil
		default:
			return nil, fmt.Errorf("tabula/orm: %s: beforeFind result %T is not a list of rows", q.table.Alias(), r)
		}
	}
	return q.fetch(ctx)
}

// Result runs the query and returns the entities, or the rows if the query
// is not hydrated, passed through the formatters. A stopped
// Model.beforeFind event provides the result as is.
func (q *Query) Result(ctx context.Context) (any, error) {
	ev, err := q.beforeFind(ctx)
	if err != nil {
		return nil, err
	}
	if ev.IsStopped() {
		return ev.Result(), nil
	}
	var v any
	if q.hydrate {
		v, err = q.entities(ctx)
	} else {
		v, err = q.fetch(ctx)
	}
	if err != nil {
		return nil, err
	}
	for _, f := range q.formatters {
		if v, err = f(ctx, v); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// Count returns the number of matching rows.
func (q *Query) Count(ctx context.Context) (int64, error) {
	rows, err := sql.QueryRows(ctx, q.table.conn(ctx), q.selector().CountSelector())
	if err != nil {
		return 0, tabula.NewQueryError(q.table.Alias(), "count", err)
	}
	defer rows.Close()
	var n int64
	if rows.Next() {
		if err := rows.Scan(&n); err != nil {
			return 0, tabula.NewQueryError(q.table.Alias(), "count", err)
		}
	}
	return n, rows.Err()
}

func (q *Query) entities(ctx context.Context) ([]*entity.Entity, error) {
	rows, err := q.fetch(ctx)
	if err != nil {
		return nil, err
	}
	es := make([]*entity.Entity, len(rows))
	for i, r := range rows {
		es[i] = q.table.factory(q.table.Alias(), r)
	}
	for _, alias := range q.contain {
		a, ok := q.table.Association(alias)
		if !ok {
			return nil, &tabula.UnknownAssociationError{Table: q.table.Alias(), Name: alias}
		}
		if err := a.Attach(ctx, es); err != nil {
			return nil, fmt.Errorf("tabula/orm: loading %s of %s: %w", a.Name(), q.table.Alias(), err)
		}
	}
	return es, nil
}

// fetch runs the select and scans the rows.
func (q *Query) fetch(ctx context.Context) ([]map[string]any, error) {
	s, err := q.table.Schema(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := sql.QueryRows(ctx, q.table.conn(ctx), q.selector())
	if err != nil {
		return nil, tabula.NewQueryError(q.table.Alias(), "select", err)
	}
	defer rows.Close()
	columns, err := rows.Columns()
	if err != nil {
		return nil, tabula.NewQueryError(q.table.Alias(), "select", err)
	}
	var out []map[string]any
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, tabula.NewQueryError(q.table.Alias(), "select", err)
		}
		row := make(map[string]any, len(columns))
		for i, c := range columns {
			row[c] = convert(s.ColumnType(c), values[i])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, tabula.NewQueryError(q.table.Alias(), "select", err)
	}
	return out, nil
}

// convert maps a scanned value to the Go value of its column type. Drivers
// return text as bytes, and SQLite stores booleans as integers.
func convert(t schema.Type, v any) any {
	switch v := v.(type) {
	case []byte:
		if t == schema.TypeBinary {
			return append([]byte(nil), v...)
		}
		return string(v)
	case int64:
		if t == schema.TypeBoolean {
			return v != 0
		}
	}
	return v
}

// normalize maps a scanned value of unknown column type.
func normalize(v any) any {
	return convert("", v)
}

func inValues(column string, values []any) *sql.Predicate {
	return sql.In(column, values...)
}

func toStrings(v any) []string {
	switch v := v.(type) {
	case string:
		return []string{v}
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, s := range v {
			if s, ok := s.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
