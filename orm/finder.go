package orm

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-openapi/inflect"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/syssam/tabula"
	"github.com/syssam/tabula/entity"
)

// FinderFunc is a named query transformation. Finders receive the options
// given to Find and may add conditions, sorting or formatters to q.
type FinderFunc func(ctx context.Context, q *Query, opts Options) (*Query, error)

var (
	dynamicFinderRe = regexp.MustCompile(`^find(?:\w+)?By`)
	finderTypeRe    = regexp.MustCompile(`^find_([\w]+)_by_`)
)

// finderName returns the method name of the finder type, e.g. "list" to
// "findList".
func finderName(typ string) string {
	if strings.HasPrefix(typ, "find") && len(typ) > 4 && typ[4] >= 'A' && typ[4] <= 'Z' {
		return typ
	}
	return "find" + cases.Title(language.English, cases.NoLower).String(typ)
}

// AddFinder registers a finder of the table under typ. A finder registered
// under the name of a built-in one replaces it.
//
//	t.AddFinder("published", func(ctx context.Context, q *orm.Query, _ orm.Options) (*orm.Query, error) {
//		return q.Where(sql.EQ("published", true)), nil
//	})
func (t *Table) AddFinder(typ string, fn FinderFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.finders == nil {
		t.finders = make(map[string]FinderFunc)
	}
	t.finders[finderName(typ)] = fn
}

// HasFinder reports if the table or one of its behaviors provides the
// finder typ.
func (t *Table) HasFinder(typ string) bool {
	t.mu.RLock()
	_, ok := t.finders[finderName(typ)]
	t.mu.RUnlock()
	return ok || t.behaviors.HasFinder(typ)
}

// Find returns a query on the table with opts applied, transformed by the
// finder typ.
//
//	q, err := articles.Find(ctx, "list", orm.Options{"valueField": "title"})
func (t *Table) Find(ctx context.Context, typ string, opts Options) (*Query, error) {
	return t.CallFinder(ctx, typ, t.Query().ApplyOptions(opts), opts)
}

// CallFinder applies the finder typ to q. Finders of the table take
// precedence over the finders of behaviors; an unknown finder is reported
// with a *tabula.UnknownFinderError.
func (t *Table) CallFinder(ctx context.Context, typ string, q *Query, opts Options) (*Query, error) {
	t.mu.RLock()
	fn, ok := t.finders[finderName(typ)]
	t.mu.RUnlock()
	if ok {
		return fn(ctx, q, opts)
	}
	if t.behaviors.HasFinder(typ) {
		return t.behaviors.CallFinder(ctx, typ, q, opts)
	}
	return nil, &tabula.UnknownFinderError{Table: t.Alias(), Finder: typ}
}

// Call invokes the named method of a behavior loaded by the table, or the
// dynamic finder the method name describes:
//
//	findByTitle(title)                  // all rows with the title
//	findByAuthorIdAndPublished(id, b)   // both conditions
//	findByTitleOrSlug(s, s)             // either condition
//	findListByAuthorId(id)              // the list finder with a condition
//
// Dynamic finders return the *Query. Other names are reported with a
// *tabula.UnknownMethodError.
func (t *Table) Call(ctx context.Context, method string, args ...any) (any, error) {
	if t.behaviors.HasMethod(method) {
		return t.behaviors.Call(ctx, method, args...)
	}
	if dynamicFinderRe.MatchString(method) {
		return t.dynamicFinder(ctx, method, args)
	}
	return nil, &tabula.UnknownMethodError{Table: t.Alias(), Method: method}
}

func (t *Table) dynamicFinder(ctx context.Context, method string, args []any) (*Query, error) {
	name := inflect.Underscore(method)
	var fields, typ string
	if m := finderTypeRe.FindStringSubmatch(name); m != nil {
		fields = name[len(m[0]):]
		typ = inflect.CamelizeDownFirst(m[1])
	} else {
		fields = strings.TrimPrefix(name, "find_by_")
		typ = "all"
	}
	hasOr, hasAnd := strings.Contains(fields, "_or_"), strings.Contains(fields, "_and_")
	if hasOr && hasAnd {
		return nil, fmt.Errorf("%w: cannot mix \"and\" & \"or\" in %s", tabula.ErrInvalidFinder, method)
	}
	var conds map[string]any
	switch {
	case hasOr:
		or, err := finderConditions(method, strings.Split(fields, "_or_"), args)
		if err != nil {
			return nil, err
		}
		conds = map[string]any{"OR": or}
	case hasAnd:
		and, err := finderConditions(method, strings.Split(fields, "_and_"), args)
		if err != nil {
			return nil, err
		}
		conds = and
	default:
		c, err := finderConditions(method, []string{fields}, args)
		if err != nil {
			return nil, err
		}
		conds = c
	}
	return t.Find(ctx, typ, Options{"conditions": conds})
}

func finderConditions(method string, fields []string, args []any) (map[string]any, error) {
	if len(args) < len(fields) {
		return nil, fmt.Errorf("%w: %s needs %d arguments, got %d", tabula.ErrInvalidFinder, method, len(fields), len(args))
	}
	conds := make(map[string]any, len(fields))
	for i, f := range fields {
		conds[f] = args[i]
	}
	return conds, nil
}

func (t *Table) registerFinders() {
	t.AddFinder("all", findAll)
	t.AddFinder("list", t.findList)
	t.AddFinder("threaded", t.findThreaded)
}

func findAll(_ context.Context, q *Query, _ Options) (*Query, error) {
	return q, nil
}

// Pair is an entry of a list result.
type Pair struct {
	Key   any
	Value any
}

// Group is a group of list entries sharing the value of the group field.
type Group struct {
	Key   any
	Pairs []Pair
}

// findList formats the result as key/value pairs. The options "idField"
// and "valueField" default to the primary key and the display field. With
// "groupField", pairs are grouped by the value of that field.
func (t *Table) findList(ctx context.Context, q *Query, opts Options) (*Query, error) {
	idField, _ := opts["idField"].(string)
	if idField == "" {
		pk, err := t.PrimaryKey(ctx)
		if err != nil {
			return nil, err
		}
		if len(pk) != 1 {
			return nil, fmt.Errorf("tabula/orm: list of %s: idField is required with a composite primary key", t.Alias())
		}
		idField = pk[0]
	}
	valueField, _ := opts["valueField"].(string)
	if valueField == "" {
		f, err := t.DisplayField(ctx)
		if err != nil {
			return nil, err
		}
		valueField = f
	}
	groupField, _ := opts["groupField"].(string)
	return q.Formatter(func(_ context.Context, v any) (any, error) {
		rows, err := resultRows(v)
		if err != nil {
			return nil, err
		}
		if groupField == "" {
			pairs := make([]Pair, len(rows))
			for i, r := range rows {
				pairs[i] = Pair{Key: r[idField], Value: r[valueField]}
			}
			return pairs, nil
		}
		var groups []Group
		index := make(map[string]int)
		for _, r := range rows {
			k := keyString(r[groupField])
			i, ok := index[k]
			if !ok {
				i = len(groups)
				index[k] = i
				groups = append(groups, Group{Key: r[groupField]})
			}
			groups[i].Pairs = append(groups[i].Pairs, Pair{Key: r[idField], Value: r[valueField]})
		}
		return groups, nil
	}), nil
}

// findThreaded nests the rows under their parent rows. The options
// "idField", "parentField" and "nestingKey" default to the primary key,
// "parent_id" and "children". Rows whose parent is not part of the result
// are roots.
func (t *Table) findThreaded(ctx context.Context, q *Query, opts Options) (*Query, error) {
	idField, _ := opts["idField"].(string)
	if idField == "" {
		pk, err := t.PrimaryKey(ctx)
		if err != nil {
			return nil, err
		}
		if len(pk) != 1 {
			return nil, fmt.Errorf("tabula/orm: threaded %s: idField is required with a composite primary key", t.Alias())
		}
		idField = pk[0]
	}
	parentField, _ := opts["parentField"].(string)
	if parentField == "" {
		parentField = "parent_id"
	}
	nestingKey, _ := opts["nestingKey"].(string)
	if nestingKey == "" {
		nestingKey = "children"
	}
	return q.Formatter(func(_ context.Context, v any) (any, error) {
		switch v := v.(type) {
		case []*entity.Entity:
			return thread(v,
				func(e *entity.Entity) any { return e.Get(idField) },
				func(e *entity.Entity) any { return e.Get(parentField) },
				func(e *entity.Entity, children []*entity.Entity) { attachValue(e, nestingKey, children) },
			), nil
		case []map[string]any:
			return thread(v,
				func(r map[string]any) any { return r[idField] },
				func(r map[string]any) any { return r[parentField] },
				func(r map[string]any, children []map[string]any) { r[nestingKey] = children },
			), nil
		}
		return nil, fmt.Errorf("tabula/orm: threaded %s: unexpected result %T", t.Alias(), v)
	}), nil
}

// thread links every item to its parent and returns the roots in order.
func thread[T any](items []T, id, parent func(T) any, setChildren func(T, []T)) []T {
	index := make(map[string]int, len(items))
	for i, it := range items {
		index[keyString(id(it))] = i
	}
	children := make([][]T, len(items))
	var roots []T
	for _, it := range items {
		p := parent(it)
		i, ok := index[keyString(p)]
		if p == nil || !ok {
			roots = append(roots, it)
			continue
		}
		children[i] = append(children[i], it)
	}
	for i, it := range items {
		c := children[i]
		if c == nil {
			c = []T{}
		}
		setChildren(it, c)
	}
	return roots
}

// resultRows returns the rows of a query result.
func resultRows(v any) ([]map[string]any, error) {
	switch v := v.(type) {
	case []map[string]any:
		return v, nil
	case []*entity.Entity:
		rows := make([]map[string]any, len(v))
		for i, e := range v {
			rows[i] = e.ToMap()
		}
		return rows, nil
	}
	return nil, fmt.Errorf("tabula/orm: unexpected query result %T", v)
}
