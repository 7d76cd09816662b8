package sql

import (
	"reflect"
	"slices"
	"strings"
)

// Predicate is a where predicate. Leaf predicates render a single comparison;
// composite predicates (AND, OR, NOT) render their children with parentheses
// where operator precedence requires them.
type Predicate struct {
	op       string
	children []*Predicate
	fns      []func(*Builder)
}

// P creates a new leaf predicate from the given rendering functions.
//
//	P(func(b *Builder) {
//		b.Ident("name").WriteOp("=").Arg("a8m")
//	})
func P(fns ...func(*Builder)) *Predicate {
	return &Predicate{fns: fns}
}

// ExprP creates a new predicate from the given expression.
//
//	ExprP("A = ? AND B > ?", args...)
func ExprP(exr string, args ...any) *Predicate {
	return P(func(b *Builder) {
		parts := strings.Split(exr, "?")
		for i, part := range parts {
			b.WriteString(part)
			if i < len(parts)-1 && i < len(args) {
				b.Arg(args[i])
			}
		}
	})
}

// Query returns query representation of a predicate.
func (p *Predicate) Query() (string, []any) {
	b := &Builder{}
	p.render(b)
	return b.String(), b.args
}

// Dialect returns a copy-rendering Querier of p for the given dialect.
func (p *Predicate) Dialect(name string) Querier {
	return dialectPredicate{p: p, dialect: name}
}

type dialectPredicate struct {
	p       *Predicate
	dialect string
}

func (d dialectPredicate) Query() (string, []any) {
	b := &Builder{dialect: d.dialect}
	d.p.render(b)
	return b.String(), b.args
}

func (p *Predicate) render(b *Builder) {
	switch p.op {
	case "":
		for _, f := range p.fns {
			f(b)
		}
	case "NOT":
		b.WriteString("NOT ")
		b.Wrap(p.children[0].render)
	default:
		for i, c := range p.children {
			if i > 0 {
				b.WriteOp(p.op)
			}
			if c.op != "" && c.op != "NOT" && c.op != p.op {
				b.Wrap(c.render)
				continue
			}
			c.render(b)
		}
	}
}

// And combines all given predicates with AND between them.
func And(preds ...*Predicate) *Predicate {
	return group("AND", preds)
}

// Or combines all given predicates with OR between them.
//
//	Or(EQ("name", "foo"), EQ("name", "bar"))
func Or(preds ...*Predicate) *Predicate {
	return group("OR", preds)
}

func group(op string, preds []*Predicate) *Predicate {
	p := &Predicate{op: op}
	for _, c := range preds {
		switch {
		case c == nil:
		case c.op == op:
			p.children = append(p.children, c.children...)
		default:
			p.children = append(p.children, c)
		}
	}
	switch len(p.children) {
	case 0:
		return ExprP("1 = 1")
	case 1:
		return p.children[0]
	}
	return p
}

// Not wraps the given predicate with the not predicate.
//
//	Not(Or(EQ("name", "foo"), EQ("name", "bar")))
func Not(pred *Predicate) *Predicate {
	return &Predicate{op: "NOT", children: []*Predicate{pred}}
}

func compare(col, op string, v any) *Predicate {
	return P(func(b *Builder) {
		b.Ident(col).WriteOp(op).Arg(v)
	})
}

// EQ returns a "=" predicate. A nil value renders IS NULL.
func EQ(col string, value any) *Predicate {
	if isNil(value) {
		return IsNull(col)
	}
	return compare(col, "=", value)
}

// NEQ returns a "<>" predicate. A nil value renders IS NOT NULL.
func NEQ(col string, value any) *Predicate {
	if isNil(value) {
		return NotNull(col)
	}
	return compare(col, "<>", value)
}

// LT returns a "<" predicate.
func LT(col string, value any) *Predicate {
	return compare(col, "<", value)
}

// LTE returns a "<=" predicate.
func LTE(col string, value any) *Predicate {
	return compare(col, "<=", value)
}

// GT returns a ">" predicate.
func GT(col string, value any) *Predicate {
	return compare(col, ">", value)
}

// GTE returns a ">=" predicate.
func GTE(col string, value any) *Predicate {
	return compare(col, ">=", value)
}

// IsNull returns the `IS NULL` predicate.
func IsNull(col string) *Predicate {
	return P(func(b *Builder) {
		b.Ident(col).WriteString(" IS NULL")
	})
}

// NotNull returns the `IS NOT NULL` predicate.
func NotNull(col string) *Predicate {
	return P(func(b *Builder) {
		b.Ident(col).WriteString(" IS NOT NULL")
	})
}

// In returns the `IN` predicate. An empty list matches nothing.
func In(col string, args ...any) *Predicate {
	if len(args) == 0 {
		return ExprP("1 = 0")
	}
	return P(func(b *Builder) {
		b.Ident(col).WriteString(" IN ")
		b.Wrap(func(b *Builder) { b.Args(args...) })
	})
}

// NotIn returns the `Not IN` predicate. An empty list matches everything.
func NotIn(col string, args ...any) *Predicate {
	if len(args) == 0 {
		return ExprP("1 = 1")
	}
	return P(func(b *Builder) {
		b.Ident(col).WriteString(" NOT IN ")
		b.Wrap(func(b *Builder) { b.Args(args...) })
	})
}

// Like returns the `LIKE` predicate.
func Like(col, pattern string) *Predicate {
	return compare(col, "LIKE", pattern)
}

// HasPrefix is a helper predicate that checks prefix using the LIKE predicate.
func HasPrefix(col, prefix string) *Predicate {
	return Like(col, escapeLike(prefix)+"%")
}

// HasSuffix is a helper predicate that checks suffix using the LIKE predicate.
func HasSuffix(col, suffix string) *Predicate {
	return Like(col, "%"+escapeLike(suffix))
}

// Contains is a helper predicate that checks substring using the LIKE predicate.
func Contains(col, sub string) *Predicate {
	return Like(col, "%"+escapeLike(sub)+"%")
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)
	return r.Replace(s)
}

// ColumnsEQ returns an AND of "=" predicates for the given columns and values,
// matched by position. It is used to address rows by (composite) keys.
func ColumnsEQ(columns []string, values []any) *Predicate {
	preds := make([]*Predicate, 0, len(columns))
	for i, c := range columns {
		var v any
		if i < len(values) {
			v = values[i]
		}
		preds = append(preds, EQ(c, v))
	}
	return And(preds...)
}

// Conditions converts a column-to-value map into an AND predicate. Keys are
// rendered in sorted order so the statement text is deterministic. A nil value
// renders IS NULL, a slice value renders IN, and the special keys "OR" and
// "AND" hold nested condition maps.
//
//	Conditions(map[string]any{
//		"published": true,
//		"OR": map[string]any{"author_id": 1, "editor_id": 1},
//	})
func Conditions(conds map[string]any) *Predicate {
	keys := make([]string, 0, len(conds))
	for k := range conds {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	preds := make([]*Predicate, 0, len(keys))
	for _, k := range keys {
		v := conds[k]
		switch strings.ToUpper(k) {
		case "OR", "AND":
			nested, ok := v.(map[string]any)
			if !ok {
				continue
			}
			children := make([]*Predicate, 0, len(nested))
			for _, nk := range sortedKeys(nested) {
				children = append(children, Conditions(map[string]any{nk: nested[nk]}))
			}
			if strings.EqualFold(k, "OR") {
				preds = append(preds, Or(children...))
			} else {
				preds = append(preds, And(children...))
			}
		default:
			if vs, ok := expand(v); ok {
				preds = append(preds, In(k, vs...))
				continue
			}
			preds = append(preds, EQ(k, v))
		}
	}
	return And(preds...)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// expand returns the elements of v if v is a slice or an array (except []byte).
func expand(v any) ([]any, bool) {
	if v == nil {
		return nil, false
	}
	if vs, ok := v.([]any); ok {
		return vs, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	if rv.Type().Elem().Kind() == reflect.Uint8 {
		return nil, false
	}
	vs := make([]any, rv.Len())
	for i := range vs {
		vs[i] = rv.Index(i).Interface()
	}
	return vs, true
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

// FieldEQ returns a selector predicate function for "field = value".
func FieldEQ(name string, v any) func(*Selector) {
	return func(s *Selector) {
		s.Where(EQ(s.C(name), v))
	}
}

// FieldIn returns a selector predicate function for "field IN (values...)".
func FieldIn[T any](name string, vs ...T) func(*Selector) {
	return func(s *Selector) {
		v := make([]any, len(vs))
		for i := range v {
			v[i] = vs[i]
		}
		s.Where(In(s.C(name), v...))
	}
}

// FieldIsNull returns a selector predicate function for "field IS NULL".
func FieldIsNull(name string) func(*Selector) {
	return func(s *Selector) {
		s.Where(IsNull(s.C(name)))
	}
}

// OrSelectors combines selector predicate functions with OR. Each function
// is evaluated against a scratch selector and its predicate collected.
func OrSelectors(fns ...func(*Selector)) func(*Selector) {
	return func(s *Selector) {
		preds := make([]*Predicate, 0, len(fns))
		for _, fn := range fns {
			scratch := Select().From(s.Table())
			fn(scratch)
			if p := scratch.P(); p != nil {
				preds = append(preds, p)
			}
		}
		s.Where(Or(preds...))
	}
}
