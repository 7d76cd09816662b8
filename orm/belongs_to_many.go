package orm

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"github.com/go-openapi/inflect"

	"github.com/syssam/tabula"
	"github.com/syssam/tabula/dialect/sql"
	"github.com/syssam/tabula/entity"
	"github.com/syssam/tabula/schema"
)

// JoinData is the property of a target entity holding the join row saved
// with the link of a BelongsToMany association.
const JoinData = "_joinData"

// BelongsToMany is an association where the links between source and
// target rows are stored in a join table, e.g. articles and tags. Target
// entities and join rows are saved after the source entity.
type BelongsToMany struct {
	*association

	mu       sync.Mutex
	junction *Table
}

// BelongsToMany declares a BelongsToMany association. The join table
// defaults to the names of both tables in lexical order joined by an
// underscore, its foreign keys to the singular underscored aliases suffixed
// by "_id", and the property to the underscored alias.
//
//	articles.BelongsToMany("Tags") // articles_tags.article_id, articles_tags.tag_id
func (t *Table) BelongsToMany(alias string, opts ...AssociationOption) (*BelongsToMany, error) {
	a, err := newAssociation(t, alias, opts)
	if err != nil {
		return nil, err
	}
	if a.foreignKey == nil {
		a.foreignKey = []string{singular(t.Alias()) + "_id"}
	}
	if a.targetForeignKey == nil {
		a.targetForeignKey = []string{singular(alias) + "_id"}
	}
	if a.joinTable == "" {
		a.joinTable = junctionName(t.Table(), a.target.Table())
	}
	if a.property == "" {
		a.property = inflect.Underscore(alias)
	}
	assoc := &BelongsToMany{association: a}
	t.addAssociation(assoc)
	return assoc, nil
}

// Kind implements Association.
func (*BelongsToMany) Kind() Kind { return KindBelongsToMany }

// BindingKey implements Association. It defaults to the primary key of the
// source.
func (a *BelongsToMany) BindingKey(ctx context.Context) ([]string, error) {
	return a.sourceBindingKey(ctx)
}

// TargetForeignKey returns the columns of the join table referring to the
// target.
func (a *BelongsToMany) TargetForeignKey() []string { return a.targetForeignKey }

// IsOwningSide implements Association.
func (a *BelongsToMany) IsOwningSide(side *Table) bool {
	return side == a.source
}

// Junction returns the table of the join rows: the Through table, or a
// table built from the primary key types of both sides.
func (a *BelongsToMany) Junction(ctx context.Context) (*Table, error) {
	if a.through != nil {
		return a.through, nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.junction != nil {
		return a.junction, nil
	}
	s := schema.NewTable(a.joinTable)
	var pk []string
	for _, side := range []struct {
		table   *Table
		columns []string
	}{{a.source, a.foreignKey}, {a.target, a.targetForeignKey}} {
		keys, err := side.table.PrimaryKey(ctx)
		if err != nil {
			return nil, err
		}
		if len(keys) != len(side.columns) {
			return nil, fmt.Errorf("tabula/orm: association %s: join columns %v do not match primary key %v of %s", a.name, side.columns, keys, side.table)
		}
		ss, err := side.table.Schema(ctx)
		if err != nil {
			return nil, err
		}
		for i, c := range side.columns {
			s.AddColumn(&schema.Column{Name: c, Type: ss.ColumnType(keys[i])})
		}
		pk = append(pk, side.columns...)
	}
	s.SetPrimaryKey(pk...)
	j, err := New(
		WithTable(a.joinTable),
		WithDriver(a.source.driver),
		WithSchema(s),
		WithLogger(a.source.logger),
	)
	if err != nil {
		return nil, err
	}
	a.junction = j
	return j, nil
}

// Save saves the target entities and links them to e. Existing links are
// kept; with the Replace strategy, the links to other entities are removed.
func (a *BelongsToMany) Save(ctx context.Context, e *entity.Entity, opts *SaveOptions) (bool, error) {
	targets, ok := e.Get(a.property).([]*entity.Entity)
	if !ok {
		return true, nil
	}
	keys, err := a.BindingKey(ctx)
	if err != nil {
		return false, err
	}
	values, err := a.keyOf(e, keys)
	if err != nil {
		return false, err
	}
	targetPK, err := a.target.PrimaryKey(ctx)
	if err != nil {
		return false, err
	}
	junction, err := a.Junction(ctx)
	if err != nil {
		return false, err
	}
	linked := make([][]any, 0, len(targets))
	for _, target := range targets {
		if target == nil {
			continue
		}
		if ok, err := a.target.save(ctx, target, opts); err != nil || !ok {
			return false, err
		}
		tk, ok := keyValues(target, targetPK)
		if !ok {
			return false, &tabula.MissingKeyError{Table: a.target.Alias(), Op: "link " + a.name, Missing: missingKeys(target, targetPK)}
		}
		linked = append(linked, tk)
		row, ok := target.Get(JoinData).(*entity.Entity)
		if !ok || row == nil {
			row = junction.NewEntity(nil)
			attachValue(target, JoinData, row)
		}
		setKeys(row, a.foreignKey, values)
		setKeys(row, a.targetForeignKey, tk)
		o := &SaveOptions{Atomic: opts.Atomic, Validate: opts.Validate, Validator: DefaultValidator, Extra: maps.Clone(opts.Extra)}
		if ok, err := junction.save(ctx, row, o); err != nil || !ok {
			return false, err
		}
	}
	if a.strategy != Replace {
		return true, nil
	}
	p := sql.ColumnsEQ(a.foreignKey, values)
	if len(linked) > 0 {
		p = sql.And(p, a.excludeLinked(linked))
	}
	if _, err := junction.deleteWhere(ctx, p); err != nil {
		return false, err
	}
	return true, nil
}

// excludeLinked returns the predicate matching the join rows not referring
// to the given target keys.
func (a *BelongsToMany) excludeLinked(linked [][]any) *sql.Predicate {
	if len(a.targetForeignKey) == 1 {
		values := make([]any, len(linked))
		for i, k := range linked {
			values[i] = k[0]
		}
		return sql.NotIn(a.targetForeignKey[0], values...)
	}
	preds := make([]*sql.Predicate, len(linked))
	for i, k := range linked {
		preds[i] = sql.ColumnsEQ(a.targetForeignKey, k)
	}
	return sql.Not(sql.Or(preds...))
}

// CascadeDelete removes the join rows of e. The target rows are kept.
// With cascading callbacks, join rows are deleted one by one through the
// join table.
func (a *BelongsToMany) CascadeDelete(ctx context.Context, e *entity.Entity, opts *DeleteOptions) error {
	keys, err := a.BindingKey(ctx)
	if err != nil {
		return err
	}
	values, ok := keyValues(e, keys)
	if !ok {
		return nil
	}
	junction, err := a.Junction(ctx)
	if err != nil {
		return err
	}
	p := sql.ColumnsEQ(a.foreignKey, values)
	if !a.cascadeCallbacks {
		_, err := junction.deleteWhere(ctx, p)
		return err
	}
	rows, err := junction.Query().Where(p).All(ctx)
	if err != nil {
		return err
	}
	var errs []error
	for _, r := range rows {
		if _, err := junction.delete(ctx, r, opts.clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return tabula.NewAggregateError(errs...)
}

// Attach implements Association. The join row of each link is stored under
// JoinData of the linked target.
func (a *BelongsToMany) Attach(ctx context.Context, entities []*entity.Entity) error {
	keys, err := a.BindingKey(ctx)
	if err != nil {
		return err
	}
	bk, err := singleColumn(a.name, keys)
	if err != nil {
		return err
	}
	fk, err := singleColumn(a.name, a.foreignKey)
	if err != nil {
		return err
	}
	tfk, err := singleColumn(a.name, a.targetForeignKey)
	if err != nil {
		return err
	}
	targetPK, err := a.target.PrimaryKey(ctx)
	if err != nil {
		return err
	}
	tpk, err := singleColumn(a.name, targetPK)
	if err != nil {
		return err
	}
	values := distinctValues(entities, bk)
	if len(values) == 0 {
		return nil
	}
	junction, err := a.Junction(ctx)
	if err != nil {
		return err
	}
	links, err := junction.Query().Where(inValues(fk, values)).All(ctx)
	if err != nil {
		return err
	}
	index := make(map[string]*entity.Entity)
	if ids := distinctValues(links, tfk); len(ids) > 0 {
		targets, err := a.targetQuery().Where(inValues(tpk, ids)).All(ctx)
		if err != nil {
			return err
		}
		for _, t := range targets {
			index[keyString(t.Get(tpk))] = t
		}
	}
	groups := make(map[string][]*entity.Entity)
	for _, link := range links {
		target, ok := index[keyString(link.Get(tfk))]
		if !ok {
			continue
		}
		// Targets linked to several sources get one copy per link.
		linked := a.target.factory(a.target.Alias(), target.ToMap())
		attachValue(linked, JoinData, link)
		k := keyString(link.Get(fk))
		groups[k] = append(groups[k], linked)
	}
	for _, e := range entities {
		v := e.Get(bk)
		if v == nil {
			continue
		}
		related := groups[keyString(v)]
		if related == nil {
			related = []*entity.Entity{}
		}
		attachValue(e, a.property, related)
	}
	return nil
}
