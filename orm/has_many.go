package orm

import (
	"context"
	"fmt"
	"maps"

	"github.com/go-openapi/inflect"

	"github.com/syssam/tabula"
	"github.com/syssam/tabula/entity"
)

// HasMany is an association where many target rows hold the foreign key to
// the source row, e.g. an article having many comments. The target entities
// are saved after the source entity and receive its key.
type HasMany struct {
	*association
}

// HasMany declares a HasMany association. The foreign key defaults to the
// singular underscored alias of the source suffixed by "_id", and the
// property to the underscored alias.
//
//	articles.HasMany("Comments") // comments.article_id, property "comments"
func (t *Table) HasMany(alias string, opts ...AssociationOption) (*HasMany, error) {
	a, err := newAssociation(t, alias, opts)
	if err != nil {
		return nil, err
	}
	if a.foreignKey == nil {
		a.foreignKey = []string{singular(t.Alias()) + "_id"}
	}
	if a.property == "" {
		a.property = inflect.Underscore(alias)
	}
	assoc := &HasMany{a}
	t.addAssociation(assoc)
	return assoc, nil
}

// Kind implements Association.
func (*HasMany) Kind() Kind { return KindHasMany }

// BindingKey implements Association. It defaults to the primary key of the
// source.
func (a *HasMany) BindingKey(ctx context.Context) ([]string, error) {
	return a.sourceBindingKey(ctx)
}

// IsOwningSide implements Association.
func (a *HasMany) IsOwningSide(side *Table) bool {
	return side == a.source
}

// Save sets the foreign key of every target entity and saves them in order.
// It stops at the first failure.
func (a *HasMany) Save(ctx context.Context, e *entity.Entity, opts *SaveOptions) (bool, error) {
	targets, ok := e.Get(a.property).([]*entity.Entity)
	if !ok {
		return true, nil
	}
	return a.saveTargets(ctx, e, targets, opts)
}

// CascadeDelete implements Association.
func (a *HasMany) CascadeDelete(ctx context.Context, e *entity.Entity, opts *DeleteOptions) error {
	return a.cascadeDependents(ctx, e, opts)
}

// Attach implements Association. Entities without related rows receive an
// empty list.
func (a *HasMany) Attach(ctx context.Context, entities []*entity.Entity) error {
	return a.attachDependents(ctx, entities, func(e *entity.Entity, related []*entity.Entity) {
		if related == nil {
			related = []*entity.Entity{}
		}
		attachValue(e, a.property, related)
	})
}

func (a *association) sourceBindingKey(ctx context.Context) ([]string, error) {
	if a.bindingKey != nil {
		return a.bindingKey, nil
	}
	return a.source.PrimaryKey(ctx)
}

// saveTargets sets the foreign key of the targets to the binding key of e
// and saves them.
func (a *association) saveTargets(ctx context.Context, e *entity.Entity, targets []*entity.Entity, opts *SaveOptions) (bool, error) {
	if len(targets) == 0 {
		return true, nil
	}
	keys, err := a.sourceBindingKey(ctx)
	if err != nil {
		return false, err
	}
	if len(keys) != len(a.foreignKey) {
		return false, fmt.Errorf("tabula/orm: association %s: foreign key %v does not match binding key %v", a.name, a.foreignKey, keys)
	}
	values, err := a.keyOf(e, keys)
	if err != nil {
		return false, err
	}
	for _, target := range targets {
		if target == nil {
			continue
		}
		setKeys(target, a.foreignKey, values)
		if ok, err := a.target.save(ctx, target, opts); err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// dependentConditions returns the conditions matching the target rows of
// e, and false if e has no binding key.
func (a *association) dependentConditions(ctx context.Context, e *entity.Entity) (map[string]any, bool, error) {
	keys, err := a.sourceBindingKey(ctx)
	if err != nil {
		return nil, false, err
	}
	values, ok := keyValues(e, keys)
	if !ok || len(values) != len(a.foreignKey) {
		return nil, false, nil
	}
	conds := maps.Clone(a.conditions)
	if conds == nil {
		conds = make(map[string]any, len(a.foreignKey))
	}
	for i, fk := range a.foreignKey {
		conds[fk] = values[i]
	}
	return conds, true, nil
}

// cascadeDependents removes the target rows of a dependent association,
// in bulk or one by one when cascading callbacks. Failures of single
// deletes are collected.
func (a *association) cascadeDependents(ctx context.Context, e *entity.Entity, opts *DeleteOptions) error {
	if !a.dependent {
		return nil
	}
	conds, ok, err := a.dependentConditions(ctx, e)
	if err != nil || !ok {
		return err
	}
	if !a.cascadeCallbacks {
		_, err := a.target.DeleteAll(ctx, conds)
		return err
	}
	related, err := a.target.Query().Conditions(conds).All(ctx)
	if err != nil {
		return err
	}
	var errs []error
	for _, r := range related {
		ok, err := a.target.delete(ctx, r, opts.clone())
		switch {
		case err != nil:
			errs = append(errs, err)
		case !ok:
			errs = append(errs, fmt.Errorf("tabula/orm: cascade %s: %w", a.name, tabula.NewPersistenceFailedError(a.target.Alias(), "delete")))
		}
	}
	return tabula.NewAggregateError(errs...)
}

// attachDependents loads the target rows referring to the given entities
// and passes them, grouped by source entity, to set.
func (a *association) attachDependents(ctx context.Context, entities []*entity.Entity, set func(*entity.Entity, []*entity.Entity)) error {
	keys, err := a.sourceBindingKey(ctx)
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
	values := distinctValues(entities, bk)
	if len(values) == 0 {
		return nil
	}
	related, err := a.targetQuery().Where(inValues(fk, values)).All(ctx)
	if err != nil {
		return err
	}
	groups := make(map[string][]*entity.Entity)
	for _, r := range related {
		k := keyString(r.Get(fk))
		groups[k] = append(groups[k], r)
	}
	for _, e := range entities {
		if v := e.Get(bk); v != nil {
			set(e, groups[keyString(v)])
		}
	}
	return nil
}
