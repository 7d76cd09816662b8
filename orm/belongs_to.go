package orm

import (
	"context"
	"fmt"

	"github.com/syssam/tabula/entity"
)

// BelongsTo is an association where the source rows hold the foreign key,
// e.g. articles belonging to an author. The target entity is saved before
// the source entity, which then receives the key of the target.
type BelongsTo struct {
	*association
}

// BelongsTo declares a BelongsTo association. The foreign key defaults to the
// singular underscored alias suffixed by "_id", and the property to the
// singular underscored alias.
//
//	t.BelongsTo("Authors") // articles.author_id, property "author"
func (t *Table) BelongsTo(alias string, opts ...AssociationOption) (*BelongsTo, error) {
	a, err := newAssociation(t, alias, opts)
	if err != nil {
		return nil, err
	}
	if a.foreignKey == nil {
		a.foreignKey = []string{singular(alias) + "_id"}
	}
	if a.property == "" {
		a.property = singular(alias)
	}
	assoc := &BelongsTo{a}
	t.addAssociation(assoc)
	return assoc, nil
}

// Kind implements Association.
func (*BelongsTo) Kind() Kind { return KindBelongsTo }

// BindingKey implements Association. It defaults to the primary key of the
// target.
func (a *BelongsTo) BindingKey(ctx context.Context) ([]string, error) {
	if a.bindingKey != nil {
		return a.bindingKey, nil
	}
	return a.target.PrimaryKey(ctx)
}

// IsOwningSide implements Association. The target of a BelongsTo is the
// owning side, unless the association refers to its own table.
func (a *BelongsTo) IsOwningSide(side *Table) bool {
	return side == a.target && side != a.source
}

// Save saves the target entity and sets the foreign key of e.
func (a *BelongsTo) Save(ctx context.Context, e *entity.Entity, opts *SaveOptions) (bool, error) {
	target, ok := e.Get(a.property).(*entity.Entity)
	if !ok || target == nil {
		return true, nil
	}
	if ok, err := a.target.save(ctx, target, opts); err != nil || !ok {
		return false, err
	}
	keys, err := a.BindingKey(ctx)
	if err != nil {
		return false, err
	}
	if len(keys) != len(a.foreignKey) {
		return false, fmt.Errorf("tabula/orm: association %s: foreign key %v does not match binding key %v", a.name, a.foreignKey, keys)
	}
	values := make([]any, len(keys))
	for i, k := range keys {
		values[i] = target.Get(k)
	}
	setKeys(e, a.foreignKey, values)
	return true, nil
}

// CascadeDelete implements Association. Deleting the source row never
// affects the target.
func (*BelongsTo) CascadeDelete(context.Context, *entity.Entity, *DeleteOptions) error {
	return nil
}

// Attach implements Association.
func (a *BelongsTo) Attach(ctx context.Context, entities []*entity.Entity) error {
	fk, err := singleColumn(a.name, a.foreignKey)
	if err != nil {
		return err
	}
	keys, err := a.BindingKey(ctx)
	if err != nil {
		return err
	}
	bk, err := singleColumn(a.name, keys)
	if err != nil {
		return err
	}
	values := distinctValues(entities, fk)
	if len(values) == 0 {
		return nil
	}
	targets, err := a.targetQuery().Where(inValues(bk, values)).All(ctx)
	if err != nil {
		return err
	}
	index := make(map[string]*entity.Entity, len(targets))
	for _, t := range targets {
		index[keyString(t.Get(bk))] = t
	}
	for _, e := range entities {
		if v := e.Get(fk); v != nil {
			if t, ok := index[keyString(v)]; ok {
				attachValue(e, a.property, t)
			}
		}
	}
	return nil
}
