package orm

import (
	"context"

	"github.com/syssam/tabula/entity"
)

// HasOne is an association where a single target row holds the foreign key
// to the source row, e.g. a user having one profile. The target entity is
// saved after the source entity and receives its key.
type HasOne struct {
	*association
}

// HasOne declares a HasOne association. The foreign key defaults to the
// singular underscored alias of the source suffixed by "_id", and the
// property to the singular underscored alias.
//
//	users.HasOne("Profiles") // profiles.user_id, property "profile"
func (t *Table) HasOne(alias string, opts ...AssociationOption) (*HasOne, error) {
	a, err := newAssociation(t, alias, opts)
	if err != nil {
		return nil, err
	}
	if a.foreignKey == nil {
		a.foreignKey = []string{singular(t.Alias()) + "_id"}
	}
	if a.property == "" {
		a.property = singular(alias)
	}
	assoc := &HasOne{a}
	t.addAssociation(assoc)
	return assoc, nil
}

// Kind implements Association.
func (*HasOne) Kind() Kind { return KindHasOne }

// BindingKey implements Association. It defaults to the primary key of the
// source.
func (a *HasOne) BindingKey(ctx context.Context) ([]string, error) {
	return a.sourceBindingKey(ctx)
}

// IsOwningSide implements Association.
func (a *HasOne) IsOwningSide(side *Table) bool {
	return side == a.source
}

// Save sets the foreign key of the target entity and saves it.
func (a *HasOne) Save(ctx context.Context, e *entity.Entity, opts *SaveOptions) (bool, error) {
	target, ok := e.Get(a.property).(*entity.Entity)
	if !ok || target == nil {
		return true, nil
	}
	return a.saveTargets(ctx, e, []*entity.Entity{target}, opts)
}

// CascadeDelete implements Association.
func (a *HasOne) CascadeDelete(ctx context.Context, e *entity.Entity, opts *DeleteOptions) error {
	return a.cascadeDependents(ctx, e, opts)
}

// Attach implements Association.
func (a *HasOne) Attach(ctx context.Context, entities []*entity.Entity) error {
	return a.attachDependents(ctx, entities, func(e *entity.Entity, related []*entity.Entity) {
		if len(related) > 0 {
			attachValue(e, a.property, related[0])
		}
	})
}
