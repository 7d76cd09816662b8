package orm

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/syssam/tabula"
	"github.com/syssam/tabula/dialect/sql"
	"github.com/syssam/tabula/entity"
	"github.com/syssam/tabula/event"
)

// Delete removes the row of e and cascades the delete to the associations
// of the table. Delete reports false, with a nil error, when e is new, a
// listener rejects the delete or no row matched.
//
// Every association is asked to cascade once the row is gone. Cascade
// failures do not undo the delete of the row by themselves: they are
// collected and returned after Model.afterDelete fired. In atomic deletes
// the returned error rolls back the transaction and the delete reports
// false; with NonAtomic the delete reports true along with the error.
func (t *Table) Delete(ctx context.Context, e *entity.Entity, opts ...DeleteOption) (bool, error) {
	return t.delete(ctx, e, newDeleteOptions(opts))
}

// DeleteOrFail is like Delete but reports a rejected delete as an error
// matching tabula.ErrPersistFailed.
func (t *Table) DeleteOrFail(ctx context.Context, e *entity.Entity, opts ...DeleteOption) error {
	ok, err := t.Delete(ctx, e, opts...)
	if err != nil {
		return err
	}
	if !ok {
		return tabula.NewPersistenceFailedError(t.Alias(), "delete")
	}
	return nil
}

func (t *Table) delete(ctx context.Context, e *entity.Entity, o *DeleteOptions) (bool, error) {
	if !o.Atomic {
		return t.processDelete(ctx, e, o)
	}
	return t.Transaction(ctx, func(ctx context.Context) (bool, error) {
		return t.processDelete(ctx, e, o)
	})
}

func (t *Table) processDelete(ctx context.Context, e *entity.Entity, o *DeleteOptions) (bool, error) {
	ev := &event.Event{Name: event.BeforeDelete, Subject: t, Entity: e, Options: o}
	if err := t.bus.Dispatch(ctx, ev); err != nil {
		return false, err
	}
	if ev.IsStopped() {
		return truthy(ev.Result()), nil
	}
	if e.IsNew() {
		return false, nil
	}
	pk, err := t.PrimaryKey(ctx)
	if err != nil {
		return false, err
	}
	keys, ok := keyValues(e, pk)
	if !ok {
		return false, &tabula.MissingKeyError{Table: t.Alias(), Op: "delete", Missing: missingKeys(e, pk)}
	}
	n, err := t.deleteWhere(ctx, sql.ColumnsEQ(pk, keys))
	if err != nil || n == 0 {
		return false, err
	}
	var errs []error
	for _, a := range t.Associations() {
		if err := a.CascadeDelete(ctx, e, o.clone()); err != nil {
			t.logger.Warn("tabula: cascade delete failed", "table", t.Alias(), "association", a.Name(), "error", err)
			errs = append(errs, fmt.Errorf("tabula/orm: cascading delete of %s to %s: %w", t.Alias(), a.Name(), err))
		}
	}
	if err := t.bus.Dispatch(ctx, &event.Event{Name: event.AfterDelete, Subject: t, Entity: e, Options: o}); err != nil {
		errs = append(errs, err)
	}
	return true, tabula.NewAggregateError(errs...)
}

// UpdateAll sets fields on every row matching conds and reports if a row
// was changed. No event fires. Conditions use the layout of sql.Conditions.
func (t *Table) UpdateAll(ctx context.Context, fields, conds map[string]any) (bool, error) {
	if len(fields) == 0 {
		return false, fmt.Errorf("tabula/orm: update all %s: no fields", t.Alias())
	}
	b := sql.Dialect(t.driver.Dialect()).Update(t.Table())
	for _, f := range slices.Sorted(maps.Keys(fields)) {
		b.Set(f, fields[f])
	}
	if len(conds) > 0 {
		b.Where(sql.Conditions(conds))
	}
	res, err := sql.ExecResult(ctx, t.conn(ctx), b)
	if err != nil {
		return false, t.mutationError("update", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, t.mutationError("update", err)
	}
	return n > 0, nil
}

// DeleteAll removes every row matching conds and reports if a row was
// removed. No event fires and associations are not cascaded.
func (t *Table) DeleteAll(ctx context.Context, conds map[string]any) (bool, error) {
	var p *sql.Predicate
	if len(conds) > 0 {
		p = sql.Conditions(conds)
	}
	n, err := t.deleteWhere(ctx, p)
	return n > 0, err
}

// Exists reports if a row matches conds.
func (t *Table) Exists(ctx context.Context, conds map[string]any) (bool, error) {
	return t.exists(ctx, sql.Conditions(conds))
}

func (t *Table) exists(ctx context.Context, p *sql.Predicate) (bool, error) {
	rows, err := t.Query().Select("1 AS existing").Where(p).Limit(1).Rows(ctx)
	if err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}

// deleteWhere removes the rows matching p, or every row for a nil p, and
// returns the number of removed rows.
func (t *Table) deleteWhere(ctx context.Context, p *sql.Predicate) (int64, error) {
	b := sql.Dialect(t.driver.Dialect()).Delete(t.Table())
	if p != nil {
		b.Where(p)
	}
	res, err := sql.ExecResult(ctx, t.conn(ctx), b)
	if err != nil {
		return 0, t.mutationError("delete", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, t.mutationError("delete", err)
	}
	return n, nil
}
