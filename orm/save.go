package orm

import (
	"context"
	"fmt"
	"reflect"

	"github.com/syssam/tabula"
	"github.com/syssam/tabula/dialect"
	"github.com/syssam/tabula/dialect/sql"
	"github.com/syssam/tabula/dialect/sql/sqlgraph"
	"github.com/syssam/tabula/entity"
	"github.com/syssam/tabula/event"
	"github.com/syssam/tabula/schema"
)

// Save persists the dirty fields of e and of its associated entities.
//
// BelongsTo associations are saved first, the row of e second and the other
// associations last. A persisted entity without dirty fields is not written.
// Save reports false, with a nil error, when validation fails, a listener
// rejects the save or a statement affects no row; e then holds the
// validation errors and, if it was new, is new again. Errors are returned
// for unknown associations, incomplete primary keys on update, listener and
// database failures.
//
// Unless NonAtomic is given, all writes run in one transaction that is
// rolled back on failure.
func (t *Table) Save(ctx context.Context, e *entity.Entity, opts ...SaveOption) (bool, error) {
	return t.save(ctx, e, newSaveOptions(opts))
}

// SaveOrFail is like Save but reports failures as errors: a
// *tabula.ValidationError when e failed validation, and an error matching
// tabula.ErrPersistFailed otherwise.
func (t *Table) SaveOrFail(ctx context.Context, e *entity.Entity, opts ...SaveOption) error {
	ok, err := t.Save(ctx, e, opts...)
	switch {
	case err != nil:
		return err
	case ok:
		return nil
	case e.HasErrors():
		return tabula.NewValidationError(t.Alias(), e.Errors())
	default:
		return tabula.NewPersistenceFailedError(t.Alias(), "save")
	}
}

func (t *Table) save(ctx context.Context, e *entity.Entity, o *SaveOptions) (bool, error) {
	if e.Newness() == entity.NewnessPersisted && !e.IsDirty() {
		return true, nil
	}
	if !o.Atomic {
		return t.processSave(ctx, e, o)
	}
	var failedNew bool
	ok, err := t.atomic(ctx, e, func(ctx context.Context) (bool, error) {
		ok, err := t.processSave(ctx, e, o)
		failedNew = !ok && e.IsNew()
		return ok, err
	})
	if failedNew {
		e.SetNew(true)
	}
	return ok, err
}

func (t *Table) processSave(ctx context.Context, e *entity.Entity, o *SaveOptions) (ok bool, err error) {
	pk, err := t.PrimaryKey(ctx)
	if err != nil {
		return false, err
	}
	if e.Newness() == entity.NewnessUnknown {
		isNew := true
		if keys, ok := keyValues(e, pk); ok {
			exists, err := t.exists(ctx, sql.ColumnsEQ(pk, keys))
			if err != nil {
				return false, err
			}
			isNew = !exists
		}
		e.SetNew(isNew)
	}
	isNew := e.IsNew()
	keys := e.Extract(pk, false)
	var written bool
	defer func() {
		switch {
		case ok || !isNew:
		case written && !o.Atomic:
			// The row stays; e keeps the key it was stored under.
			e.SetNew(false)
		default:
			resetKeys(e, pk, keys)
		}
	}()
	if _, _, err := t.sortAssociationTypes(t.selectAssociations(o)); err != nil {
		return false, err
	}
	t.logger.Debug("tabula: saving entity", "table", t.Alias(), "new", isNew)
	if o.Validate {
		if ok, err := t.processValidation(ctx, e, o); err != nil || !ok {
			return false, err
		}
	}
	ev := &event.Event{Name: event.BeforeSave, Subject: t, Entity: e, Options: o}
	if err := t.bus.Dispatch(ctx, ev); err != nil {
		return false, err
	}
	if ev.IsStopped() {
		return truthy(ev.Result()), nil
	}
	// Listeners of beforeSave may have adjusted the options.
	passed := o.clone()
	parents, children, err := t.sortAssociationTypes(t.selectAssociations(passed))
	if err != nil {
		return false, err
	}
	if ok, err := t.saveAssociations(ctx, e, parents, passed); err != nil || !ok {
		return false, err
	}
	s, err := t.Schema(ctx)
	if err != nil {
		return false, err
	}
	data := e.Extract(s.ColumnNames(), true)
	if isNew {
		ok, err = t.insert(ctx, e, s, pk, data)
	} else {
		ok, err = t.update(ctx, e, pk, data)
	}
	if err != nil || !ok {
		return false, err
	}
	written = true
	saved, err := t.saveAssociations(ctx, e, children, passed)
	if err != nil {
		return false, err
	}
	if !saved && o.Atomic {
		return false, nil
	}
	e.Clean()
	if err := t.bus.Dispatch(ctx, &event.Event{Name: event.AfterSave, Subject: t, Entity: e, Options: o}); err != nil {
		return false, err
	}
	e.SetNew(false)
	return true, nil
}

// resetKeys puts back the primary key values e held before a failed insert
// and marks it new.
func resetKeys(e *entity.Entity, pk []string, keys map[string]any) {
	for _, c := range pk {
		if v, ok := keys[c]; ok {
			e.Set(c, v)
			continue
		}
		e.Unset(c)
	}
	e.SetNew(true)
}

// processValidation runs the validator selected by o. A validator without
// rules accepts the entity without firing Model.afterValidate.
func (t *Table) processValidation(ctx context.Context, e *entity.Entity, o *SaveOptions) (bool, error) {
	v, err := t.Validator(o.Validator)
	if err != nil {
		return false, err
	}
	ev := &event.Event{Name: event.BeforeValidate, Subject: t, Entity: e, Options: o, Validator: v}
	if err := t.bus.Dispatch(ctx, ev); err != nil {
		return false, err
	}
	if ev.IsStopped() {
		return truthy(ev.Result()), nil
	}
	if v.Len() == 0 {
		return true, nil
	}
	ok := v.Validate(ctx, e, map[string]any{"table": t})
	ev = &event.Event{Name: event.AfterValidate, Subject: t, Entity: e, Options: o, Validator: v}
	if err := t.bus.Dispatch(ctx, ev); err != nil {
		return false, err
	}
	if ev.IsStopped() {
		ok = truthy(ev.Result())
	}
	if !ok {
		t.logger.Debug("tabula: validation failed", "table", t.Alias(), "validator", o.Validator, "errors", len(e.Errors()))
	}
	return ok, nil
}

// saveAssociations saves the associations whose property of e is dirty, in
// order. In atomic saves the first failure stops the loop and fails the
// save; otherwise failures are logged and skipped.
func (t *Table) saveAssociations(ctx context.Context, e *entity.Entity, assocs []Association, o *SaveOptions) (bool, error) {
	for _, a := range assocs {
		if !e.Dirty(a.Property()) {
			continue
		}
		ok, err := a.Save(ctx, e, o.forAssociation(a.Name()))
		if err != nil {
			return false, fmt.Errorf("tabula/orm: saving %s of %s: %w", a.Name(), t.Alias(), err)
		}
		if ok {
			continue
		}
		if o.Atomic {
			return false, nil
		}
		t.logger.Warn("tabula: association save failed", "table", t.Alias(), "association", a.Name())
	}
	return true, nil
}

// insert writes data as a new row. A missing single column primary key is
// generated by the ID registry of the table when the column type has a
// generator, and read back from the database otherwise.
func (t *Table) insert(ctx context.Context, e *entity.Entity, s *schema.Table, pk []string, data map[string]any) (bool, error) {
	var (
		generated bool
		column    string
	)
	if len(pk) == 1 {
		column = pk[0]
		if v := e.Get(column); v == nil || v == "" {
			delete(data, column)
			if id, ok := t.ids.NewID(s.ColumnType(column)); ok {
				data[column] = id
				generated = true
			}
		} else {
			data[column] = v
		}
	}
	b := sql.Dialect(t.driver.Dialect()).Insert(t.Table())
	for _, c := range s.ColumnNames() {
		if v, ok := data[c]; ok {
			b.Set(c, v)
		}
	}
	readKey := column != "" && !generated && data[column] == nil
	if readKey && t.driver.Dialect() == dialect.Postgres {
		return t.insertReturning(ctx, e, b.Returning(column), column)
	}
	res, err := sql.ExecResult(ctx, t.conn(ctx), b)
	if err != nil {
		return false, t.mutationError("insert", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, t.mutationError("insert", err)
	}
	if n == 0 {
		return false, nil
	}
	switch {
	case generated:
		e.Set(column, data[column])
	case readKey:
		id, err := res.LastInsertId()
		if err != nil {
			return false, t.mutationError("insert", err)
		}
		e.Set(column, id)
	}
	return true, nil
}

// insertReturning runs an insert returning the key assigned by the
// database.
func (t *Table) insertReturning(ctx context.Context, e *entity.Entity, b *sql.InsertBuilder, column string) (bool, error) {
	rows, err := sql.QueryRows(ctx, t.conn(ctx), b)
	if err != nil {
		return false, t.mutationError("insert", err)
	}
	defer rows.Close()
	if !rows.Next() {
		return false, t.mutationError("insert", rows.Err())
	}
	var id any
	if err := rows.Scan(&id); err != nil {
		return false, t.mutationError("insert", err)
	}
	e.Set(column, normalize(id))
	return true, rows.Err()
}

// update writes the non-key fields of data to the row of e.
func (t *Table) update(ctx context.Context, e *entity.Entity, pk []string, data map[string]any) (bool, error) {
	keys, ok := keyValues(e, pk)
	if !ok {
		return false, &tabula.MissingKeyError{Table: t.Alias(), Op: "update", Missing: missingKeys(e, pk)}
	}
	for _, c := range pk {
		delete(data, c)
	}
	if len(data) == 0 {
		return true, nil
	}
	s, err := t.Schema(ctx)
	if err != nil {
		return false, err
	}
	b := sql.Dialect(t.driver.Dialect()).Update(t.Table())
	for _, c := range s.ColumnNames() {
		if v, ok := data[c]; ok {
			b.Set(c, v)
		}
	}
	res, err := sql.ExecResult(ctx, t.conn(ctx), b.Where(sql.ColumnsEQ(pk, keys)))
	if err != nil {
		return false, t.mutationError("update", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, t.mutationError("update", err)
	}
	return n > 0, nil
}

func (t *Table) mutationError(op string, err error) error {
	if err == nil {
		return nil
	}
	return tabula.NewMutationError(t.Alias(), op, sqlgraph.WrapConstraint(err))
}

// truthy interprets the result of a stopped event as a success flag.
func truthy(v any) bool {
	switch v := v.(type) {
	case nil:
		return false
	case bool:
		return v
	case *entity.Entity:
		return v != nil
	case string:
		return v != "" && v != "0"
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice:
		return rv.Len() > 0
	case reflect.Pointer, reflect.Interface:
		return !rv.IsNil()
	}
	return !rv.IsZero()
}
