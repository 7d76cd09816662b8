package orm

import (
	"context"
	"errors"
	"fmt"

	"github.com/syssam/tabula"
	"github.com/syssam/tabula/dialect"
	"github.com/syssam/tabula/entity"
)

type txCtxKey struct{}

type txContext struct {
	driver dialect.Driver
	tx     dialect.Tx
}

// Begin starts a transaction on drv and returns a context carrying it.
// Tables using drv run their statements in the transaction of the context,
// and their atomic saves and deletes join it instead of starting their own.
// The caller commits or rolls back the returned transaction.
//
//	ctx, tx, err := orm.Begin(ctx, drv)
//	if err != nil {
//		return err
//	}
//	if _, err := articles.Save(ctx, a); err != nil {
//		return errors.Join(err, tx.Rollback())
//	}
//	return tx.Commit()
func Begin(ctx context.Context, drv dialect.Driver) (context.Context, dialect.Tx, error) {
	if _, ok := TxFromContext(ctx, drv); ok {
		return ctx, nil, tabula.ErrTxStarted
	}
	tx, err := drv.Tx(ctx)
	if err != nil {
		return ctx, nil, fmt.Errorf("tabula/orm: starting a transaction: %w", err)
	}
	return context.WithValue(ctx, txCtxKey{}, &txContext{driver: drv, tx: tx}), tx, nil
}

// TxFromContext returns the transaction of drv carried by ctx.
func TxFromContext(ctx context.Context, drv dialect.Driver) (dialect.Tx, bool) {
	c, ok := ctx.Value(txCtxKey{}).(*txContext)
	if !ok || c.driver != drv {
		return nil, false
	}
	return c.tx, true
}

// conn returns the transaction of the context, or the driver.
func (t *Table) conn(ctx context.Context) dialect.ExecQuerier {
	if tx, ok := TxFromContext(ctx, t.driver); ok {
		return tx
	}
	return t.driver
}

// Transaction runs fn in a transaction. The transaction is committed when fn
// succeeds, and rolled back when fn fails, returns an error or panics. A
// transaction already carried by ctx is joined: fn runs in it and the owner
// of the transaction decides its outcome.
func (t *Table) Transaction(ctx context.Context, fn func(context.Context) (bool, error)) (ok bool, err error) {
	if _, joined := TxFromContext(ctx, t.driver); joined {
		return fn(ctx)
	}
	ctx, tx, err := Begin(ctx, t.driver)
	if err != nil {
		return false, err
	}
	defer func() {
		if v := recover(); v != nil {
			if rerr := tx.Rollback(); rerr != nil {
				t.logger.Warn("tabula: rollback after panic failed", "table", t.Alias(), "error", rerr)
			}
			panic(v)
		}
	}()
	ok, err = fn(ctx)
	if err != nil || !ok {
		t.logger.Debug("tabula: rolling back", "table", t.Alias(), "error", err)
		if rerr := tx.Rollback(); rerr != nil {
			t.logger.Warn("tabula: rollback failed", "table", t.Alias(), "error", rerr)
			return false, &tabula.RollbackError{Err: errors.Join(err, rerr)}
		}
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("tabula/orm: committing transaction: %w", err)
	}
	return true, nil
}

// atomic runs fn in a transaction owned by the call. When the transaction
// is rolled back, the entity graph of e is restored to its state before the
// call, so the entity does not report keys of rows that were never
// committed.
func (t *Table) atomic(ctx context.Context, e *entity.Entity, fn func(context.Context) (bool, error)) (bool, error) {
	if _, joined := TxFromContext(ctx, t.driver); joined {
		return fn(ctx)
	}
	state := e.Capture()
	ok, err := t.Transaction(ctx, fn)
	if !ok || err != nil {
		state.Restore()
	}
	return ok, err
}
