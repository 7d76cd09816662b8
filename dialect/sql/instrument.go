package sql

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/syssam/tabula/dialect"
)

// Stats counts the statements run through an instrumented driver.
type Stats struct {
	queries   atomic.Int64
	execs     atomic.Int64
	errors    atomic.Int64
	slow      atomic.Int64
	txs       atomic.Int64
	commits   atomic.Int64
	rollbacks atomic.Int64
	elapsed   atomic.Int64
}

// Snapshot is a point-in-time copy of Stats.
type Snapshot struct {
	Queries   int64
	Execs     int64
	Errors    int64
	Slow      int64
	Txs       int64
	Commits   int64
	Rollbacks int64
	Elapsed   time.Duration
}

// Snapshot returns the current counters.
func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		Queries:   s.queries.Load(),
		Execs:     s.execs.Load(),
		Errors:    s.errors.Load(),
		Slow:      s.slow.Load(),
		Txs:       s.txs.Load(),
		Commits:   s.commits.Load(),
		Rollbacks: s.rollbacks.Load(),
		Elapsed:   time.Duration(s.elapsed.Load()),
	}
}

// Reset sets all counters to zero.
func (s *Stats) Reset() {
	for _, c := range []*atomic.Int64{&s.queries, &s.execs, &s.errors, &s.slow, &s.txs, &s.commits, &s.rollbacks, &s.elapsed} {
		c.Store(0)
	}
}

// Statements returns the number of statements run.
func (s Snapshot) Statements() int64 { return s.Queries + s.Execs }

// String implements fmt.Stringer.
func (s Snapshot) String() string {
	return fmt.Sprintf("queries=%d execs=%d errors=%d slow=%d txs=%d commits=%d rollbacks=%d elapsed=%s",
		s.Queries, s.Execs, s.Errors, s.Slow, s.Txs, s.Commits, s.Rollbacks, s.Elapsed)
}

// InstrumentOption configures an instrumented driver.
type InstrumentOption func(*Instrumented)

// WithLogger logs every statement at debug level, and slow statements at
// warn level.
func WithLogger(l *slog.Logger) InstrumentOption {
	return func(d *Instrumented) { d.logger = l }
}

// WithSlowThreshold counts the statements running for at least d as slow.
// Zero disables slow statement detection.
func WithSlowThreshold(d time.Duration) InstrumentOption {
	return func(i *Instrumented) { i.slow = d }
}

// Instrumented is a dialect.Driver counting and logging the statements run
// through it and through its transactions.
//
//	drv := sql.Instrument(base, sql.WithLogger(logger), sql.WithSlowThreshold(200*time.Millisecond))
//	articles, err := orm.New(orm.WithTable("articles"), orm.WithDriver(drv))
//	...
//	logger.Info("statements", "stats", drv.Stats().Snapshot())
type Instrumented struct {
	dialect.Driver
	stats  *Stats
	logger *slog.Logger
	slow   time.Duration
}

// Instrument wraps drv.
func Instrument(drv dialect.Driver, opts ...InstrumentOption) *Instrumented {
	d := &Instrumented{Driver: drv, stats: &Stats{}}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Stats returns the counters of the driver.
func (d *Instrumented) Stats() *Stats { return d.stats }

// Query implements dialect.ExecQuerier.
func (d *Instrumented) Query(ctx context.Context, query string, args, v any) error {
	return d.run(ctx, &d.stats.queries, query, args, func() error {
		return d.Driver.Query(ctx, query, args, v)
	})
}

// Exec implements dialect.ExecQuerier.
func (d *Instrumented) Exec(ctx context.Context, query string, args, v any) error {
	return d.run(ctx, &d.stats.execs, query, args, func() error {
		return d.Driver.Exec(ctx, query, args, v)
	})
}

// Tx implements dialect.Driver.
func (d *Instrumented) Tx(ctx context.Context) (dialect.Tx, error) {
	tx, err := d.Driver.Tx(ctx)
	if err != nil {
		d.stats.errors.Add(1)
		return nil, err
	}
	d.stats.txs.Add(1)
	if d.logger != nil {
		d.logger.DebugContext(ctx, "begin")
	}
	return &instrumentedTx{Tx: tx, drv: d}, nil
}

func (d *Instrumented) run(ctx context.Context, counter *atomic.Int64, query string, args any, fn func() error) error {
	start := time.Now()
	err := fn()
	elapsed := time.Since(start)
	counter.Add(1)
	d.stats.elapsed.Add(int64(elapsed))
	if err != nil {
		d.stats.errors.Add(1)
	}
	slow := d.slow > 0 && elapsed >= d.slow
	if slow {
		d.stats.slow.Add(1)
	}
	switch {
	case d.logger == nil:
	case slow:
		d.logger.WarnContext(ctx, "slow statement", "query", query, "args", args, "elapsed", elapsed, "error", err)
	default:
		d.logger.DebugContext(ctx, "statement", "query", query, "args", args, "elapsed", elapsed, "error", err)
	}
	return err
}

type instrumentedTx struct {
	dialect.Tx
	drv *Instrumented
}

func (tx *instrumentedTx) Query(ctx context.Context, query string, args, v any) error {
	return tx.drv.run(ctx, &tx.drv.stats.queries, query, args, func() error {
		return tx.Tx.Query(ctx, query, args, v)
	})
}

func (tx *instrumentedTx) Exec(ctx context.Context, query string, args, v any) error {
	return tx.drv.run(ctx, &tx.drv.stats.execs, query, args, func() error {
		return tx.Tx.Exec(ctx, query, args, v)
	})
}

func (tx *instrumentedTx) Commit() error {
	return tx.end("commit", &tx.drv.stats.commits, tx.Tx.Commit)
}

func (tx *instrumentedTx) Rollback() error {
	return tx.end("rollback", &tx.drv.stats.rollbacks, tx.Tx.Rollback)
}

func (tx *instrumentedTx) end(op string, counter *atomic.Int64, fn func() error) error {
	err := fn()
	if err != nil {
		tx.drv.stats.errors.Add(1)
	} else {
		counter.Add(1)
	}
	if tx.drv.logger != nil {
		tx.drv.logger.Debug(op, "error", err)
	}
	return err
}

var (
	_ dialect.Driver = (*Instrumented)(nil)
	_ dialect.Tx     = (*instrumentedTx)(nil)
)
