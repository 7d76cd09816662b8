// tabula inspects database tables and checks table configurations.
//
//	tabula describe -dialect sqlite -dsn "file:blog.db" articles authors
//	tabula check -dialect postgres -dsn "$DATABASE_URL" -config tables.yaml
//
// describe prints the configuration of the given tables in the layout read
// by orm.LoadConfig. check loads a configuration file, declares its
// associations and reports how the configured tables and associations
// differ from the database.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/syssam/tabula"
	"github.com/syssam/tabula/dialect"
	"github.com/syssam/tabula/dialect/sql"
	sqlschema "github.com/syssam/tabula/dialect/sql/schema"
	"github.com/syssam/tabula/orm"
	"github.com/syssam/tabula/schema"
)

const usage = "usage: tabula describe|check -dialect <name> -dsn <source> [-config <file>] [tables...]"

// usageError is reported with exit status 2.
type usageError struct{ msg string }

func (e *usageError) Error() string { return e.msg }

func main() {
	err := run(context.Background(), os.Args[1:], os.Stdout)
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "tabula: %v\n", err)
	var uerr *usageError
	if errors.As(err, &uerr) {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	os.Exit(1)
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	if len(args) == 0 {
		return &usageError{msg: "no command given"}
	}
	var (
		cmd     = args[0]
		fs      = flag.NewFlagSet(cmd, flag.ContinueOnError)
		name    = fs.String("dialect", dialect.SQLite, "database dialect: sqlite, mysql or postgres")
		dsn     = fs.String("dsn", "", "data source name")
		config  = fs.String("config", "", "configuration file (check)")
		verbose = fs.Bool("v", false, "log debug messages")
	)
	fs.SetOutput(io.Discard)
	if err := fs.Parse(args[1:]); err != nil {
		return &usageError{msg: err.Error()}
	}
	if cmd != "describe" && cmd != "check" {
		return &usageError{msg: fmt.Sprintf("unknown command %q", cmd)}
	}
	if *dsn == "" {
		return &usageError{msg: "-dsn is required"}
	}
	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	base, err := sql.OpenConfig(&sql.Config{Dialect: *name, DSN: *dsn, MaxOpenConns: 4})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer base.Close()
	insp, err := sqlschema.NewInspector(base.DB(), *name)
	if err != nil {
		return err
	}
	drv := sql.Instrument(base, sql.WithLogger(logger), sql.WithSlowThreshold(time.Second))
	defer func() { logger.Debug("done", "stats", drv.Stats().Snapshot()) }()

	if cmd == "describe" {
		err = describe(ctx, insp, stdout, fs.Args())
	} else {
		err = check(ctx, drv, insp, logger, stdout, *config)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", cmd, err)
	}
	return nil
}

func describe(ctx context.Context, insp sqlschema.Inspector, stdout io.Writer, tables []string) error {
	if len(tables) == 0 {
		return errors.New("no table given")
	}
	cfgs := make([]*orm.Config, 0, len(tables))
	for _, name := range tables {
		s, err := insp.InspectTable(ctx, name)
		if err != nil {
			return err
		}
		cfgs = append(cfgs, orm.ConfigFromSchema(s))
	}
	out, err := orm.MarshalConfig(cfgs...)
	if err != nil {
		return err
	}
	_, err = stdout.Write(out)
	return err
}

func check(ctx context.Context, drv dialect.Driver, insp sqlschema.Inspector, logger *slog.Logger, stdout io.Writer, path string) error {
	if path == "" {
		return errors.New("-config is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	cfgs, err := orm.LoadConfig(data)
	if err != nil {
		return err
	}
	l := orm.NewLocator(orm.WithDriver(drv), orm.WithInspector(insp), orm.WithLogger(logger))
	if err := l.Load(ctx, cfgs...); err != nil {
		return err
	}
	var (
		tables            []*orm.Table
		declared, current []*schema.Table
		names             = make(map[string]bool)
	)
	for _, alias := range l.Aliases() {
		t, _ := l.Get(alias)
		configured, err := t.Schema(ctx)
		if err != nil {
			return err
		}
		tables, declared = append(tables, t), append(declared, configured)
		names[configured.Name] = true
		actual, err := insp.InspectTable(ctx, t.Table())
		switch {
		case tabula.IsMissingTable(err):
		case err != nil:
			return err
		default:
			current = append(current, actual)
		}
		logger.Debug("table checked", "table", t.Table(), "associations", len(t.Associations()))
	}
	// Foreign constraints may refer to tables the configuration leaves out.
	var refs []*schema.Table
	for _, d := range declared {
		for _, c := range d.Constraints {
			if c.Type != schema.ConstraintForeign || names[c.RefTable] {
				continue
			}
			names[c.RefTable] = true
			ref, err := insp.InspectTable(ctx, c.RefTable)
			switch {
			case tabula.IsMissingTable(err):
			case err != nil:
				return err
			default:
				refs = append(refs, ref)
			}
		}
	}
	res := schema.Validate(declared, schema.References(refs...))
	res.Merge(schema.Compare(declared, current))
	assocs, err := orm.CheckAssociations(ctx, insp, tables...)
	if err != nil {
		return err
	}
	res.Merge(assocs)
	fmt.Fprintln(stdout, res)
	if res.HasErrors() {
		return fmt.Errorf("%d problems found", len(res.Errors))
	}
	return nil
}
