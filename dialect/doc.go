// Package dialect provides the database dialect abstraction used by tabula.
//
// It defines the interfaces every storage backend implements so that tables
// can issue structured statements without knowing which database they talk to.
//
// # Supported Dialects
//
//   - Postgres: PostgreSQL database
//   - MySQL: MySQL/MariaDB database
//   - SQLite: SQLite database (modernc.org/sqlite)
//
// # Driver Interface
//
//	type Driver interface {
//	    Exec(ctx context.Context, query string, args, v any) error
//	    Query(ctx context.Context, query string, args, v any) error
//	    Tx(ctx context.Context) (Tx, error)
//	    Close() error
//	    Dialect() string
//	}
//
// # Transaction Interface
//
//	type Tx interface {
//	    ExecQuerier
//	    Commit() error
//	    Rollback() error
//	}
//
// A table running an atomic save or delete opens exactly one Tx and routes
// every statement of the operation, including cascaded association writes,
// through it.
//
// # Usage
//
//	drv, err := sql.Open(dialect.SQLite, "file:app.db?_pragma=foreign_keys(1)")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer drv.Close()
//
//	articles := orm.New(orm.WithTable("articles"), orm.WithDriver(drv))
//
// # Sub-packages
//
//   - dialect/sql: driver implementation, statement builders and predicates
//   - dialect/sql/schema: table introspection backed by Atlas
//   - dialect/sql/sqlgraph: constraint violation classification
package dialect
