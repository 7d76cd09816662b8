package sql

import (
	"github.com/syssam/tabula/dialect"

	// Registers the "mysql" database/sql driver.
	_ "github.com/go-sql-driver/mysql"
	// Registers the "postgres" database/sql driver.
	_ "github.com/lib/pq"
	// Registers the "sqlite" database/sql driver.
	_ "modernc.org/sqlite"
)

// driverName maps a dialect name to the database/sql driver registered for it.
// Wrapped dialect names (e.g. "sqlite3" or "postgres-otel") pass through
// unchanged so that callers may register their own drivers.
func driverName(name string) string {
	switch name {
	case dialect.MySQL, dialect.Postgres, dialect.SQLite:
		return name
	case "sqlite3":
		return dialect.SQLite
	default:
		return name
	}
}
