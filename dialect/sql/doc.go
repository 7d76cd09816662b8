// Package sql provides SQL statement building primitives and the database/sql
// driver adapter used by tables.
//
// # Builder Types
//
// The package provides specialized builders for different SQL operations:
//
//   - Builder: Low-level SQL string builder with identifier quoting
//   - Selector: SELECT statement builder with predicates, ordering and pagination
//   - InsertBuilder: INSERT statement builder with RETURNING support
//   - UpdateBuilder: UPDATE statement builder with SET and WHERE clauses
//   - DeleteBuilder: DELETE statement builder with WHERE predicates
//
// # Dialect Support
//
// SQL generation adapts to different database dialects:
//
//	import "github.com/syssam/tabula/dialect"
//
//	// PostgreSQL
//	b := sql.Dialect(dialect.Postgres)
//	b.Select("id", "title").From("articles").Where(sql.EQ("published", true))
//
//	// MySQL
//	b := sql.Dialect(dialect.MySQL)
//
// # Predicates
//
//	sql.EQ("title", "first")         // title = ?
//	sql.EQ("parent_id", nil)         // parent_id IS NULL
//	sql.GT("views", 10)              // views > ?
//	sql.Contains("body", "go")       // body LIKE '%go%'
//	sql.In("id", 1, 2, 3)            // id IN (?, ?, ?)
//
// Condition maps, as accepted by tables, are converted with Conditions:
//
//	sql.Conditions(map[string]any{
//		"published": true,
//		"author_id": []int{1, 2},
//		"OR":        map[string]any{"title": "a", "body": "b"},
//	})
//
// # Execution
//
// Builders are executed through a dialect.ExecQuerier, which is either a
// Driver or an open transaction:
//
//	res, err := sql.ExecResult(ctx, drv, sql.Dialect(drv.Dialect()).
//		Delete("articles").
//		Where(sql.EQ("id", 1)))
package sql
