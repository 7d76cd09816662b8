package orm

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/syssam/tabula/dialect"
	"github.com/syssam/tabula/dialect/sql"
)

var dbSeq atomic.Int64

// openSQLite opens a private in-memory database and runs the ddl on it.
func openSQLite(t *testing.T, ddl ...string) *sql.Driver {
	t.Helper()
	drv, err := sql.Open(dialect.SQLite, fmt.Sprintf("file:orm%d?mode=memory&cache=shared", dbSeq.Add(1)))
	require.NoError(t, err)
	drv.DB().SetMaxOpenConns(1)
	t.Cleanup(func() { drv.Close() })
	for _, stmt := range ddl {
		_, err := drv.DB().Exec(stmt)
		require.NoError(t, err, stmt)
	}
	return drv
}

// openMock returns a MySQL driver backed by sqlmock. Statements are matched
// exactly and in order.
func openMock(t *testing.T) (*sql.Driver, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return sql.OpenDB(dialect.MySQL, db), mock
}

// columns returns a column map with an integer primary key "id".
func columns(cols map[string]string) map[string]any {
	m := map[string]any{
		"id": "integer",
		"_constraints": map[string]any{
			"primary": map[string]any{"type": "primary", "columns": []string{"id"}},
		},
	}
	for c, typ := range cols {
		m[c] = typ
	}
	return m
}

var blogDDL = []string{
	"CREATE TABLE authors (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT)",
	"CREATE TABLE articles (id INTEGER PRIMARY KEY AUTOINCREMENT, author_id INTEGER, title TEXT, published INTEGER, parent_id INTEGER)",
	"CREATE TABLE comments (id INTEGER PRIMARY KEY AUTOINCREMENT, article_id INTEGER, body TEXT)",
	"CREATE TABLE tags (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT)",
	"CREATE TABLE articles_tags (article_id INTEGER, tag_id INTEGER, PRIMARY KEY (article_id, tag_id))",
}

type blog struct {
	drv      *sql.Driver
	locator  *Locator
	authors  *Table
	articles *Table
	comments *Table
	tags     *Table
}

// newBlog registers the tables of a blog backed by drv. Articles belong to
// authors, have dependent comments and belong to many tags.
func newBlog(t *testing.T, drv dialect.Driver, opts ...AssociationOption) *blog {
	t.Helper()
	l := NewLocator(WithDriver(drv))
	mk := func(name string, cols map[string]string, extra ...Option) *Table {
		tbl, err := New(append([]Option{WithTable(name), WithDriver(drv), WithLocator(l), WithColumns(columns(cols))}, extra...)...)
		require.NoError(t, err)
		return tbl
	}
	b := &blog{locator: l}
	if d, ok := drv.(*sql.Driver); ok {
		b.drv = d
	}
	b.authors = mk("authors", map[string]string{"name": "string"})
	b.comments = mk("comments", map[string]string{"article_id": "integer", "body": "text"})
	b.tags = mk("tags", map[string]string{"name": "string"})
	b.articles = mk("articles", map[string]string{
		"author_id": "integer",
		"title":     "string",
		"published": "boolean",
		"parent_id": "integer",
	})
	_, err := b.articles.BelongsTo("Authors")
	require.NoError(t, err)
	_, err = b.articles.HasMany("Comments", append([]AssociationOption{Dependent(true)}, opts...)...)
	require.NoError(t, err)
	_, err = b.articles.BelongsToMany("Tags")
	require.NoError(t, err)
	return b
}

func count(t *testing.T, tbl *Table, conds map[string]any) int64 {
	t.Helper()
	n, err := tbl.Query().Conditions(conds).Count(context.Background())
	require.NoError(t, err)
	return n
}
