package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/tabula/dialect"
	"github.com/syssam/tabula/dialect/sql"
)

var dbSeq atomic.Int64

// openSQLite creates an in-memory database shared by every connection to
// the returned data source name while the test runs.
func openSQLite(t *testing.T, ddl ...string) string {
	t.Helper()
	dsn := fmt.Sprintf("file:tabula%d?mode=memory&cache=shared", dbSeq.Add(1))
	drv, err := sql.Open(dialect.SQLite, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { drv.Close() })
	for _, stmt := range ddl {
		_, err := drv.DB().Exec(stmt)
		require.NoError(t, err, stmt)
	}
	return dsn
}

var blogDDL = []string{
	"CREATE TABLE authors (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT)",
	"CREATE TABLE articles (id INTEGER PRIMARY KEY AUTOINCREMENT, author_id INTEGER REFERENCES authors(id), title TEXT)",
	"CREATE TABLE comments (id INTEGER PRIMARY KEY AUTOINCREMENT, article_id INTEGER, body TEXT)",
	"CREATE TABLE tags (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT)",
	"CREATE TABLE articles_tags (article_id INTEGER, tag_id INTEGER, PRIMARY KEY (article_id, tag_id))",
}

const blogConfig = `
tables:
  - table: articles
    columns:
      id: integer
      title: text
      author_id: integer
      _constraints:
        primary: {type: primary, columns: [id]}
    associations:
      - kind: belongsTo
        alias: Authors
      - kind: hasMany
        alias: Comments
      - kind: belongsToMany
        alias: Tags
  - table: authors
    columns:
      id: integer
      name: text
      _constraints:
        primary: {type: primary, columns: [id]}
  - table: comments
    columns:
      id: integer
      article_id: integer
      body: text
      _constraints:
        primary: {type: primary, columns: [id]}
  - table: tags
    columns:
      id: integer
      name: text
      _constraints:
        primary: {type: primary, columns: [id]}
`

func writeConfig(t *testing.T, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tables.yaml")
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))
	return path
}

func TestRun_Describe(t *testing.T) {
	dsn := openSQLite(t, blogDDL...)
	var out bytes.Buffer
	err := run(context.Background(), []string{"describe", "-dsn", dsn, "authors", "articles"}, &out)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "table: authors")
	assert.Contains(t, out.String(), "table: articles")
	assert.Contains(t, out.String(), "author_id:")

	err = run(context.Background(), []string{"describe", "-dsn", dsn, "posts"}, &out)
	require.ErrorContains(t, err, "describe:")

	err = run(context.Background(), []string{"describe", "-dsn", dsn}, &out)
	require.ErrorContains(t, err, "no table given")
}

func TestRun_Check(t *testing.T) {
	ctx := context.Background()
	path := writeConfig(t, blogConfig)

	dsn := openSQLite(t, blogDDL...)
	var out bytes.Buffer
	require.NoError(t, run(ctx, []string{"check", "-dsn", dsn, "-config", path}, &out))
	assert.NotContains(t, out.String(), "Errors:")

	dsn = openSQLite(t,
		"CREATE TABLE authors (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT)",
		"CREATE TABLE articles (id INTEGER PRIMARY KEY AUTOINCREMENT, author_id INTEGER, title TEXT)",
		"CREATE TABLE comments (id INTEGER PRIMARY KEY AUTOINCREMENT, body TEXT)",
		"CREATE TABLE tags (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT)",
	)
	out.Reset()
	err := run(ctx, []string{"check", "-dsn", dsn, "-config", path}, &out)
	require.ErrorContains(t, err, "problems found")
	assert.Contains(t, out.String(), "comments.article_id: column does not exist in the database")
	assert.Contains(t, out.String(), "comments.article_id: column used by association Articles.Comments does not exist")
	assert.Contains(t, out.String(), "articles_tags: table used by association Articles.Tags does not exist")

	err = run(ctx, []string{"check", "-dsn", dsn}, &out)
	require.ErrorContains(t, err, "-config is required")
}

func TestRun_Usage(t *testing.T) {
	var uerr *usageError
	for _, args := range [][]string{
		nil,
		{"migrate", "-dsn", "file:x?mode=memory"},
		{"describe"},
		{"describe", "-unknown"},
	} {
		err := run(context.Background(), args, &bytes.Buffer{})
		require.Error(t, err)
		assert.True(t, errors.As(err, &uerr), "%v: %v", args, err)
	}
}
