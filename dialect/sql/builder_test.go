package sql

import (
	"testing"

	"github.com/syssam/tabula/dialect"

	"github.com/stretchr/testify/assert"
)

func TestBuilder(t *testing.T) {
	tests := []struct {
		input     Querier
		wantQuery string
		wantArgs  []any
	}{
		{
			input:     Insert("users").Columns("age").Values(1),
			wantQuery: "INSERT INTO `users` (`age`) VALUES (?)",
			wantArgs:  []any{1},
		},
		{
			input:     Dialect(dialect.Postgres).Insert("users").Columns("name", "age").Values("a8m", 10).Returning("id"),
			wantQuery: `INSERT INTO "users" ("name", "age") VALUES ($1, $2) RETURNING "id"`,
			wantArgs:  []any{"a8m", 10},
		},
		{
			input:     Dialect(dialect.SQLite).Insert("users").Columns("name").Values("a8m").Returning("id"),
			wantQuery: "INSERT INTO `users` (`name`) VALUES (?)",
			wantArgs:  []any{"a8m"},
		},
		{
			input:     Insert("users").Columns("name").Values("a").Values("b"),
			wantQuery: "INSERT INTO `users` (`name`) VALUES (?), (?)",
			wantArgs:  []any{"a", "b"},
		},
		{
			input:     Insert("users").Set("name", "a").Set("age", 1),
			wantQuery: "INSERT INTO `users` (`name`, `age`) VALUES (?, ?)",
			wantArgs:  []any{"a", 1},
		},
		{
			input:     Dialect(dialect.SQLite).Insert("users"),
			wantQuery: "INSERT INTO `users` DEFAULT VALUES",
		},
		{
			input:     Dialect(dialect.MySQL).Insert("users"),
			wantQuery: "INSERT INTO `users` () VALUES ()",
		},
		{
			input:     Update("users").Set("name", "B").Where(EQ("id", 5)),
			wantQuery: "UPDATE `users` SET `name` = ? WHERE `id` = ?",
			wantArgs:  []any{"B", 5},
		},
		{
			input:     Dialect(dialect.Postgres).Update("users").SetNull("bio").Set("name", "B").Where(EQ("id", 5)),
			wantQuery: `UPDATE "users" SET "bio" = NULL, "name" = $1 WHERE "id" = $2`,
			wantArgs:  []any{"B", 5},
		},
		{
			input:     Update("users").Set("a", 1).Where(EQ("x", 1)).Where(EQ("y", 2)),
			wantQuery: "UPDATE `users` SET `a` = ? WHERE `x` = ? AND `y` = ?",
			wantArgs:  []any{1, 1, 2},
		},
		{
			input:     Delete("users").Where(ColumnsEQ([]string{"article_id", "tag_id"}, []any{1, 2})),
			wantQuery: "DELETE FROM `users` WHERE `article_id` = ? AND `tag_id` = ?",
			wantArgs:  []any{1, 2},
		},
		{
			input:     Delete("users"),
			wantQuery: "DELETE FROM `users`",
		},
		{
			input: Dialect(dialect.Postgres).Delete("users").Where(Or(
				And(EQ("name", "foo"), EQ("age", 10)),
				And(EQ("name", "bar"), EQ("age", 20)),
			)),
			wantQuery: `DELETE FROM "users" WHERE ("name" = $1 AND "age" = $2) OR ("name" = $3 AND "age" = $4)`,
			wantArgs:  []any{"foo", 10, "bar", 20},
		},
		{
			input:     Select().From("users"),
			wantQuery: "SELECT * FROM `users`",
		},
		{
			input:     Select("1 AS existing").From("users").Where(EQ("id", 1)).Limit(1),
			wantQuery: "SELECT 1 AS existing FROM `users` WHERE `id` = ? LIMIT 1",
			wantArgs:  []any{1},
		},
		{
			input:     Select("id", "name").From("users").OrderBy(Desc("created"), "name").Limit(10).Offset(20),
			wantQuery: "SELECT `id`, `name` FROM `users` ORDER BY `created` DESC, `name` LIMIT 10 OFFSET 20",
		},
		{
			input:     Select().From("users").Where(Not(In("id", 1, 2))),
			wantQuery: "SELECT * FROM `users` WHERE NOT (`id` IN (?, ?))",
			wantArgs:  []any{1, 2},
		},
		{
			input:     Select().From("users").Where(In("id")),
			wantQuery: "SELECT * FROM `users` WHERE 1 = 0",
		},
		{
			input:     Select("COUNT(*)").From("users").Where(EQ("parent_id", nil)),
			wantQuery: "SELECT COUNT(*) FROM `users` WHERE `parent_id` IS NULL",
		},
		{
			input:     Select("users.id").From("users").Where(NEQ("users.name", nil)),
			wantQuery: "SELECT `users`.`id` FROM `users` WHERE `users`.`name` IS NOT NULL",
		},
		{
			input:     Select().From("users").Where(Contains("name", "a_b")),
			wantQuery: "SELECT * FROM `users` WHERE `name` LIKE ?",
			wantArgs:  []any{`%a\_b%`},
		},
		{
			input:     Dialect(dialect.Postgres).Select().From("users").Where(ExprP("age > ? AND age < ?", 1, 9)),
			wantQuery: `SELECT * FROM "users" WHERE age > $1 AND age < $2`,
			wantArgs:  []any{1, 9},
		},
	}
	for _, tt := range tests {
		t.Run(tt.wantQuery, func(t *testing.T) {
			query, args := tt.input.Query()
			assert.Equal(t, tt.wantQuery, query)
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}

func TestBuilder_QueryIsRepeatable(t *testing.T) {
	u := Update("users").Set("name", "a").Where(EQ("id", 1))
	q1, a1 := u.Query()
	q2, a2 := u.Query()
	assert.Equal(t, q1, q2)
	assert.Equal(t, a1, a2)
}

func TestConditions(t *testing.T) {
	p := Conditions(map[string]any{
		"published": true,
		"author_id": []int{1, 2},
		"deleted":   nil,
		"OR":        map[string]any{"title": "a", "body": "b"},
	})
	query, args := Select().From("articles").Where(p).Query()
	assert.Equal(t, "SELECT * FROM `articles` WHERE (`body` = ? OR `title` = ?) AND `author_id` IN (?, ?) AND `deleted` IS NULL AND `published` = ?", query)
	assert.Equal(t, []any{"b", "a", 1, 2, true}, args)

	query, args = Conditions(map[string]any{"data": []byte("x")}).Query()
	assert.Equal(t, "`data` = ?", query)
	assert.Equal(t, []any{[]byte("x")}, args)

	query, _ = Conditions(nil).Query()
	assert.Equal(t, "1 = 1", query)
}

func TestSelectorHelpers(t *testing.T) {
	s := Select().From("users")
	FieldEQ("name", "a")(s)
	FieldIn("id", 1, 2)(s)
	OrSelectors(FieldIsNull("bio"), FieldEQ("bio", "x"))(s)
	query, args := s.Query()
	assert.Equal(t, "SELECT * FROM `users` WHERE `users`.`name` = ? AND `users`.`id` IN (?, ?) AND (`users`.`bio` IS NULL OR `users`.`bio` = ?)", query)
	assert.Equal(t, []any{"a", 1, 2, "x"}, args)

	c := s.Clone().Limit(1)
	query, _ = c.CountSelector().Query()
	assert.Equal(t, "SELECT COUNT(*) FROM `users` WHERE `users`.`name` = ? AND `users`.`id` IN (?, ?) AND (`users`.`bio` IS NULL OR `users`.`bio` = ?)", query)
	assert.Equal(t, "users", c.Table())
	assert.Equal(t, "users.id", c.C("id"))
	assert.Equal(t, "COUNT(*)", c.C("COUNT(*)"))
}
