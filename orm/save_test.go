package orm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/tabula"
	"github.com/syssam/tabula/dialect"
	"github.com/syssam/tabula/dialect/sql"
	"github.com/syssam/tabula/entity"
	"github.com/syssam/tabula/event"
	"github.com/syssam/tabula/validation"
)

func TestSave_Order(t *testing.T) {
	drv, mock := openMock(t)
	b := newBlog(t, drv)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `authors` (`name`) VALUES (?)").
		WithArgs("a8m").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO `articles` (`author_id`, `title`) VALUES (?, ?)").
		WithArgs(int64(1), "First").
		WillReturnResult(sqlmock.NewResult(10, 1))
	mock.ExpectExec("INSERT INTO `comments` (`article_id`, `body`) VALUES (?, ?)").
		WithArgs(int64(10), "Nice").
		WillReturnResult(sqlmock.NewResult(100, 1))
	mock.ExpectCommit()

	author := entity.New(map[string]any{"name": "a8m"})
	comment := entity.New(map[string]any{"body": "Nice"})
	article := entity.New(map[string]any{
		"title":    "First",
		"author":   author,
		"comments": []*entity.Entity{comment},
	})
	ok, err := b.articles.Save(context.Background(), article)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1), author.Get("id"))
	assert.Equal(t, int64(1), article.Get("author_id"))
	assert.Equal(t, int64(10), article.Get("id"))
	assert.Equal(t, int64(10), comment.Get("article_id"))
	assert.Equal(t, int64(100), comment.Get("id"))
	for _, e := range []*entity.Entity{author, article, comment} {
		assert.False(t, e.IsNew())
		assert.False(t, e.IsDirty())
	}
}

func TestSave_Rollback(t *testing.T) {
	drv, mock := openMock(t)
	b := newBlog(t, drv)
	failure := errors.New("disk full")
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `authors` (`name`) VALUES (?)").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO `articles` (`author_id`, `title`) VALUES (?, ?)").WillReturnResult(sqlmock.NewResult(10, 1))
	mock.ExpectExec("INSERT INTO `comments` (`article_id`, `body`) VALUES (?, ?)").WillReturnError(failure)
	mock.ExpectRollback()

	author := entity.New(map[string]any{"name": "a8m"})
	article := entity.New(map[string]any{
		"title":    "First",
		"author":   author,
		"comments": []*entity.Entity{entity.New(map[string]any{"body": "Nice"})},
	})
	ok, err := b.articles.Save(context.Background(), article)
	require.ErrorIs(t, err, failure)
	require.True(t, tabula.IsMutationError(err))
	require.False(t, ok)
	assert.True(t, article.IsNew())
	assert.False(t, article.Has("id"))
	assert.False(t, article.Has("author_id"))
	assert.False(t, author.Has("id"))
	assert.True(t, article.Dirty("title"))
}

func TestSave_Unchanged(t *testing.T) {
	drv, _ := openMock(t)
	b := newBlog(t, drv)
	e := entity.Hydrate("Articles", map[string]any{"id": int64(1), "title": "First"})
	ok, err := b.articles.Save(context.Background(), e)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestSave_Update(t *testing.T) {
	drv, mock := openMock(t)
	b := newBlog(t, drv)
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE `articles` SET `title` = ? WHERE `id` = ?").
		WithArgs("Second", int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	e := entity.Hydrate("Articles", map[string]any{"id": int64(1), "title": "First", "author_id": int64(2)})
	e.Set("title", "Second")
	ok, err := b.articles.Save(context.Background(), e)
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, e.IsDirty())
}

func TestSave_UpdateOnlyKey(t *testing.T) {
	drv, _ := openMock(t)
	b := newBlog(t, drv)
	e := entity.Hydrate("Articles", map[string]any{"id": int64(1), "title": "First"})
	e.Set("id", int64(1))
	ok, err := b.articles.Save(context.Background(), e, NonAtomic())
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, e.IsDirty())
}

func TestSave_UpdateMissingKey(t *testing.T) {
	drv, _ := openMock(t)
	b := newBlog(t, drv)
	e := entity.New(map[string]any{"title": "First"}).SetNew(false)
	ok, err := b.articles.Save(context.Background(), e, NonAtomic())
	require.False(t, ok)
	require.True(t, tabula.IsMissingKey(err))
	var mk *tabula.MissingKeyError
	require.ErrorAs(t, err, &mk)
	assert.Equal(t, []string{"id"}, mk.Missing)
}

func TestSave_UnknownNewness(t *testing.T) {
	drv, mock := openMock(t)
	b := newBlog(t, drv)
	mock.ExpectQuery("SELECT 1 AS existing FROM `articles` WHERE `id` = ? LIMIT 1").
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"existing"}).AddRow(1))
	mock.ExpectExec("UPDATE `articles` SET `title` = ? WHERE `id` = ?").
		WithArgs("x", int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	e := entity.New(map[string]any{"id": int64(5), "title": "x"})
	ok, err := b.articles.Save(context.Background(), e, NonAtomic())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, entity.NewnessPersisted, e.Newness())
}

func TestSave_NoRowAffected(t *testing.T) {
	drv, mock := openMock(t)
	b := newBlog(t, drv)
	mock.ExpectExec("UPDATE `articles` SET `title` = ? WHERE `id` = ?").
		WillReturnResult(sqlmock.NewResult(0, 0))

	e := entity.Hydrate("Articles", map[string]any{"id": int64(1), "title": "First"})
	e.Set("title", "Gone")
	ok, err := b.articles.Save(context.Background(), e, NonAtomic())
	require.NoError(t, err)
	require.False(t, ok)
	assert.True(t, e.Dirty("title"))

	mock.ExpectExec("UPDATE `articles` SET `title` = ? WHERE `id` = ?").
		WillReturnResult(sqlmock.NewResult(0, 0))
	err = b.articles.SaveOrFail(context.Background(), e, NonAtomic())
	require.ErrorIs(t, err, tabula.ErrPersistFailed)
}

func TestSave_GeneratedKey(t *testing.T) {
	drv, mock := openMock(t)
	tokens, err := New(WithTable("tokens"), WithDriver(drv), WithColumns(map[string]any{
		"id":   "uuid",
		"name": "string",
		"_constraints": map[string]any{
			"primary": map[string]any{"type": "primary", "columns": []string{"id"}},
		},
	}))
	require.NoError(t, err)
	mock.ExpectExec("INSERT INTO `tokens` (`id`, `name`) VALUES (?, ?)").
		WithArgs(sqlmock.AnyArg(), "api").
		WillReturnResult(sqlmock.NewResult(0, 1))

	e := entity.New(map[string]any{"name": "api"})
	ok, err := tokens.Save(context.Background(), e, NonAtomic())
	require.NoError(t, err)
	require.True(t, ok)
	id, _ := e.Get("id").(string)
	assert.Len(t, id, 36)
}

func TestSave_Returning(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer db.Close()
	authors, err := New(WithTable("authors"), WithDriver(sql.OpenDB(dialect.Postgres, db)), WithColumns(columns(map[string]string{"name": "string"})))
	require.NoError(t, err)
	mock.ExpectQuery(`INSERT INTO "authors" ("name") VALUES ($1) RETURNING "id"`).
		WithArgs("a8m").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))

	e := entity.New(map[string]any{"name": "a8m"})
	ok, err := authors.Save(context.Background(), e, NonAtomic())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(7), e.Get("id"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSave_Validation(t *testing.T) {
	drv, mock := openMock(t)
	articles, err := New(
		WithTable("articles"),
		WithDriver(drv),
		WithColumns(columns(map[string]string{"title": "string"})),
		WithValidator(DefaultValidator, func(v *validation.Validator) *validation.Validator {
			return v.RequirePresence("title", validation.OnCreate).Add("title", "length", validation.MinLen(3))
		}),
	)
	require.NoError(t, err)
	var validated []string
	articles.EventBus().
		On(event.BeforeValidate, func(_ context.Context, ev *event.Event) error {
			validated = append(validated, ev.Name)
			return nil
		}).
		On(event.AfterValidate, func(_ context.Context, ev *event.Event) error {
			validated = append(validated, ev.Name)
			return nil
		})

	mock.ExpectBegin()
	mock.ExpectRollback()
	e := entity.New(map[string]any{"title": "Go"})
	ok, err := articles.Save(context.Background(), e)
	require.NoError(t, err)
	require.False(t, ok)
	assert.True(t, e.HasErrors())
	assert.NotEmpty(t, e.FieldErrors("title"))
	assert.True(t, e.IsNew())
	assert.Equal(t, []string{event.BeforeValidate, event.AfterValidate}, validated)

	err = articles.SaveOrFail(context.Background(), e, NonAtomic())
	require.True(t, tabula.IsValidationError(err))

	mock.ExpectExec("INSERT INTO `articles` (`title`) VALUES (?)").WillReturnResult(sqlmock.NewResult(1, 1))
	ok, err = articles.Save(context.Background(), e, NonAtomic(), SkipValidation())
	require.NoError(t, err)
	require.True(t, ok)
}

func TestSave_EmptyValidator(t *testing.T) {
	drv := openSQLite(t, blogDDL...)
	b := newBlog(t, drv)
	var names []string
	b.articles.EventBus().
		On(event.BeforeValidate, func(_ context.Context, ev *event.Event) error {
			names = append(names, ev.Name)
			return nil
		}).
		On(event.AfterValidate, func(_ context.Context, ev *event.Event) error {
			names = append(names, ev.Name)
			return nil
		})
	ok, err := b.articles.Save(context.Background(), entity.New(map[string]any{"title": "First"}))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{event.BeforeValidate}, names)

	_, err = b.articles.Save(context.Background(), entity.New(map[string]any{"title": "First"}), Validate("strict"))
	require.Error(t, err)
}

func TestSave_BeforeSaveStop(t *testing.T) {
	drv, _ := openMock(t)
	b := newBlog(t, drv)
	b.articles.EventBus().On(event.BeforeSave, func(_ context.Context, ev *event.Event) error {
		if ev.Entity.Get("title") == "locked" {
			return event.Stop(false)
		}
		return event.Stop(ev.Entity)
	})
	ok, err := b.articles.Save(context.Background(), entity.New(map[string]any{"title": "locked"}), NonAtomic())
	require.NoError(t, err)
	require.False(t, ok)

	e := entity.New(map[string]any{"title": "open"})
	ok, err = b.articles.Save(context.Background(), e, NonAtomic())
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, e.IsDirty())
}

func TestSave_BeforeSaveOptions(t *testing.T) {
	drv, mock := openMock(t)
	b := newBlog(t, drv)
	b.articles.EventBus().On(event.BeforeSave, func(_ context.Context, ev *event.Event) error {
		o := ev.Options.(*SaveOptions)
		o.AllAssociated = false
		o.Associated = nil
		return nil
	})
	mock.ExpectExec("INSERT INTO `articles` (`title`) VALUES (?)").WillReturnResult(sqlmock.NewResult(3, 1))
	e := entity.New(map[string]any{
		"title":  "First",
		"author": entity.New(map[string]any{"name": "skipped"}),
	})
	ok, err := b.articles.Save(context.Background(), e, NonAtomic())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Nil(t, e.Get("author_id"))
}

func TestSave_UnknownAssociation(t *testing.T) {
	drv, _ := openMock(t)
	b := newBlog(t, drv)
	e := entity.New(map[string]any{"title": "First"})
	_, err := b.articles.Save(context.Background(), e, NonAtomic(), Associated("Editors"))
	require.True(t, tabula.IsUnknownAssociation(err))
	assert.True(t, e.IsNew())
}

func TestSave_Graph(t *testing.T) {
	ctx := context.Background()
	drv := openSQLite(t, blogDDL...)
	b := newBlog(t, drv)
	go1, go2 := entity.New(map[string]any{"name": "go"}), entity.New(map[string]any{"name": "sql"})
	article := entity.New(map[string]any{
		"title":    "First",
		"author":   entity.New(map[string]any{"name": "a8m"}),
		"comments": []*entity.Entity{entity.New(map[string]any{"body": "one"}), entity.New(map[string]any{"body": "two"})},
		"tags":     []*entity.Entity{go1, go2},
	})
	require.NoError(t, b.articles.SaveOrFail(ctx, article))
	id := article.Get("id")
	assert.Equal(t, int64(1), count(t, b.authors, nil))
	assert.Equal(t, int64(2), count(t, b.comments, map[string]any{"article_id": id}))
	assert.Equal(t, int64(2), count(t, b.tags, nil))
	assoc, ok := b.articles.Association("tags")
	require.True(t, ok)
	junction, err := assoc.(*BelongsToMany).Junction(ctx)
	require.NoError(t, err)
	assert.Equal(t, "articles_tags", junction.Table())
	assert.Equal(t, int64(2), count(t, junction, map[string]any{"article_id": id}))
	assert.IsType(t, &entity.Entity{}, go1.Get(JoinData))

	// Replace the links: "sql" is unlinked, "db" is created and linked.
	article.Set("tags", []*entity.Entity{go1, entity.New(map[string]any{"name": "db"})})
	require.NoError(t, b.articles.SaveOrFail(ctx, article))
	assert.Equal(t, int64(3), count(t, b.tags, nil))
	assert.Equal(t, int64(2), count(t, junction, map[string]any{"article_id": id}))
	assert.Equal(t, int64(0), count(t, junction, map[string]any{"tag_id": go2.Get("id")}))

	loaded, err := b.articles.Query().Contain("Authors", "Comments", "Tags").All(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	a := loaded[0]
	assert.Equal(t, "a8m", a.Get("author").(*entity.Entity).Get("name"))
	assert.Len(t, a.Get("comments"), 2)
	tags := a.Get("tags").([]*entity.Entity)
	require.Len(t, tags, 2)
	for _, tag := range tags {
		link := tag.Get(JoinData).(*entity.Entity)
		assert.Equal(t, id, link.Get("article_id"))
		assert.Equal(t, tag.Get("id"), link.Get("tag_id"))
	}
	assert.False(t, a.IsDirty())
}

func TestSave_AppendStrategy(t *testing.T) {
	ctx := context.Background()
	drv := openSQLite(t, blogDDL...)
	b := newBlog(t, drv)
	_, err := b.articles.BelongsToMany("Tags", SaveStrategy(Append))
	require.NoError(t, err)
	first := entity.New(map[string]any{"name": "go"})
	article := entity.New(map[string]any{"title": "First", "tags": []*entity.Entity{first}})
	require.NoError(t, b.articles.SaveOrFail(ctx, article))
	article.Set("tags", []*entity.Entity{entity.New(map[string]any{"name": "sql"})})
	require.NoError(t, b.articles.SaveOrFail(ctx, article))
	assert.Equal(t, int64(2), count(t, b.tags, nil))
	loaded, err := b.articles.Query().Contain("Tags").First(ctx)
	require.NoError(t, err)
	assert.Len(t, loaded.Get("tags"), 2)
}

func TestSave_AssociationFailure(t *testing.T) {
	ctx := context.Background()
	drv := openSQLite(t, blogDDL...)
	b := newBlog(t, drv)
	b.comments.SetValidatorBuilder(DefaultValidator, func(v *validation.Validator) *validation.Validator {
		return v.RequirePresence("body", validation.OnCreate)
	})
	newArticle := func() *entity.Entity {
		return entity.New(map[string]any{
			"title":    "First",
			"comments": []*entity.Entity{entity.New(map[string]any{"body": "ok"}), entity.New(nil)},
		})
	}

	article := newArticle()
	ok, err := b.articles.Save(ctx, article)
	require.NoError(t, err)
	require.False(t, ok)
	assert.True(t, article.IsNew())
	assert.False(t, article.Has("id"))
	assert.Equal(t, int64(0), count(t, b.articles, nil))
	assert.Equal(t, int64(0), count(t, b.comments, nil))
	invalid := article.Get("comments").([]*entity.Entity)[1]
	assert.NotEmpty(t, invalid.FieldErrors("body"))

	article = newArticle()
	ok, err = b.articles.Save(ctx, article, NonAtomic())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1), count(t, b.articles, nil))
	assert.Equal(t, int64(1), count(t, b.comments, nil))
}

func TestSave_RollbackKeepsValues(t *testing.T) {
	type meta struct {
		Source string
		Words  int
	}
	ctx := context.Background()
	drv := openSQLite(t, blogDDL...)
	b := newBlog(t, drv)
	b.comments.SetValidatorBuilder(DefaultValidator, func(v *validation.Validator) *validation.Validator {
		return v.Add("body", "length", validation.MinLen(10))
	})

	rank := 7
	labels := []string{"go", "sql"}
	when := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	done := make(chan struct{})
	author := entity.New(map[string]any{"name": "a8m"})
	article := entity.New(map[string]any{
		"title":    "First",
		"labels":   labels,
		"written":  when,
		"meta":     meta{Source: "rss", Words: 120},
		"rank":     &rank,
		"done":     done,
		"author":   author,
		"comments": []*entity.Entity{entity.New(map[string]any{"body": "short"})},
	})
	ok, err := b.articles.Save(ctx, article)
	require.NoError(t, err)
	require.False(t, ok)
	assert.Equal(t, int64(0), count(t, b.authors, nil))
	assert.Equal(t, int64(0), count(t, b.articles, nil))

	assert.False(t, author.Has("id"))
	assert.False(t, article.Has("id"))
	assert.False(t, article.Has("author_id"))
	assert.True(t, article.IsNew())
	assert.Equal(t, labels, article.Get("labels"))
	require.IsType(t, time.Time{}, article.Get("written"))
	assert.True(t, when.Equal(article.Get("written").(time.Time)))
	assert.Equal(t, time.UTC, article.Get("written").(time.Time).Location())
	assert.Equal(t, meta{Source: "rss", Words: 120}, article.Get("meta"))
	assert.Same(t, &rank, article.Get("rank"))
	assert.Equal(t, done, article.Get("done"))
	assert.Same(t, author, article.Get("author"))
}

func TestSave_NonAtomicAfterSaveError(t *testing.T) {
	ctx := context.Background()
	drv := openSQLite(t, blogDDL...)
	b := newBlog(t, drv)
	failure := errors.New("notify failed")
	b.authors.EventBus().On(event.AfterSave, func(context.Context, *event.Event) error {
		return failure
	})

	author := entity.New(map[string]any{"name": "a8m"})
	ok, err := b.authors.Save(ctx, author, NonAtomic())
	require.ErrorIs(t, err, failure)
	require.False(t, ok)
	assert.Equal(t, int64(1), count(t, b.authors, nil))
	assert.Equal(t, int64(1), author.Get("id"))
	assert.False(t, author.IsNew())
	assert.False(t, author.IsDirty())

	author = entity.New(map[string]any{"name": "rotemtam"})
	ok, err = b.authors.Save(ctx, author)
	require.ErrorIs(t, err, failure)
	require.False(t, ok)
	assert.Equal(t, int64(1), count(t, b.authors, nil))
	assert.False(t, author.Has("id"))
	assert.True(t, author.IsNew())
}

func TestSave_AssociatedWith(t *testing.T) {
	ctx := context.Background()
	drv := openSQLite(t, blogDDL...)
	b := newBlog(t, drv)
	b.comments.SetValidatorBuilder(DefaultValidator, func(v *validation.Validator) *validation.Validator {
		return v.RequirePresence("body", validation.OnCreate)
	})
	article := entity.New(map[string]any{
		"title":    "First",
		"author":   entity.New(map[string]any{"name": "skipped"}),
		"comments": []*entity.Entity{entity.New(nil)},
	})
	ok, err := b.articles.Save(ctx, article, NoAssociated(), AssociatedWith("Comments", SkipValidation()))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(0), count(t, b.authors, nil))
	assert.Equal(t, int64(1), count(t, b.comments, nil))
	assert.Nil(t, article.Get("author_id"))
}

func TestSave_ExternalTransaction(t *testing.T) {
	ctx := context.Background()
	drv := openSQLite(t, blogDDL...)
	b := newBlog(t, drv)
	txCtx, tx, err := Begin(ctx, drv)
	require.NoError(t, err)
	_, _, err = Begin(txCtx, drv)
	require.ErrorIs(t, err, tabula.ErrTxStarted)
	require.NoError(t, b.articles.SaveOrFail(txCtx, entity.New(map[string]any{"title": "First"})))
	n, err := b.articles.Query().Count(txCtx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	require.NoError(t, tx.Rollback())
	assert.Equal(t, int64(0), count(t, b.articles, nil))
}

func TestTruthy(t *testing.T) {
	tests := []struct {
		v    any
		want bool
	}{
		{nil, false},
		{true, true},
		{false, false},
		{"", false},
		{"0", false},
		{"yes", true},
		{0, false},
		{3, true},
		{[]int{}, false},
		{[]int{1}, true},
		{map[string]any{"a": 1}, true},
		{entity.New(nil), true},
		{(*entity.Entity)(nil), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, truthy(tt.v), "%#v", tt.v)
	}
}
