package orm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/tabula"
	"github.com/syssam/tabula/dialect/sql"
	"github.com/syssam/tabula/entity"
	"github.com/syssam/tabula/event"
	"github.com/syssam/tabula/schema"
	"github.com/syssam/tabula/schema/mixin"
)

// seedArticles inserts a thread of articles: 1 and 4 are roots, 2 and 3
// answer 1, and 5 answers 3.
func seedArticles(t *testing.T, drv *sql.Driver) {
	t.Helper()
	_, err := drv.DB().Exec(`INSERT INTO articles (id, author_id, title, published, parent_id) VALUES
		(1, 1, 'Go', 1, NULL),
		(2, 1, 'Re: Go', 0, 1),
		(3, 2, 'Re: Go again', 1, 1),
		(4, 2, 'SQL', 1, NULL),
		(5, 1, 'Re: Re: Go', 1, 3)`)
	require.NoError(t, err)
}

func titles(es []*entity.Entity) []any {
	out := make([]any, len(es))
	for i, e := range es {
		out[i] = e.Get("title")
	}
	return out
}

func TestDynamicFinder(t *testing.T) {
	ctx := context.Background()
	drv := openSQLite(t, blogDDL...)
	seedArticles(t, drv)
	b := newBlog(t, drv)

	all := func(method string, args ...any) []*entity.Entity {
		t.Helper()
		v, err := b.articles.Call(ctx, method, args...)
		require.NoError(t, err)
		es, err := v.(*Query).OrderBy("id").All(ctx)
		require.NoError(t, err)
		return es
	}
	assert.Equal(t, []any{"SQL"}, titles(all("findByTitle", "SQL")))
	assert.Equal(t, []any{"Go", "Re: Re: Go"}, titles(all("findByAuthorIdAndPublished", 1, true)))
	assert.Equal(t, []any{"Go", "Re: Re: Go"}, titles(all("findByTitleOrParentId", "Go", 3)))
	assert.Equal(t, []any{"Go", "SQL"}, titles(all("findByParentId", nil)))

	v, err := b.articles.Call(ctx, "findListByAuthorId", 2)
	require.NoError(t, err)
	list, err := v.(*Query).OrderBy("id").Result(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Pair{{Key: int64(3), Value: "Re: Go again"}, {Key: int64(4), Value: "SQL"}}, list)

	_, err = b.articles.Call(ctx, "findByTitleAndAuthorIdOrParentId", "Go", 1, nil)
	require.ErrorIs(t, err, tabula.ErrInvalidFinder)
	_, err = b.articles.Call(ctx, "findByTitleAndAuthorId", "Go")
	require.ErrorIs(t, err, tabula.ErrInvalidFinder)
	_, err = b.articles.Call(ctx, "findFooByTitle", "Go")
	require.True(t, tabula.IsUnknownFinder(err))
	_, err = b.articles.Call(ctx, "publish")
	require.True(t, tabula.IsUnknownMethod(err))
}

func TestFindList(t *testing.T) {
	ctx := context.Background()
	drv := openSQLite(t, blogDDL...)
	seedArticles(t, drv)
	b := newBlog(t, drv)

	q, err := b.articles.Find(ctx, "list", Options{"order": "id", "conditions": map[string]any{"published": true}})
	require.NoError(t, err)
	v, err := q.Result(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Pair{
		{Key: int64(1), Value: "Go"},
		{Key: int64(3), Value: "Re: Go again"},
		{Key: int64(4), Value: "SQL"},
		{Key: int64(5), Value: "Re: Re: Go"},
	}, v)

	q, err = b.articles.Find(ctx, "list", Options{"order": "id", "valueField": "id", "idField": "title", "groupField": "author_id"})
	require.NoError(t, err)
	v, err = q.Hydrate(false).Result(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Group{
		{Key: int64(1), Pairs: []Pair{{"Go", int64(1)}, {"Re: Go", int64(2)}, {"Re: Re: Go", int64(5)}}},
		{Key: int64(2), Pairs: []Pair{{"Re: Go again", int64(3)}, {"SQL", int64(4)}}},
	}, v)

	_, err = b.articles.Find(ctx, "unknown", nil)
	require.True(t, tabula.IsUnknownFinder(err))
}

func TestFindThreaded(t *testing.T) {
	ctx := context.Background()
	drv := openSQLite(t, blogDDL...)
	seedArticles(t, drv)
	b := newBlog(t, drv)

	q, err := b.articles.Find(ctx, "threaded", Options{"order": "id"})
	require.NoError(t, err)
	v, err := q.Result(ctx)
	require.NoError(t, err)
	roots := v.([]*entity.Entity)
	require.Equal(t, []any{"Go", "SQL"}, titles(roots))
	children := roots[0].Get("children").([]*entity.Entity)
	require.Equal(t, []any{"Re: Go", "Re: Go again"}, titles(children))
	assert.Equal(t, []any{"Re: Re: Go"}, titles(children[1].Get("children").([]*entity.Entity)))
	assert.Empty(t, roots[1].Get("children"))
	assert.False(t, roots[0].IsDirty())

	q, err = b.articles.Find(ctx, "threaded", Options{"order": "id", "nestingKey": "replies", "conditions": map[string]any{"author_id": 1}})
	require.NoError(t, err)
	v, err = q.Hydrate(false).Result(ctx)
	require.NoError(t, err)
	rows := v.([]map[string]any)
	require.Len(t, rows, 2, "rows whose parent is not part of the result are roots")
	assert.Equal(t, "Go", rows[0]["title"])
	assert.Len(t, rows[0]["replies"], 1)
	assert.Equal(t, "Re: Re: Go", rows[1]["title"])
	assert.Empty(t, rows[1]["replies"])
}

func TestCustomFinder(t *testing.T) {
	ctx := context.Background()
	drv := openSQLite(t, blogDDL...)
	seedArticles(t, drv)
	b := newBlog(t, drv)
	b.articles.AddFinder("published", func(_ context.Context, q *Query, opts Options) (*Query, error) {
		return q.Where(sql.EQ("published", true)), nil
	})
	require.True(t, b.articles.HasFinder("published"))
	require.True(t, b.articles.HasFinder("findPublished"))

	v, err := b.articles.Call(ctx, "findPublishedByAuthorId", 2)
	require.NoError(t, err)
	n, err := v.(*Query).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	q, err := b.articles.Find(ctx, "published", Options{"limit": 1, "offset": 1, "order": "id", "fields": []string{"id", "title", "published"}})
	require.NoError(t, err)
	e, err := q.First(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Re: Go again", e.Get("title"))
	assert.Equal(t, true, e.Get("published"))
	assert.False(t, e.Has("author_id"))
}

func TestBeforeFind(t *testing.T) {
	ctx := context.Background()
	drv := openSQLite(t, blogDDL...)
	seedArticles(t, drv)
	b := newBlog(t, drv)
	cached := []*entity.Entity{entity.Hydrate("Articles", map[string]any{"id": int64(9), "title": "cached"})}
	b.articles.EventBus().On(event.BeforeFind, func(_ context.Context, ev *event.Event) error {
		q := ev.Query.(*Query)
		if q.Options()["cached"] == true {
			return event.Stop(cached)
		}
		q.Where(sql.EQ("published", true))
		return nil
	})

	es, err := b.articles.Query().ApplyOptions(Options{"cached": true}).All(ctx)
	require.NoError(t, err)
	assert.Equal(t, cached, es)
	_, err = b.articles.Query().ApplyOptions(Options{"cached": true}).Rows(ctx)
	require.Error(t, err)

	es, err = b.articles.Query().All(ctx)
	require.NoError(t, err)
	assert.Len(t, es, 4)

	e, err := b.articles.Get(ctx, int64(2))
	require.True(t, tabula.IsNotFound(err))
	require.Nil(t, e)
	e, err = b.articles.Get(ctx, int64(3))
	require.NoError(t, err)
	assert.Equal(t, "Re: Go again", e.Get("title"))
	assert.Equal(t, entity.NewnessPersisted, e.Newness())
	assert.Equal(t, "Articles", e.Source())
}

func TestTimestampBehavior(t *testing.T) {
	ctx := context.Background()
	drv := openSQLite(t, "CREATE TABLE notes (id INTEGER PRIMARY KEY AUTOINCREMENT, body TEXT, created DATETIME, modified DATETIME)")
	clock := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	ts := &TimestampBehavior{Now: func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}}
	s := mixin.Apply(schema.NewTable("notes"), mixin.ID{}, mixin.Time{})
	s.AddColumn(&schema.Column{Name: "body", Type: schema.TypeText})
	notes, err := New(WithTable("notes"), WithSchema(s), WithDriver(drv), WithBehaviors(ts))
	require.NoError(t, err)
	require.True(t, notes.HasBehavior("timestamp"))
	require.Equal(t, []string{"Timestamp"}, notes.Behaviors().Loaded())
	require.Error(t, notes.AddBehavior(&TimestampBehavior{}), "behaviors are loaded once")

	first := entity.New(map[string]any{"body": "first"})
	require.NoError(t, notes.SaveOrFail(ctx, first))
	created := first.Get("created").(time.Time)
	assert.Equal(t, created, first.Get("modified"))

	second := entity.New(map[string]any{"body": "second"})
	require.NoError(t, notes.SaveOrFail(ctx, second))

	first.Set("body", "edited")
	require.NoError(t, notes.SaveOrFail(ctx, first))
	assert.Equal(t, created, first.Get("created"))
	assert.True(t, first.Get("modified").(time.Time).After(created))

	v, err := notes.Call(ctx, "touch", second)
	require.NoError(t, err)
	assert.Same(t, second, v)
	assert.True(t, second.Dirty("modified"))
	_, err = notes.Call(ctx, "touch")
	require.Error(t, err)

	q, err := notes.Find(ctx, "recent", Options{"limit": 1})
	require.NoError(t, err)
	latest, err := q.All(ctx)
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, "second", latest[0].Get("body"))
}

type slugBehavior struct{}

func (slugBehavior) Name() string           { return "Slug" }
func (slugBehavior) Initialize(*Table) error { return nil }
func (slugBehavior) Finders() map[string]FinderFunc {
	return nil
}
func (slugBehavior) Methods() map[string]MethodFunc {
	return map[string]MethodFunc{
		"touch": func(context.Context, ...any) (any, error) { return nil, nil },
	}
}

func TestBehaviorConflict(t *testing.T) {
	drv, _ := openMock(t)
	_, err := New(WithTable("notes"), WithDriver(drv), WithBehaviors(&TimestampBehavior{}, slugBehavior{}))
	require.ErrorContains(t, err, "method touch")

	notes, err := New(WithTable("notes"), WithDriver(drv), WithBehaviors(slugBehavior{}))
	require.NoError(t, err)
	require.True(t, notes.Behaviors().HasMethod("Touch"))
	_, ok := notes.Behaviors().Get("slug")
	require.True(t, ok)
}
