package privacy

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/tabula/dialect"
	"github.com/syssam/tabula/dialect/sql"
	"github.com/syssam/tabula/entity"
	"github.com/syssam/tabula/orm"
	"github.com/syssam/tabula/schema"
	"github.com/syssam/tabula/schema/mixin"
)

var dbSeq atomic.Int64

// newDocuments returns a documents table on a private in-memory database,
// with the policy attached to its events.
func newDocuments(t *testing.T, p Policy) *orm.Table {
	t.Helper()
	drv, err := sql.Open(dialect.SQLite, fmt.Sprintf("file:privacy%d?mode=memory&cache=shared", dbSeq.Add(1)))
	require.NoError(t, err)
	drv.DB().SetMaxOpenConns(1)
	t.Cleanup(func() { drv.Close() })
	_, err = drv.DB().Exec("CREATE TABLE documents (id INTEGER PRIMARY KEY AUTOINCREMENT, owner_id TEXT, tenant_id TEXT, title TEXT)")
	require.NoError(t, err)
	docs, err := orm.New(
		orm.WithTable("documents"),
		orm.WithDriver(drv),
		orm.WithSchema(mixin.Apply(schema.NewTable("documents"), mixin.ID{}, mixin.TenantID{}).
			AddColumn(&schema.Column{Name: "owner_id", Type: schema.TypeString}).
			AddColumn(&schema.Column{Name: "title", Type: schema.TypeString})),
	)
	require.NoError(t, err)
	docs.EventBus().Attach(p)
	return docs
}

func seed(t *testing.T, docs *orm.Table, rows ...map[string]any) {
	t.Helper()
	ctx := DecisionContext(context.Background(), Allow)
	for _, r := range rows {
		require.NoError(t, docs.SaveOrFail(ctx, entity.New(r)))
	}
}

func TestDecisions(t *testing.T) {
	err := Denyf("no access to %s", "documents")
	assert.ErrorIs(t, err, Deny)
	assert.EqualError(t, err, "no access to documents: tabula/privacy: deny rule")
	assert.ErrorIs(t, Allowf("admin"), Allow)
	assert.ErrorIs(t, Skipf("no viewer"), Skip)

	ctx := context.Background()
	_, ok := DecisionFromContext(ctx)
	assert.False(t, ok)
	assert.Equal(t, ctx, DecisionContext(ctx, Skip))
	assert.Equal(t, ctx, DecisionContext(ctx, nil))
	decision, ok := DecisionFromContext(DecisionContext(ctx, Allowf("trusted")))
	assert.True(t, ok)
	assert.NoError(t, decision)
	decision, ok = DecisionFromContext(DecisionContext(ctx, Deny))
	assert.True(t, ok)
	assert.ErrorIs(t, decision, Deny)
}

func TestOp(t *testing.T) {
	assert.True(t, OpCreate.Is(OpSave))
	assert.True(t, OpUpdate.Is(OpSave))
	assert.False(t, OpDelete.Is(OpSave))
	assert.Equal(t, "OpCreate|OpUpdate", OpSave.String())
	assert.Equal(t, "OpDelete", OpDelete.String())
	assert.Equal(t, "Op(0)", Op(0).String())
}

func TestPolicy_Eval(t *testing.T) {
	ctx := context.Background()
	m := &Mutation{Op: OpCreate, Entity: entity.New(map[string]any{"owner_id": "1"})}
	for _, tt := range []struct {
		name   string
		policy MutationPolicy
		deny   bool
	}{
		{name: "empty"},
		{name: "allow", policy: MutationPolicy{AlwaysAllowRule(), AlwaysDenyRule()}},
		{name: "deny", policy: MutationPolicy{AlwaysDenyRule(), AlwaysAllowRule()}, deny: true},
		{name: "skip", policy: MutationPolicy{MutationRuleFunc(func(context.Context, *Mutation) error { return nil }), AlwaysDenyRule()}, deny: true},
		{name: "operation", policy: MutationPolicy{DenyMutationOperationRule(OpDelete), AllowMutationOperationRule(OpCreate), AlwaysDenyRule()}},
		{name: "denied operation", policy: MutationPolicy{DenyMutationOperationRule(OpSave)}, deny: true},
	} {
		t.Run(tt.name, func(t *testing.T) {
			err := Policy{Mutation: tt.policy}.EvalMutation(ctx, m)
			if tt.deny {
				require.ErrorIs(t, err, Deny)
				return
			}
			require.NoError(t, err)
		})
	}
	err := Policy{Mutation: MutationPolicy{AlwaysDenyRule()}}.EvalMutation(DecisionContext(ctx, Allow), m)
	require.NoError(t, err)
	custom := errors.New("quota exceeded")
	err = Policy{Mutation: MutationPolicy{MutationRuleFunc(func(context.Context, *Mutation) error { return custom })}}.EvalMutation(ctx, m)
	require.ErrorIs(t, err, custom)
}

func TestPolicy_ImplementedEvents(t *testing.T) {
	assert.Empty(t, Policy{}.ImplementedEvents())
	assert.Len(t, Policy{Query: QueryPolicy{AlwaysAllowRule()}}.ImplementedEvents(), 1)
	assert.Len(t, Policy{Mutation: MutationPolicy{AlwaysAllowRule()}}.ImplementedEvents(), 2)
}

func TestPolicy_Mutations(t *testing.T) {
	docs := newDocuments(t, Policy{
		Mutation: MutationPolicy{
			DenyIfNoViewer(),
			HasRole("admin"),
			DenyMutationOperationRule(OpDelete),
			IsOwner("owner_id"),
			AlwaysDenyRule(),
		},
	})
	ctx := context.Background()
	alice := WithViewer(ctx, &SimpleViewer{UserID: "1"})

	doc := entity.New(map[string]any{"owner_id": "1", "title": "Draft"})
	_, err := docs.Save(ctx, doc)
	require.ErrorIs(t, err, Deny)
	assert.True(t, doc.IsNew())

	require.NoError(t, docs.SaveOrFail(alice, doc))
	assert.False(t, doc.IsNew())

	bob := WithViewer(ctx, &SimpleViewer{UserID: "2"})
	doc.Set("title", "Hijacked")
	ok, err := docs.Save(bob, doc)
	require.ErrorIs(t, err, Deny)
	assert.False(t, ok)
	n, err := docs.Query().Conditions(map[string]any{"title": "Draft"}).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = docs.Delete(alice, doc)
	require.ErrorIs(t, err, Deny)

	admin := WithViewer(ctx, &SimpleViewer{UserID: "3", Roles: []string{"admin"}})
	ok, err = docs.Delete(admin, doc)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPolicy_Queries(t *testing.T) {
	docs := newDocuments(t, Policy{
		Query: QueryPolicy{
			HasAnyRole("admin", "auditor"),
			TenantQueryRule("tenant_id"),
		},
	})
	seed(t, docs,
		map[string]any{"owner_id": "1", "tenant_id": "acme", "title": "Roadmap"},
		map[string]any{"owner_id": "2", "tenant_id": "acme", "title": "Budget"},
		map[string]any{"owner_id": "3", "tenant_id": "globex", "title": "Plans"},
	)
	ctx := context.Background()

	_, err := docs.Query().All(ctx)
	require.ErrorIs(t, err, Deny)
	_, err = docs.Query().All(WithViewer(ctx, &SimpleViewer{UserID: "1"}))
	require.ErrorIs(t, err, Deny)

	es, err := docs.Query().All(WithViewer(ctx, &SimpleViewer{UserID: "1", TenantID: "acme"}))
	require.NoError(t, err)
	assert.Len(t, es, 2)
	for _, e := range es {
		assert.Equal(t, "acme", e.Get("tenant_id"))
	}

	es, err = docs.Query().All(WithViewer(ctx, &SimpleViewer{UserID: "9", Roles: []string{"auditor"}}))
	require.NoError(t, err)
	assert.Len(t, es, 3)
}

func TestRules(t *testing.T) {
	ctx := context.Background()
	owned := &Mutation{Op: OpUpdate, Entity: entity.New(map[string]any{"owner_id": int64(7), "tenant_id": "acme"})}

	assert.ErrorIs(t, DenyIfNoViewer().EvalMutation(ctx, owned), Deny)
	assert.ErrorIs(t, IsOwner("owner_id").EvalMutation(ctx, owned), Skip)
	assert.ErrorIs(t, HasRole("admin").EvalQuery(ctx, nil), Skip)

	viewer := WithViewer(ctx, &SimpleViewer{UserID: "7", Roles: []string{"editor"}, TenantID: "acme"})
	assert.ErrorIs(t, DenyIfNoViewer().EvalMutation(viewer, owned), Skip)
	assert.ErrorIs(t, IsOwner("owner_id").EvalMutation(viewer, owned), Allow)
	assert.ErrorIs(t, IsOwner("author_id").EvalMutation(viewer, owned), Skip)
	assert.ErrorIs(t, HasAnyRole("admin", "editor").EvalMutation(viewer, owned), Allow)
	assert.ErrorIs(t, HasRole("admin").EvalMutation(viewer, owned), Skip)
	assert.ErrorIs(t, TenantRule("tenant_id").EvalMutation(viewer, owned), Allow)

	other := WithViewer(ctx, &SimpleViewer{UserID: "8", TenantID: "globex"})
	assert.ErrorIs(t, IsOwner("owner_id").EvalMutation(other, owned), Skip)
	assert.ErrorIs(t, TenantRule("tenant_id").EvalMutation(other, owned), Deny)
	assert.ErrorIs(t, TenantRule("tenant_id").EvalMutation(WithViewer(ctx, &SimpleViewer{UserID: "8"}), owned), Skip)
	assert.Nil(t, ViewerFromContext(ctx))
}

func TestOwnerQueryRule(t *testing.T) {
	docs := newDocuments(t, Policy{Query: QueryPolicy{OwnerQueryRule("owner_id")}})
	seed(t, docs,
		map[string]any{"owner_id": "1", "title": "Mine"},
		map[string]any{"owner_id": "2", "title": "Theirs"},
	)
	ctx := context.Background()
	_, err := docs.Query().All(ctx)
	require.ErrorIs(t, err, Deny)

	es, err := docs.Query().All(WithViewer(ctx, &SimpleViewer{UserID: "1"}))
	require.NoError(t, err)
	require.Len(t, es, 1)
	assert.Equal(t, "Mine", es[0].Get("title"))
}
