package privacy

import (
	"context"
	"fmt"
	"slices"

	"github.com/syssam/tabula/dialect/sql"
	"github.com/syssam/tabula/orm"
)

// Viewer represents the authenticated user making a request.
type Viewer interface {
	// GetID returns the viewer's unique identifier.
	GetID() string
	// GetRoles returns the viewer's roles.
	GetRoles() []string
	// GetTenantID returns the viewer's tenant, or an empty string.
	GetTenantID() string
}

type viewerCtxKey struct{}

// WithViewer returns a new context with the viewer attached.
func WithViewer(ctx context.Context, viewer Viewer) context.Context {
	return context.WithValue(ctx, viewerCtxKey{}, viewer)
}

// ViewerFromContext returns the viewer of the context, or nil.
func ViewerFromContext(ctx context.Context) Viewer {
	v, _ := ctx.Value(viewerCtxKey{}).(Viewer)
	return v
}

// SimpleViewer is a basic implementation of the Viewer interface.
type SimpleViewer struct {
	UserID   string
	Roles    []string
	TenantID string
}

func (v *SimpleViewer) GetID() string       { return v.UserID }
func (v *SimpleViewer) GetRoles() []string  { return v.Roles }
func (v *SimpleViewer) GetTenantID() string { return v.TenantID }

// DenyIfNoViewer returns a rule denying access when the context carries no
// viewer. It usually heads a policy.
func DenyIfNoViewer() QueryMutationRule {
	return ContextQueryMutationRule(func(ctx context.Context) error {
		if ViewerFromContext(ctx) == nil {
			return Denyf("tabula/privacy: viewer required")
		}
		return Skip
	})
}

// HasRole returns a rule allowing viewers with the given role.
func HasRole(role string) QueryMutationRule {
	return HasAnyRole(role)
}

// HasAnyRole returns a rule allowing viewers with any of the given roles.
func HasAnyRole(roles ...string) QueryMutationRule {
	return ContextQueryMutationRule(func(ctx context.Context) error {
		viewer := ViewerFromContext(ctx)
		if viewer == nil {
			return Skip
		}
		if slices.ContainsFunc(roles, func(r string) bool { return slices.Contains(viewer.GetRoles(), r) }) {
			return Allow
		}
		return Skip
	})
}

// IsOwner returns a mutation rule allowing the mutation of entities whose
// field holds the viewer's ID.
//
//	privacy.MutationPolicy{
//		privacy.DenyIfNoViewer(),
//		privacy.IsOwner("author_id"),
//		privacy.AlwaysDenyRule(),
//	}
func IsOwner(field string) MutationRule {
	return MutationRuleFunc(func(ctx context.Context, m *Mutation) error {
		viewer := ViewerFromContext(ctx)
		if viewer == nil {
			return Skip
		}
		value, ok := m.Field(field)
		if !ok || value == nil {
			return Skip
		}
		if idString(value) == viewer.GetID() {
			return Allow
		}
		return Skip
	})
}

// OwnerQueryRule returns a query rule restricting queries to the rows whose
// field holds the viewer's ID. Queries without a viewer are denied.
func OwnerQueryRule(field string) QueryRule {
	return FilterFunc(func(ctx context.Context, q *orm.Query) error {
		viewer := ViewerFromContext(ctx)
		if viewer == nil {
			return Denyf("tabula/privacy: viewer required for owner-filtered query on %s", q.Table())
		}
		q.Where(sql.EQ(field, viewer.GetID()))
		return Skip
	})
}

// TenantRule returns a mutation rule allowing the mutation of entities of
// the viewer's tenant, and denying the others.
func TenantRule(field string) MutationRule {
	return MutationRuleFunc(func(ctx context.Context, m *Mutation) error {
		viewer := ViewerFromContext(ctx)
		if viewer == nil || viewer.GetTenantID() == "" {
			return Skip
		}
		value, ok := m.Field(field)
		if !ok {
			return Skip
		}
		if idString(value) == viewer.GetTenantID() {
			return Allow
		}
		return Denyf("tabula/privacy: tenant mismatch")
	})
}

// TenantQueryRule returns a query rule restricting queries to the rows of
// the viewer's tenant. Queries without a viewer or tenant are denied.
func TenantQueryRule(field string) QueryRule {
	return FilterFunc(func(ctx context.Context, q *orm.Query) error {
		viewer := ViewerFromContext(ctx)
		switch {
		case viewer == nil:
			return Denyf("tabula/privacy: viewer required for tenant-filtered query on %s", q.Table())
		case viewer.GetTenantID() == "":
			return Denyf("tabula/privacy: tenant required")
		}
		q.Where(sql.EQ(field, viewer.GetTenantID()))
		return Skip
	})
}

func idString(v any) string {
	switch v := v.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return fmt.Sprint(v)
	}
}
