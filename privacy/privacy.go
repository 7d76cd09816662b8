// Package privacy provides sets of types and helpers for writing privacy
// rules on tables, and deal with their evaluation at runtime.
package privacy

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/syssam/tabula/entity"
	"github.com/syssam/tabula/event"
	"github.com/syssam/tabula/orm"
)

// Policy decision sentinel errors.
//
// Rules return one of these values, possibly wrapped, to tell how the
// evaluation proceeds:
//
//	if errors.Is(err, privacy.Deny) { ... }
var (
	// Allow terminates the evaluation with an allow decision.
	Allow = errors.New("tabula/privacy: allow rule")

	// Deny terminates the evaluation with a deny decision. The denied
	// operation fails with the decision as its error.
	Deny = errors.New("tabula/privacy: deny rule")

	// Skip continues the evaluation with the next rule.
	Skip = errors.New("tabula/privacy: skip rule")
)

// Allowf returns a formatted wrapped Allow decision.
func Allowf(format string, a ...any) error {
	return fmt.Errorf(format+": %w", append(a, Allow)...)
}

// Denyf returns a formatted wrapped Deny decision.
func Denyf(format string, a ...any) error {
	return fmt.Errorf(format+": %w", append(a, Deny)...)
}

// Skipf returns a formatted wrapped Skip decision.
func Skipf(format string, a ...any) error {
	return fmt.Errorf(format+": %w", append(a, Skip)...)
}

// Op is the set of persistence operations a mutation rule is evaluated for.
type Op uint

const (
	OpCreate Op = 1 << iota
	OpUpdate
	OpDelete

	// OpSave matches both inserts and updates.
	OpSave = OpCreate | OpUpdate
)

// Is reports whether o matches any of the operations of op.
func (o Op) Is(op Op) bool { return o&op != 0 }

// String implements fmt.Stringer.
func (o Op) String() string {
	var names []string
	for _, n := range []struct {
		op   Op
		name string
	}{{OpCreate, "OpCreate"}, {OpUpdate, "OpUpdate"}, {OpDelete, "OpDelete"}} {
		if o.Is(n.op) {
			names = append(names, n.name)
		}
	}
	if len(names) == 0 {
		return fmt.Sprintf("Op(%d)", uint(o))
	}
	return strings.Join(names, "|")
}

// Mutation describes an entity about to be saved or deleted.
type Mutation struct {
	Op     Op
	Table  *orm.Table
	Entity *entity.Entity
}

// Field returns the value of an entity field.
func (m *Mutation) Field(name string) (any, bool) {
	if m.Entity == nil {
		return nil, false
	}
	return m.Entity.Lookup(name)
}

type (
	// QueryRule decides whether a query is allowed and optionally
	// modifies it.
	QueryRule interface {
		EvalQuery(context.Context, *orm.Query) error
	}

	// QueryPolicy combines multiple query rules into a single policy.
	QueryPolicy []QueryRule

	// MutationRule decides whether a mutation is allowed.
	MutationRule interface {
		EvalMutation(context.Context, *Mutation) error
	}

	// MutationPolicy combines multiple mutation rules into a single policy.
	MutationPolicy []MutationRule

	// QueryMutationRule groups query and mutation rules.
	QueryMutationRule interface {
		QueryRule
		MutationRule
	}
)

// QueryRuleFunc is an adapter to use ordinary functions as query rules.
type QueryRuleFunc func(context.Context, *orm.Query) error

// EvalQuery returns f(ctx, q).
func (f QueryRuleFunc) EvalQuery(ctx context.Context, q *orm.Query) error {
	return f(ctx, q)
}

// MutationRuleFunc is an adapter to use ordinary functions as mutation
// rules.
type MutationRuleFunc func(context.Context, *Mutation) error

// EvalMutation returns f(ctx, m).
func (f MutationRuleFunc) EvalMutation(ctx context.Context, m *Mutation) error {
	return f(ctx, m)
}

// AlwaysAllowRule returns a rule that always returns an Allow decision.
func AlwaysAllowRule() QueryMutationRule {
	return fixedDecision{Allow}
}

// AlwaysDenyRule returns a rule that always returns a Deny decision.
func AlwaysDenyRule() QueryMutationRule {
	return fixedDecision{Deny}
}

// ContextQueryMutationRule creates a rule from a function of the context.
// A nil decision is a Skip.
func ContextQueryMutationRule(eval func(context.Context) error) QueryMutationRule {
	return contextDecision{eval}
}

// OnMutationOperation evaluates rule only for the given operations.
func OnMutationOperation(rule MutationRule, op Op) MutationRule {
	return MutationRuleFunc(func(ctx context.Context, m *Mutation) error {
		if m.Op.Is(op) {
			return rule.EvalMutation(ctx, m)
		}
		return Skip
	})
}

// AllowMutationOperationRule returns a rule allowing the given operations.
func AllowMutationOperationRule(op Op) MutationRule {
	return OnMutationOperation(MutationRuleFunc(func(context.Context, *Mutation) error {
		return Allow
	}), op)
}

// DenyMutationOperationRule returns a rule denying the given operations.
func DenyMutationOperationRule(op Op) MutationRule {
	return OnMutationOperation(MutationRuleFunc(func(_ context.Context, m *Mutation) error {
		return Denyf("tabula/privacy: operation %s is not allowed", m.Op)
	}), op)
}

// Policy groups the query and mutation policies of a table. It subscribes
// to the table events:
//
//	articles.EventBus().Attach(privacy.Policy{
//		Query:    privacy.QueryPolicy{privacy.TenantQueryRule("tenant_id")},
//		Mutation: privacy.MutationPolicy{privacy.DenyIfNoViewer(), privacy.IsOwner("author_id"), privacy.AlwaysDenyRule()},
//	})
//
// Queries are evaluated on Model.beforeFind, saves on Model.beforeSave and
// deletes on Model.beforeDelete. A deny decision aborts the operation, and
// rolls back its transaction.
type Policy struct {
	Query    QueryPolicy
	Mutation MutationPolicy
}

// EvalQuery evaluates the query policy. A decision attached to ctx with
// DecisionContext overrides the rules.
func (p Policy) EvalQuery(ctx context.Context, q *orm.Query) error {
	return eval(ctx, func() error { return p.Query.EvalQuery(ctx, q) })
}

// EvalMutation evaluates the mutation policy. A decision attached to ctx
// with DecisionContext overrides the rules.
func (p Policy) EvalMutation(ctx context.Context, m *Mutation) error {
	return eval(ctx, func() error { return p.Mutation.EvalMutation(ctx, m) })
}

// ImplementedEvents implements event.Subscriber.
func (p Policy) ImplementedEvents() map[string]event.Listener {
	events := make(map[string]event.Listener, 3)
	if len(p.Query) > 0 {
		events[event.BeforeFind] = func(ctx context.Context, ev *event.Event) error {
			q, ok := ev.Query.(*orm.Query)
			if !ok {
				return Denyf("tabula/privacy: unexpected query type %T", ev.Query)
			}
			return p.EvalQuery(ctx, q)
		}
	}
	if len(p.Mutation) > 0 {
		events[event.BeforeSave] = func(ctx context.Context, ev *event.Event) error {
			op := OpUpdate
			if ev.Entity.IsNew() {
				op = OpCreate
			}
			return p.EvalMutation(ctx, mutation(op, ev))
		}
		events[event.BeforeDelete] = func(ctx context.Context, ev *event.Event) error {
			return p.EvalMutation(ctx, mutation(OpDelete, ev))
		}
	}
	return events
}

func mutation(op Op, ev *event.Event) *Mutation {
	t, _ := ev.Subject.(*orm.Table)
	return &Mutation{Op: op, Table: t, Entity: ev.Entity}
}

// eval resolves the decision of a policy: an allow or a missing decision
// is nil, any other decision is returned as is.
func eval(ctx context.Context, rules func() error) error {
	if decision, ok := DecisionFromContext(ctx); ok {
		return decision
	}
	switch decision := rules(); {
	case decision == nil, errors.Is(decision, Allow):
		return nil
	default:
		return decision
	}
}

// EvalQuery returns the first decision other than Skip.
func (policies QueryPolicy) EvalQuery(ctx context.Context, q *orm.Query) error {
	for _, policy := range policies {
		switch decision := policy.EvalQuery(ctx, q); {
		case decision == nil || errors.Is(decision, Skip):
		default:
			return decision
		}
	}
	return nil
}

// EvalMutation returns the first decision other than Skip.
func (policies MutationPolicy) EvalMutation(ctx context.Context, m *Mutation) error {
	for _, policy := range policies {
		switch decision := policy.EvalMutation(ctx, m); {
		case decision == nil || errors.Is(decision, Skip):
		default:
			return decision
		}
	}
	return nil
}

type decisionCtxKey struct{}

// DecisionContext returns a copy of parent carrying a policy decision.
// Policies evaluated with the returned context skip their rules.
func DecisionContext(parent context.Context, decision error) context.Context {
	if decision == nil || errors.Is(decision, Skip) {
		return parent
	}
	return context.WithValue(parent, decisionCtxKey{}, decision)
}

// DecisionFromContext retrieves the policy decision from the context.
func DecisionFromContext(ctx context.Context) (error, bool) {
	decision, ok := ctx.Value(decisionCtxKey{}).(error)
	if ok && errors.Is(decision, Allow) {
		decision = nil
	}
	return decision, ok
}

type fixedDecision struct {
	decision error
}

func (f fixedDecision) EvalQuery(context.Context, *orm.Query) error { return f.decision }

func (f fixedDecision) EvalMutation(context.Context, *Mutation) error { return f.decision }

type contextDecision struct {
	eval func(context.Context) error
}

func (c contextDecision) EvalQuery(ctx context.Context, _ *orm.Query) error { return c.eval(ctx) }

func (c contextDecision) EvalMutation(ctx context.Context, _ *Mutation) error { return c.eval(ctx) }

// FilterFunc is a query rule restricting the rows a query returns.
//
//	privacy.FilterFunc(func(ctx context.Context, q *orm.Query) error {
//		q.Where(sql.EQ("workspace_id", workspaceID))
//		return privacy.Skip
//	})
type FilterFunc func(context.Context, *orm.Query) error

// EvalQuery returns f(ctx, q).
func (f FilterFunc) EvalQuery(ctx context.Context, q *orm.Query) error {
	return f(ctx, q)
}

var (
	_ event.Subscriber  = Policy{}
	_ QueryMutationRule = fixedDecision{}
	_ QueryRule         = FilterFunc(nil)
)
