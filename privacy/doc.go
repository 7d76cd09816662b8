// Package privacy provides table level authorization: policies evaluated on
// the lifecycle events of a table, before queries and writes reach the
// database.
//
// A Policy holds query rules, evaluated on Model.beforeFind, and mutation
// rules, evaluated on Model.beforeSave and Model.beforeDelete. Rules return
// one of three decisions:
//
//   - Allow grants access and stops the evaluation.
//   - Deny rejects the operation and stops the evaluation.
//   - Skip lets the next rule decide.
//
// A policy with no decision allows the operation. Query rules may also
// narrow a query, as TenantQueryRule does:
//
//	articles.EventBus().Attach(privacy.Policy{
//		Query: privacy.QueryPolicy{
//			privacy.HasRole("admin"),
//			privacy.TenantQueryRule("tenant_id"),
//		},
//		Mutation: privacy.MutationPolicy{
//			privacy.DenyIfNoViewer(),
//			privacy.HasRole("admin"),
//			privacy.IsOwner("author_id"),
//			privacy.AlwaysDenyRule(),
//		},
//	})
//
//	ctx = privacy.WithViewer(ctx, &privacy.SimpleViewer{UserID: "1", TenantID: "acme"})
//
// Trusted code bypasses the rules with a decision attached to the context:
//
//	ctx = privacy.DecisionContext(ctx, privacy.Allow)
package privacy
