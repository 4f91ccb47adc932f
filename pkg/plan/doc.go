// Package plan defines the versioned plan catalog for subscription billing.
//
// A plan version is immutable once published: changing a price, limit,
// or name allocates a new Version of the same plan ID, and live
// subscriptions keep resolving the version they were sold under. The
// catalog therefore exposes two lookups with different semantics: Get
// returns the latest active version for new signups, Version returns an
// exact (possibly retired) version for existing subscriptions.
//
// Resource limits are tagged values. A limit is either Finite(n) or
// Unlimited(); there is no magic negative number, and negative values
// are rejected at parse time. Limits are kept as an ordered list so a
// pricing page renders them in definition order.
//
// # Usage
//
//	src := plan.NewFileSource("plans.yaml")
//	catalog, err := plan.NewCatalog(ctx, src)
//	if err != nil {
//		return err
//	}
//
//	p, err := catalog.Get("pro") // latest active version
//	price, err := p.Price(plan.PeriodMonthly)
//
//	pinned, err := catalog.Version("pro", 2) // what an old subscriber pays
package plan
