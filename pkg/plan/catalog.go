package plan

import (
	"context"
	"fmt"
	"sort"
)

// Source loads plan definitions for catalog construction.
type Source interface {
	Load(ctx context.Context) ([]Plan, error)
}

// Catalog is an immutable, in-memory index of plan versions.
//
// Catalogs are built once from a Source and never mutated afterwards:
// publishing changed terms means loading a definition with a bumped
// Version, not editing an existing one. Subscriptions resolve the exact
// version they were sold under via Version, while new signups resolve
// the latest active version via Get.
type Catalog struct {
	versions map[string][]Plan // id -> versions, ascending
	order    []string          // ids in definition order
}

// NewCatalog loads and validates all plans from the source.
// Every plan version must validate individually and every id@version
// pair must be unique.
func NewCatalog(ctx context.Context, src Source) (*Catalog, error) {
	plans, err := src.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load plans: %w", err)
	}
	if len(plans) == 0 {
		return nil, ErrNoPlans
	}

	c := &Catalog{versions: make(map[string][]Plan, len(plans))}
	for _, p := range plans {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		existing := c.versions[p.ID]
		for _, prev := range existing {
			if prev.Version == p.Version {
				return nil, fmt.Errorf("%w: %s", ErrDuplicatePlan, p.Key())
			}
		}
		if len(existing) == 0 {
			c.order = append(c.order, p.ID)
		}
		c.versions[p.ID] = append(existing, p.clone())
	}
	for _, vs := range c.versions {
		sort.Slice(vs, func(i, j int) bool { return vs[i].Version < vs[j].Version })
	}
	return c, nil
}

// Get returns the highest active version of the plan.
// Plans with no active version are not purchasable and report
// ErrPlanNotFound just like unknown ids.
func (c *Catalog) Get(id string) (Plan, error) {
	vs, ok := c.versions[id]
	if !ok {
		return Plan{}, fmt.Errorf("%w: %q", ErrPlanNotFound, id)
	}
	for i := len(vs) - 1; i >= 0; i-- {
		if vs[i].Active {
			return vs[i].clone(), nil
		}
	}
	return Plan{}, fmt.Errorf("%w: %q has no active version", ErrPlanNotFound, id)
}

// Version returns the exact plan version, active or not. Retired
// versions stay resolvable so live subscriptions keep their terms.
func (c *Catalog) Version(id string, version int) (Plan, error) {
	vs, ok := c.versions[id]
	if !ok {
		return Plan{}, fmt.Errorf("%w: %q", ErrPlanNotFound, id)
	}
	for _, p := range vs {
		if p.Version == version {
			return p.clone(), nil
		}
	}
	return Plan{}, fmt.Errorf("%w: %s@%d", ErrVersionNotFound, id, version)
}

// Plans returns the current active version of every plan that has one,
// in definition order.
func (c *Catalog) Plans() []Plan {
	out := make([]Plan, 0, len(c.order))
	for _, id := range c.order {
		if p, err := c.Get(id); err == nil {
			out = append(out, p)
		}
	}
	return out
}
