package plan

import (
	"fmt"
	"slices"
	"time"

	"github.com/dmitrymomot/billingkit/pkg/money"
)

// Resource represents a countable resource type bounded by a plan.
type Resource string

const (
	ResourceProducts    Resource = "products"
	ResourceStorage     Resource = "storage" // Measured in GB
	ResourceAPICalls    Resource = "api_calls"
	ResourceTeamMembers Resource = "team_members"
	ResourceWebhooks    Resource = "webhooks"
)

// Feature represents a plan-specific capability that can be enabled/disabled.
type Feature string

const (
	FeatureAPI             Feature = "api"
	FeatureAnalytics       Feature = "analytics"
	FeaturePrioritySupport Feature = "priority_support"
	FeatureCustomDomain    Feature = "custom_domain"
	FeatureExport          Feature = "export"
)

// ResourceLimit pairs a resource with its bound.
type ResourceLimit struct {
	Resource Resource `yaml:"resource" json:"resource"`
	Limit    Limit    `yaml:"limit" json:"limit"`
}

// Limits is an ordered list of resource bounds. Order is preserved from
// the plan definition so pricing pages render deterministically.
type Limits []ResourceLimit

// Get returns the limit for a resource and whether it is defined.
func (ls Limits) Get(r Resource) (Limit, bool) {
	for _, rl := range ls {
		if rl.Resource == r {
			return rl.Limit, true
		}
	}
	return Limit{}, false
}

// BillingPeriod represents the billing frequency of a subscription.
type BillingPeriod string

const (
	PeriodMonthly BillingPeriod = "monthly"
	PeriodAnnual  BillingPeriod = "annual"
)

// Valid reports whether the period is one of the supported frequencies.
func (p BillingPeriod) Valid() bool {
	return p == PeriodMonthly || p == PeriodAnnual
}

// Add advances t by one billing period using calendar arithmetic,
// so monthly periods land on the same day of the next month where it
// exists (Jan 31 + monthly = Feb 28/29 per time.AddDate normalization).
func (p BillingPeriod) Add(t time.Time) time.Time {
	switch p {
	case PeriodAnnual:
		return t.AddDate(1, 0, 0)
	default:
		return t.AddDate(0, 1, 0)
	}
}

// Plan describes one immutable version of a subscription tier.
// Editing a published plan allocates a new Version; live subscriptions
// keep resolving the version they were sold under.
type Plan struct {
	ID           string        `yaml:"id" json:"id"`
	Version      int           `yaml:"version" json:"version"`
	Name         string        `yaml:"name" json:"name"`
	Description  string        `yaml:"description" json:"description,omitempty"`
	MonthlyPrice money.Money   `yaml:"-" json:"monthly_price"`
	AnnualPrice  money.Money   `yaml:"-" json:"annual_price"`
	Limits       Limits        `yaml:"limits" json:"limits"`
	Features     []Feature     `yaml:"features" json:"features,omitempty"`
	Active       bool          `yaml:"active" json:"active"`
}

// Key returns the unique "id@version" identifier of this plan version.
func (p Plan) Key() string {
	return fmt.Sprintf("%s@%d", p.ID, p.Version)
}

// Currency returns the plan's currency code. Both prices share it.
func (p Plan) Currency() string {
	return p.MonthlyPrice.Currency
}

// Price returns the charge amount for the given billing period.
func (p Plan) Price(period BillingPeriod) (money.Money, error) {
	switch period {
	case PeriodMonthly:
		return p.MonthlyPrice, nil
	case PeriodAnnual:
		return p.AnnualPrice, nil
	default:
		return money.Money{}, fmt.Errorf("%w: %q", ErrInvalidBillingPeriod, period)
	}
}

// HasFeature reports whether the plan includes the given feature.
func (p Plan) HasFeature(f Feature) bool {
	return slices.Contains(p.Features, f)
}

// Equal reports whether two plan versions carry the same commercial
// terms. Active is ignored: flipping availability on and off is not a
// change that warrants a new version.
func (p Plan) Equal(other Plan) bool {
	return p.ID == other.ID &&
		p.Version == other.Version &&
		p.Name == other.Name &&
		p.Description == other.Description &&
		p.MonthlyPrice == other.MonthlyPrice &&
		p.AnnualPrice == other.AnnualPrice &&
		slices.Equal(p.Limits, other.Limits) &&
		slices.Equal(p.Features, other.Features)
}

// Validate checks structural invariants of a single plan version.
func (p Plan) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("%w: empty plan id", ErrInvalidPlan)
	}
	if p.Version < 1 {
		return fmt.Errorf("%w: plan %q version must be >= 1", ErrInvalidPlan, p.ID)
	}
	if p.Name == "" {
		return fmt.Errorf("%w: plan %q has no name", ErrInvalidPlan, p.ID)
	}
	if p.MonthlyPrice.Currency == "" || p.AnnualPrice.Currency == "" {
		return fmt.Errorf("%w: plan %q has no currency", ErrInvalidPlan, p.ID)
	}
	if p.MonthlyPrice.Currency != p.AnnualPrice.Currency {
		return fmt.Errorf("%w: plan %q prices use different currencies", ErrInvalidPlan, p.ID)
	}
	if p.MonthlyPrice.IsNegative() || p.AnnualPrice.IsNegative() {
		return fmt.Errorf("%w: plan %q has a negative price", ErrInvalidPlan, p.ID)
	}
	seen := make(map[Resource]struct{}, len(p.Limits))
	for _, rl := range p.Limits {
		if rl.Resource == "" {
			return fmt.Errorf("%w: plan %q has an unnamed resource limit", ErrInvalidPlan, p.ID)
		}
		if _, dup := seen[rl.Resource]; dup {
			return fmt.Errorf("%w: plan %q defines resource %q twice", ErrInvalidPlan, p.ID, rl.Resource)
		}
		seen[rl.Resource] = struct{}{}
		if v, ok := rl.Limit.Value(); ok && v < 0 {
			return fmt.Errorf("%w: plan %q resource %q", ErrNegativeLimit, p.ID, rl.Resource)
		}
	}
	return nil
}

func (p Plan) clone() Plan {
	p.Limits = slices.Clone(p.Limits)
	p.Features = slices.Clone(p.Features)
	return p
}
