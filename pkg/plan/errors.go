package plan

import "errors"

var (
	ErrPlanNotFound         = errors.New("plan not found")
	ErrVersionNotFound      = errors.New("plan version not found")
	ErrInvalidPlan          = errors.New("invalid plan definition")
	ErrDuplicatePlan        = errors.New("duplicate plan version")
	ErrNegativeLimit        = errors.New("resource limit must not be negative")
	ErrInvalidLimit         = errors.New("invalid resource limit")
	ErrInvalidBillingPeriod = errors.New("invalid billing period")
	ErrNoPlans              = errors.New("plan source returned no plans")
)
