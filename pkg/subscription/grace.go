package subscription

import "time"

// GracePolicy controls dunning behavior after failed renewal charges.
// It is deliberately separate from the state machine's control flow so
// deployments can tune the constants without touching transitions.
type GracePolicy struct {
	// Window is how long a subscription stays recoverable in grace
	// after the first failed renewal before a sweep expires it.
	Window time.Duration

	// MaxFailedAttempts forces the grace deadline to "now" once this
	// many consecutive renewal failures accumulate, so the next sweep
	// expires the subscription regardless of the window.
	// Zero disables the threshold and the window alone applies.
	MaxFailedAttempts int
}

// DefaultGracePolicy keeps subscriptions recoverable for three days.
var DefaultGracePolicy = GracePolicy{Window: 72 * time.Hour}

// Deadline computes the grace deadline for a first failure at now.
func (p GracePolicy) Deadline(now time.Time) time.Time {
	return now.Add(p.Window)
}

// Exhausted reports whether the attempt count has reached the
// forced-expiry threshold.
func (p GracePolicy) Exhausted(attempts int) bool {
	return p.MaxFailedAttempts > 0 && attempts >= p.MaxFailedAttempts
}

// GraceConfig carries the policy through environment configuration.
type GraceConfig struct {
	Window            time.Duration `env:"BILLING_GRACE_WINDOW" envDefault:"72h"`
	MaxFailedAttempts int           `env:"BILLING_GRACE_MAX_FAILED_ATTEMPTS" envDefault:"0"`
}

// Policy converts the environment form into a GracePolicy.
func (c GraceConfig) Policy() GracePolicy {
	return GracePolicy{Window: c.Window, MaxFailedAttempts: c.MaxFailedAttempts}
}
