package subscription

import (
	"log/slog"
	"time"
)

// Option configures a Service instance.
type Option func(*service)

// WithGracePolicy overrides the default three-day dunning policy.
func WithGracePolicy(p GracePolicy) Option {
	return func(s *service) {
		if p.Window > 0 {
			s.grace = p
		}
	}
}

// WithLogger sets the logger used for side-effect failures.
func WithLogger(log *slog.Logger) Option {
	return func(s *service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithClock replaces the time source. Intended for tests that need a
// deterministic "now".
func WithClock(now func() time.Time) Option {
	return func(s *service) {
		if now != nil {
			s.now = now
		}
	}
}
