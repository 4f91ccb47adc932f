package payment

import (
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"
)

// BreakerConfig tunes the circuit breakers guarding gateway calls.
// One breaker wraps payment initialization, another verification, so a
// degraded verify endpoint does not block new checkouts.
type BreakerConfig struct {
	MaxRequests      uint32        `env:"PAYMENT_BREAKER_MAX_REQUESTS" envDefault:"3"`
	Interval         time.Duration `env:"PAYMENT_BREAKER_INTERVAL" envDefault:"60s"`
	Timeout          time.Duration `env:"PAYMENT_BREAKER_TIMEOUT" envDefault:"30s"`
	FailureThreshold uint32        `env:"PAYMENT_BREAKER_FAILURES" envDefault:"5"`
}

// DefaultBreakerConfig matches the env defaults above.
var DefaultBreakerConfig = BreakerConfig{
	MaxRequests:      3,
	Interval:         time.Minute,
	Timeout:          30 * time.Second,
	FailureThreshold: 5,
}

func (o *Orchestrator) configureBreakers(cfg BreakerConfig) {
	o.initBreaker = gobreaker.NewCircuitBreaker[*PaymentIntent](o.breakerSettings("payment-initialize", cfg))
	o.verifyBreaker = gobreaker.NewCircuitBreaker[*Verification](o.breakerSettings("payment-verify", cfg))
}

func (o *Orchestrator) breakerSettings(name string, cfg BreakerConfig) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			o.log.Warn("payment gateway circuit state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	}
}
