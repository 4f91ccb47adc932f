package payment

import (
	"log/slog"
	"time"
)

// OrchestratorOption configures optional orchestrator behavior.
type OrchestratorOption func(*Orchestrator)

// WithLogger sets a custom logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		if log != nil {
			o.log = log
		}
	}
}

// WithClock overrides the time source. Useful in tests.
func WithClock(now func() time.Time) OrchestratorOption {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// WithWebhookDecoder overrides the webhook decoder. By default the
// gateway itself is used when it implements WebhookDecoder.
func WithWebhookDecoder(decoder WebhookDecoder) OrchestratorOption {
	return func(o *Orchestrator) {
		o.webhooks = decoder
	}
}

// WithoutQRCodes disables QR rendering for payment links.
func WithoutQRCodes() OrchestratorOption {
	return func(o *Orchestrator) {
		o.qrCodes = false
	}
}

// WithAbandonAfter sets how long a pending payment may sit unverified
// before reconciliation settles it as failed. Defaults to 24h.
func WithAbandonAfter(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if d > 0 {
			o.abandonAfter = d
		}
	}
}

// WithBreakerConfig tunes the gateway circuit breakers.
func WithBreakerConfig(cfg BreakerConfig) OrchestratorOption {
	return func(o *Orchestrator) {
		o.configureBreakers(cfg)
	}
}
