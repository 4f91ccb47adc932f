package notification

import (
	"context"
	"log/slog"

	"github.com/dmitrymomot/billingkit/pkg/subscription"
)

// NopNotifier implements subscription.Notifier by logging each notice
// at debug level. Useful for tests and single-binary development setups
// with no broker or mailer around.
type NopNotifier struct {
	log *slog.Logger
}

// NewNopNotifier creates a notifier that only logs.
func NewNopNotifier(log *slog.Logger) *NopNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &NopNotifier{log: log}
}

func (p *NopNotifier) SendWelcome(ctx context.Context, n subscription.Notice) error {
	return p.drop(ctx, KindWelcome, n)
}

func (p *NopNotifier) SendRenewalReminder(ctx context.Context, n subscription.Notice) error {
	return p.drop(ctx, KindRenewalReminder, n)
}

func (p *NopNotifier) SendCancellation(ctx context.Context, n subscription.Notice) error {
	return p.drop(ctx, KindCancellation, n)
}

func (p *NopNotifier) SendPaymentFailed(ctx context.Context, n subscription.Notice) error {
	return p.drop(ctx, KindPaymentFailed, n)
}

func (p *NopNotifier) SendExpired(ctx context.Context, n subscription.Notice) error {
	return p.drop(ctx, KindExpired, n)
}

func (p *NopNotifier) drop(ctx context.Context, kind Kind, n subscription.Notice) error {
	p.log.DebugContext(ctx, "notification dropped",
		slog.String("kind", string(kind)),
		slog.String("user_id", n.UserID.String()),
		slog.String("subscription_id", n.SubscriptionID.String()),
	)
	return nil
}
