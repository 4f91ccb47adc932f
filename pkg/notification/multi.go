package notification

import (
	"context"
	"errors"

	"github.com/dmitrymomot/billingkit/pkg/subscription"
)

// Multi fans a notice out to several notifiers, e.g. an email sender
// plus the event stream. All targets are attempted; errors are joined.
func Multi(notifiers ...subscription.Notifier) subscription.Notifier {
	return multiNotifier(notifiers)
}

type multiNotifier []subscription.Notifier

func (m multiNotifier) SendWelcome(ctx context.Context, n subscription.Notice) error {
	return m.each(func(target subscription.Notifier) error { return target.SendWelcome(ctx, n) })
}

func (m multiNotifier) SendRenewalReminder(ctx context.Context, n subscription.Notice) error {
	return m.each(func(target subscription.Notifier) error { return target.SendRenewalReminder(ctx, n) })
}

func (m multiNotifier) SendCancellation(ctx context.Context, n subscription.Notice) error {
	return m.each(func(target subscription.Notifier) error { return target.SendCancellation(ctx, n) })
}

func (m multiNotifier) SendPaymentFailed(ctx context.Context, n subscription.Notice) error {
	return m.each(func(target subscription.Notifier) error { return target.SendPaymentFailed(ctx, n) })
}

func (m multiNotifier) SendExpired(ctx context.Context, n subscription.Notice) error {
	return m.each(func(target subscription.Notifier) error { return target.SendExpired(ctx, n) })
}

func (m multiNotifier) each(send func(subscription.Notifier) error) error {
	var errs []error
	for _, target := range m {
		if err := send(target); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
