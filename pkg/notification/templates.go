package notification

import (
	"context"
	"fmt"
	"html"
	"io"
	"strings"

	"github.com/a-h/templ"

	"github.com/dmitrymomot/billingkit/pkg/subscription"
)

const dateLayout = "January 2, 2006"

// noticeBody builds the transactional body for one notice. The bodies
// are deliberately plain; deployments wanting branded templates consume
// the event stream and render their own.
func noticeBody(kind Kind, n subscription.Notice) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		var b strings.Builder
		b.WriteString("<html><body>")

		plan := html.EscapeString(n.PlanID)
		switch kind {
		case KindWelcome:
			fmt.Fprintf(&b, "<h1>Welcome aboard</h1><p>Your <strong>%s</strong> subscription is active. The current billing period runs until %s.</p>",
				plan, n.PeriodEnd.Format(dateLayout))
			if !n.Amount.IsZero() {
				fmt.Fprintf(&b, "<p>Amount paid: %s.</p>", html.EscapeString(n.Amount.String()))
			}
		case KindRenewalReminder:
			fmt.Fprintf(&b, "<h1>Renewal</h1><p>Your <strong>%s</strong> subscription runs until %s.</p>",
				plan, n.PeriodEnd.Format(dateLayout))
			if !n.Amount.IsZero() {
				fmt.Fprintf(&b, "<p>Renewal amount: %s.</p>", html.EscapeString(n.Amount.String()))
			}
		case KindCancellation:
			fmt.Fprintf(&b, "<h1>Subscription cancelled</h1><p>Your <strong>%s</strong> subscription has been cancelled.</p>", plan)
			if n.Reason != "" {
				fmt.Fprintf(&b, "<p>Reason: %s.</p>", html.EscapeString(n.Reason))
			}
		case KindPaymentFailed:
			fmt.Fprintf(&b, "<h1>Payment failed</h1><p>We could not collect the renewal payment for your <strong>%s</strong> subscription.</p><p>Please update your payment method to keep your access.</p>", plan)
			if !n.Amount.IsZero() {
				fmt.Fprintf(&b, "<p>Outstanding amount: %s.</p>", html.EscapeString(n.Amount.String()))
			}
		case KindExpired:
			fmt.Fprintf(&b, "<h1>Subscription expired</h1><p>Your <strong>%s</strong> subscription has expired after the payment grace period ended.</p><p>You can subscribe again at any time.</p>", plan)
		default:
			fmt.Fprintf(&b, "<p>There is an update on your <strong>%s</strong> subscription.</p>", plan)
		}

		b.WriteString("</body></html>")
		_, err := io.WriteString(w, b.String())
		return err
	})
}

// renderNotice renders the notice body to a string.
func renderNotice(ctx context.Context, kind Kind, n subscription.Notice) (string, error) {
	var sb strings.Builder
	if err := noticeBody(kind, n).Render(ctx, &sb); err != nil {
		return "", err
	}
	return sb.String(), nil
}
