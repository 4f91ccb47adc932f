package payment

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/billingkit/pkg/money"
	"github.com/dmitrymomot/billingkit/pkg/subscription"
)

// Customer identifies the paying user at the gateway boundary.
type Customer struct {
	UserID uuid.UUID
	Email  string
}

// InitializeRequest starts a payment at the gateway. Reference is the
// ledger transaction reference generated by the orchestrator; gateways
// are expected to echo it back in webhooks and verification responses
// so settlements can be routed without extra state.
type InitializeRequest struct {
	Reference string
	Amount    money.Money
	Customer  Customer
	Metadata  map[string]string
}

// PaymentIntent is the gateway's answer to InitializePayment. For
// link-based gateways PaymentLink carries the hosted checkout URL the
// customer completes asynchronously.
type PaymentIntent struct {
	Reference   string
	PaymentLink string
	AccessCode  string
	ExpiresAt   time.Time
}

// Verification is the gateway's current view of a payment. Status is
// already normalized: anything the gateway reports besides a final
// success maps to failed or pending.
type Verification struct {
	Status     subscription.PaymentOutcome
	Amount     money.Money
	PaidAt     time.Time
	GatewayRef string
	Declined   string // gateway-provided reason when Status is failed
}

// Gateway abstracts a payment provider. Implementations translate the
// provider's wire protocol into the two-call contract the orchestrator
// drives: start a payment, then ask how it went.
//
// Implementations must return ErrPaymentGateway (wrapped) for transport
// and provider-side failures so callers can distinguish "retry later"
// from a genuine decline.
type Gateway interface {
	InitializePayment(ctx context.Context, req InitializeRequest) (*PaymentIntent, error)
	VerifyPayment(ctx context.Context, reference string) (*Verification, error)
}
