package subscription

import (
	"context"

	"github.com/google/uuid"

	"github.com/dmitrymomot/billingkit/pkg/money"
	"github.com/dmitrymomot/billingkit/pkg/plan"
)

// ChargeRequest asks the payment layer to collect an amount from a user.
// PlanID, PlanVersion and BillingPeriod name the pinned price being
// bought; catalog-price gateways resolve their checkout items from them.
type ChargeRequest struct {
	UserID         uuid.UUID
	SubscriptionID uuid.UUID
	Email          string
	Amount         money.Money
	Reason         ChargeReason
	PlanID         string
	PlanVersion    int
	BillingPeriod  plan.BillingPeriod
}

// ChargeResult is the synchronous outcome of a charge attempt.
//
// Link-based gateways return OutcomePending with a hosted checkout URL;
// the charge settles later through webhook delivery or reconciliation.
// Reference identifies the ledger transaction created for this charge.
type ChargeResult struct {
	Outcome     PaymentOutcome
	Reference   string
	PaymentLink string
	LinkQR      string // PNG data URI of PaymentLink, empty if not rendered
}

// CreditRequest records money owed back to the customer, e.g. the
// negative proration of a downgrade. Credits are ledger entries only;
// no gateway refund is issued.
type CreditRequest struct {
	UserID         uuid.UUID
	SubscriptionID uuid.UUID
	Amount         money.Money // positive value of the credit
}

// Charger mediates payment gateway interactions for the state machine.
// Implemented by the payment orchestrator; mocked in tests.
type Charger interface {
	Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
	Credit(ctx context.Context, req CreditRequest) (*ChargeResult, error)
}
