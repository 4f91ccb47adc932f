package payment

import (
	"errors"

	"github.com/dmitrymomot/billingkit/pkg/subscription"
)

var (
	// ErrPaymentGateway and ErrPaymentDeclined alias the subscription
	// taxonomy so both packages match the same sentinels.
	ErrPaymentGateway  = subscription.ErrPaymentGateway
	ErrPaymentDeclined = subscription.ErrPaymentDeclined

	ErrTransactionNotFound = errors.New("transaction not found")
	ErrDuplicateReference  = errors.New("transaction reference already exists")

	// ErrAlreadySettled marks a settlement attempt on a transaction
	// that already reached a final status. Webhook redelivery hits this
	// path; callers treat it as success.
	ErrAlreadySettled = errors.New("transaction already settled")

	// ErrInvalidWebhook covers signature mismatches and unparseable
	// payloads. Never retried: the gateway would re-sign a legitimate
	// delivery.
	ErrInvalidWebhook = errors.New("invalid webhook")

	// ErrUnknownReference is a verified webhook whose reference matches
	// no ledger transaction.
	ErrUnknownReference = errors.New("unknown payment reference")
)
