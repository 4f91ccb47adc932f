package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	paddle "github.com/PaddleHQ/paddle-go-sdk/v4"

	"github.com/dmitrymomot/billingkit/pkg/subscription"
)

// PaddleConfig holds configuration for the Paddle gateway.
type PaddleConfig struct {
	APIKey        string `env:"PADDLE_API_KEY,required"`
	WebhookSecret string `env:"PADDLE_WEBHOOK_SECRET,required"`
	Environment   string `env:"PADDLE_ENVIRONMENT" envDefault:"production"`
	SuccessURL    string `env:"PADDLE_SUCCESS_URL"`
}

// PaddleGateway implements Gateway and WebhookDecoder on the Paddle
// Billing API. Checkouts are created as catalog transactions with the
// ledger reference riding in custom data, so webhook deliveries can be
// routed back to the originating charge.
//
// Paddle has no lookup by merchant reference, so VerifyPayment reports
// pending until the webhook lands. Abandoned checkouts age out through
// reconciliation, which lines up with the 24 hour checkout link expiry.
type PaddleGateway struct {
	client   *paddle.SDK
	verifier *paddle.WebhookVerifier
	config   PaddleConfig
	prices   map[string]string
}

// NewPaddleGateway creates a Paddle gateway. prices maps "planID@version:period"
// keys built with PaddlePriceKey to Paddle price IDs, because Paddle
// checkouts sell catalog prices rather than ad-hoc amounts.
func NewPaddleGateway(config PaddleConfig, prices map[string]string) (*PaddleGateway, error) {
	if config.APIKey == "" {
		return nil, errors.New("paddle API key is required")
	}
	if config.WebhookSecret == "" {
		return nil, errors.New("paddle webhook secret is required")
	}

	var client *paddle.SDK
	var err error

	switch strings.ToLower(config.Environment) {
	case "sandbox":
		client, err = paddle.NewSandbox(config.APIKey)
	case "production", "":
		client, err = paddle.New(config.APIKey)
	default:
		return nil, fmt.Errorf("invalid paddle environment: %s", config.Environment)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create paddle client: %w", err)
	}

	return &PaddleGateway{
		client:   client,
		verifier: paddle.NewWebhookVerifier(config.WebhookSecret),
		config:   config,
		prices:   prices,
	}, nil
}

// PaddlePriceKey builds the price map key for a pinned plan price.
func PaddlePriceKey(planID string, version int, period string) string {
	return fmt.Sprintf("%s@%d:%s", planID, version, period)
}

// InitializePayment creates a Paddle transaction for the catalog price
// named in the request metadata and returns its hosted checkout URL.
func (g *PaddleGateway) InitializePayment(ctx context.Context, req InitializeRequest) (*PaymentIntent, error) {
	priceID, err := g.resolvePrice(req.Metadata)
	if err != nil {
		return nil, err
	}

	item := paddle.NewCreateTransactionItemsTransactionItemFromCatalog(&paddle.TransactionItemFromCatalog{
		PriceID:  priceID,
		Quantity: 1,
	})

	transactionReq := &paddle.CreateTransactionRequest{
		Items: []paddle.CreateTransactionItems{*item},
		CustomData: paddle.CustomData{
			"reference": req.Reference,
			"user_id":   req.Customer.UserID.String(),
			"email":     req.Customer.Email,
		},
	}
	if g.config.SuccessURL != "" {
		transactionReq.Checkout = &paddle.TransactionCheckout{
			URL: paddle.PtrTo(g.config.SuccessURL),
		}
	}

	transaction, err := g.client.TransactionsClient.CreateTransaction(ctx, transactionReq)
	if err != nil {
		return nil, errors.Join(ErrPaymentGateway, fmt.Errorf("create paddle transaction: %w", err))
	}

	var checkoutURL string
	if transaction.Checkout != nil && transaction.Checkout.URL != nil {
		checkoutURL = *transaction.Checkout.URL
	}
	if checkoutURL == "" {
		return nil, errors.Join(ErrPaymentGateway, errors.New("no checkout URL returned from paddle"))
	}

	return &PaymentIntent{
		Reference:   req.Reference,
		PaymentLink: checkoutURL,
		AccessCode:  transaction.ID,
		ExpiresAt:   time.Now().UTC().Add(24 * time.Hour),
	}, nil
}

// VerifyPayment reports pending: settlement arrives by webhook.
func (g *PaddleGateway) VerifyPayment(ctx context.Context, reference string) (*Verification, error) {
	return &Verification{Status: subscription.OutcomePending}, nil
}

// DecodeWebhook verifies the Paddle-Signature header with the SDK
// verifier and extracts the ledger reference from custom data.
func (g *PaddleGateway) DecodeWebhook(signature string, payload []byte) (*WebhookEvent, error) {
	req, err := http.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWebhook, err)
	}
	req.Header.Set("Paddle-Signature", signature)

	valid, err := g.verifier.Verify(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWebhook, err)
	}
	if !valid {
		return nil, fmt.Errorf("%w: signature mismatch", ErrInvalidWebhook)
	}

	var paddleEvent struct {
		EventID    string         `json:"event_id"`
		EventType  string         `json:"event_type"`
		OccurredAt string         `json:"occurred_at"`
		Data       map[string]any `json:"data"`
	}
	if err := json.Unmarshal(payload, &paddleEvent); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWebhook, err)
	}

	event := &WebhookEvent{Event: paddleEvent.EventType}

	switch paddleEvent.EventType {
	case "transaction.completed", "transaction.paid", "transaction.payment_succeeded":
		event.Status = subscription.OutcomeSuccessful
	case "transaction.payment_failed", "transaction.canceled", "transaction.past_due":
		event.Status = subscription.OutcomeFailed
		if status, ok := paddleEvent.Data["status"].(string); ok {
			event.Declined = status
		}
	default:
		// Subscription, customer and adjustment events are not part of
		// the checkout flow; events without a reference are skipped.
		return event, nil
	}

	if customData, ok := paddleEvent.Data["custom_data"].(map[string]any); ok {
		if reference, ok := customData["reference"].(string); ok {
			event.Reference = reference
		}
	}
	if txnID, ok := paddleEvent.Data["id"].(string); ok {
		event.GatewayRef = txnID
	}
	if paddleEvent.OccurredAt != "" {
		if occurredAt, err := time.Parse(time.RFC3339, paddleEvent.OccurredAt); err == nil {
			event.PaidAt = occurredAt.UTC()
		}
	}
	return event, nil
}

// resolvePrice looks up the Paddle price for the plan named in the
// charge metadata.
func (g *PaddleGateway) resolvePrice(metadata map[string]string) (string, error) {
	key := metadata["paddle_price_key"]
	if key == "" {
		return "", errors.Join(ErrPaymentGateway, errors.New("charge metadata is missing paddle_price_key"))
	}
	priceID, ok := g.prices[key]
	if !ok {
		return "", errors.Join(ErrPaymentGateway, fmt.Errorf("no paddle price mapped for %s", key))
	}
	return priceID, nil
}
