package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/dmitrymomot/billingkit/pkg/money"
	"github.com/dmitrymomot/billingkit/pkg/subscription"
)

// PaystackConfig holds credentials and endpoints for the Paystack
// gateway. The secret key signs webhooks as well, so no separate
// webhook secret exists.
type PaystackConfig struct {
	SecretKey   string        `env:"PAYSTACK_SECRET_KEY,required"`
	BaseURL     string        `env:"PAYSTACK_BASE_URL" envDefault:"https://api.paystack.co"`
	CallbackURL string        `env:"PAYSTACK_CALLBACK_URL"`
	Timeout     time.Duration `env:"PAYSTACK_TIMEOUT" envDefault:"10s"`
}

// PaystackGateway implements Gateway and WebhookDecoder against the
// Paystack REST API. Payments are link-based: InitializePayment returns
// a hosted checkout URL and the result arrives by webhook or through
// verification.
type PaystackGateway struct {
	secretKey   string
	callbackURL string
	apiURL      string
	httpClient  *http.Client
}

// NewPaystackGateway builds a gateway from config. Panics on a missing
// secret key so a misconfigured binary fails at wiring, not checkout.
func NewPaystackGateway(cfg PaystackConfig) *PaystackGateway {
	if cfg.SecretKey == "" {
		panic("payment: paystack secret key is required")
	}
	apiURL := cfg.BaseURL
	if apiURL == "" {
		apiURL = "https://api.paystack.co"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &PaystackGateway{
		secretKey:   cfg.SecretKey,
		callbackURL: cfg.CallbackURL,
		apiURL:      apiURL,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

type paystackInitializeRequest struct {
	Email       string            `json:"email"`
	Amount      int64             `json:"amount"`
	Currency    string            `json:"currency,omitempty"`
	Reference   string            `json:"reference"`
	CallbackURL string            `json:"callback_url,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// paystackEnvelope is the common response wrapper: status=false means
// the API rejected the call even with HTTP 200.
type paystackEnvelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type paystackInitializeData struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

type paystackTransaction struct {
	ID              int64  `json:"id"`
	Status          string `json:"status"`
	Reference       string `json:"reference"`
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency"`
	GatewayResponse string `json:"gateway_response"`
	PaidAt          string `json:"paid_at"`
}

type paystackWebhookPayload struct {
	Event string              `json:"event"`
	Data  paystackTransaction `json:"data"`
}

// InitializePayment starts a hosted checkout and returns its URL.
func (g *PaystackGateway) InitializePayment(ctx context.Context, req InitializeRequest) (*PaymentIntent, error) {
	body := paystackInitializeRequest{
		Email:       req.Customer.Email,
		Amount:      req.Amount.Amount,
		Currency:    req.Amount.Currency,
		Reference:   req.Reference,
		CallbackURL: g.callbackURL,
		Metadata:    req.Metadata,
	}
	var data paystackInitializeData
	if err := g.call(ctx, http.MethodPost, "/transaction/initialize", body, &data); err != nil {
		return nil, err
	}
	return &PaymentIntent{
		Reference:   data.Reference,
		PaymentLink: data.AuthorizationURL,
		AccessCode:  data.AccessCode,
	}, nil
}

// VerifyPayment fetches the authoritative transaction state by
// reference.
func (g *PaystackGateway) VerifyPayment(ctx context.Context, reference string) (*Verification, error) {
	var data paystackTransaction
	if err := g.call(ctx, http.MethodGet, "/transaction/verify/"+reference, nil, &data); err != nil {
		return nil, err
	}
	return paystackVerification(data), nil
}

// DecodeWebhook implements WebhookDecoder. Paystack signs the raw body
// with HMAC-SHA512 under the account secret key and sends the hex
// digest in the X-Paystack-Signature header.
func (g *PaystackGateway) DecodeWebhook(signature string, payload []byte) (*WebhookEvent, error) {
	mac := hmac.New(sha512.New, []byte(g.secretKey))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	if signature == "" || !hmac.Equal([]byte(expected), []byte(signature)) {
		return nil, fmt.Errorf("%w: signature mismatch", ErrInvalidWebhook)
	}

	var event paystackWebhookPayload
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWebhook, err)
	}

	decoded := &WebhookEvent{Event: event.Event}
	switch event.Event {
	case "charge.success", "charge.failed":
		v := paystackVerification(event.Data)
		decoded.Reference = event.Data.Reference
		decoded.Status = v.Status
		decoded.Amount = v.Amount
		decoded.PaidAt = v.PaidAt
		decoded.GatewayRef = v.GatewayRef
		decoded.Declined = v.Declined
	default:
		// Transfers, disputes and other event families are not part of
		// the billing flow; callers skip events without a reference.
	}
	return decoded, nil
}

// call performs one API request and unmarshals the envelope data.
// Every failure is tagged ErrPaymentGateway so callers can separate
// provider trouble from declines, which arrive as regular statuses.
func (g *PaystackGateway) call(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return errors.Join(ErrPaymentGateway, fmt.Errorf("marshal request: %w", err))
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.apiURL+path, reqBody)
	if err != nil {
		return errors.Join(ErrPaymentGateway, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+g.secretKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return errors.Join(ErrPaymentGateway, fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Join(ErrPaymentGateway, fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode >= 400 {
		return errors.Join(ErrPaymentGateway, fmt.Errorf("api error: %s (status: %d)", string(respBody), resp.StatusCode))
	}

	var envelope paystackEnvelope
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return errors.Join(ErrPaymentGateway, fmt.Errorf("unmarshal response: %w", err))
	}
	if !envelope.Status {
		return errors.Join(ErrPaymentGateway, fmt.Errorf("api rejected call: %s", envelope.Message))
	}
	if out != nil {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return errors.Join(ErrPaymentGateway, fmt.Errorf("unmarshal data: %w", err))
		}
	}
	return nil
}

// paystackVerification normalizes a Paystack transaction into the
// gateway-neutral view. Anything besides a final success is either
// still pending or a non-payment.
func paystackVerification(tx paystackTransaction) *Verification {
	v := &Verification{
		Amount:     money.Money{Amount: tx.Amount, Currency: tx.Currency},
		GatewayRef: strconv.FormatInt(tx.ID, 10),
	}
	switch tx.Status {
	case "success":
		v.Status = subscription.OutcomeSuccessful
	case "pending", "ongoing", "processing", "queued", "send_otp", "pay_offline":
		v.Status = subscription.OutcomePending
	default:
		v.Status = subscription.OutcomeFailed
		v.Declined = tx.GatewayResponse
		if v.Declined == "" {
			v.Declined = tx.Status
		}
	}
	if tx.PaidAt != "" {
		if paidAt, err := time.Parse(time.RFC3339, tx.PaidAt); err == nil {
			v.PaidAt = paidAt.UTC()
		}
	}
	return v
}
