package billing

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrymomot/billingkit/pkg/payment"
)

// DefaultSignatureHeader is where Paystack puts the HMAC of the raw
// request body. Paddle deliveries carry "Paddle-Signature" instead;
// use WithSignatureHeader when wiring a Paddle gateway.
const DefaultSignatureHeader = "X-Paystack-Signature"

// defaultMaxBodyBytes caps webhook payload reads. Gateway events are
// small JSON documents; anything larger is not a payment notification.
const defaultMaxBodyBytes int64 = 1 << 20

// WebhookProcessor settles a verified gateway delivery against the
// transaction ledger. *payment.Orchestrator implements it.
type WebhookProcessor interface {
	HandleWebhook(ctx context.Context, payload []byte, signature string) error
}

// WebhookService receives payment gateway callbacks over HTTP.
//
// Response codes follow gateway retry semantics: 2xx acknowledges the
// delivery, 4xx marks it permanently rejected (gateways re-sign every
// redelivery, so a bad signature will stay bad), and 5xx requests a
// redelivery. Redeliveries of already-settled payments are absorbed by
// the ledger and acknowledged.
type WebhookService struct {
	processor WebhookProcessor
	header    string
	maxBody   int64
	log       *slog.Logger
}

// WebhookOption configures a WebhookService.
type WebhookOption func(*WebhookService)

// WithSignatureHeader overrides the request header carrying the
// gateway's payload signature. Empty names are ignored.
func WithSignatureHeader(name string) WebhookOption {
	return func(s *WebhookService) {
		if name != "" {
			s.header = name
		}
	}
}

// WithWebhookLogger sets the logger used for delivery diagnostics.
func WithWebhookLogger(log *slog.Logger) WebhookOption {
	return func(s *WebhookService) {
		if log != nil {
			s.log = log
		}
	}
}

// NewWebhookService creates the gateway callback receiver.
// Panics when processor is nil since that is a wiring error.
func NewWebhookService(processor WebhookProcessor, opts ...WebhookOption) *WebhookService {
	if processor == nil {
		panic("billing: webhook processor is required")
	}
	s := &WebhookService{
		processor: processor,
		header:    DefaultSignatureHeader,
		maxBody:   defaultMaxBodyBytes,
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handle returns the webhook subrouter for mounting.
func (s *WebhookService) Handle() http.Handler {
	r := chi.NewRouter()
	r.Post("/payment", s.receivePayment)
	return r
}

func (s *WebhookService) receivePayment(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBody))
	if err != nil {
		http.Error(w, "unreadable payload", http.StatusBadRequest)
		return
	}

	err = s.processor.HandleWebhook(r.Context(), payload, r.Header.Get(s.header))
	switch {
	case err == nil:
		w.WriteHeader(http.StatusAccepted)
	case errors.Is(err, payment.ErrUnknownReference):
		// A verified delivery for a reference this ledger never
		// issued. Redelivery cannot fix it, so acknowledge and keep
		// the log line for the audit trail.
		s.log.WarnContext(r.Context(), "webhook for unknown reference",
			slog.String("error", err.Error()),
		)
		w.WriteHeader(http.StatusAccepted)
	case errors.Is(err, payment.ErrInvalidWebhook):
		http.Error(w, "invalid signature", http.StatusBadRequest)
	default:
		s.log.ErrorContext(r.Context(), "webhook processing failed",
			slog.String("error", err.Error()),
		)
		http.Error(w, "temporary failure", http.StatusInternalServerError)
	}
}
