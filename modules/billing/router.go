package billing

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrymomot/billingkit/pkg/requestid"
)

// Mountable is anything exposing an HTTP surface for mounting.
type Mountable interface {
	Handle() http.Handler
}

// RouterOptions configures which surfaces the billing module exposes.
// Each one is optional and only mounted when provided.
type RouterOptions struct {
	// Webhooks receives payment gateway callbacks under /webhooks.
	Webhooks Mountable
	// Health serves liveness and readiness probes at /healthz.
	Health http.HandlerFunc
}

// Router creates the billing module router with configurable surfaces.
//
// Example:
//
//	hooks := billing.NewWebhookService(orch)
//	health := httpserver.HealthCheckHandler(ctx, log, store.Ping)
//
//	r := chi.NewRouter()
//	r.Mount("/", billing.Router(billing.RouterOptions{
//	    Webhooks: hooks,
//	    Health:   health,
//	}))
func Router(opts RouterOptions) chi.Router {
	r := chi.NewRouter()
	// Gateway redeliveries of the same event arrive as distinct requests;
	// the request ID keeps their log records distinguishable.
	r.Use(requestid.Middleware)

	if opts.Webhooks != nil {
		r.Mount("/webhooks", opts.Webhooks.Handle())
	}
	if opts.Health != nil {
		r.Get("/healthz", opts.Health)
	}

	return r
}
