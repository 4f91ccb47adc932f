// Package payment connects the subscription lifecycle to real payment
// gateways through an append-only transaction ledger.
//
// # Architecture
//
// The Orchestrator sits between two contracts. Upward it implements
// subscription.Charger, so the subscription service can request charges
// and credits without knowing which provider is wired. Downward it
// drives a Gateway, the two-call provider abstraction: initialize a
// payment, then ask how it went.
//
// Every gateway payment is anchored by a ledger Transaction created
// before the provider is contacted. The ledger reference travels to
// the gateway and comes back in webhooks and verification responses,
// so results can always be routed to exactly one ledger entry.
//
// # At-Most-Once Settlement
//
// Payment results arrive on several paths at once: webhook deliveries
// (including retries), explicit confirmation after checkout redirect,
// and the reconciliation sweep. All of them funnel through
// TransactionStore.Settle, which flips a transaction from pending to a
// final status exactly once. Losers observe ErrAlreadySettled and stop;
// only the winner applies the lifecycle side effect. A duplicate
// webhook can therefore never activate a subscription twice or roll a
// billing period twice.
//
// # Quick Start
//
//	gateway := payment.NewPaystackGateway(paystackCfg)
//	transactions := payment.NewMemoryTransactionStore()
//
//	orch := payment.NewOrchestrator(gateway, transactions, subStore, catalog, accounts)
//	svc := subscription.NewService(subStore, catalog, accounts, orch, notifier)
//	orch.Bind(svc)
//
//	// Webhook endpoint:
//	err := orch.HandleWebhook(ctx, body, r.Header.Get("X-Paystack-Signature"))
//
// The orchestrator and the subscription service reference each other,
// so wiring happens in two steps: construct the orchestrator first,
// hand it to the service as its Charger, then Bind the service back so
// settlements can drive lifecycle transitions.
//
// # Background Sweeps
//
// Three periodic passes keep the ledger and the subscriptions moving
// without any external scheduler state:
//
//   - RenewDue initializes renewal charges for subscriptions whose
//     period has ended and finalizes deferred cancellations.
//   - ReconcilePending verifies pending ledger entries the webhook
//     stream missed and settles abandoned checkouts as failed.
//   - SweepGrace expires grace subscriptions past their deadline.
//
// Each pass processes a bounded batch and treats per-item errors as
// log-and-continue, so one broken record cannot stall billing for
// everyone else.
//
// # Providers
//
// PaystackGateway talks to the Paystack REST API directly and supports
// the full contract including verification by reference. PaddleGateway
// rides on the official SDK; Paddle cannot look up payments by
// merchant reference, so its results arrive exclusively by webhook.
// Both double as WebhookDecoder for their own signature schemes.
//
// Gateway calls run behind circuit breakers. When a provider outage
// trips the breaker, charges fail fast with ErrPaymentGateway and
// subscriptions stay in their current state until the provider
// recovers.
package payment
