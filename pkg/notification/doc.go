// Package notification ships the subscription.Notifier implementations.
//
// The billing engine treats notifications as fire-and-forget facts: it
// reports that a subscription was activated, renewed, cancelled, put
// into grace or expired, and never waits on delivery. This package
// turns those facts into transport:
//
//   - AMQPNotifier publishes each notice as a persistent JSON Event on
//     a durable topic exchange. Routing keys follow
//     "billing.notification.<kind>", so a mailer can bind
//     "billing.notification.*" while a dunning dashboard binds only
//     "billing.notification.payment_failed".
//   - EmailNotifier renders a minimal transactional email per notice
//     and hands it to a Sender: PostmarkSender in production, DevSender
//     (files on disk) in development.
//   - NopNotifier logs and drops, for tests and bare setups.
//   - Multi fans out to several of the above.
//
// Wiring for a production worker typically combines the stream with
// direct email:
//
//	events, err := notification.NewAMQPNotifier(cfg.AMQPURL, log)
//	sender, err := notification.NewPostmarkSender(cfg.Email)
//	notifier := notification.Multi(events, notification.NewEmailNotifier(sender, accounts, log))
package notification
