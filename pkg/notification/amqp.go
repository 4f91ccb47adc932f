package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/dmitrymomot/billingkit/pkg/subscription"
)

// ExchangeName is the durable topic exchange billing notices are
// published to.
const ExchangeName = "billing.notifications"

// AMQPNotifier implements subscription.Notifier by publishing each
// notice as a persistent JSON event on a topic exchange. Rendering and
// delivery to the customer happen in downstream consumers; the engine
// only emits facts.
type AMQPNotifier struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	log      *slog.Logger
	now      func() time.Time
	mu       sync.Mutex
}

// NewAMQPNotifier connects to the broker and declares the exchange.
func NewAMQPNotifier(url string, log *slog.Logger) (*AMQPNotifier, error) {
	if log == nil {
		log = slog.Default()
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to AMQP broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		ExchangeName, // name
		"topic",      // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	log.Info("notification publisher connected", slog.String("exchange", ExchangeName))

	return &AMQPNotifier{
		conn:     conn,
		channel:  ch,
		exchange: ExchangeName,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

func (p *AMQPNotifier) SendWelcome(ctx context.Context, n subscription.Notice) error {
	return p.publish(ctx, KindWelcome, n)
}

func (p *AMQPNotifier) SendRenewalReminder(ctx context.Context, n subscription.Notice) error {
	return p.publish(ctx, KindRenewalReminder, n)
}

func (p *AMQPNotifier) SendCancellation(ctx context.Context, n subscription.Notice) error {
	return p.publish(ctx, KindCancellation, n)
}

func (p *AMQPNotifier) SendPaymentFailed(ctx context.Context, n subscription.Notice) error {
	return p.publish(ctx, KindPaymentFailed, n)
}

func (p *AMQPNotifier) SendExpired(ctx context.Context, n subscription.Notice) error {
	return p.publish(ctx, KindExpired, n)
}

func (p *AMQPNotifier) publish(ctx context.Context, kind Kind, n subscription.Notice) error {
	payload, err := json.Marshal(newEvent(kind, n, p.now()))
	if err != nil {
		return fmt.Errorf("marshal notification event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.channel.PublishWithContext(ctx,
		p.exchange,
		RoutingKey(kind),
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			Body:         payload,
		},
	)
	if err != nil {
		p.log.Error("failed to publish notification",
			slog.String("routing_key", RoutingKey(kind)),
			slog.String("error", err.Error()),
		)
		return err
	}

	p.log.Debug("notification published",
		slog.String("routing_key", RoutingKey(kind)),
		slog.Int("size", len(payload)),
	)
	return nil
}

// Close closes the channel and connection.
func (p *AMQPNotifier) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.channel != nil {
		if err := p.channel.Close(); err != nil {
			p.log.Warn("error closing channel", slog.String("error", err.Error()))
		}
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil {
			return err
		}
	}
	return nil
}
