package rabbit

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/booking-checkout/internal/observability"
)

// Handler processes one delivery. A nil error acks it; an error rejects it
// without requeue so a poison message cannot loop.
type Handler func(ctx context.Context, routingKey string, body []byte) error

type Consumer struct {
	url        string
	queue      string
	bindingKey string
	logger     observability.Logger
}

func NewConsumer(url, queue, bindingKey string, logger observability.Logger) *Consumer {
	return &Consumer{url: url, queue: queue, bindingKey: bindingKey, logger: logger}
}

// Run consumes until ctx is cancelled, reconnecting with exponential
// backoff whenever the connection drops.
func (c *Consumer) Run(ctx context.Context, handle Handler) error {
	for {
		var conn *amqp.Connection
		dial := func() error {
			var err error
			conn, err = amqp.Dial(c.url)
			return err
		}
		notify := func(err error, wait time.Duration) {
			c.logger.WithError(err).WithField("retry_in", wait.String()).Warn("rabbitmq dial failed")
		}
		if err := backoff.RetryNotify(dial, backoff.WithContext(backoff.NewExponentialBackOff(), ctx), notify); err != nil {
			return err
		}

		err := c.consume(ctx, conn, handle)
		conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.WithError(err).Warn("rabbitmq consumer stopped, reconnecting")
	}
}

func (c *Consumer) consume(ctx context.Context, conn *amqp.Connection, handle Handler) error {
	ch, err := conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(Exchange, "topic", true, false, false, false, nil); err != nil {
		return err
	}
	if _, err := ch.QueueDeclare(c.queue, true, false, false, false, nil); err != nil {
		return err
	}
	if err := ch.QueueBind(c.queue, c.bindingKey, Exchange, false, nil); err != nil {
		return err
	}
	if err := ch.Qos(16, 0, false); err != nil {
		return err
	}
	deliveries, err := ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return err
	}

	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case amqpErr := <-closed:
			return errors.Newf("connection closed: %v", amqpErr)
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed")
			}
			if err := handle(ctx, d.RoutingKey, d.Body); err != nil {
				c.logger.WithError(err).WithFields(map[string]interface{}{
					"routing_key": d.RoutingKey,
					"message_id":  d.MessageId,
				}).Error("rejecting message")
				d.Nack(false, false)
				continue
			}
			d.Ack(false)
		}
	}
}
