package outbox

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/booking-checkout/internal/adapters/crdb"
	"github.com/robertarktes/booking-checkout/internal/observability"
)

type Store interface {
	GetUnpublishedOutbox(ctx context.Context, limit int) ([]crdb.OutboxRecord, error)
	MarkPublished(ctx context.Context, id uuid.UUID, publishedAt time.Time) error
}

type Broker interface {
	Publish(ctx context.Context, key string, msg amqp.Publishing) error
}

// Publisher relays committed outbox rows to the broker. Delivery is at
// least once; consumers dedupe on MessageId.
type Publisher struct {
	repo      Store
	rabbitPub Broker
	logger    observability.Logger
	batch     int
	retries   uint64
}

func NewPublisher(repo Store, rabbitPub Broker, logger observability.Logger) *Publisher {
	return &Publisher{repo: repo, rabbitPub: rabbitPub, logger: logger, batch: 50, retries: 3}
}

func (p *Publisher) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.PublishBatch(ctx); err != nil && ctx.Err() == nil {
				p.logger.WithError(err).Error("outbox batch failed")
			}
		}
	}
}

// PublishBatch relays up to one batch and returns how many records were
// published. A record that still fails after retries stays NEW and is
// picked up by the next batch.
func (p *Publisher) PublishBatch(ctx context.Context) (int, error) {
	records, err := p.repo.GetUnpublishedOutbox(ctx, p.batch)
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		observability.OutboxLag.Set(0)
		return 0, nil
	}
	observability.OutboxLag.Set(time.Since(records[0].CreatedAt).Seconds())

	published := 0
	for _, rec := range records {
		msg := amqp.Publishing{
			MessageId:   rec.DedupeKey,
			ContentType: "application/json",
			Type:        rec.EventType,
			Timestamp:   rec.CreatedAt,
			Body:        rec.Payload,
		}
		attempt := 0
		publish := func() error {
			if attempt > 0 {
				observability.RabbitPublishRetries.Inc()
			}
			attempt++
			return p.rabbitPub.Publish(ctx, rec.EventType, msg)
		}
		policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), p.retries), ctx)
		if err := backoff.Retry(publish, policy); err != nil {
			p.logger.WithError(err).WithField("outbox_id", rec.ID.String()).Warn("outbox publish failed")
			continue
		}
		if err := p.repo.MarkPublished(ctx, rec.ID, time.Now()); err != nil {
			return published, err
		}
		published++
	}
	return published, nil
}
