package idempotency

import (
	"context"
	"time"

	redisadapter "github.com/robertarktes/booking-checkout/internal/adapters/redis"
)

// inflightTTL bounds how long a crashed request can block its key.
const inflightTTL = time.Minute

type Idempotency struct {
	redis *redisadapter.Idempotency
	ttl   time.Duration
}

func NewIdempotency(redis *redisadapter.Idempotency, ttl time.Duration) *Idempotency {
	return &Idempotency{redis: redis, ttl: ttl}
}

type Response struct {
	Status      int
	ContentType string
	Result      []byte
}

// Get returns the stored response for key, or nil when there is none.
func (i *Idempotency) Get(ctx context.Context, key string) (*Response, error) {
	stored, err := i.redis.Get(ctx, key)
	if err != nil || stored == nil {
		return nil, err
	}
	return &Response{Status: stored.Status, ContentType: stored.ContentType, Result: stored.Result}, nil
}

func (i *Idempotency) Set(ctx context.Context, key string, resp Response) error {
	return i.redis.Set(ctx, key, redisadapter.IdempResponse{
		Status:      resp.Status,
		ContentType: resp.ContentType,
		Result:      resp.Result,
	}, i.ttl)
}

// Begin claims key for one request. The returned release func must be
// called once the response has been stored or abandoned.
func (i *Idempotency) Begin(ctx context.Context, key string) (bool, func(), error) {
	ok, err := i.redis.Reserve(ctx, key, inflightTTL)
	if err != nil || !ok {
		return false, func() {}, err
	}
	return true, func() { _ = i.redis.Unreserve(context.WithoutCancel(ctx), key) }, nil
}
