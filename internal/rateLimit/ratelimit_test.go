package rateLimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	redisadapter "github.com/robertarktes/booking-checkout/internal/adapters/redis"
	"github.com/stretchr/testify/assert"
)

func TestAllow(t *testing.T) {
	client, mock := redismock.NewClientMock()
	rl := NewRateLimiter(redisadapter.NewCache(client))
	ctx := context.Background()

	mock.ExpectIncr("rl:user:u1").SetVal(1)
	mock.ExpectExpire("rl:user:u1", time.Minute).SetVal(true)
	assert.True(t, rl.Allow(ctx, "user:u1", 2, time.Minute))

	mock.ExpectIncr("rl:user:u1").SetVal(2)
	assert.True(t, rl.Allow(ctx, "user:u1", 2, time.Minute))

	mock.ExpectIncr("rl:user:u1").SetVal(3)
	assert.False(t, rl.Allow(ctx, "user:u1", 2, time.Minute))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAllowDoesNotExtendWindow(t *testing.T) {
	client, mock := redismock.NewClientMock()
	rl := NewRateLimiter(redisadapter.NewCache(client))
	ctx := context.Background()

	// Later hits send only INCR, so the TTL set by the first hit keeps
	// counting down. An unexpected EXPIRE would fail the call and deny.
	for i := 2; i <= 30; i++ {
		mock.ExpectIncr("rl:caller:user:u2").SetVal(int64(i))
		assert.True(t, rl.Allow(ctx, "caller:user:u2", 30, time.Minute))
	}
	mock.ExpectIncr("rl:caller:user:u2").SetVal(31)
	assert.False(t, rl.Allow(ctx, "caller:user:u2", 30, time.Minute))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAllowDeniesOnRedisError(t *testing.T) {
	client, mock := redismock.NewClientMock()
	rl := NewRateLimiter(redisadapter.NewCache(client))
	ctx := context.Background()

	mock.ExpectIncr("rl:ip:1.2.3.4").SetErr(errors.New("connection refused"))
	assert.False(t, rl.Allow(ctx, "ip:1.2.3.4", 10, time.Minute))

	mock.ExpectIncr("rl:ip:1.2.3.4").SetVal(1)
	mock.ExpectExpire("rl:ip:1.2.3.4", time.Minute).SetErr(errors.New("connection reset"))
	mock.ExpectDel("rl:ip:1.2.3.4").SetVal(1)
	assert.False(t, rl.Allow(ctx, "ip:1.2.3.4", 10, time.Minute))

	assert.NoError(t, mock.ExpectationsWereMet())
}
