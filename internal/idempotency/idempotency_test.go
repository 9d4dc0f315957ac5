package idempotency

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	redisadapter "github.com/robertarktes/booking-checkout/internal/adapters/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetSet(t *testing.T) {
	client, mock := redismock.NewClientMock()
	idemp := NewIdempotency(redisadapter.NewIdempotency(client), 24*time.Hour)
	ctx := context.Background()

	resp := Response{Status: 201, ContentType: "application/json", Result: []byte(`{"ok":true}`)}
	data, err := json.Marshal(redisadapter.IdempResponse{Status: 201, ContentType: "application/json", Result: []byte(`{"ok":true}`)})
	require.NoError(t, err)

	mock.ExpectGet("idemp:abc").RedisNil()
	mock.ExpectSet("idemp:abc", data, 24*time.Hour).SetVal("OK")
	mock.ExpectGet("idemp:abc").SetVal(string(data))

	got, err := idemp.Get(ctx, "abc")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, idemp.Set(ctx, "abc", resp))

	got, err = idemp.Get(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, &resp, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBeginContended(t *testing.T) {
	client, mock := redismock.NewClientMock()
	idemp := NewIdempotency(redisadapter.NewIdempotency(client), time.Hour)
	ctx := context.Background()

	mock.ExpectSetNX("idemp:inflight:abc", 1, inflightTTL).SetVal(true)
	mock.ExpectSetNX("idemp:inflight:abc", 1, inflightTTL).SetVal(false)
	mock.ExpectDel("idemp:inflight:abc").SetVal(1)

	ok, release, err := idemp.Begin(ctx, "abc")
	require.NoError(t, err)
	assert.True(t, ok)

	ok2, _, err := idemp.Begin(ctx, "abc")
	require.NoError(t, err)
	assert.False(t, ok2)

	release()
	assert.NoError(t, mock.ExpectationsWereMet())
}
