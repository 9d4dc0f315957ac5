package redis

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockNotHeld is returned by Release when the lock expired or was taken
// over by another holder.
var ErrLockNotHeld = errors.New("lock not held")

// releaseScript deletes the lock only while it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type Cache struct {
	client   *redis.Client
	newToken func() string
}

func NewCache(client *redis.Client) *Cache {
	return &Cache{client: client, newToken: uuid.NewString}
}

func (c *Cache) Client() *redis.Client {
	return c.client
}

func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Acquire takes an expiring lock on key and returns the token that proves
// ownership. It reports false when someone else holds it.
func (c *Cache) Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token := c.newToken()
	ok, err := c.client.SetNX(ctx, "lock:"+key, token, ttl).Result()
	if err != nil || !ok {
		return "", false, err
	}
	return token, true, nil
}

// Release drops the lock if token still owns it.
func (c *Cache) Release(ctx context.Context, key, token string) error {
	n, err := releaseScript.Run(ctx, c.client, []string{"lock:" + key}, token).Int64()
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.Wrapf(ErrLockNotHeld, "%s", key)
	}
	return nil
}
