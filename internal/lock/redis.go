package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only while it still holds our token, so an
// expired lease never releases another holder's lock.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a lease-based lock shared by every instance watching the same
// site. The lease expires after ttl if its holder dies.
type Redis struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewRedis creates a Redis lock on key.
func NewRedis(client *redis.Client, key string, ttl time.Duration) *Redis {
	return &Redis{client: client, key: key, ttl: ttl}
}

// TryLock implements Locker.
func (r *Redis) TryLock(ctx context.Context) (Unlock, bool, error) {
	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, r.key, token, r.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lock %s: %w", r.key, err)
	}
	if !ok {
		return nil, false, nil
	}
	return func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, r.client, []string{r.key}, token).Err(); err != nil {
			return fmt.Errorf("release lock %s: %w", r.key, err)
		}
		return nil
	}, true, nil
}
