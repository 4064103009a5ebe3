package promotions

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Lock is a redis-backed mutex that keeps two processes from dispatching the
// same promotion at once.
type Lock struct {
	redis  *redis.Client
	prefix string
}

// NewLock returns nil when client is nil; a nil *Lock always acquires.
func NewLock(client *redis.Client) *Lock {
	if client == nil {
		return nil
	}
	return &Lock{redis: client, prefix: "loyalty:promotion-send:"}
}

// Acquire sets key for ttl if unset and returns the owner token. It returns
// ErrSendInProgress when another owner holds the key.
func (l *Lock) Acquire(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if l == nil {
		return "", nil
	}
	token := uuid.NewString()
	ok, err := l.redis.SetNX(ctx, l.prefix+key, token, ttl).Result()
	if err != nil {
		return "", fmt.Errorf("promotions: acquire lock: %w", err)
	}
	if !ok {
		return "", ErrSendInProgress
	}
	return token, nil
}

// Release deletes key only if token still owns it.
func (l *Lock) Release(ctx context.Context, key, token string) error {
	if l == nil || token == "" {
		return nil
	}
	if err := releaseScript.Run(ctx, l.redis, []string{l.prefix + key}, token).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("promotions: release lock: %w", err)
	}
	return nil
}
