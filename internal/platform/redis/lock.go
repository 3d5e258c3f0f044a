package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"consentledger/pkg/platform/sentinel"
)

// releaseScript deletes the key only while it still holds our value, so a lock
// that expired and was taken by another instance is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker hands out short-lived exclusive locks with SET NX PX.
type Locker struct {
	client redis.UniversalClient
	prefix string
}

func NewLocker(client redis.UniversalClient, prefix string) *Locker {
	return &Locker{client: client, prefix: prefix}
}

// Acquire takes key for ttl. It returns sentinel.ErrConflict when another
// holder owns the key. The release func is safe to call once the lock expired.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context), error) {
	fullKey := l.prefix + key
	value := uuid.NewString()
	ok, err := l.client.SetNX(ctx, fullKey, value, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w: %w", sentinel.ErrUnavailable, err)
	}
	if !ok {
		return nil, sentinel.ErrConflict
	}
	return func(ctx context.Context) {
		_ = releaseScript.Run(ctx, l.client, []string{fullKey}, value).Err()
	}, nil
}
