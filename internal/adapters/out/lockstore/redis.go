package lockstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/bnema/flotilla/internal/boundaries/out"
	"github.com/bnema/flotilla/internal/domain"
)

var _ out.LockStore = (*RedisStore)(nil)

// DefaultPrefix namespaces lock keys in a shared redis.
const DefaultPrefix = "flotilla:"

// Renew and release only touch the key while it still carries our token.
var (
	renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)
)

// RedisStore is a LockStore shared by every host pointing at the same redis.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) Acquire(ctx context.Context, key, holder string, ttl time.Duration) (domain.LockRecord, error) {
	rec := domain.LockRecord{Key: key, LockID: uuid.NewString(), Holder: holder, TTL: ttl}
	ok, err := s.client.SetNX(ctx, s.prefix+key, rec.LockID, ttl).Result()
	if err != nil {
		return domain.LockRecord{}, fmt.Errorf("acquire %s: %w", key, err)
	}
	if !ok {
		return domain.LockRecord{}, domain.ErrLockNotAcquired
	}
	return rec, nil
}

func (s *RedisStore) Renew(ctx context.Context, rec domain.LockRecord) error {
	n, err := renewScript.Run(ctx, s.client, []string{s.prefix + rec.Key}, rec.LockID, rec.TTL.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("renew %s: %w", rec.Key, err)
	}
	if n == 0 {
		return domain.ErrLockLost
	}
	return nil
}

func (s *RedisStore) Release(ctx context.Context, rec domain.LockRecord) error {
	n, err := releaseScript.Run(ctx, s.client, []string{s.prefix + rec.Key}, rec.LockID).Int()
	if err != nil {
		return fmt.Errorf("release %s: %w", rec.Key, err)
	}
	if n == 0 {
		return domain.ErrLockLost
	}
	return nil
}
