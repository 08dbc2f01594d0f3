package concurrency

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

var (
	refreshScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`)
	releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)
)

// OwnerLease coordinates owner runs across processes using a Redis key per owner.
type OwnerLease struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewOwnerLease constructs a Redis-backed OwnerGuard.
func NewOwnerLease(client *redis.Client, ttl time.Duration, prefix string) *OwnerLease {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	if prefix == "" {
		prefix = "callqueue:owner"
	}
	return &OwnerLease{client: client, ttl: ttl, prefix: prefix}
}

func (l *OwnerLease) TryAcquire(ctx context.Context, ownerID string) (Lease, bool, error) {
	token := uuid.NewString()
	key := l.key(ownerID)
	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("owner lease acquire: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	return &redisLease{client: l.client, key: key, token: token, ttl: l.ttl}, true, nil
}

func (l *OwnerLease) key(ownerID string) string {
	return fmt.Sprintf("%s:%s:running", l.prefix, ownerID)
}

type redisLease struct {
	client *redis.Client
	key    string
	token  string
	ttl    time.Duration
}

// Refresh extends the lease; it fails with ErrLeaseLost once the key expired
// or was taken by another run.
func (r *redisLease) Refresh(ctx context.Context) error {
	res, err := refreshScript.Run(ctx, r.client, []string{r.key}, r.token, r.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("owner lease refresh: %w", err)
	}
	if res == 0 {
		return ErrLeaseLost
	}
	return nil
}

func (r *redisLease) Release(ctx context.Context) error {
	if _, err := releaseScript.Run(ctx, r.client, []string{r.key}, r.token).Int(); err != nil {
		return fmt.Errorf("owner lease release: %w", err)
	}
	return nil
}
