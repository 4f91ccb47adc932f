package billing

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduper remembers that a notification went out so repeats inside the
// TTL are suppressed. Once must be atomic: exactly one caller wins a
// given key.
type Deduper interface {
	// Once claims key for ttl. It reports true when this caller won
	// the claim and false when somebody already holds it.
	Once(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Release drops a claim so a failed send can retry before the TTL
	// runs out.
	Release(ctx context.Context, key string) error
}

// RedisDeduper implements Deduper on a shared Redis instance so
// concurrent workers cannot double-send.
type RedisDeduper struct {
	client redis.UniversalClient
}

// NewRedisDeduper wraps the given client. Panics on nil since that is
// a wiring error.
func NewRedisDeduper(client redis.UniversalClient) *RedisDeduper {
	if client == nil {
		panic("billing: redis client is required")
	}
	return &RedisDeduper{client: client}
}

func (d *RedisDeduper) Once(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return d.client.SetNX(ctx, key, "1", ttl).Result()
}

func (d *RedisDeduper) Release(ctx context.Context, key string) error {
	return d.client.Del(ctx, key).Err()
}

// MemoryDeduper is a single-process Deduper for tests and development
// setups without Redis.
type MemoryDeduper struct {
	mu   sync.Mutex
	keys map[string]time.Time
	now  func() time.Time
}

func NewMemoryDeduper() *MemoryDeduper {
	return &MemoryDeduper{
		keys: make(map[string]time.Time),
		now:  time.Now,
	}
}

func (d *MemoryDeduper) Once(_ context.Context, key string, ttl time.Duration) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if expiry, held := d.keys[key]; held && now.Before(expiry) {
		return false, nil
	}
	d.keys[key] = now.Add(ttl)
	return true, nil
}

func (d *MemoryDeduper) Release(_ context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.keys, key)
	return nil
}
