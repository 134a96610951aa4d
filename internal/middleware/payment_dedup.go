package middleware

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ConfirmationDeduper tracks gateway settlement references so a replayed
// payment confirmation is dropped before it reaches the wallet.
type ConfirmationDeduper interface {
	Seen(ctx context.Context, reference string) (bool, error)
}

type redisConfirmationDeduper struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func (d *redisConfirmationDeduper) Seen(ctx context.Context, reference string) (bool, error) {
	key := d.prefix + ":" + reference
	ok, err := d.client.SetNX(ctx, key, "1", d.ttl).Result()
	if err != nil {
		return false, err
	}
	// false => already exists => duplicate
	return !ok, nil
}

type memoryConfirmationDeduper struct {
	mu     sync.Mutex
	seen   map[string]time.Time
	ttl    time.Duration
	nextGC time.Time
}

func newMemoryConfirmationDeduper(ttl time.Duration) *memoryConfirmationDeduper {
	now := time.Now()
	return &memoryConfirmationDeduper{
		seen:   make(map[string]time.Time),
		ttl:    ttl,
		nextGC: now.Add(ttl),
	}
}

func (d *memoryConfirmationDeduper) Seen(_ context.Context, reference string) (bool, error) {
	now := time.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	if exp, ok := d.seen[reference]; ok && exp.After(now) {
		return true, nil
	}

	d.seen[reference] = now.Add(d.ttl)
	if now.After(d.nextGC) {
		for ref, exp := range d.seen {
			if exp.Before(now) {
				delete(d.seen, ref)
			}
		}
		d.nextGC = now.Add(d.ttl)
	}

	return false, nil
}

// NewConfirmationDeduper builds a Redis deduper and falls back to
// in-memory on failure. The Redis variant survives restarts; the memory
// one is only a best-effort shield, the wallet's reference check is the
// real guarantee.
func NewConfirmationDeduper(addr, pass string, db int, ttl time.Duration) (ConfirmationDeduper, error) {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if addr == "" {
		return newMemoryConfirmationDeduper(ttl), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: pass,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return newMemoryConfirmationDeduper(ttl), err
	}

	return &redisConfirmationDeduper{
		client: client,
		prefix: "pay:confirm",
		ttl:    ttl,
	}, nil
}
