package redisx

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Dedup records processed event ids under one scope, e.g. "webhook" or "receipts".
type Dedup struct {
	RDB   redis.Cmdable
	Scope string
	TTL   time.Duration
}

func (d *Dedup) key(id string) string { return fmt.Sprintf(KeyDedup, d.Scope, id) }

func (d *Dedup) Seen(ctx context.Context, id string) (bool, error) {
	return Exists(ctx, d.RDB, d.key(id))
}

func (d *Dedup) Mark(ctx context.Context, id string) error {
	ttl := d.TTL
	if ttl == 0 {
		ttl = TTLDedup
	}
	return d.RDB.Set(ctx, d.key(id), "1", ttl).Err()
}

// Claim marks id and reports whether this caller was first.
func (d *Dedup) Claim(ctx context.Context, id string) (bool, error) {
	ttl := d.TTL
	if ttl == 0 {
		ttl = TTLDedup
	}
	return d.RDB.SetNX(ctx, d.key(id), "1", ttl).Result()
}

// Release forgets id so a failed attempt can be retried.
func (d *Dedup) Release(ctx context.Context, id string) error {
	return d.RDB.Del(ctx, d.key(id)).Err()
}
