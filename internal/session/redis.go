package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-storefront/internal/redisx"
	"github.com/redis/go-redis/v9"
)

type RedisStore struct {
	RDB redis.Cmdable
}

func (s *RedisStore) key(token string) string { return fmt.Sprintf(redisx.KeySession, token) }

func (s *RedisStore) Load(ctx context.Context, token string) (Data, bool, error) {
	b, err := s.RDB.Get(ctx, s.key(token)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Data{}, false, nil
	}
	if err != nil {
		return Data{}, false, err
	}
	var d Data
	if err := json.Unmarshal(b, &d); err != nil {
		return Data{}, false, fmt.Errorf("decode session: %w", err)
	}
	return d, true, nil
}

func (s *RedisStore) Save(ctx context.Context, token string, d Data, ttl time.Duration) error {
	b, err := json.Marshal(d)
	if err != nil {
		return err
	}
	return s.RDB.Set(ctx, s.key(token), b, ttl).Err()
}

func (s *RedisStore) Delete(ctx context.Context, token string) error {
	return s.RDB.Del(ctx, s.key(token)).Err()
}
