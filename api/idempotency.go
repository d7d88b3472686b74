package api

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"taskmate-sync/domain"
)

const idempotencyPrefix = "boardsync:idem:"

// RedisDeduper remembers accepted idempotency keys per user for ttl, shared
// by every API instance.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDeduper creates a deduper over client.
func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl}
}

func idempotencyKey(userID, key string) string {
	return idempotencyPrefix + userID + ":" + key
}

// Claim records the idempotency key of each command and reports which were
// seen for the first time. The stored value names the command and its board
// so a duplicate can be traced in redis. On error the returned slice holds
// the claims made before the failure.
func (r *RedisDeduper) Claim(ctx context.Context, userID string, cmds []domain.Command) ([]bool, error) {
	if len(cmds) == 0 {
		return nil, nil
	}
	claims := make([]*redis.BoolCmd, len(cmds))
	_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, cmd := range cmds {
			claims[i] = pipe.SetNX(ctx, idempotencyKey(userID, cmd.IdempotencyKey), cmd.Type+"@"+cmd.BoardID(), r.ttl)
		}
		return nil
	})
	fresh := make([]bool, len(cmds))
	for i, c := range claims {
		if c == nil {
			break
		}
		fresh[i] = c.Err() == nil && c.Val()
	}
	return fresh, err
}

// Release forgets keys so their commands are accepted again.
func (r *RedisDeduper) Release(ctx context.Context, userID string, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = idempotencyKey(userID, k)
	}
	return r.client.Del(ctx, names...).Err()
}
