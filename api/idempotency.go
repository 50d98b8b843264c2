package api

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisDeduper stores seen idempotency keys in redis so all API instances
// can suppress duplicate commands. The note id is stored as the key's value
// so a retried create can answer with the original id.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDeduper creates a deduper using the provided redis client and TTL.
func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl}
}

func (r *RedisDeduper) key(userID, key string) string {
	return fmt.Sprintf("idem:%s:%s", userID, key)
}

// Reserve records the key with the given note id if unseen. It returns the
// note id now associated with the key and whether this call recorded it.
func (r *RedisDeduper) Reserve(ctx context.Context, userID, key, noteID string) (string, bool, error) {
	added, err := r.client.SetNX(ctx, r.key(userID, key), noteID, r.ttl).Result()
	if err != nil {
		return "", false, err
	}
	if added {
		return noteID, true, nil
	}
	stored, err := r.client.Get(ctx, r.key(userID, key)).Result()
	if err != nil {
		return "", false, err
	}
	return stored, false, nil
}

// Release deletes a previously reserved key. It is used when the publish
// fails so the caller may retry the command with the same key.
func (r *RedisDeduper) Release(ctx context.Context, userID, key string) error {
	return r.client.Del(ctx, r.key(userID, key)).Err()
}
