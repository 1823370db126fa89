package draft

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps drafts as JSON under "<prefix><documentID>" with a TTL, so
// abandoned drafts expire on their own.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore creates a Redis-based draft store. Prefix may be empty; a
// non-positive ttl keeps drafts until cleared.
func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "draft:"
	}
	if ttl < 0 {
		ttl = 0
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (r *RedisStore) key(documentID string) string {
	return r.prefix + documentID
}

func (r *RedisStore) Put(ctx context.Context, d Draft) error {
	b, err := json.Marshal(d)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.key(d.DocumentID), b, r.ttl).Err()
}

func (r *RedisStore) Get(ctx context.Context, documentID string) (*Draft, error) {
	b, err := r.client.Get(ctx, r.key(documentID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var d Draft
	if err := json.Unmarshal(b, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *RedisStore) Delete(ctx context.Context, documentID string) error {
	return r.client.Del(ctx, r.key(documentID)).Err()
}
