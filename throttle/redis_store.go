package throttle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "sessionguard:lockout:"

// RedisStore keeps records in Redis so every instance of a multi-process
// host sees the same lockouts. Records expire with the key TTL.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

var _ RecordStore = (*RedisStore)(nil)

// NewRedisStore returns a store using client. An empty prefix selects the default.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(identifier string) string {
	return s.prefix + recordID(identifier)
}

func (s *RedisStore) Load(ctx context.Context, identifier string) (Record, bool, error) {
	data, err := s.client.Get(ctx, s.key(identifier)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("loading lockout record: %w", err)
	}
	rec, err := decodeRecord(data)
	if err != nil {
		return Record{}, false, err
	}
	return rec, true, nil
}

func (s *RedisStore) Save(ctx context.Context, r Record, ttl time.Duration) error {
	if ttl <= 0 {
		return s.Delete(ctx, r.Identifier)
	}
	data, err := encodeRecord(r)
	if err != nil {
		return fmt.Errorf("encoding lockout record: %w", err)
	}
	return s.client.Set(ctx, s.key(r.Identifier), data, ttl).Err()
}

func (s *RedisStore) Delete(ctx context.Context, identifier string) error {
	return s.client.Del(ctx, s.key(identifier)).Err()
}
