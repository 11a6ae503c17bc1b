package pool

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"
)

var compareDeleteScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
else
    return 0
end
`)

// RedisStore implements Store on a single Redis instance.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore returns a store backed by client. The store owns the client
// and closes it on Close.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// TrySet implements Store.TrySet with SET NX PX.
func (s *RedisStore) TrySet(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if err := ValidateTTL(ttl); err != nil {
		return false, err
	}
	ok, err := s.client.SetNX(ctx, key, value, ttl).Result()
	if err == redis.Nil {
		return false, nil
	}
	return ok, err
}

// CompareDelete implements Store.CompareDelete with a server-side script so
// the comparison and the delete cannot interleave with another writer.
func (s *RedisStore) CompareDelete(ctx context.Context, key, value string) (bool, error) {
	n, err := compareDeleteScript.Run(ctx, s.client, []string{key}, value).Int64()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Ping implements Pinger.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close implements Store.Close.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
