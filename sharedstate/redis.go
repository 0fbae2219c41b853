package sharedstate

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/grove/kv"
	"github.com/xraph/grove/kv/drivers/redisdriver"
)

var _ Store = (*Redis)(nil)

// DefaultRedisPrefix namespaces shared state keys.
const DefaultRedisPrefix = "courier:state:"

// casScript swaps KEYS[1] atomically.
// ARGV[1] = "1" when the key must be absent
// ARGV[2] = expected value
// ARGV[3] = new value
// ARGV[4] = ttl in milliseconds, 0 for none
var casScript = goredis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if ARGV[1] == '1' then
    if cur then return 0 end
else
    if not cur or cur ~= ARGV[2] then return 0 end
end
if tonumber(ARGV[4]) > 0 then
    redis.call('SET', KEYS[1], ARGV[3], 'PX', ARGV[4])
else
    redis.call('SET', KEYS[1], ARGV[3])
end
return 1
`)

// Redis is a Store shared by every process connected to the same server.
type Redis struct {
	rdb    goredis.UniversalClient
	prefix string
}

// NewRedis wraps a go-redis client. An empty prefix uses DefaultRedisPrefix.
func NewRedis(rdb goredis.UniversalClient, prefix string) *Redis {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &Redis{rdb: rdb, prefix: prefix}
}

// NewRedisFromKV shares the connection of a Grove KV store.
func NewRedisFromKV(store *kv.Store, prefix string) *Redis {
	return NewRedis(redisdriver.UnwrapClient(store), prefix)
}

func (r *Redis) key(k string) string { return r.prefix + k }

func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := r.rdb.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("courier/sharedstate: get %s: %w", key, err)
	}
	return b, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.rdb.Set(ctx, r.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("courier/sharedstate: set %s: %w", key, err)
	}
	return nil
}

func (r *Redis) CompareAndSwap(ctx context.Context, key string, old, next []byte, ttl time.Duration) (bool, error) {
	absent := "0"
	if old == nil {
		absent = "1"
	}
	n, err := casScript.Run(ctx, r.rdb, []string{r.key(key)},
		absent, string(old), string(next), strconv.FormatInt(ttl.Milliseconds(), 10),
	).Int()
	if err != nil {
		return false, fmt.Errorf("courier/sharedstate: cas %s: %w", key, err)
	}
	return n == 1, nil
}

func (r *Redis) Expire(ctx context.Context, key string, ttl time.Duration) error {
	var (
		ok  bool
		err error
	)
	if ttl > 0 {
		ok, err = r.rdb.PExpire(ctx, r.key(key), ttl).Result()
	} else {
		ok, err = r.rdb.Persist(ctx, r.key(key)).Result()
		if err == nil && !ok {
			// Persist reports false for keys without a ttl too.
			n, exErr := r.rdb.Exists(ctx, r.key(key)).Result()
			ok, err = n == 1, exErr
		}
	}
	if err != nil {
		return fmt.Errorf("courier/sharedstate: expire %s: %w", key, err)
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}
