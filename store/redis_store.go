package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	serrors "github.com/taskhive/taskhive/errors"
)

const scanBatchSize = 100

// RedisStore implements the Store interface using Redis.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new [RedisStore] instance.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func wrapErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", serrors.ErrStoreUnavailable, op, err)
}

func (r *RedisStore) Get(ctx context.Context, key string) (string, error) {
	val, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", serrors.ErrNotFound
	}
	if err != nil {
		return "", wrapErr("get", err)
	}
	return val, nil
}

func (r *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return wrapErr("set", err)
	}
	return nil
}

func (r *RedisStore) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return wrapErr("del", err)
	}
	return nil
}

// ScanKeys enumerates keys matching pattern using SCAN, batch by batch.
func (r *RedisStore) ScanKeys(ctx context.Context, pattern string) ([]string, error) {
	var (
		keys   []string
		cursor uint64
	)
	for {
		batch, next, err := r.client.Scan(ctx, cursor, pattern, scanBatchSize).Result()
		if err != nil {
			return nil, wrapErr("scan", err)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return keys, nil
}

func (r *RedisStore) DelByPattern(ctx context.Context, pattern string) error {
	keys, err := r.ScanKeys(ctx, pattern)
	if err != nil {
		return err
	}
	return r.Del(ctx, keys...)
}

func (r *RedisStore) SAdd(ctx context.Context, key, member string) error {
	if err := r.client.SAdd(ctx, key, member).Err(); err != nil {
		return wrapErr("sadd", err)
	}
	return nil
}

func (r *RedisStore) SRem(ctx context.Context, key, member string) (int64, error) {
	removed, err := r.client.SRem(ctx, key, member).Result()
	if err != nil {
		return 0, wrapErr("srem", err)
	}
	return removed, nil
}

// sremAndPruneScript removes the member and deletes the set when it empties,
// as a single server-side step.
var sremAndPruneScript = redis.NewScript(`
redis.call("SREM", KEYS[1], ARGV[1])
local n = redis.call("SCARD", KEYS[1])
if n == 0 then
	redis.call("DEL", KEYS[1])
end
return n`)

func (r *RedisStore) SRemAndPrune(ctx context.Context, key, member string) (int64, error) {
	remaining, err := sremAndPruneScript.Run(ctx, r.client, []string{key}, member).Int64()
	if err != nil {
		return 0, wrapErr("srem-prune", err)
	}
	return remaining, nil
}

func (r *RedisStore) SMembers(ctx context.Context, key string) ([]string, error) {
	members, err := r.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, wrapErr("smembers", err)
	}
	return members, nil
}

func (r *RedisStore) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := r.client.Publish(ctx, channel, payload).Err(); err != nil {
		return wrapErr("publish", err)
	}
	return nil
}

// redisSubscription adapts *redis.PubSub to the Subscription interface.
type redisSubscription struct {
	pubsub *redis.PubSub
	out    chan Message
	done   chan struct{}
}

func (s *redisSubscription) Channel() <-chan Message { return s.out }

func (s *redisSubscription) Close() error {
	close(s.done)
	return s.pubsub.Close()
}

func (r *RedisStore) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	pubsub := r.client.Subscribe(ctx, channel)
	// Force the subscription to be established before returning.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, wrapErr("subscribe", err)
	}

	sub := &redisSubscription{
		pubsub: pubsub,
		out:    make(chan Message, 64),
		done:   make(chan struct{}),
	}

	go func() {
		defer close(sub.out)
		in := pubsub.Channel()
		for {
			select {
			case msg, ok := <-in:
				if !ok {
					return
				}
				select {
				case sub.out <- Message{Channel: msg.Channel, Payload: []byte(msg.Payload)}:
				case <-sub.done:
					return
				}
			case <-sub.done:
				return
			}
		}
	}()

	return sub, nil
}

var _ Store = (*RedisStore)(nil)
