package store

import (
	"context"
	"time"
)

// Message is a single pub/sub delivery.
type Message struct {
	Channel string
	Payload []byte
}

// Subscription is a live pub/sub subscription. Close releases the
// underlying resources and closes the channel.
type Subscription interface {
	Channel() <-chan Message
	Close() error
}

// Store is the shared key-value store every server process coordinates
// through: plain values with TTL, pattern enumeration, sets for presence
// bookkeeping, and pub/sub for cross-process event replication.
//
// Get returns errors.ErrNotFound on a missing key. All other failures wrap
// errors.ErrStoreUnavailable; callers treat them as fail-fast.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error

	// ScanKeys enumerates keys matching pattern with a cursor-based scan,
	// never a blocking full-keyspace read.
	ScanKeys(ctx context.Context, pattern string) ([]string, error)
	// DelByPattern deletes all keys matching pattern. Zero matches is not
	// an error.
	DelByPattern(ctx context.Context, pattern string) error

	SAdd(ctx context.Context, key, member string) error
	SRem(ctx context.Context, key, member string) (int64, error)
	SMembers(ctx context.Context, key string) ([]string, error)
	// SRemAndPrune removes member from the set and, in the same atomic store
	// step, deletes the set key if it was left empty. Returns the remaining
	// cardinality. The atomicity matters across processes: a concurrent SAdd
	// can never land between the removal and the prune and be lost.
	SRemAndPrune(ctx context.Context, key, member string) (int64, error)

	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (Subscription, error)
}
