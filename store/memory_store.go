package store

import (
	"context"
	"path"
	"sync"
	"time"

	serrors "github.com/taskhive/taskhive/errors"
)

// MemoryStore is an in-process Store used by tests and single-node
// development runs. Pattern matching follows glob syntax, which covers the
// prefix patterns the cache and presence layers use.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]memoryValue
	sets   map[string]map[string]struct{}

	subMu sync.RWMutex
	subs  map[string][]*memorySubscription
}

type memoryValue struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values: make(map[string]memoryValue),
		sets:   make(map[string]map[string]struct{}),
		subs:   make(map[string][]*memorySubscription),
	}
}

func (v memoryValue) expired(now time.Time) bool {
	return !v.expiresAt.IsZero() && v.expiresAt.Before(now)
}

func (m *MemoryStore) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.values[key]
	if !ok {
		return "", serrors.ErrNotFound
	}
	if v.expired(time.Now()) {
		delete(m.values, key)
		return "", serrors.ErrNotFound
	}
	return v.value, nil
}

func (m *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}
	m.values[key] = memoryValue{value: value, expiresAt: expiresAt}
	return nil
}

func (m *MemoryStore) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, key := range keys {
		delete(m.values, key)
		delete(m.sets, key)
	}
	return nil
}

func (m *MemoryStore) ScanKeys(_ context.Context, pattern string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := time.Now()
	var keys []string
	for key, v := range m.values {
		if v.expired(now) {
			continue
		}
		if ok, _ := path.Match(pattern, key); ok {
			keys = append(keys, key)
		}
	}
	for key := range m.sets {
		if ok, _ := path.Match(pattern, key); ok {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (m *MemoryStore) DelByPattern(ctx context.Context, pattern string) error {
	keys, err := m.ScanKeys(ctx, pattern)
	if err != nil {
		return err
	}
	return m.Del(ctx, keys...)
}

func (m *MemoryStore) SAdd(_ context.Context, key, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	set, ok := m.sets[key]
	if !ok {
		set = make(map[string]struct{})
		m.sets[key] = set
	}
	set[member] = struct{}{}
	return nil
}

func (m *MemoryStore) SRem(_ context.Context, key, member string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	set, ok := m.sets[key]
	if !ok {
		return 0, nil
	}
	if _, exists := set[member]; !exists {
		return 0, nil
	}
	delete(set, member)
	if len(set) == 0 {
		delete(m.sets, key)
	}
	return 1, nil
}

func (m *MemoryStore) SRemAndPrune(_ context.Context, key, member string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	set, ok := m.sets[key]
	if !ok {
		return 0, nil
	}
	delete(set, member)
	if len(set) == 0 {
		delete(m.sets, key)
	}
	return int64(len(set)), nil
}

func (m *MemoryStore) SMembers(_ context.Context, key string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	set, ok := m.sets[key]
	if !ok {
		return nil, nil
	}
	members := make([]string, 0, len(set))
	for member := range set {
		members = append(members, member)
	}
	return members, nil
}

type memorySubscription struct {
	store   *MemoryStore
	channel string
	out     chan Message
	once    sync.Once
}

func (s *memorySubscription) Channel() <-chan Message { return s.out }

func (s *memorySubscription) Close() error {
	s.once.Do(func() {
		s.store.subMu.Lock()
		subs := s.store.subs[s.channel]
		for i, sub := range subs {
			if sub == s {
				s.store.subs[s.channel] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		s.store.subMu.Unlock()
		close(s.out)
	})
	return nil
}

func (m *MemoryStore) Publish(_ context.Context, channel string, payload []byte) error {
	m.subMu.RLock()
	defer m.subMu.RUnlock()

	for _, sub := range m.subs[channel] {
		msg := Message{Channel: channel, Payload: append([]byte(nil), payload...)}
		select {
		case sub.out <- msg:
		default:
			// Slow subscriber, drop. Fan-out is fire-and-forget.
		}
	}
	return nil
}

func (m *MemoryStore) Subscribe(_ context.Context, channel string) (Subscription, error) {
	sub := &memorySubscription{
		store:   m,
		channel: channel,
		out:     make(chan Message, 64),
	}
	m.subMu.Lock()
	m.subs[channel] = append(m.subs[channel], sub)
	m.subMu.Unlock()
	return sub, nil
}

var _ Store = (*MemoryStore)(nil)
