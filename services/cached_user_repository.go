package services

import (
	"context"

	"github.com/taskhive/taskhive/cache"
	"github.com/taskhive/taskhive/domain"
)

// CachedUserRepository is a cache-aside decorator over a UserRepository.
// Principal lookups happen on every login, refresh and websocket
// registration, so they ride the shared store instead of hitting MongoDB
// each time. Entries expire by TTL; there is no explicit invalidation here
// because the core never mutates users.
type CachedUserRepository struct {
	inner  domain.UserRepository
	cache  *cache.Cache
	policy cache.Policy
}

// NewCachedUserRepository wraps inner with the given cache. The policy decides
// which search prefixes are worth caching.
func NewCachedUserRepository(inner domain.UserRepository, c *cache.Cache, policy cache.Policy) *CachedUserRepository {
	return &CachedUserRepository{inner: inner, cache: c, policy: policy}
}

func (r *CachedUserRepository) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	key := cache.BuildKey("users:by_id", map[string]interface{}{"id": id})

	var user domain.User
	if hit, err := r.cache.Get(ctx, key, &user); err == nil && hit {
		return &user, nil
	}

	fresh, err := r.inner.GetUserByID(ctx, id)
	if err != nil {
		return nil, err
	}
	// Best effort, a write failure only costs the next read a DB trip.
	_ = r.cache.Set(ctx, key, fresh, 0)
	return fresh, nil
}

func (r *CachedUserRepository) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	key := cache.BuildKey("users:by_email", map[string]interface{}{"email": email})

	var user domain.User
	if hit, err := r.cache.Get(ctx, key, &user); err == nil && hit {
		return &user, nil
	}

	fresh, err := r.inner.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	_ = r.cache.Set(ctx, key, fresh, 0)
	return fresh, nil
}

// SearchUsers caches prefix searches, except the short, highly variable ones
// the policy rules out. Those go straight to the source of truth so the key
// space stays bounded.
func (r *CachedUserRepository) SearchUsers(ctx context.Context, prefix string, limit int) ([]*domain.User, error) {
	if !r.policy.Cacheable(prefix) {
		return r.inner.SearchUsers(ctx, prefix, limit)
	}

	key := cache.BuildKey("users:search", map[string]interface{}{"q": prefix, "limit": limit})

	var users []*domain.User
	if hit, err := r.cache.Get(ctx, key, &users); err == nil && hit {
		return users, nil
	}

	fresh, err := r.inner.SearchUsers(ctx, prefix, limit)
	if err != nil {
		return nil, err
	}
	_ = r.cache.Set(ctx, key, fresh, 0)
	return fresh, nil
}

var _ domain.UserRepository = (*CachedUserRepository)(nil)
