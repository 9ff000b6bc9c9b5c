package services

import (
	"context"
	"errors"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/taskhive/taskhive/domain"
	serrors "github.com/taskhive/taskhive/errors"
)

// PrincipalVerifier confirms that a user id presented during websocket
// registration belongs to a real, active user. Lookups are memoized with a
// short TTL so a burst of reconnects does not hammer the user store.
type PrincipalVerifier struct {
	userRepo domain.UserRepository
	cache    *ttlcache.Cache[string, *domain.User]
}

// NewPrincipalVerifier creates a verifier with the given memoization TTL.
func NewPrincipalVerifier(userRepo domain.UserRepository, ttl time.Duration) *PrincipalVerifier {
	cache := ttlcache.New(
		ttlcache.WithTTL[string, *domain.User](ttl),
		ttlcache.WithDisableTouchOnHit[string, *domain.User](),
	)
	go cache.Start()

	return &PrincipalVerifier{
		userRepo: userRepo,
		cache:    cache,
	}
}

// Verify returns the user for the id, or ErrUnauthorized when the id is
// unknown or the user is deactivated. Negative results are not cached, a
// freshly created user is visible immediately.
func (v *PrincipalVerifier) Verify(ctx context.Context, userID string) (*domain.User, error) {
	if item := v.cache.Get(userID); item != nil {
		return item.Value(), nil
	}

	user, err := v.userRepo.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, serrors.ErrNotFound) {
			return nil, serrors.ErrUnauthorized
		}
		return nil, err
	}
	if !user.IsActive {
		return nil, serrors.ErrUnauthorized
	}

	v.cache.Set(userID, user, ttlcache.DefaultTTL)
	return user, nil
}

// Stop halts the cache's expiry loop.
func (v *PrincipalVerifier) Stop() {
	v.cache.Stop()
}
