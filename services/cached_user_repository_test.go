package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/taskhive/taskhive/cache"
	"github.com/taskhive/taskhive/domain"
	serrors "github.com/taskhive/taskhive/errors"
	"github.com/taskhive/taskhive/store"
)

func TestCachedUserRepository(t *testing.T) {
	ctx := context.Background()
	user := &domain.User{ID: "user-1", Email: "alice@example.com", Role: domain.RoleUser, IsActive: true}

	t.Run("second lookup is served from the cache", func(t *testing.T) {
		inner := new(MockUserRepository)
		inner.On("GetUserByID", mock.Anything, "user-1").Return(user, nil).Once()

		repo := NewCachedUserRepository(inner, cache.New(store.NewMemoryStore(), time.Minute), cache.Policy{MinSearchLen: 3})

		first, err := repo.GetUserByID(ctx, "user-1")
		require.NoError(t, err)
		second, err := repo.GetUserByID(ctx, "user-1")
		require.NoError(t, err)

		assert.Equal(t, first.ID, second.ID)
		inner.AssertExpectations(t)
	})

	t.Run("errors are not cached", func(t *testing.T) {
		inner := new(MockUserRepository)
		inner.On("GetUserByEmail", mock.Anything, "ghost@example.com").Return(nil, serrors.ErrNotFound).Twice()

		repo := NewCachedUserRepository(inner, cache.New(store.NewMemoryStore(), time.Minute), cache.Policy{MinSearchLen: 3})

		_, err := repo.GetUserByEmail(ctx, "ghost@example.com")
		assert.ErrorIs(t, err, serrors.ErrNotFound)
		_, err = repo.GetUserByEmail(ctx, "ghost@example.com")
		assert.ErrorIs(t, err, serrors.ErrNotFound)
		inner.AssertExpectations(t)
	})

	t.Run("repeated search is served from the cache", func(t *testing.T) {
		inner := new(MockUserRepository)
		inner.On("SearchUsers", mock.Anything, "alice", 20).Return([]*domain.User{user}, nil).Once()

		repo := NewCachedUserRepository(inner, cache.New(store.NewMemoryStore(), time.Minute), cache.Policy{MinSearchLen: 3})

		first, err := repo.SearchUsers(ctx, "alice", 20)
		require.NoError(t, err)
		second, err := repo.SearchUsers(ctx, "alice", 20)
		require.NoError(t, err)

		require.Len(t, second, 1)
		assert.Equal(t, first[0].ID, second[0].ID)
		inner.AssertExpectations(t)
	})

	t.Run("short search prefixes bypass the cache", func(t *testing.T) {
		inner := new(MockUserRepository)
		inner.On("SearchUsers", mock.Anything, "al", 20).Return([]*domain.User{user}, nil).Twice()

		repo := NewCachedUserRepository(inner, cache.New(store.NewMemoryStore(), time.Minute), cache.Policy{MinSearchLen: 3})

		_, err := repo.SearchUsers(ctx, "al", 20)
		require.NoError(t, err)
		_, err = repo.SearchUsers(ctx, "al", 20)
		require.NoError(t, err)
		inner.AssertExpectations(t)
	})

	t.Run("id and email entries are independent", func(t *testing.T) {
		inner := new(MockUserRepository)
		inner.On("GetUserByID", mock.Anything, "user-1").Return(user, nil).Once()
		inner.On("GetUserByEmail", mock.Anything, "alice@example.com").Return(user, nil).Once()

		repo := NewCachedUserRepository(inner, cache.New(store.NewMemoryStore(), time.Minute), cache.Policy{MinSearchLen: 3})

		_, err := repo.GetUserByID(ctx, "user-1")
		require.NoError(t, err)
		_, err = repo.GetUserByEmail(ctx, "alice@example.com")
		require.NoError(t, err)
		inner.AssertExpectations(t)
	})
}
