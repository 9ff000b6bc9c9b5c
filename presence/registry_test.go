package presence

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskhive/taskhive/store"
)

func TestRegistry_RegisterRemove(t *testing.T) {
	ctx := context.Background()

	t.Run("register then remove leaves no residual keys", func(t *testing.T) {
		ms := store.NewMemoryStore()
		r := NewRegistry(ms, "chat")

		require.NoError(t, r.Register(ctx, "user-1", "conn-1"))

		reachable, err := r.IsReachable(ctx, "user-1")
		require.NoError(t, err)
		assert.True(t, reachable)

		require.NoError(t, r.Remove(ctx, "conn-1"))

		reachable, err = r.IsReachable(ctx, "user-1")
		require.NoError(t, err)
		assert.False(t, reachable)

		keys, err := ms.ScanKeys(ctx, "socket:chat:*")
		require.NoError(t, err)
		assert.Empty(t, keys, "both the set and the reverse index must be gone")
	})

	t.Run("multiple connections per subscriber", func(t *testing.T) {
		ms := store.NewMemoryStore()
		r := NewRegistry(ms, "chat")

		require.NoError(t, r.Register(ctx, "user-1", "conn-1"))
		require.NoError(t, r.Register(ctx, "user-1", "conn-2"))

		conns, err := r.Connections(ctx, "user-1")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"conn-1", "conn-2"}, conns)

		require.NoError(t, r.Remove(ctx, "conn-1"))

		conns, err = r.Connections(ctx, "user-1")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"conn-2"}, conns)

		reachable, err := r.IsReachable(ctx, "user-1")
		require.NoError(t, err)
		assert.True(t, reachable, "one connection remains")
	})

	t.Run("removing an unknown connection is a no-op", func(t *testing.T) {
		r := NewRegistry(store.NewMemoryStore(), "chat")
		assert.NoError(t, r.Remove(ctx, "never-registered"))
	})

	t.Run("namespaces are isolated", func(t *testing.T) {
		ms := store.NewMemoryStore()
		chat := NewRegistry(ms, "chat")
		notif := NewRegistry(ms, "notifications")

		require.NoError(t, chat.Register(ctx, "user-1", "conn-1"))

		reachable, err := notif.IsReachable(ctx, "user-1")
		require.NoError(t, err)
		assert.False(t, reachable)
	})

	t.Run("unknown subscriber yields empty connections", func(t *testing.T) {
		r := NewRegistry(store.NewMemoryStore(), "chat")
		conns, err := r.Connections(ctx, "ghost")
		require.NoError(t, err)
		assert.Empty(t, conns)
	})
}
