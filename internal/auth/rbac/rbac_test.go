package rbac

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/taskhive/taskhive/domain"
	serrors "github.com/taskhive/taskhive/errors"
)

func TestCheckPermission(t *testing.T) {
	admin := &domain.Principal{UserID: "u1", Role: domain.RoleAdmin}
	user := &domain.Principal{UserID: "u2", Role: domain.RoleUser}

	t.Run("nil principal is unauthorized", func(t *testing.T) {
		assert.ErrorIs(t, CheckPermission(nil, true, domain.RoleAdmin), serrors.ErrUnauthorized)
	})

	t.Run("allowed role passes regardless of ownership", func(t *testing.T) {
		assert.NoError(t, CheckPermission(admin, false, domain.RoleAdmin))
	})

	t.Run("owner passes without an allowed role", func(t *testing.T) {
		assert.NoError(t, CheckPermission(user, true, domain.RoleAdmin))
	})

	t.Run("non-owner without an allowed role is rejected", func(t *testing.T) {
		assert.Error(t, CheckPermission(user, false, domain.RoleAdmin, domain.RoleLeader))
	})
}

func TestCheckPermissionForUser(t *testing.T) {
	user := &domain.Principal{UserID: "u2", Role: domain.RoleUser}

	assert.NoError(t, CheckPermissionForUser(user, "u2"), "own data")
	assert.Error(t, CheckPermissionForUser(user, "u3"), "someone else's data")
	assert.NoError(t, CheckPermissionForUser(user, "u3", domain.RoleUser), "role grants blanket access")
	assert.ErrorIs(t, CheckPermissionForUser(nil, "u2"), serrors.ErrUnauthorized)
}
