package rbac

import (
	"github.com/taskhive/taskhive/domain"
	serrors "github.com/taskhive/taskhive/errors"
)

// CheckPermission is the explicit capability check every protected operation
// calls at its start: the principal passes when its role is in allowedRoles,
// or when it operates on data it owns.
func CheckPermission(p *domain.Principal, isOwner bool, allowedRoles ...string) error {
	if p == nil {
		return serrors.ErrUnauthorized
	}
	for _, role := range allowedRoles {
		if p.Role == role {
			return nil
		}
	}
	if !isOwner {
		return serrors.ErrConflict
	}
	return nil
}

// CheckPermissionForUser is the ownership-by-id variant: the principal may
// act on targetUserID when it is their own id, unless their role grants
// blanket access.
func CheckPermissionForUser(p *domain.Principal, targetUserID string, allowedRoles ...string) error {
	if p == nil {
		return serrors.ErrUnauthorized
	}
	return CheckPermission(p, p.UserID == targetUserID, allowedRoles...)
}
