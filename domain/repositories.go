package domain

import (
	"context"
	"time"
)

// CredentialRepository persists per-device refresh credentials.
type CredentialRepository interface {
	// Upsert creates the credential row for (UserID, DeviceID) or overwrites
	// its RefreshToken/ExpiresAt and clears Revoked. Used by login.
	Upsert(ctx context.Context, cred *Credential) error

	// GetByUserDevice returns the row for the pair, or ErrNotFound.
	GetByUserDevice(ctx context.Context, userID, deviceID string) (*Credential, error)

	// GetByToken returns the row currently holding the given refresh token,
	// or ErrNotFound.
	GetByToken(ctx context.Context, token string) (*Credential, error)

	// Rotate atomically replaces the refresh token for (userID, deviceID)
	// only if the stored token equals currentToken, the row is not revoked
	// and not yet expired. Returns ErrRotationConflict when no row matched.
	Rotate(ctx context.Context, userID, deviceID, currentToken, newToken string, expiresAt time.Time) error

	// Revoke marks the row holding token as revoked. The row is kept.
	Revoke(ctx context.Context, token string) error

	// DeleteStale physically removes revoked or expired rows older than
	// before. Called by the periodic sweeper only.
	DeleteStale(ctx context.Context, before time.Time) (int64, error)
}

// UserRepository is the slice of the user store the core needs: principal
// lookup for login and websocket registration, plus prefix search for the
// directory endpoint.
type UserRepository interface {
	GetUserByID(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)

	// SearchUsers returns active users whose email starts with prefix,
	// ordered by email, at most limit rows. An empty result is not an error.
	SearchUsers(ctx context.Context, prefix string, limit int) ([]*User, error)
}
