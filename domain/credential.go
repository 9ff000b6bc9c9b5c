package domain

import "time"

// Credential binds a (user, device) pair to its current refresh secret and
// validity window. At most one row exists per pair; login overwrites it,
// refresh rotates the secret in place, logout flips Revoked but keeps the row
// for audit. Physical deletion happens only through the stale sweeper.
type Credential struct {
	ID           string    `bson:"_id,omitempty"`
	UserID       string    `bson:"user_id"`
	DeviceID     string    `bson:"device_id"`
	RefreshToken string    `bson:"refresh_token"`
	IssuedAt     time.Time `bson:"issued_at"`
	ExpiresAt    time.Time `bson:"expires_at"`
	Revoked      bool      `bson:"revoked"`
}

// Expired reports whether the credential's validity window has passed.
// EXPIRED is derived at read time, never stored.
func (c *Credential) Expired(now time.Time) bool {
	return c.ExpiresAt.Before(now)
}
