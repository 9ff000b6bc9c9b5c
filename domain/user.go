package domain

import "time"

// User is the minimal principal the core depends on. The full profile
// (name, phone, avatar, ...) belongs to the CRUD collaborator.
type User struct {
	ID           string    `bson:"_id,omitempty"`
	Email        string    `bson:"email"`
	PasswordHash string    `bson:"password_hash"`
	Role         string    `bson:"role"`
	IsActive     bool      `bson:"is_active"`
	CreatedAt    time.Time `bson:"created_at"`
}
