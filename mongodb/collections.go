package mongodb

import "go.mongodb.org/mongo-driver/v2/bson"

const (
	UsersCollection       = "users"         // For application users
	CredentialsCollection = "refresh_token" // For per-device session credentials
)

// NewObjectID generates a new MongoDB ObjectID as a string.
func NewObjectID() string {
	return bson.NewObjectID().Hex()
}
