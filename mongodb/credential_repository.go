package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/taskhive/taskhive/domain"
	serrors "github.com/taskhive/taskhive/errors"
)

// CredentialRepository implements domain.CredentialRepository on MongoDB.
// One document per (user_id, device_id) pair, enforced by a unique compound
// index, so a device never accumulates more than one credential row.
type CredentialRepository struct {
	coll *mongo.Collection
}

// NewCredentialRepository creates the repository and ensures its indexes.
func NewCredentialRepository(ctx context.Context, db *mongo.Database) (domain.CredentialRepository, error) {
	repo := &CredentialRepository{
		coll: db.Collection(CredentialsCollection),
	}
	if err := repo.createIndexes(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to create credential indexes (might be due to existing compatible indexes)")
	}
	return repo, nil
}

func (r *CredentialRepository) createIndexes(ctx context.Context) error {
	indexModels := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "device_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "refresh_token", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetUnique(false),
		},
	}

	_, err := r.coll.Indexes().CreateMany(ctx, indexModels, options.CreateIndexes())
	if err != nil {
		log.Warn().Err(err).Msg("Error creating indexes for credentials collection (may already exist or options conflict)")
		return fmt.Errorf("failed to create indexes for credentials collection: %w", err)
	}
	log.Info().Msg("Indexes for credentials collection ensured.")
	return nil
}

// Upsert writes the credential for (user_id, device_id), replacing whatever
// token the pair held before. Login re-uses the device's row, so a revoked or
// stale credential is overwritten rather than duplicated.
func (r *CredentialRepository) Upsert(ctx context.Context, cred *domain.Credential) error {
	if cred.ID == "" {
		cred.ID = NewObjectID()
	}
	if cred.IssuedAt.IsZero() {
		cred.IssuedAt = time.Now().UTC()
	}

	filter := bson.M{"user_id": cred.UserID, "device_id": cred.DeviceID}
	update := bson.M{
		"$set": bson.M{
			"refresh_token": cred.RefreshToken,
			"issued_at":     cred.IssuedAt,
			"expires_at":    cred.ExpiresAt,
			"revoked":       cred.Revoked,
		},
		"$setOnInsert": bson.M{"_id": cred.ID},
	}
	_, err := r.coll.UpdateOne(ctx, filter, update, options.UpdateOne().SetUpsert(true))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			// Two concurrent logins for the same device raced on insert.
			return fmt.Errorf("%w: credential already exists for device", serrors.ErrConflict)
		}
		log.Error().Err(err).Str("userID", cred.UserID).Str("deviceID", cred.DeviceID).Msg("Error upserting credential")
		return err
	}
	return nil
}

// GetByUserDevice retrieves the credential row for a (user, device) pair.
func (r *CredentialRepository) GetByUserDevice(ctx context.Context, userID, deviceID string) (*domain.Credential, error) {
	var cred domain.Credential
	err := r.coll.FindOne(ctx, bson.M{"user_id": userID, "device_id": deviceID}).Decode(&cred)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, serrors.ErrNotFound
	}
	if err != nil {
		log.Error().Err(err).Str("userID", userID).Str("deviceID", deviceID).Msg("Error getting credential by user and device")
		return nil, err
	}
	return &cred, nil
}

// GetByToken retrieves the credential row holding the given token value,
// revoked or not. Callers decide what a revoked hit means.
func (r *CredentialRepository) GetByToken(ctx context.Context, token string) (*domain.Credential, error) {
	var cred domain.Credential
	err := r.coll.FindOne(ctx, bson.M{"refresh_token": token}).Decode(&cred)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, serrors.ErrNotFound
	}
	if err != nil {
		log.Error().Err(err).Msg("Error getting credential by token")
		return nil, err
	}
	return &cred, nil
}

// Rotate atomically swaps currentToken for newToken on the device's row. The
// filter requires the presented token to still be the live one, so of two
// concurrent refreshes exactly one wins; the loser gets ErrRotationConflict.
func (r *CredentialRepository) Rotate(ctx context.Context, userID, deviceID, currentToken, newToken string, expiresAt time.Time) error {
	now := time.Now().UTC()
	filter := bson.M{
		"user_id":       userID,
		"device_id":     deviceID,
		"refresh_token": currentToken,
		"revoked":       false,
		"expires_at":    bson.M{"$gt": now},
	}
	update := bson.M{
		"$set": bson.M{
			"refresh_token": newToken,
			"issued_at":     now,
			"expires_at":    expiresAt,
		},
	}

	err := r.coll.FindOneAndUpdate(ctx, filter, update).Err()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return serrors.ErrRotationConflict
	}
	if err != nil {
		log.Error().Err(err).Str("userID", userID).Str("deviceID", deviceID).Msg("Error rotating credential")
		return err
	}
	return nil
}

// Revoke flags the row holding the token. Revoking an already revoked or
// unknown token is not an error.
func (r *CredentialRepository) Revoke(ctx context.Context, token string) error {
	result, err := r.coll.UpdateOne(ctx, bson.M{"refresh_token": token}, bson.M{"$set": bson.M{"revoked": true}})
	if err != nil {
		log.Error().Err(err).Msg("Error revoking credential")
		return fmt.Errorf("failed to revoke credential: %w", err)
	}
	if result.MatchedCount == 0 {
		log.Warn().Msg("Credential not found to revoke, or already cleaned up.")
	}
	return nil
}

// DeleteStale removes rows that expired before the cutoff, revoked or not.
// Returns the number of rows removed.
func (r *CredentialRepository) DeleteStale(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.coll.DeleteMany(ctx, bson.M{"expires_at": bson.M{"$lte": before}})
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale credentials: %w", err)
	}
	return result.DeletedCount, nil
}

var _ domain.CredentialRepository = (*CredentialRepository)(nil)
