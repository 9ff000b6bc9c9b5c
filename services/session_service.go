package services

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/taskhive/taskhive/domain"
	serrors "github.com/taskhive/taskhive/errors"
	"github.com/taskhive/taskhive/internal/auth"
	"github.com/taskhive/taskhive/internal/metrics"
)

// TokenPair is what a successful login or refresh hands back: a short-lived
// access token and the device's new refresh secret.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// SessionService owns the per-device session lifecycle: credential issuance
// on login, rotation on refresh, revocation on logout. Each device of a user
// holds exactly one live credential row at a time.
type SessionService struct {
	userRepo domain.UserRepository
	credRepo domain.CredentialRepository
	hasher   auth.PasswordHasher
	signer   *auth.TokenSigner
}

// NewSessionService creates a new SessionService.
func NewSessionService(
	userRepo domain.UserRepository,
	credRepo domain.CredentialRepository,
	hasher auth.PasswordHasher,
	signer *auth.TokenSigner,
) *SessionService {
	return &SessionService{
		userRepo: userRepo,
		credRepo: credRepo,
		hasher:   hasher,
		signer:   signer,
	}
}

// Login verifies the password and issues a fresh token pair for the device.
// The device's credential row is overwritten, so logging in again after a
// logout clears the revoked flag. Unknown email and wrong password are
// indistinguishable to the caller.
func (s *SessionService) Login(ctx context.Context, email, password, deviceID string) (*TokenPair, error) {
	user, err := s.userRepo.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, serrors.ErrNotFound) {
			metrics.LoginFailureTotal.Inc()
			return nil, serrors.ErrUnauthorized
		}
		return nil, err
	}
	if !user.IsActive {
		metrics.LoginFailureTotal.Inc()
		return nil, serrors.ErrUnauthorized
	}
	if err := s.hasher.Verify(user.PasswordHash, password); err != nil {
		metrics.LoginFailureTotal.Inc()
		return nil, serrors.ErrUnauthorized
	}

	pair, refreshExpiry, err := s.issuePair(user, deviceID)
	if err != nil {
		return nil, err
	}

	cred := &domain.Credential{
		UserID:       user.ID,
		DeviceID:     deviceID,
		RefreshToken: pair.RefreshToken,
		IssuedAt:     time.Now().UTC(),
		ExpiresAt:    refreshExpiry,
		Revoked:      false,
	}
	if err := s.credRepo.Upsert(ctx, cred); err != nil {
		return nil, err
	}

	metrics.LoginSuccessTotal.Inc()
	log.Info().Str("userID", user.ID).Str("deviceID", deviceID).Msg("session established")
	return pair, nil
}

// Refresh rotates the device's refresh secret and returns a new token pair.
// The presented token must be the one currently stored for the device; a
// stale token (already rotated away, revoked, or expired) fails uniformly
// with ErrUnauthorized. Of two concurrent refreshes with the same token,
// exactly one wins.
func (s *SessionService) Refresh(ctx context.Context, presented, deviceID string) (*TokenPair, error) {
	claims, err := s.signer.ValidateRefreshToken(presented)
	if err != nil {
		return nil, serrors.ErrUnauthorized
	}
	if claims.DeviceID != deviceID {
		log.Warn().Str("userID", claims.UserID).Msg("refresh token presented from a different device")
		return nil, serrors.ErrUnauthorized
	}

	cred, err := s.credRepo.GetByUserDevice(ctx, claims.UserID, deviceID)
	if err != nil {
		if errors.Is(err, serrors.ErrNotFound) {
			return nil, serrors.ErrUnauthorized
		}
		return nil, err
	}
	switch {
	case cred.Revoked:
		return nil, serrors.ErrUnauthorized
	case cred.Expired(time.Now().UTC()):
		return nil, serrors.ErrUnauthorized
	case cred.RefreshToken != presented:
		// The secret was already rotated away. Either a replay of an old
		// token or two clients sharing one device id.
		log.Warn().Str("userID", claims.UserID).Str("deviceID", deviceID).Msg("stale refresh token presented")
		return nil, serrors.ErrUnauthorized
	}

	user, err := s.userRepo.GetUserByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, serrors.ErrNotFound) {
			return nil, serrors.ErrUnauthorized
		}
		return nil, err
	}
	if !user.IsActive {
		return nil, serrors.ErrUnauthorized
	}

	pair, refreshExpiry, err := s.issuePair(user, deviceID)
	if err != nil {
		return nil, err
	}

	if err := s.credRepo.Rotate(ctx, user.ID, deviceID, presented, pair.RefreshToken, refreshExpiry); err != nil {
		if errors.Is(err, serrors.ErrRotationConflict) {
			// A concurrent refresh won the race. The caller retries with the
			// winner's token or re-authenticates.
			metrics.RotationConflictsTotal.Inc()
			return nil, serrors.ErrRotationConflict
		}
		return nil, err
	}

	metrics.TokensRefreshedTotal.Inc()
	return pair, nil
}

// Logout revokes the presented refresh token. The token must match a stored
// credential row and that row must belong to the calling device; otherwise
// ErrUnauthorized. The row is kept, flagged, until the sweeper removes it,
// so a repeated logout for the same device still succeeds.
func (s *SessionService) Logout(ctx context.Context, presented, deviceID string) error {
	if presented == "" {
		return serrors.ErrUnauthorized
	}

	cred, err := s.credRepo.GetByToken(ctx, presented)
	if err != nil {
		if errors.Is(err, serrors.ErrNotFound) {
			return serrors.ErrUnauthorized
		}
		return err
	}
	if cred.DeviceID != deviceID {
		log.Warn().Str("userID", cred.UserID).Str("deviceID", deviceID).Msg("logout token bound to a different device")
		return serrors.ErrUnauthorized
	}

	if err := s.credRepo.Revoke(ctx, presented); err != nil {
		return err
	}
	metrics.SessionsRevokedTotal.Inc()
	return nil
}

func (s *SessionService) issuePair(user *domain.User, deviceID string) (*TokenPair, time.Time, error) {
	accessToken, err := s.signer.GenerateAccessToken(user.ID, user.Role)
	if err != nil {
		return nil, time.Time{}, err
	}
	refreshToken, err := s.signer.GenerateRefreshToken(user.ID, deviceID)
	if err != nil {
		return nil, time.Time{}, err
	}
	return &TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	}, time.Now().UTC().Add(s.signer.RefreshTTL()), nil
}
