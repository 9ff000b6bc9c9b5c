package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AccessClaims are the claims of the short-lived, stateless access token.
// Verified by signature and expiry only, never persisted.
type AccessClaims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// RefreshClaims are the claims of the refresh token. The signed string is
// also stored verbatim in the credential row; validity is decided by the row,
// the signature only binds the token to a user and device.
type RefreshClaims struct {
	UserID   string `json:"user_id"`
	DeviceID string `json:"device_id"`
	TokenID  string `json:"token_id"` // unique per issuance, makes every rotation produce a new secret
	jwt.RegisteredClaims
}

// TokenSigner issues and validates the HS256-signed token pair.
type TokenSigner struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// NewTokenSigner creates a signer with the given secret and token lifetimes.
func NewTokenSigner(secret string, accessTTL, refreshTTL time.Duration) *TokenSigner {
	return &TokenSigner{
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
	}
}

// AccessTTL returns the configured access token lifetime.
func (s *TokenSigner) AccessTTL() time.Duration { return s.accessTTL }

// RefreshTTL returns the configured refresh token lifetime.
func (s *TokenSigner) RefreshTTL() time.Duration { return s.refreshTTL }

// GenerateAccessToken creates a short-lived access token for (userID, role).
func (s *TokenSigner) GenerateAccessToken(userID, role string) (string, error) {
	now := time.Now()
	claims := &AccessClaims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// ValidateAccessToken validates an access token and returns its claims.
func (s *TokenSigner) ValidateAccessToken(tokenString string) (*AccessClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &AccessClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if claims, ok := token.Claims.(*AccessClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, errors.New("invalid token")
}

// GenerateRefreshToken creates a long-lived refresh token bound to a device.
func (s *TokenSigner) GenerateRefreshToken(userID, deviceID string) (string, error) {
	now := time.Now()
	claims := &RefreshClaims{
		UserID:   userID,
		DeviceID: deviceID,
		TokenID:  uuid.NewString(),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.refreshTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// ValidateRefreshToken checks the signature of a refresh token and returns
// its claims. Row-level validity (revocation, rotation) is the session
// service's concern.
func (s *TokenSigner) ValidateRefreshToken(tokenString string) (*RefreshClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &RefreshClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if claims, ok := token.Claims.(*RefreshClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, errors.New("invalid refresh token")
}
