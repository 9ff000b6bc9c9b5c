package echo

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/taskhive/taskhive/domain"
	serrors "github.com/taskhive/taskhive/errors"
	"github.com/taskhive/taskhive/internal/auth"
	"github.com/taskhive/taskhive/internal/httputil"
	"github.com/taskhive/taskhive/services"
)

type fakeUserRepo struct {
	users map[string]*domain.User
}

func (f *fakeUserRepo) GetUserByID(_ context.Context, id string) (*domain.User, error) {
	if u, ok := f.users[id]; ok {
		return u, nil
	}
	return nil, serrors.ErrNotFound
}

func (f *fakeUserRepo) GetUserByEmail(_ context.Context, email string) (*domain.User, error) {
	for _, u := range f.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, serrors.ErrNotFound
}

func (f *fakeUserRepo) SearchUsers(_ context.Context, prefix string, limit int) ([]*domain.User, error) {
	var out []*domain.User
	for _, u := range f.users {
		if strings.HasPrefix(u.Email, prefix) && len(out) < limit {
			out = append(out, u)
		}
	}
	return out, nil
}

type fakeCredRepo struct {
	mu   sync.Mutex
	rows map[string]*domain.Credential
}

func (f *fakeCredRepo) key(userID, deviceID string) string { return userID + "/" + deviceID }

func (f *fakeCredRepo) Upsert(_ context.Context, cred *domain.Credential) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *cred
	f.rows[f.key(cred.UserID, cred.DeviceID)] = &cp
	return nil
}

func (f *fakeCredRepo) GetByUserDevice(_ context.Context, userID, deviceID string) (*domain.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if row, ok := f.rows[f.key(userID, deviceID)]; ok {
		cp := *row
		return &cp, nil
	}
	return nil, serrors.ErrNotFound
}

func (f *fakeCredRepo) GetByToken(_ context.Context, token string) (*domain.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, row := range f.rows {
		if row.RefreshToken == token {
			cp := *row
			return &cp, nil
		}
	}
	return nil, serrors.ErrNotFound
}

func (f *fakeCredRepo) Rotate(_ context.Context, userID, deviceID, currentToken, newToken string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[f.key(userID, deviceID)]
	if !ok || row.RefreshToken != currentToken || row.Revoked || row.Expired(time.Now().UTC()) {
		return serrors.ErrRotationConflict
	}
	row.RefreshToken = newToken
	row.ExpiresAt = expiresAt
	return nil
}

func (f *fakeCredRepo) Revoke(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, row := range f.rows {
		if row.RefreshToken == token {
			row.Revoked = true
		}
	}
	return nil
}

func (f *fakeCredRepo) DeleteStale(_ context.Context, before time.Time) (int64, error) {
	return 0, nil
}

func newTestAPI(t *testing.T) (*echo.Echo, *auth.TokenSigner) {
	t.Helper()

	hasher := auth.NewBcryptPasswordHasher(bcrypt.MinCost)
	hash, err := hasher.Hash("password123")
	require.NoError(t, err)

	users := &fakeUserRepo{users: map[string]*domain.User{
		"user-1":  {ID: "user-1", Email: "alice@example.com", PasswordHash: hash, Role: domain.RoleUser, IsActive: true},
		"admin-1": {ID: "admin-1", Email: "root@example.com", PasswordHash: hash, Role: domain.RoleAdmin, IsActive: true},
	}}
	creds := &fakeCredRepo{rows: make(map[string]*domain.Credential)}

	signer := auth.NewTokenSigner("api-test-secret", 15*time.Minute, 7*24*time.Hour)
	sessions := services.NewSessionService(users, creds, hasher, signer)

	api := NewSessionAPI(sessions, users, signer, nil, false)
	e := echo.New()
	api.RegisterRoutes(e)
	return e, signer
}

func doJSON(e *echo.Echo, method, path string, body interface{}, mutate func(*http.Request)) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = strings.NewReader(string(raw))
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if mutate != nil {
		mutate(req)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func loginAs(t *testing.T, e *echo.Echo, email, device string) services.TokenPair {
	t.Helper()
	rec := doJSON(e, http.MethodPost, "/auth/login", LoginRequest{Email: email, Password: "password123"}, func(req *http.Request) {
		req.Header.Set(DeviceIDHeader, device)
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var pair services.TokenPair
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pair))
	return pair
}

func cookieByName(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestLoginHandler(t *testing.T) {
	e, _ := newTestAPI(t)

	t.Run("success returns pair and sets cookies", func(t *testing.T) {
		rec := doJSON(e, http.MethodPost, "/auth/login", LoginRequest{Email: "alice@example.com", Password: "password123"}, func(req *http.Request) {
			req.Header.Set(DeviceIDHeader, "device-a")
		})
		require.Equal(t, http.StatusOK, rec.Code)

		var pair services.TokenPair
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pair))
		assert.NotEmpty(t, pair.AccessToken)
		assert.NotEmpty(t, pair.RefreshToken)

		access := cookieByName(rec, httputil.AccessTokenCookie)
		require.NotNil(t, access)
		assert.True(t, access.HttpOnly)
		refresh := cookieByName(rec, httputil.RefreshTokenCookie)
		require.NotNil(t, refresh)
		assert.Equal(t, pair.RefreshToken, refresh.Value)
	})

	t.Run("missing device header", func(t *testing.T) {
		rec := doJSON(e, http.MethodPost, "/auth/login", LoginRequest{Email: "alice@example.com", Password: "password123"}, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("bad password", func(t *testing.T) {
		rec := doJSON(e, http.MethodPost, "/auth/login", LoginRequest{Email: "alice@example.com", Password: "wrong"}, func(req *http.Request) {
			req.Header.Set(DeviceIDHeader, "device-a")
		})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestRefreshHandler(t *testing.T) {
	e, _ := newTestAPI(t)

	t.Run("rotates via cookie", func(t *testing.T) {
		pair := loginAs(t, e, "alice@example.com", "device-a")

		rec := doJSON(e, http.MethodPost, "/auth/refresh", nil, func(req *http.Request) {
			req.Header.Set(DeviceIDHeader, "device-a")
			req.AddCookie(&http.Cookie{Name: httputil.RefreshTokenCookie, Value: pair.RefreshToken})
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var rotated services.TokenPair
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rotated))
		assert.NotEqual(t, pair.RefreshToken, rotated.RefreshToken)
	})

	t.Run("stale token clears cookies", func(t *testing.T) {
		pair := loginAs(t, e, "alice@example.com", "device-b")
		// Rotate once so the original token goes stale.
		rec := doJSON(e, http.MethodPost, "/auth/refresh", nil, func(req *http.Request) {
			req.Header.Set(DeviceIDHeader, "device-b")
			req.AddCookie(&http.Cookie{Name: httputil.RefreshTokenCookie, Value: pair.RefreshToken})
		})
		require.Equal(t, http.StatusOK, rec.Code)

		rec = doJSON(e, http.MethodPost, "/auth/refresh", nil, func(req *http.Request) {
			req.Header.Set(DeviceIDHeader, "device-b")
			req.AddCookie(&http.Cookie{Name: httputil.RefreshTokenCookie, Value: pair.RefreshToken})
		})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)

		cleared := cookieByName(rec, httputil.RefreshTokenCookie)
		require.NotNil(t, cleared)
		assert.LessOrEqual(t, cleared.MaxAge, 0)
	})

	t.Run("missing token", func(t *testing.T) {
		rec := doJSON(e, http.MethodPost, "/auth/refresh", nil, func(req *http.Request) {
			req.Header.Set(DeviceIDHeader, "device-a")
		})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestLogoutHandler(t *testing.T) {
	e, _ := newTestAPI(t)

	t.Run("revokes the device session", func(t *testing.T) {
		pair := loginAs(t, e, "alice@example.com", "device-a")

		rec := doJSON(e, http.MethodPost, "/auth/logout", nil, func(req *http.Request) {
			req.Header.Set(DeviceIDHeader, "device-a")
			req.AddCookie(&http.Cookie{Name: httputil.RefreshTokenCookie, Value: pair.RefreshToken})
		})
		require.Equal(t, http.StatusOK, rec.Code)

		// The revoked token can no longer refresh.
		rec = doJSON(e, http.MethodPost, "/auth/refresh", nil, func(req *http.Request) {
			req.Header.Set(DeviceIDHeader, "device-a")
			req.AddCookie(&http.Cookie{Name: httputil.RefreshTokenCookie, Value: pair.RefreshToken})
		})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)

		// Logging out again for the same device is harmless.
		rec = doJSON(e, http.MethodPost, "/auth/logout", nil, func(req *http.Request) {
			req.Header.Set(DeviceIDHeader, "device-a")
			req.AddCookie(&http.Cookie{Name: httputil.RefreshTokenCookie, Value: pair.RefreshToken})
		})
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("missing device header", func(t *testing.T) {
		rec := doJSON(e, http.MethodPost, "/auth/logout", nil, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown token is rejected", func(t *testing.T) {
		rec := doJSON(e, http.MethodPost, "/auth/logout", nil, func(req *http.Request) {
			req.Header.Set(DeviceIDHeader, "device-a")
			req.AddCookie(&http.Cookie{Name: httputil.RefreshTokenCookie, Value: "token-that-matches-no-row"})
		})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)

		cleared := cookieByName(rec, httputil.RefreshTokenCookie)
		require.NotNil(t, cleared)
		assert.LessOrEqual(t, cleared.MaxAge, 0)
	})

	t.Run("wrong device is rejected and revokes nothing", func(t *testing.T) {
		pair := loginAs(t, e, "alice@example.com", "device-c")

		rec := doJSON(e, http.MethodPost, "/auth/logout", nil, func(req *http.Request) {
			req.Header.Set(DeviceIDHeader, "device-d")
			req.AddCookie(&http.Cookie{Name: httputil.RefreshTokenCookie, Value: pair.RefreshToken})
		})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)

		// The real device can still refresh.
		rec = doJSON(e, http.MethodPost, "/auth/refresh", nil, func(req *http.Request) {
			req.Header.Set(DeviceIDHeader, "device-c")
			req.AddCookie(&http.Cookie{Name: httputil.RefreshTokenCookie, Value: pair.RefreshToken})
		})
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestSearchUsersHandler(t *testing.T) {
	e, signer := newTestAPI(t)

	t.Run("anonymous is rejected", func(t *testing.T) {
		rec := doJSON(e, http.MethodGet, "/users?q=alice", nil, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("missing query parameter", func(t *testing.T) {
		token, err := signer.GenerateAccessToken("user-1", domain.RoleUser)
		require.NoError(t, err)

		rec := doJSON(e, http.MethodGet, "/users", nil, func(req *http.Request) {
			req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("matches by email prefix without leaking hashes", func(t *testing.T) {
		token, err := signer.GenerateAccessToken("user-1", domain.RoleUser)
		require.NoError(t, err)

		rec := doJSON(e, http.MethodGet, "/users?q=alice", nil, func(req *http.Request) {
			req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
		})
		require.Equal(t, http.StatusOK, rec.Code)

		var results []UserSummary
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &results))
		require.Len(t, results, 1)
		assert.Equal(t, "user-1", results[0].ID)
		assert.NotContains(t, rec.Body.String(), "password")
	})
}

func TestPublishEventHandler_Authz(t *testing.T) {
	e, signer := newTestAPI(t)

	t.Run("anonymous is rejected", func(t *testing.T) {
		rec := doJSON(e, http.MethodPost, "/events/chat", PublishEventRequest{UserID: "user-1", Event: "x"}, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("plain user is rejected", func(t *testing.T) {
		token, err := signer.GenerateAccessToken("user-1", domain.RoleUser)
		require.NoError(t, err)

		rec := doJSON(e, http.MethodPost, "/events/chat", PublishEventRequest{UserID: "user-1", Event: "x"}, func(req *http.Request) {
			req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
		})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("admin with unknown namespace gets 404", func(t *testing.T) {
		token, err := signer.GenerateAccessToken("admin-1", domain.RoleAdmin)
		require.NoError(t, err)

		rec := doJSON(e, http.MethodPost, "/events/nowhere", PublishEventRequest{UserID: "user-1", Event: "x"}, func(req *http.Request) {
			req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
		})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}
