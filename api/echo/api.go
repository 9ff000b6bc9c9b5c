package echo

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/taskhive/taskhive/domain"
	serrors "github.com/taskhive/taskhive/errors"
	"github.com/taskhive/taskhive/gateway"
	"github.com/taskhive/taskhive/internal/auth"
	"github.com/taskhive/taskhive/internal/auth/rbac"
	"github.com/taskhive/taskhive/internal/httputil"
	"github.com/taskhive/taskhive/middleware"
	"github.com/taskhive/taskhive/services"
)

// DeviceIDHeader identifies the client installation. Every session endpoint
// requires it; one credential row exists per (user, device) pair.
const DeviceIDHeader = "X-Device-Id"

// SessionAPI exposes the session lifecycle and websocket entry points.
type SessionAPI struct {
	sessions   *services.SessionService
	users      domain.UserRepository
	signer     *auth.TokenSigner
	gateways   []*gateway.Gateway
	production bool
}

// NewSessionAPI initializes the session API.
func NewSessionAPI(
	sessions *services.SessionService,
	users domain.UserRepository,
	signer *auth.TokenSigner,
	gateways []*gateway.Gateway,
	production bool,
) *SessionAPI {
	return &SessionAPI{
		sessions:   sessions,
		users:      users,
		signer:     signer,
		gateways:   gateways,
		production: production,
	}
}

// RegisterRoutes registers the session and websocket routes.
func (sa *SessionAPI) RegisterRoutes(e *echo.Echo) {
	e.POST("/auth/login", sa.LoginHandler)
	e.POST("/auth/refresh", sa.RefreshHandler)
	e.POST("/auth/logout", sa.LogoutHandler)

	for _, gw := range sa.gateways {
		e.GET("/ws/"+gw.Namespace(), gw.ServeWS)
	}

	authn := middleware.Authn(sa.signer)
	e.GET("/users", sa.SearchUsersHandler, authn)
	e.POST("/events/:namespace", sa.PublishEventHandler, authn)
}

// LoginRequest is the login request body.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginHandler verifies credentials and establishes a session for the
// calling device. The token pair is returned in the body and mirrored as
// httpOnly cookies.
func (sa *SessionAPI) LoginHandler(c echo.Context) error {
	deviceID := c.Request().Header.Get(DeviceIDHeader)
	if deviceID == "" {
		return c.JSON(http.StatusBadRequest, serrors.NewInvalidRequest("X-Device-Id header is required"))
	}

	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, serrors.NewInvalidRequest("malformed request body"))
	}
	if req.Email == "" || req.Password == "" {
		return c.JSON(http.StatusBadRequest, serrors.NewInvalidRequest("email and password are required"))
	}

	pair, err := sa.sessions.Login(c.Request().Context(), req.Email, req.Password, deviceID)
	if err != nil {
		if errors.Is(err, serrors.ErrUnauthorized) {
			return c.JSON(http.StatusUnauthorized, serrors.NewUnauthorized("invalid credentials"))
		}
		log.Error().Err(err).Msg("login failed")
		return c.JSON(http.StatusInternalServerError, serrors.NewServerError("login failed"))
	}

	httputil.SetSessionCookies(c, pair.AccessToken, pair.RefreshToken,
		sa.signer.AccessTTL(), sa.signer.RefreshTTL(), sa.production)
	return c.JSON(http.StatusOK, pair)
}

// RefreshHandler rotates the device's refresh token. The presented token
// comes from the cookie or, for non-browser clients, the request body.
func (sa *SessionAPI) RefreshHandler(c echo.Context) error {
	deviceID := c.Request().Header.Get(DeviceIDHeader)
	if deviceID == "" {
		return c.JSON(http.StatusBadRequest, serrors.NewInvalidRequest("X-Device-Id header is required"))
	}

	presented := sa.refreshTokenFromRequest(c)
	if presented == "" {
		return c.JSON(http.StatusUnauthorized, serrors.NewUnauthorized("missing refresh token"))
	}

	pair, err := sa.sessions.Refresh(c.Request().Context(), presented, deviceID)
	if err != nil {
		switch {
		case errors.Is(err, serrors.ErrRotationConflict):
			return c.JSON(http.StatusConflict, serrors.NewConflict("refresh already in flight, retry"))
		case errors.Is(err, serrors.ErrUnauthorized):
			httputil.ClearSessionCookies(c, sa.production)
			return c.JSON(http.StatusUnauthorized, serrors.NewUnauthorized("invalid refresh token"))
		default:
			log.Error().Err(err).Msg("refresh failed")
			return c.JSON(http.StatusInternalServerError, serrors.NewServerError("refresh failed"))
		}
	}

	httputil.SetSessionCookies(c, pair.AccessToken, pair.RefreshToken,
		sa.signer.AccessTTL(), sa.signer.RefreshTTL(), sa.production)
	return c.JSON(http.StatusOK, pair)
}

// LogoutHandler revokes the device's refresh token and clears the session
// cookies. A token matching no row, or one bound to another device, is
// rejected; the cookies are cleared either way since the client's copy is
// useless.
func (sa *SessionAPI) LogoutHandler(c echo.Context) error {
	deviceID := c.Request().Header.Get(DeviceIDHeader)
	if deviceID == "" {
		return c.JSON(http.StatusBadRequest, serrors.NewInvalidRequest("X-Device-Id header is required"))
	}

	presented := sa.refreshTokenFromRequest(c)

	if err := sa.sessions.Logout(c.Request().Context(), presented, deviceID); err != nil {
		httputil.ClearSessionCookies(c, sa.production)
		if errors.Is(err, serrors.ErrUnauthorized) {
			return c.JSON(http.StatusUnauthorized, serrors.NewUnauthorized("invalid refresh token"))
		}
		log.Error().Err(err).Msg("failed to revoke session on logout")
		return c.JSON(http.StatusInternalServerError, serrors.NewServerError("logout failed"))
	}

	httputil.ClearSessionCookies(c, sa.production)
	return c.JSON(http.StatusOK, echo.Map{})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (sa *SessionAPI) refreshTokenFromRequest(c echo.Context) string {
	if v := httputil.CookieValue(c, httputil.RefreshTokenCookie); v != "" {
		return v
	}
	var req refreshRequest
	if err := c.Bind(&req); err != nil {
		return ""
	}
	return req.RefreshToken
}

// UserSummary is the public slice of a user returned by the directory
// endpoint. The password hash never leaves the server.
type UserSummary struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

const searchResultLimit = 20

// SearchUsersHandler looks up users by email prefix. Any authenticated
// principal may search the directory.
func (sa *SessionAPI) SearchUsersHandler(c echo.Context) error {
	if _, ok := domain.PrincipalFromContext(c.Request().Context()); !ok {
		return c.JSON(http.StatusUnauthorized, serrors.NewUnauthorized("missing principal"))
	}

	prefix := c.QueryParam("q")
	if prefix == "" {
		return c.JSON(http.StatusBadRequest, serrors.NewInvalidRequest("q query parameter is required"))
	}

	users, err := sa.users.SearchUsers(c.Request().Context(), prefix, searchResultLimit)
	if err != nil {
		log.Error().Err(err).Msg("user search failed")
		return c.JSON(http.StatusInternalServerError, serrors.NewServerError("search failed"))
	}

	results := make([]UserSummary, 0, len(users))
	for _, u := range users {
		results = append(results, UserSummary{ID: u.ID, Email: u.Email, Role: u.Role})
	}
	return c.JSON(http.StatusOK, results)
}

// PublishEventRequest addresses one subscriber in a namespace.
type PublishEventRequest struct {
	UserID  string          `json:"user_id"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// PublishEventHandler lets backend collaborators push an event to all live
// connections of a user in the given namespace. Admins and leaders only.
func (sa *SessionAPI) PublishEventHandler(c echo.Context) error {
	principal, ok := domain.PrincipalFromContext(c.Request().Context())
	if !ok {
		return c.JSON(http.StatusUnauthorized, serrors.NewUnauthorized("missing principal"))
	}
	if err := rbac.CheckPermission(principal, false, domain.RoleAdmin, domain.RoleLeader); err != nil {
		return c.JSON(http.StatusForbidden, serrors.NewUnauthorized("insufficient role"))
	}

	namespace := c.Param("namespace")
	var gw *gateway.Gateway
	for _, g := range sa.gateways {
		if g.Namespace() == namespace {
			gw = g
			break
		}
	}
	if gw == nil {
		return c.JSON(http.StatusNotFound, serrors.NewNotFound("unknown namespace"))
	}

	var req PublishEventRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, serrors.NewInvalidRequest("malformed request body"))
	}
	if req.UserID == "" || req.Event == "" {
		return c.JSON(http.StatusBadRequest, serrors.NewInvalidRequest("user_id and event are required"))
	}

	if err := gw.Fanout().Send(c.Request().Context(), req.UserID, req.Event, req.Payload); err != nil {
		log.Error().Err(err).Str("namespace", namespace).Msg("event fan-out failed")
		return c.JSON(http.StatusInternalServerError, serrors.NewServerError("event delivery failed"))
	}

	return c.JSON(http.StatusOK, echo.Map{})
}
