package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/taskhive/taskhive/domain"
	serrors "github.com/taskhive/taskhive/errors"
	"github.com/taskhive/taskhive/internal/auth"
	"github.com/taskhive/taskhive/internal/httputil"
)

// Authn validates the access token, from the session cookie or an
// Authorization bearer header, and installs the principal into the request
// context. The token is stateless, only signature and expiry are checked.
func Authn(signer *auth.TokenSigner) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token := accessTokenFromRequest(c)
			if token == "" {
				return c.JSON(http.StatusUnauthorized, serrors.NewUnauthorized("missing access token"))
			}

			claims, err := signer.ValidateAccessToken(token)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, serrors.NewUnauthorized("invalid or expired access token"))
			}

			principal := &domain.Principal{
				UserID: claims.UserID,
				Role:   claims.Role,
			}
			ctx := domain.ContextWithPrincipal(c.Request().Context(), principal)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

func accessTokenFromRequest(c echo.Context) string {
	if v := httputil.CookieValue(c, httputil.AccessTokenCookie); v != "" {
		return v
	}
	authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	return ""
}
