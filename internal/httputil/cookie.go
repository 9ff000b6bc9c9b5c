package httputil

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

const (
	AccessTokenCookie  = "access_token"
	RefreshTokenCookie = "refresh_token"
)

// SetSessionCookies writes the token pair as httpOnly cookies. Production
// adds Secure and strict same-site; development keeps Lax so a local
// frontend on another port still works.
func SetSessionCookies(c echo.Context, accessToken, refreshToken string, accessTTL, refreshTTL time.Duration, production bool) {
	c.SetCookie(sessionCookie(AccessTokenCookie, accessToken, accessTTL, production))
	c.SetCookie(sessionCookie(RefreshTokenCookie, refreshToken, refreshTTL, production))
}

// ClearSessionCookies expires both session cookies.
func ClearSessionCookies(c echo.Context, production bool) {
	c.SetCookie(sessionCookie(AccessTokenCookie, "", -time.Hour, production))
	c.SetCookie(sessionCookie(RefreshTokenCookie, "", -time.Hour, production))
}

func sessionCookie(name, value string, ttl time.Duration, production bool) *http.Cookie {
	sameSite := http.SameSiteLaxMode
	if production {
		sameSite = http.SameSiteStrictMode
	}
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Expires:  time.Now().Add(ttl),
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   production,
		SameSite: sameSite,
	}
}

// CookieValue reads a cookie, empty when absent.
func CookieValue(c echo.Context, name string) string {
	cookie, err := c.Cookie(name)
	if err != nil {
		return ""
	}
	return cookie.Value
}
