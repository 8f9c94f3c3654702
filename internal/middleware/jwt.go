package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/voxlink/voxlink/internal/auth"
)

// claimsContextKey is the echo context key for authenticated claims.
const claimsContextKey = "auth.claims"

// GetClaims extracts the authenticated claims from the request context,
// if present.
func GetClaims(c echo.Context) (*auth.Claims, bool) {
	v := c.Get(claimsContextKey)
	if v == nil {
		return nil, false
	}
	claims, ok := v.(*auth.Claims)
	return claims, ok
}

// JWT returns an echo middleware that enforces bearer-token
// authentication and attaches the verified claims to the context.
func JWT(j *auth.JWTManager) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			if header == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}

			token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer"))
			if token == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			claims, err := j.VerifyToken(token)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "unauthenticated")
			}

			c.Set(claimsContextKey, claims)
			return next(c)
		}
	}
}
