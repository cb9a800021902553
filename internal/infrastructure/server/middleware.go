package server

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// authMiddleware validates JWT tokens. A valid token is only accepted while
// its subject is still the active user.
func (s *Server) authMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tokenString, err := bearerToken(c)
			if err != nil {
				return err
			}

			claims, err := s.deps.Auth.ValidateToken(tokenString)
			if err != nil {
				s.logger.LogSecurityEvent("invalid_token", "", c.RealIP(), map[string]interface{}{
					"error": err.Error(),
				})
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid token")
			}

			active := s.deps.Session.CurrentUser()
			if active == nil || active.ID != claims.UserID {
				s.logger.LogSecurityEvent("stale_session", claims.UserID, c.RealIP(), nil)
				return echo.NewHTTPError(http.StatusUnauthorized, "Session is no longer active")
			}

			// Set user claims in context
			c.Set("user", claims.UserID)
			c.Set("user_email", claims.Email)

			return next(c)
		}
	}
}

// bearerToken reads the token from the Authorization header, or from the
// access_token query parameter for clients such as EventSource that cannot
// set headers.
func bearerToken(c echo.Context) (string, error) {
	authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
	if authHeader == "" {
		if token := c.QueryParam("access_token"); token != "" {
			return token, nil
		}
		return "", echo.NewHTTPError(http.StatusUnauthorized, "Missing authorization header")
	}

	tokenString := strings.TrimPrefix(authHeader, "Bearer ")
	if tokenString == authHeader || tokenString == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "Invalid authorization header format")
	}
	return tokenString, nil
}
