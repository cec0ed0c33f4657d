package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/casebook/pkg/models"
)

// ContextKey represents keys for context values
type ContextKey string

// UserContextKey holds the authenticated *models.User
const UserContextKey ContextKey = "user"

// UserLookup resolves the user a token was issued to
type UserLookup interface {
	GetUser(ctx context.Context, id int64) (*models.User, error)
}

// RequireAuth rejects requests without a valid bearer token and stores the
// token's user in the echo context.
func RequireAuth(tokenService *TokenService, users UserLookup) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "Authorization header required")
			}

			tokenParts := strings.Split(authHeader, " ")
			if len(tokenParts) != 2 || tokenParts[0] != "Bearer" {
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid authorization header format")
			}

			claims, err := tokenService.ValidateToken(tokenParts[1])
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid or expired token")
			}

			user, err := users.GetUser(c.Request().Context(), claims.UserID)
			if err != nil {
				log.Debug().Err(err).Int64("user_id", claims.UserID).Msg("Token user no longer resolves")
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid or expired token")
			}

			c.Set(string(UserContextKey), user)
			return next(c)
		}
	}
}

// RequireAdminMiddleware only lets administrators through
func RequireAdminMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if err := RequireAdmin(GetUser(c)); err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "Administrator access required")
			}
			return next(c)
		}
	}
}

// GetUser returns the authenticated user, or nil outside RequireAuth
func GetUser(c echo.Context) *models.User {
	user, _ := c.Get(string(UserContextKey)).(*models.User)
	return user
}
