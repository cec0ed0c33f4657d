package auth

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/casebook/internal/store"
	"github.com/casebook/pkg/models"
)

// UserStore is what the login handler reads
type UserStore interface {
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
}

// AuthHandlers contains the authentication handler methods
type AuthHandlers struct {
	tokenService *TokenService
	users        UserStore
}

// NewAuthHandlers creates a new authentication handlers instance
func NewAuthHandlers(tokenService *TokenService, users UserStore) *AuthHandlers {
	return &AuthHandlers{
		tokenService: tokenService,
		users:        users,
	}
}

// LoginRequest represents the login request body
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login exchanges a username and password for a bearer token
func (h *AuthHandlers) Login(c echo.Context) error {
	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	if req.Username == "" || req.Password == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "username and password are required")
	}

	user, err := h.users.GetUserByUsername(c.Request().Context(), req.Username)
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusUnauthorized, ErrInvalidCredentials.Error())
	}
	if err != nil {
		log.Error().Err(err).Msg("Failed to look up user for login")
		return echo.NewHTTPError(http.StatusInternalServerError, "Database error")
	}

	if !CheckPassword(user.PasswordHash, req.Password) {
		log.Info().Str("username", req.Username).Msg("Rejected login")
		return echo.NewHTTPError(http.StatusUnauthorized, ErrInvalidCredentials.Error())
	}

	token, err := h.tokenService.CreateToken(user)
	if err != nil {
		log.Error().Err(err).Int64("user_id", user.ID).Msg("Failed to create token")
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to create session")
	}

	return c.JSON(http.StatusOK, token)
}

// Me returns the authenticated user
func (h *AuthHandlers) Me(c echo.Context) error {
	return c.JSON(http.StatusOK, GetUser(c))
}
