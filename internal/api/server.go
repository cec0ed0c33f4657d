package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"

	"github.com/casebook/internal/api/auth"
	"github.com/casebook/internal/audit"
	"github.com/casebook/internal/exchange"
	"github.com/casebook/internal/store"
)

// Deps are the collaborators the API server is built from
type Deps struct {
	Store       store.Store
	Exchanges   *exchange.Service
	Tokens      *auth.TokenService
	CORSOrigins []string
}

// Server represents the API server
type Server struct {
	echo      *echo.Echo
	port      int
	store     store.Store
	exchanges *exchange.Service
	audit     *audit.Recorder
	tokens    *auth.TokenService
}

// NewServer creates a new API server
func NewServer(port int, deps Deps) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogRemoteIP: true,
		LogError:    true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			evt := log.Info()
			if v.Error != nil || v.Status >= http.StatusInternalServerError {
				evt = log.Warn().Err(v.Error)
			}
			evt.Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("remote_ip", v.RemoteIP).
				Msg("request")
			return nil
		},
	}))
	e.Use(middleware.Recover())
	if len(deps.CORSOrigins) > 0 {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{AllowOrigins: deps.CORSOrigins}))
	} else {
		e.Use(middleware.CORS())
	}

	server := &Server{
		echo:      e,
		port:      port,
		store:     deps.Store,
		exchanges: deps.Exchanges,
		audit:     audit.NewRecorder(deps.Store),
		tokens:    deps.Tokens,
	}

	// Setup routes
	server.setupRoutes()

	return server
}

// setupRoutes configures all API endpoints
func (s *Server) setupRoutes() {
	s.echo.GET("/health", s.health)

	// API v1 group
	v1 := s.echo.Group("/api/v1")

	authHandlers := auth.NewAuthHandlers(s.tokens, s.store)
	v1.POST("/auth/login", authHandlers.Login)

	protected := v1.Group("", auth.RequireAuth(s.tokens, s.store))
	protected.GET("/auth/me", authHandlers.Me)

	// Projects
	protected.POST("/projects", s.createProject)
	protected.GET("/projects", s.listProjects)
	protected.GET("/projects/:id", s.getProject)
	protected.GET("/projects/:id/chatbots", s.listChatbots)

	// Chatbots
	protected.POST("/chatbots", s.createChatbot)
	protected.GET("/chatbots/:id", s.getChatbot)
	protected.PUT("/chatbots/:id", s.updateChatbot)

	// Exchanges
	protected.POST("/aichat", s.createExchange)
	protected.GET("/aichat/:id", s.getExchange)
	protected.PUT("/aichat/:id", s.continueExchange)
	protected.POST("/aichat/:id/cancel", s.cancelExchange)
	protected.GET("/aichat/project/:projectid", s.listExchanges)

	// Admin
	requireAdmin := auth.RequireAdminMiddleware()
	protected.GET("/user_actions", s.listUserActions, requireAdmin)
	protected.GET("/tasks/:handle", s.inspectTask, requireAdmin)
}

// Handler exposes the router, mostly for tests
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves until ctx is cancelled and then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", s.port).Msg("API server listening")
		if err := s.echo.Start(fmt.Sprintf(":%d", s.port)); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("API server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down API server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.echo.Shutdown(shutdownCtx)
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":   "healthy",
		"executor": s.exchanges.ExecutorName(),
	})
}
