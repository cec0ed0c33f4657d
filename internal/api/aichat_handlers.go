package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/casebook/internal/api/auth"
	"github.com/casebook/internal/audit"
	"github.com/casebook/internal/exchange"
	"github.com/casebook/internal/store"
	"github.com/casebook/pkg/models"
)

// CreateExchangeRequest represents the body of POST /aichat
type CreateExchangeRequest struct {
	ProjectID     int64  `json:"projectId"`
	ChatbotID     *int64 `json:"chatbotId,omitempty"`
	ContextPrompt string `json:"contextPrompt"`
	Prompt        string `json:"prompt"`
	Model         string `json:"model"`
}

// CreateExchangeResponse is returned with 201 Created
type CreateExchangeResponse struct {
	ExchangeID int64 `json:"exchangeId"`
}

// ContinueExchangeRequest represents the body of PUT /aichat/:id
type ContinueExchangeRequest struct {
	Text string `json:"text"`
}

func (s *Server) createExchange(c echo.Context) error {
	ctx := c.Request().Context()
	user := auth.GetUser(c)

	var req CreateExchangeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "prompt is required")
	}

	if _, err := s.accessibleProject(c, req.ProjectID); err != nil {
		s.audit.Warning(ctx, user.ID, audit.FailedPostNewAIChat, "Exchange refused for project %d: %v", req.ProjectID, err)
		return httpError(err)
	}

	turn := exchange.NewTurn{
		ProjectID:     req.ProjectID,
		ChatbotID:     req.ChatbotID,
		UserID:        user.ID,
		ContextPrompt: req.ContextPrompt,
		Prompt:        req.Prompt,
		Model:         req.Model,
	}
	if req.ChatbotID != nil {
		bot, err := s.store.GetChatbot(ctx, *req.ChatbotID)
		if errors.Is(err, store.ErrNotFound) || (err == nil && bot.ProjectID != req.ProjectID) {
			s.audit.Warning(ctx, user.ID, audit.FailedPostNewAIChat, "Chatbot %d is not part of project %d", *req.ChatbotID, req.ProjectID)
			return echo.NewHTTPError(http.StatusBadRequest, "Chatbot does not belong to the project")
		}
		if err != nil {
			return httpError(err)
		}
		turn.ContextPrompt = bot.PrePrompt
		if turn.Model == "" {
			turn.Model = bot.Model
		}
	}

	ex, err := s.exchanges.Submit(ctx, turn)
	if err != nil {
		if errors.Is(err, exchange.ErrSubmitFailed) {
			s.audit.SiteBug(ctx, user.ID, audit.FailedPostNewAIChat, "Exchange for project %d could not be queued: %v", req.ProjectID, err)
		} else {
			s.audit.Warning(ctx, user.ID, audit.FailedPostNewAIChat, "Exchange for project %d rejected: %v", req.ProjectID, err)
		}
		return httpError(err)
	}

	s.audit.Normal(ctx, user.ID, audit.PostNewAIChat, "Created exchange %d in project %d with %s", ex.ID, ex.ProjectID, ex.Model)
	return c.JSON(http.StatusCreated, CreateExchangeResponse{ExchangeID: ex.ID})
}

func (s *Server) getExchange(c echo.Context) error {
	ctx := c.Request().Context()
	user := auth.GetUser(c)

	ex, err := s.accessibleExchange(c)
	if err != nil {
		s.audit.Warning(ctx, user.ID, audit.FailedGetAIChat, "Exchange %s refused: %v", c.Param("id"), err)
		return httpError(err)
	}

	current, err := s.exchanges.Reconcile(ctx, ex)
	if err != nil {
		s.audit.SiteBug(ctx, user.ID, audit.FailedGetAIChat, "Exchange %d could not be reconciled: %v", ex.ID, err)
		return httpError(err)
	}

	s.audit.Normal(ctx, user.ID, audit.GetAIChat, "Read exchange %d", current.ID)
	return c.JSON(http.StatusOK, current)
}

func (s *Server) listExchanges(c echo.Context) error {
	ctx := c.Request().Context()
	user := auth.GetUser(c)

	projectID, err := paramID(c, "projectid")
	if err != nil {
		return err
	}
	if _, err := s.accessibleProject(c, projectID); err != nil {
		s.audit.Warning(ctx, user.ID, audit.FailedGetAIChatList, "Exchange list for project %d refused: %v", projectID, err)
		return httpError(err)
	}

	list, err := s.exchanges.ListForProject(ctx, projectID)
	if err != nil {
		s.audit.SiteBug(ctx, user.ID, audit.FailedGetAIChatList, "Exchange list for project %d failed: %v", projectID, err)
		return httpError(err)
	}
	if list == nil {
		list = []*models.Exchange{}
	}

	s.audit.Normal(ctx, user.ID, audit.GetAIChatList, "Listed %d exchanges of project %d", len(list), projectID)
	return c.JSON(http.StatusOK, list)
}

func (s *Server) continueExchange(c echo.Context) error {
	ctx := c.Request().Context()
	user := auth.GetUser(c)

	var req ContinueExchangeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	if strings.TrimSpace(req.Text) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "text is required")
	}

	ex, err := s.accessibleExchange(c)
	if err != nil {
		s.audit.Warning(ctx, user.ID, audit.FailedUpdateAIChat, "Exchange %s refused: %v", c.Param("id"), err)
		return httpError(err)
	}

	next, err := s.exchanges.Continue(ctx, ex, req.Text)
	if err != nil {
		if errors.Is(err, exchange.ErrSubmitFailed) {
			s.audit.SiteBug(ctx, user.ID, audit.FailedUpdateAIChat, "Exchange %d could not be queued: %v", ex.ID, err)
		} else {
			s.audit.Warning(ctx, user.ID, audit.FailedUpdateAIChat, "Exchange %d not continued: %v", ex.ID, err)
		}
		return httpError(err)
	}

	s.audit.Normal(ctx, user.ID, audit.UpdateAIChat, "Continued exchange %d", next.ID)
	return c.JSON(http.StatusOK, next)
}

func (s *Server) cancelExchange(c echo.Context) error {
	ctx := c.Request().Context()
	user := auth.GetUser(c)

	ex, err := s.accessibleExchange(c)
	if err != nil {
		s.audit.Warning(ctx, user.ID, audit.FailedCancelAIChat, "Exchange %s refused: %v", c.Param("id"), err)
		return httpError(err)
	}

	cancelled, err := s.exchanges.Cancel(ctx, ex)
	if err != nil {
		s.audit.Warning(ctx, user.ID, audit.FailedCancelAIChat, "Exchange %d not cancelled: %v", ex.ID, err)
		return httpError(err)
	}

	s.audit.Normal(ctx, user.ID, audit.CancelAIChat, "Cancelled exchange %d", cancelled.ID)
	return c.JSON(http.StatusOK, cancelled)
}

// accessibleExchange loads the exchange named by :id without reconciling it
// and checks access to its project.
func (s *Server) accessibleExchange(c echo.Context) (*models.Exchange, error) {
	id, err := paramID(c, "id")
	if err != nil {
		return nil, exchange.ErrNotFound
	}
	ex, err := s.exchanges.Lookup(c.Request().Context(), id)
	if err != nil {
		return nil, err
	}
	if _, err := s.accessibleProject(c, ex.ProjectID); err != nil {
		return nil, err
	}
	return ex, nil
}
