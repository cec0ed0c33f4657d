package api

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/casebook/pkg/models"
)

// ChatbotRequest is the body of chatbot create and update calls
type ChatbotRequest struct {
	ProjectID int64   `json:"projectId"`
	Name      *string `json:"name"`
	PrePrompt *string `json:"prePrompt"`
	Model     *string `json:"model"`
}

func (s *Server) createChatbot(c echo.Context) error {
	var req ChatbotRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	if req.Name == nil || strings.TrimSpace(*req.Name) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "name is required")
	}
	if req.Model == nil || !s.exchanges.SupportsModel(*req.Model) {
		return echo.NewHTTPError(http.StatusBadRequest, "Unknown or unsupported model")
	}

	if _, err := s.accessibleProject(c, req.ProjectID); err != nil {
		return httpError(err)
	}

	bot := &models.Chatbot{
		ProjectID: req.ProjectID,
		Name:      strings.TrimSpace(*req.Name),
		Model:     *req.Model,
	}
	if req.PrePrompt != nil {
		bot.PrePrompt = *req.PrePrompt
	}
	if err := s.store.CreateChatbot(c.Request().Context(), bot); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, bot)
}

func (s *Server) getChatbot(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	bot, err := s.accessibleChatbot(c, id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, bot)
}

// updateChatbot changes only the fields present in the body
func (s *Server) updateChatbot(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	var req ChatbotRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}

	bot, err := s.accessibleChatbot(c, id)
	if err != nil {
		return httpError(err)
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "name is required")
		}
		bot.Name = name
	}
	if req.PrePrompt != nil {
		bot.PrePrompt = *req.PrePrompt
	}
	if req.Model != nil {
		if !s.exchanges.SupportsModel(*req.Model) {
			return echo.NewHTTPError(http.StatusBadRequest, "Unknown or unsupported model")
		}
		bot.Model = *req.Model
	}

	if err := s.store.UpdateChatbot(c.Request().Context(), bot); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, bot)
}

func (s *Server) listChatbots(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	if _, err := s.accessibleProject(c, id); err != nil {
		return httpError(err)
	}
	bots, err := s.store.ListChatbotsByProject(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	if bots == nil {
		bots = []*models.Chatbot{}
	}
	return c.JSON(http.StatusOK, bots)
}

func (s *Server) accessibleChatbot(c echo.Context, id int64) (*models.Chatbot, error) {
	bot, err := s.store.GetChatbot(c.Request().Context(), id)
	if err != nil {
		return nil, err
	}
	if _, err := s.accessibleProject(c, bot.ProjectID); err != nil {
		return nil, err
	}
	return bot, nil
}
