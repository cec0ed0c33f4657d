package api

import (
	"net/http"
	"net/url"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/casebook/internal/executor"
)

// TaskResponse is what GET /tasks/:handle reports
type TaskResponse struct {
	Handle string `json:"handle"`
	State  string `json:"state"`
	Output string `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`
}

func (s *Server) listUserActions(c echo.Context) error {
	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a number")
		}
		limit = n
	}

	actions, err := s.audit.Recent(c.Request().Context(), limit)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, actions)
}

// inspectTask polls the executor directly, leaving exchanges alone
func (s *Server) inspectTask(c echo.Context) error {
	raw, err := url.PathUnescape(c.Param("handle"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid handle")
	}
	h := executor.Handle(raw)

	res, err := s.exchanges.Inspect(c.Request().Context(), h)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, TaskResponse{
		Handle: raw,
		State:  res.State.String(),
		Output: res.Output,
		Error:  res.Error,
	})
}
