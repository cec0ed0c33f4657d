package api

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/casebook/internal/api/auth"
	"github.com/casebook/pkg/models"
)

// CreateProjectRequest represents the body of POST /projects
type CreateProjectRequest struct {
	Name   string               `json:"name"`
	Status models.ProjectStatus `json:"status"`
}

func (s *Server) createProject(c echo.Context) error {
	user := auth.GetUser(c)

	var req CreateProjectRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "name is required")
	}
	switch req.Status {
	case "":
		req.Status = models.ProjectUnpublished
	case models.ProjectPublished, models.ProjectUnpublished:
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "status must be published or unpublished")
	}

	project := &models.Project{
		Name:    req.Name,
		OwnerID: user.ID,
		Status:  req.Status,
	}
	if err := s.store.CreateProject(c.Request().Context(), project); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, project)
}

func (s *Server) getProject(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	project, err := s.accessibleProject(c, id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, project)
}

// listProjects returns only the projects the caller can access
func (s *Server) listProjects(c echo.Context) error {
	user := auth.GetUser(c)
	projects, err := s.store.ListProjects(c.Request().Context())
	if err != nil {
		return httpError(err)
	}

	visible := make([]*models.Project, 0, len(projects))
	for _, p := range projects {
		if auth.CanAccessProject(user, p) {
			visible = append(visible, p)
		}
	}
	return c.JSON(http.StatusOK, visible)
}

// accessibleProject loads a project and applies the access predicate
func (s *Server) accessibleProject(c echo.Context, id int64) (*models.Project, error) {
	project, err := s.store.GetProject(c.Request().Context(), id)
	if err != nil {
		return nil, err
	}
	if err := auth.RequireProjectAccess(auth.GetUser(c), project); err != nil {
		return nil, err
	}
	return project, nil
}
