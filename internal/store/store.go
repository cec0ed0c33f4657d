// Package store persists users, projects, chatbots, exchanges and the audit
// log, in Postgres or in memory.
package store

import (
	"context"
	"errors"

	"github.com/casebook/pkg/models"
)

var (
	// ErrNotFound is returned when a row does not exist
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when a unique value is already taken
	ErrDuplicate = errors.New("record already exists")
)

// Store is everything the API layer needs from persistence
type Store interface {
	CreateUser(ctx context.Context, u *models.User) error
	GetUser(ctx context.Context, id int64) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)

	CreateProject(ctx context.Context, p *models.Project) error
	GetProject(ctx context.Context, id int64) (*models.Project, error)
	ListProjects(ctx context.Context) ([]*models.Project, error)

	CreateChatbot(ctx context.Context, c *models.Chatbot) error
	GetChatbot(ctx context.Context, id int64) (*models.Chatbot, error)
	UpdateChatbot(ctx context.Context, c *models.Chatbot) error
	ListChatbotsByProject(ctx context.Context, projectID int64) ([]*models.Chatbot, error)

	CreateExchange(ctx context.Context, ex *models.Exchange) error
	GetExchange(ctx context.Context, id int64) (*models.Exchange, error)
	ListExchangesByProject(ctx context.Context, projectID int64) ([]*models.Exchange, error)
	CompareAndSwapExchange(ctx context.Context, ex *models.Exchange, status models.ExchangeStatus, handle string) (bool, error)

	InsertUserAction(ctx context.Context, a *models.UserAction) error
	ListUserActions(ctx context.Context, limit int) ([]*models.UserAction, error)
}
