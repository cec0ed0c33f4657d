package store

import (
	"context"
	"fmt"

	"github.com/casebook/pkg/models"
)

const userColumns = `id, username, password_hash, roles, is_admin, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*models.User, error) {
	u := &models.User{}
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Roles, &u.IsAdmin, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return u, nil
}

func (p *Postgres) CreateUser(ctx context.Context, u *models.User) error {
	err := p.db.QueryRowContext(ctx, `
		INSERT INTO users (username, password_hash, roles, is_admin)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at
	`, u.Username, u.PasswordHash, u.Roles, u.IsAdmin).Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

func (p *Postgres) GetUser(ctx context.Context, id int64) (*models.User, error) {
	return scanUser(p.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (p *Postgres) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return scanUser(p.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username))
}

const projectColumns = `id, name, owner_id, status, created_at, updated_at`

func scanProject(row interface{ Scan(...any) error }) (*models.Project, error) {
	pr := &models.Project{}
	if err := row.Scan(&pr.ID, &pr.Name, &pr.OwnerID, &pr.Status, &pr.CreatedAt, &pr.UpdatedAt); err != nil {
		return nil, notFound(err)
	}
	return pr, nil
}

func (p *Postgres) CreateProject(ctx context.Context, pr *models.Project) error {
	err := p.db.QueryRowContext(ctx, `
		INSERT INTO projects (name, owner_id, status)
		VALUES ($1, $2, $3)
		RETURNING id, created_at, updated_at
	`, pr.Name, pr.OwnerID, pr.Status).Scan(&pr.ID, &pr.CreatedAt, &pr.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert project: %w", err)
	}
	return nil
}

func (p *Postgres) GetProject(ctx context.Context, id int64) (*models.Project, error) {
	return scanProject(p.db.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = $1`, id))
}

func (p *Postgres) ListProjects(ctx context.Context) ([]*models.Project, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+projectColumns+` FROM projects ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query projects: %w", err)
	}
	defer rows.Close()

	var projects []*models.Project
	for rows.Next() {
		pr, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		projects = append(projects, pr)
	}
	return projects, rows.Err()
}

const chatbotColumns = `id, project_id, name, pre_prompt, model, created_at, updated_at`

func scanChatbot(row interface{ Scan(...any) error }) (*models.Chatbot, error) {
	c := &models.Chatbot{}
	if err := row.Scan(&c.ID, &c.ProjectID, &c.Name, &c.PrePrompt, &c.Model, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, notFound(err)
	}
	return c, nil
}

func (p *Postgres) CreateChatbot(ctx context.Context, c *models.Chatbot) error {
	err := p.db.QueryRowContext(ctx, `
		INSERT INTO chatbots (project_id, name, pre_prompt, model)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at
	`, c.ProjectID, c.Name, c.PrePrompt, c.Model).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert chatbot: %w", err)
	}
	return nil
}

func (p *Postgres) GetChatbot(ctx context.Context, id int64) (*models.Chatbot, error) {
	return scanChatbot(p.db.QueryRowContext(ctx, `SELECT `+chatbotColumns+` FROM chatbots WHERE id = $1`, id))
}

func (p *Postgres) UpdateChatbot(ctx context.Context, c *models.Chatbot) error {
	err := p.db.QueryRowContext(ctx, `
		UPDATE chatbots SET name = $2, pre_prompt = $3, model = $4, updated_at = NOW()
		WHERE id = $1
		RETURNING project_id, created_at, updated_at
	`, c.ID, c.Name, c.PrePrompt, c.Model).Scan(&c.ProjectID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return notFound(err)
	}
	return nil
}

func (p *Postgres) ListChatbotsByProject(ctx context.Context, projectID int64) ([]*models.Chatbot, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+chatbotColumns+` FROM chatbots WHERE project_id = $1 ORDER BY id`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query chatbots: %w", err)
	}
	defer rows.Close()

	var chatbots []*models.Chatbot
	for rows.Next() {
		c, err := scanChatbot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chatbot: %w", err)
		}
		chatbots = append(chatbots, c)
	}
	return chatbots, rows.Err()
}
