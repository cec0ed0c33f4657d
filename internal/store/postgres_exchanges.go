package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/casebook/pkg/models"
)

const exchangeColumns = `id, project_id, chatbot_id, user_id, context_prompt, prompt, reply, model,
	status, task_handle, submitted_at, version, created_at, updated_at`

func scanExchange(row interface{ Scan(...any) error }) (*models.Exchange, error) {
	ex := &models.Exchange{}
	err := row.Scan(
		&ex.ID, &ex.ProjectID, &ex.ChatbotID, &ex.UserID, &ex.ContextPrompt, &ex.Prompt, &ex.Reply, &ex.Model,
		&ex.Status, &ex.TaskHandle, &ex.SubmittedAt, &ex.Version, &ex.CreatedAt, &ex.UpdatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	return ex, nil
}

func (p *Postgres) CreateExchange(ctx context.Context, ex *models.Exchange) error {
	err := p.db.QueryRowContext(ctx, `
		INSERT INTO exchanges (project_id, chatbot_id, user_id, context_prompt, prompt, reply, model, status, task_handle, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, version, created_at, updated_at
	`, ex.ProjectID, ex.ChatbotID, ex.UserID, ex.ContextPrompt, ex.Prompt, ex.Reply, ex.Model,
		ex.Status, ex.TaskHandle, ex.SubmittedAt,
	).Scan(&ex.ID, &ex.Version, &ex.CreatedAt, &ex.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert exchange: %w", err)
	}
	return nil
}

func (p *Postgres) GetExchange(ctx context.Context, id int64) (*models.Exchange, error) {
	return scanExchange(p.db.QueryRowContext(ctx, `SELECT `+exchangeColumns+` FROM exchanges WHERE id = $1`, id))
}

func (p *Postgres) ListExchangesByProject(ctx context.Context, projectID int64) ([]*models.Exchange, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+exchangeColumns+` FROM exchanges WHERE project_id = $1 ORDER BY id`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query exchanges: %w", err)
	}
	defer rows.Close()

	var exchanges []*models.Exchange
	for rows.Next() {
		ex, err := scanExchange(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan exchange: %w", err)
		}
		exchanges = append(exchanges, ex)
	}
	return exchanges, rows.Err()
}

// CompareAndSwapExchange writes the mutable exchange fields in one statement,
// guarded on the status, task handle and version the caller last observed.
func (p *Postgres) CompareAndSwapExchange(ctx context.Context, ex *models.Exchange, status models.ExchangeStatus, handle string) (bool, error) {
	err := p.db.QueryRowContext(ctx, `
		UPDATE exchanges
		SET context_prompt = $2, prompt = $3, reply = $4, status = $5, task_handle = $6,
		    submitted_at = $7, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND status = $8 AND task_handle = $9 AND version = $10
		RETURNING version, updated_at
	`, ex.ID, ex.ContextPrompt, ex.Prompt, ex.Reply, ex.Status, ex.TaskHandle, ex.SubmittedAt, status, handle, ex.Version,
	).Scan(&ex.Version, &ex.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		// Either the row is gone or another writer got there first.
		if _, err := p.GetExchange(ctx, ex.ID); err != nil {
			return false, err
		}
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to update exchange %d: %w", ex.ID, err)
	}
	return true, nil
}
