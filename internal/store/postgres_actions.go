package store

import (
	"context"
	"fmt"

	"github.com/casebook/pkg/models"
)

func (p *Postgres) InsertUserAction(ctx context.Context, a *models.UserAction) error {
	err := p.db.QueryRowContext(ctx, `
		INSERT INTO user_actions (user_id, level, action, description)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, a.UserID, a.Level, a.Action, a.Description).Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert user action: %w", err)
	}
	return nil
}

func (p *Postgres) ListUserActions(ctx context.Context, limit int) ([]*models.UserAction, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, user_id, level, action, description, created_at
		FROM user_actions
		ORDER BY created_at DESC, id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query user actions: %w", err)
	}
	defer rows.Close()

	var actions []*models.UserAction
	for rows.Next() {
		a := &models.UserAction{}
		if err := rows.Scan(&a.ID, &a.UserID, &a.Level, &a.Action, &a.Description, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan user action: %w", err)
		}
		actions = append(actions, a)
	}
	return actions, rows.Err()
}
