// Package audit records what users did to exchanges in the user_actions log
package audit

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/casebook/pkg/models"
)

// Action codes written to the log
const (
	PostNewAIChat       = "POST_NEW_AICHAT"
	FailedPostNewAIChat = "FAILED_POST_NEW_AICHAT"
	GetAIChat           = "GET_AICHAT"
	FailedGetAIChat     = "FAILED_GET_AICHAT"
	GetAIChatList       = "GET_AICHATLIST"
	FailedGetAIChatList = "FAILED_GET_AICHATLIST"
	UpdateAIChat        = "UPDATE_AICHAT"
	FailedUpdateAIChat  = "FAILED_UPDATE_AICHAT"
	CancelAIChat        = "CANCEL_AICHAT"
	FailedCancelAIChat  = "FAILED_CANCEL_AICHAT"
)

const (
	defaultLimit = 20
	maxLimit     = 100
)

// Store persists user actions
type Store interface {
	InsertUserAction(ctx context.Context, a *models.UserAction) error
	ListUserActions(ctx context.Context, limit int) ([]*models.UserAction, error)
}

// Recorder writes audit entries
type Recorder struct {
	store Store
}

// NewRecorder creates a new recorder
func NewRecorder(store Store) *Recorder {
	return &Recorder{store: store}
}

// Record appends one entry. A failed write is logged and never fails the
// request that triggered it.
func (r *Recorder) Record(ctx context.Context, userID int64, level models.ActionLevel, action, description string) {
	entry := &models.UserAction{
		UserID:      userID,
		Level:       level,
		Action:      action,
		Description: description,
	}

	evt := log.Info()
	if level != models.ActionNormal {
		evt = log.Warn()
	}
	evt.Int64("user_id", userID).Str("action", action).Str("level", string(level)).Msg(description)

	if err := r.store.InsertUserAction(ctx, entry); err != nil {
		log.Error().Err(err).Str("action", action).Msg("Failed to record user action")
	}
}

// Normal records a successful operation
func (r *Recorder) Normal(ctx context.Context, userID int64, action, format string, args ...any) {
	r.Record(ctx, userID, models.ActionNormal, action, fmt.Sprintf(format, args...))
}

// Warning records a refused or failed operation
func (r *Recorder) Warning(ctx context.Context, userID int64, action, format string, args ...any) {
	r.Record(ctx, userID, models.ActionWarning, action, fmt.Sprintf(format, args...))
}

// SiteBug records a failure on our side
func (r *Recorder) SiteBug(ctx context.Context, userID int64, action, format string, args ...any) {
	r.Record(ctx, userID, models.ActionSiteBug, action, fmt.Sprintf(format, args...))
}

// Recent returns the newest entries, newest first
func (r *Recorder) Recent(ctx context.Context, limit int) ([]*models.UserAction, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	actions, err := r.store.ListUserActions(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list user actions: %w", err)
	}
	return actions, nil
}
