package models

import (
	"strings"
	"time"
)

// User is an account that can sign in and own projects
type User struct {
	ID           int64     `json:"id" db:"id"`
	Username     string    `json:"username" db:"username"`
	PasswordHash string    `json:"-" db:"password_hash"` // Never expose password hash in JSON
	Roles        string    `json:"roles" db:"roles"`     // space separated role names
	IsAdmin      bool      `json:"isAdmin" db:"is_admin"`
	CreatedAt    time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time `json:"updatedAt" db:"updated_at"`
}

// HasRole reports whether role appears in the user's role list
func (u *User) HasRole(role string) bool {
	if u == nil || role == "" {
		return false
	}
	for _, r := range strings.Fields(u.Roles) {
		if r == role {
			return true
		}
	}
	return false
}

// ProjectStatus controls whether role holders can see a project
type ProjectStatus string

const (
	ProjectPublished   ProjectStatus = "published"
	ProjectUnpublished ProjectStatus = "unpublished"
)

// Project is the parent resource exchanges are scoped to
type Project struct {
	ID        int64         `json:"id" db:"id"`
	Name      string        `json:"name" db:"name"`
	OwnerID   int64         `json:"ownerId" db:"owner_id"`
	Status    ProjectStatus `json:"status" db:"status"`
	CreatedAt time.Time     `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time     `json:"updatedAt" db:"updated_at"`
}

// Chatbot is a reusable pre-prompt and model pairing within a project
type Chatbot struct {
	ID        int64     `json:"id" db:"id"`
	ProjectID int64     `json:"projectId" db:"project_id"`
	Name      string    `json:"name" db:"name"`
	PrePrompt string    `json:"prePrompt" db:"pre_prompt"`
	Model     string    `json:"model" db:"model"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// ExchangeStatus is the lifecycle state of an exchange
type ExchangeStatus string

const (
	ExchangeReady      ExchangeStatus = "ready"
	ExchangeInProgress ExchangeStatus = "in_progress"
	ExchangeFailed     ExchangeStatus = "failed"
)

// Exchange is one conversation with a completion model. Only one unit of
// work may be outstanding for it at a time; TaskHandle is empty unless
// Status is in_progress.
type Exchange struct {
	ID            int64          `json:"id" db:"id"`
	ProjectID     int64          `json:"projectId" db:"project_id"`
	ChatbotID     *int64         `json:"chatbotId,omitempty" db:"chatbot_id"`
	UserID        int64          `json:"userId" db:"user_id"`
	ContextPrompt string         `json:"contextPrompt" db:"context_prompt"`
	Prompt        string         `json:"prompt" db:"prompt"`
	Reply         string         `json:"reply" db:"reply"`
	Model         string         `json:"model" db:"model"`
	Status        ExchangeStatus `json:"status" db:"status"`
	TaskHandle    string         `json:"-" db:"task_handle"`
	SubmittedAt   *time.Time     `json:"submittedAt,omitempty" db:"submitted_at"`
	Version       int64          `json:"version" db:"version"`
	CreatedAt     time.Time      `json:"createdAt" db:"created_at"`
	UpdatedAt     time.Time      `json:"updatedAt" db:"updated_at"`
}

// ActionLevel grades an audit record
type ActionLevel string

const (
	ActionNormal  ActionLevel = "NORMAL"
	ActionWarning ActionLevel = "WARNING"
	ActionSiteBug ActionLevel = "SITEBUG"
)

// UserAction is one audit log entry
type UserAction struct {
	ID          int64       `json:"id" db:"id"`
	UserID      int64       `json:"userId" db:"user_id"`
	Level       ActionLevel `json:"level" db:"level"`
	Action      string      `json:"action" db:"action"`
	Description string      `json:"description" db:"description"`
	CreatedAt   time.Time   `json:"createdAt" db:"created_at"`
}
