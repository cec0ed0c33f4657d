package auth

import (
	"errors"

	"github.com/casebook/pkg/models"
)

// Common auth errors
var (
	ErrInvalidToken            = errors.New("invalid or expired token")
	ErrTokenExpired            = errors.New("token has expired")
	ErrInsufficientPermissions = errors.New("insufficient permissions")
	ErrInvalidCredentials      = errors.New("invalid username or password")
)

// CanAccessProject is the access predicate for everything scoped to a
// project: admins and the owner always pass, and holders of a role named
// after the project pass once it is published.
func CanAccessProject(user *models.User, project *models.Project) bool {
	if user == nil || project == nil {
		return false
	}
	if user.IsAdmin || project.OwnerID == user.ID {
		return true
	}
	return project.Status == models.ProjectPublished && user.HasRole(project.Name)
}

// RequireProjectAccess returns ErrInsufficientPermissions when the predicate fails
func RequireProjectAccess(user *models.User, project *models.Project) error {
	if !CanAccessProject(user, project) {
		return ErrInsufficientPermissions
	}
	return nil
}

// RequireAdmin checks if user is an administrator
func RequireAdmin(user *models.User) error {
	if user == nil || !user.IsAdmin {
		return ErrInsufficientPermissions
	}
	return nil
}
