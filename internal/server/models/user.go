// Package models defines server-side data models persisted in the database.
package models

import "time"

// Roles a user can hold inside a tenant.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

type Tenant struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// User is an account inside one tenant. Email is stored lower-cased.
type User struct {
	ID           string
	TenantID     string
	Email        string
	PasswordHash string
	Role         string
	IsActive     bool
	CreatedAt    time.Time
}

// Identity is what a successful login or session lookup resolves to.
type Identity struct {
	UserID   string
	TenantID string
	Email    string
	Role     string
}

// IsAdmin reports whether the identity carries the admin role.
func (i Identity) IsAdmin() bool { return i.Role == RoleAdmin }
