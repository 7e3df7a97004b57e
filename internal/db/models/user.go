// Package models - user.go defines the User model for console operators.
package models

import "time"

// User represents an operator who can sign in to the console
type User struct {
	ID           string
	Username     string
	PasswordHash string // bcrypt
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
	LastLoginAt  *time.Time
}
