// Package auth provides operator authentication for the console: bcrypt
// password hashing, username/password verification, and signed session
// tokens with server-side revocation.
// See internal/middleware/session.go for the request-time check that uses these primitives.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode"

	"golang.org/x/crypto/bcrypt"

	"github.com/orion-pds/orion/internal/db/models"
)

const (
	// BcryptCost is the cost factor for bcrypt hashing
	BcryptCost = 12

	// MinPasswordLength is the shortest password accepted by ValidateNewPassword
	MinPasswordLength = 8
)

var (
	// ErrInvalidCredentials covers unknown users, inactive users and wrong passwords alike.
	ErrInvalidCredentials = errors.New("invalid username or password")
	// ErrWeakPassword is returned by ValidateNewPassword.
	ErrWeakPassword = errors.New("password does not meet requirements")
)

// HashPassword returns the bcrypt hash of password at BcryptCost.
func HashPassword(password string) (string, error) {
	return HashPasswordWithCost(password, BcryptCost)
}

// HashPasswordWithCost is HashPassword with an explicit cost.
func HashPasswordWithCost(password string, cost int) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches the stored hash.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// ValidateNewPassword applies the password policy for new or changed passwords.
func ValidateNewPassword(username, password string) error {
	if len(password) < MinPasswordLength {
		return fmt.Errorf("%w: must be at least %d characters", ErrWeakPassword, MinPasswordLength)
	}
	if len(password) > 72 {
		return fmt.Errorf("%w: must be at most 72 bytes", ErrWeakPassword)
	}
	if strings.EqualFold(password, username) {
		return fmt.Errorf("%w: must differ from the username", ErrWeakPassword)
	}
	allDigits := true
	for _, r := range password {
		if !unicode.IsDigit(r) {
			allDigits = false
			break
		}
	}
	if allDigits {
		return fmt.Errorf("%w: cannot be entirely numeric", ErrWeakPassword)
	}
	return nil
}

// UserStore is the subset of the user repository used for authentication.
type UserStore interface {
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	GetUserByID(ctx context.Context, userID string) (*models.User, error)
	UpdatePasswordHash(ctx context.Context, userID, hash string) error
	UpdateLastLogin(ctx context.Context, userID string) error
}

// Authenticator verifies operator credentials.
type Authenticator struct {
	users UserStore
	cost  int

	// dummy is compared against when the username does not exist. It is
	// hashed at the same cost as stored passwords so unknown and known
	// usernames take the same time to reject.
	dummyOnce sync.Once
	dummy     []byte
}

// NewAuthenticator creates an Authenticator hashing new passwords at BcryptCost.
func NewAuthenticator(users UserStore) *Authenticator {
	return &Authenticator{users: users, cost: BcryptCost}
}

// WithCost overrides the bcrypt cost used by ChangePassword and for the
// unknown-user comparison. Call it before the first Authenticate.
func (a *Authenticator) WithCost(cost int) *Authenticator {
	a.cost = cost
	return a
}

func (a *Authenticator) dummyHash() []byte {
	a.dummyOnce.Do(func() {
		a.dummy, _ = bcrypt.GenerateFromPassword([]byte("orion-dummy-password"), a.cost)
	})
	return a.dummy
}

// Authenticate returns the active user matching username and password, or
// ErrInvalidCredentials. Database failures are returned as-is.
func (a *Authenticator) Authenticate(ctx context.Context, username, password string) (*models.User, error) {
	user, err := a.users.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if user == nil {
		_ = bcrypt.CompareHashAndPassword(a.dummyHash(), []byte(password))
		return nil, ErrInvalidCredentials
	}
	if !CheckPassword(user.PasswordHash, password) || !user.IsActive {
		return nil, ErrInvalidCredentials
	}

	if err := a.users.UpdateLastLogin(ctx, user.ID); err != nil {
		return nil, fmt.Errorf("failed to update last login: %w", err)
	}
	return user, nil
}

// ChangePassword verifies oldPassword for userID and stores a hash of newPassword.
func (a *Authenticator) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
	user, err := a.users.GetUserByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to look up user: %w", err)
	}
	if user == nil || !CheckPassword(user.PasswordHash, oldPassword) {
		return ErrInvalidCredentials
	}
	if err := ValidateNewPassword(user.Username, newPassword); err != nil {
		return err
	}

	hash, err := HashPasswordWithCost(newPassword, a.cost)
	if err != nil {
		return err
	}
	if err := a.users.UpdatePasswordHash(ctx, userID, hash); err != nil {
		return fmt.Errorf("failed to store password: %w", err)
	}
	return nil
}
