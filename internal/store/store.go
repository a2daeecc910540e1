// ABOUTME: Store interface and data types for tapgate persistence
// ABOUTME: Defines User, CardBinding structs and the store interfaces for database operations

package store

import (
	"context"
	"errors"
	"time"
)

// ErrUserNotFound is returned when a requested user does not exist
var ErrUserNotFound = errors.New("user not found")

// ErrUsernameExists is returned when trying to create a user with an existing username
var ErrUsernameExists = errors.New("username already exists")

// ErrBindingNotFound is returned when no card binding matches the lookup
var ErrBindingNotFound = errors.New("card binding not found")

// ErrCardOwnedByOther is returned when the presented card is bound to a different user.
// A binding is never silently rebound; the caller must surface this as a conflict.
var ErrCardOwnedByOther = errors.New("card already assigned to a different user")

// ErrReplayDetected is returned when a tap counter is not strictly greater
// than the last counter recorded for the card.
var ErrReplayDetected = errors.New("replayed credential detected")

// Assignment status labels reported to clients.
const (
	StatusCardRegistered = "card_registered" // First binding (or repoint) of a card
	StatusCardVerified   = "card_verified"   // Re-confirmation tap on an owned card
	StatusPendingCleared = "pending_cleared" // Verification tap that cleared a pending window
)

// User represents an account that can bind one card
type User struct {
	ID           int64
	Username     string
	PasswordHash string // bcrypt digest, never the raw password
	CreatedAt    time.Time
}

// CardBinding represents the 1:1 assignment of a card to a user.
// LastCtr is the monotonic anti-replay counter; StaticMAC is the learned
// authenticator for cards without a provisioned dynamic secret.
type CardBinding struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	CardID    string    `json:"card_id"`
	LastCtr   int64     `json:"last_ctr"`
	StaticMAC string    `json:"-"` // empty when nothing learned yet; never serialized
	CreatedAt time.Time `json:"created_at"`
}

// AssignmentResult reports the outcome of a card assignment
type AssignmentResult struct {
	Status    string `json:"status"`
	CardID    string `json:"card_id"`
	UserID    int64  `json:"user_id"`
	LastCtr   int64  `json:"last_ctr"`
	IsNewCard bool   `json:"is_new_card"`
}

// CredentialStore defines the interface for user persistence
type CredentialStore interface {
	CreateUser(ctx context.Context, username, passwordHash string) (int64, error)
	GetUser(ctx context.Context, id int64) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	CountUsers(ctx context.Context) (int, error)
}

// CardBindingStore defines the interface for card binding persistence
type CardBindingStore interface {
	GetCardBinding(ctx context.Context, cardID string) (*CardBinding, error)
	GetUserBinding(ctx context.Context, userID int64) (*CardBinding, error)
	Assign(ctx context.Context, userID int64, cardID string, ctr *int64, mac string) (*AssignmentResult, error)
	ListBindings(ctx context.Context) ([]*CardBinding, error)
}
