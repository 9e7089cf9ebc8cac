package identity

import (
	"context"
	"time"
)

// Identity is the authenticated subject as seen by the gateway.
type Identity struct {
	ID    string
	Role  string
	Email string
	Name  string
}

// User is the stored account row behind an Identity.
type User struct {
	ID           string
	Email        string
	Name         string
	Role         string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (u *User) Identity() *Identity {
	return &Identity{ID: u.ID, Role: u.Role, Email: u.Email, Name: u.Name}
}

// Store is the durable identity lookup. GetByID returns an error wrapping
// apperrors.ErrNotFound when the subject is unknown.
type Store interface {
	GetByID(ctx context.Context, id string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	UpdateRole(ctx context.Context, id, role string) error
}

type contextKey struct{}

// WithContext attaches the current identity to ctx.
func WithContext(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the identity attached by WithContext, or nil.
func FromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(contextKey{}).(*Identity)
	return id
}
