// Package session issues and verifies login sessions. A session maps an
// opaque token, carried in a cookie or bearer header, to a user id.
package session

import (
	"context"
	"errors"

	"github.com/lithammer/shortuuid/v4"

	"github.com/zhouzirui/genx/backend/internal/model/user"
)

var (
	ErrNotFound       = errors.New("session not found")
	ErrUserIDRequired = errors.New("user id is required")
)

// Store persists sessions. Lookup returns ErrNotFound for unknown and
// expired tokens alike.
type Store interface {
	Create(ctx context.Context, userID string) (user.Session, error)
	Lookup(ctx context.Context, token string) (user.Session, error)
	Revoke(ctx context.Context, token string) error
}

// Pruner is implemented by stores that need expired sessions removed
// explicitly.
type Pruner interface {
	PruneExpired(ctx context.Context) (int64, error)
}

// NewToken returns a fresh random session token.
func NewToken() string {
	return shortuuid.New()
}
