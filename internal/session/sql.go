package session

import (
	"context"
	"errors"
	"time"

	"github.com/zhouzirui/genx/backend/internal/model/user"
	"github.com/zhouzirui/genx/backend/internal/store"
)

// SQLBackend is the slice of the database store used for sessions.
type SQLBackend interface {
	CreateSession(ctx context.Context, sess user.Session) error
	GetSession(ctx context.Context, token string) (user.Session, error)
	DeleteSession(ctx context.Context, token string) error
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)
}

// SQLStore keeps sessions in the application database.
type SQLStore struct {
	db  SQLBackend
	ttl time.Duration
	now func() time.Time
}

// NewSQLStore returns a SQLStore issuing sessions valid for ttl.
func NewSQLStore(db SQLBackend, ttl time.Duration) *SQLStore {
	return &SQLStore{db: db, ttl: ttl, now: time.Now}
}

// Create issues a session for userID.
func (s *SQLStore) Create(ctx context.Context, userID string) (user.Session, error) {
	if userID == "" {
		return user.Session{}, ErrUserIDRequired
	}

	sess := user.Session{
		Token:     NewToken(),
		UserID:    userID,
		ExpiresAt: s.now().UTC().Add(s.ttl),
	}
	if err := s.db.CreateSession(ctx, sess); err != nil {
		return user.Session{}, err
	}
	return sess, nil
}

// Lookup returns the live session for token.
func (s *SQLStore) Lookup(ctx context.Context, token string) (user.Session, error) {
	sess, err := s.db.GetSession(ctx, token)
	if errors.Is(err, store.ErrNotFound) {
		return user.Session{}, ErrNotFound
	}
	if err != nil {
		return user.Session{}, err
	}
	if sess.Expired(s.now()) {
		return user.Session{}, ErrNotFound
	}
	return sess, nil
}

// Revoke deletes token.
func (s *SQLStore) Revoke(ctx context.Context, token string) error {
	return s.db.DeleteSession(ctx, token)
}

// PruneExpired deletes expired rows.
func (s *SQLStore) PruneExpired(ctx context.Context) (int64, error) {
	return s.db.DeleteExpiredSessions(ctx, s.now())
}
