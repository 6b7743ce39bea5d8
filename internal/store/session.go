package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/zhouzirui/genx/backend/internal/model/user"
)

type sessionRow struct {
	Token     string `db:"token"`
	UserID    string `db:"user_id"`
	ExpiresTs int64  `db:"expires_ts"`
}

// CreateSession stores a new session row.
func (s *Store) CreateSession(ctx context.Context, sess user.Session) error {
	stmt := s.db.Rebind(`INSERT INTO sessions (token, user_id, expires_ts) VALUES (?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, stmt, sess.Token, sess.UserID, sess.ExpiresAt.UnixNano())
	return err
}

// GetSession returns the session for token regardless of expiry.
func (s *Store) GetSession(ctx context.Context, token string) (user.Session, error) {
	query := s.db.Rebind(`SELECT token, user_id, expires_ts FROM sessions WHERE token = ?`)

	var row sessionRow
	err := s.db.GetContext(ctx, &row, query, token)
	if errors.Is(err, sql.ErrNoRows) {
		return user.Session{}, ErrNotFound
	}
	if err != nil {
		return user.Session{}, err
	}
	return user.Session{
		Token:     row.Token,
		UserID:    row.UserID,
		ExpiresAt: time.Unix(0, row.ExpiresTs).UTC(),
	}, nil
}

// DeleteSession removes a session; deleting a missing token is not an error.
func (s *Store) DeleteSession(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM sessions WHERE token = ?`), token)
	return err
}

// DeleteExpiredSessions removes every session that expired before now.
func (s *Store) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM sessions WHERE expires_ts <= ?`), now.UnixNano())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
