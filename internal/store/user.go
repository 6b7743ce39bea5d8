package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/genx/backend/internal/model/user"
)

type userRow struct {
	ID        string `db:"id"`
	Name      string `db:"name"`
	Email     string `db:"email"`
	Image     string `db:"image"`
	CreatedTs int64  `db:"created_ts"`
}

func (r userRow) toModel() *user.User {
	return &user.User{
		ID:        r.ID,
		Name:      r.Name,
		Email:     r.Email,
		Image:     r.Image,
		CreatedAt: time.Unix(0, r.CreatedTs).UTC(),
	}
}

// GetUser looks a user up by id.
func (s *Store) GetUser(ctx context.Context, id string) (*user.User, error) {
	return s.getUser(ctx, "id", id)
}

// GetUserByEmail looks a user up by email address.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*user.User, error) {
	return s.getUser(ctx, "email", strings.ToLower(strings.TrimSpace(email)))
}

func (s *Store) getUser(ctx context.Context, column, value string) (*user.User, error) {
	query := s.db.Rebind(`SELECT id, name, email, image, created_ts FROM users WHERE ` + column + ` = ?`)

	var row userRow
	err := s.db.GetContext(ctx, &row, query, value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.toModel(), nil
}

// UpsertUserByEmail creates the user on first sign-in and refreshes the
// profile fields on later ones.
func (s *Store) UpsertUserByEmail(ctx context.Context, profile *user.User) (*user.User, error) {
	email := strings.ToLower(strings.TrimSpace(profile.Email))

	existing, err := s.GetUserByEmail(ctx, email)
	switch {
	case err == nil:
		stmt := s.db.Rebind(`UPDATE users SET name = ?, image = ? WHERE id = ?`)
		if _, err := s.db.ExecContext(ctx, stmt, profile.Name, profile.Image, existing.ID); err != nil {
			return nil, err
		}
		existing.Name = profile.Name
		existing.Image = profile.Image
		return existing, nil
	case !errors.Is(err, ErrNotFound):
		return nil, err
	}

	created := &user.User{
		ID:        uuid.NewString(),
		Name:      profile.Name,
		Email:     email,
		Image:     profile.Image,
		CreatedAt: time.Now().UTC(),
	}
	stmt := s.db.Rebind(`INSERT INTO users (id, name, email, image, created_ts) VALUES (?, ?, ?, ?, ?)`)
	if _, err := s.db.ExecContext(ctx, stmt,
		created.ID, created.Name, created.Email, created.Image, created.CreatedAt.UnixNano(),
	); err != nil {
		return nil, err
	}
	return created, nil
}
