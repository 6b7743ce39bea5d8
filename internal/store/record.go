package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/genx/backend/internal/model/generation"
)

type recordRow struct {
	ID        string `db:"id"`
	Prompt    string `db:"prompt"`
	URL       string `db:"url"`
	Seed      int    `db:"seed"`
	UserID    string `db:"user_id"`
	CreatedTs int64  `db:"created_ts"`
}

func (r recordRow) toModel() *generation.Record {
	return &generation.Record{
		ID:        r.ID,
		Prompt:    r.Prompt,
		URL:       r.URL,
		Seed:      r.Seed,
		UserID:    r.UserID,
		CreatedAt: time.Unix(0, r.CreatedTs).UTC(),
	}
}

// CreateRecord inserts a generation record. ID and CreatedAt are assigned
// when left empty.
func (s *Store) CreateRecord(ctx context.Context, create *generation.Record) (*generation.Record, error) {
	rec := *create
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	stmt := s.db.Rebind(`INSERT INTO generation_records (id, prompt, url, seed, user_id, created_ts)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if _, err := s.db.ExecContext(ctx, stmt,
		rec.ID, rec.Prompt, rec.URL, rec.Seed, rec.UserID, rec.CreatedAt.UnixNano(),
	); err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListRecords returns the records owned by userID, newest first.
func (s *Store) ListRecords(ctx context.Context, userID string) ([]*generation.Record, error) {
	query := s.db.Rebind(`SELECT id, prompt, url, seed, user_id, created_ts
		FROM generation_records
		WHERE user_id = ?
		ORDER BY created_ts DESC, id DESC`)

	var rows []recordRow
	if err := s.db.SelectContext(ctx, &rows, query, userID); err != nil {
		return nil, err
	}

	list := make([]*generation.Record, 0, len(rows))
	for _, row := range rows {
		list = append(list, row.toModel())
	}
	return list, nil
}
