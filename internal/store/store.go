// Package store persists users, sessions and generation records in a
// relational database. Postgres, MySQL and SQLite are supported; the dialect
// is chosen from the scheme of the configured database URL.
package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/zhouzirui/genx/backend/internal/config"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// Dialect names the SQL flavour behind a Store.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectMySQL    Dialect = "mysql"
	DialectSQLite   Dialect = "sqlite"
)

func init() {
	// modernc registers itself as "sqlite", which sqlx does not know about.
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// Store wraps the database handle shared by all repositories.
type Store struct {
	db      *sqlx.DB
	dialect Dialect
}

// ParseURL splits a DATABASE_URL into the driver dialect and the DSN the
// driver expects.
func ParseURL(raw string) (Dialect, string, error) {
	raw = strings.TrimSpace(raw)
	switch {
	case strings.HasPrefix(raw, "postgres://"), strings.HasPrefix(raw, "postgresql://"):
		return DialectPostgres, raw, nil
	case strings.HasPrefix(raw, "mysql://"):
		dsn := strings.TrimPrefix(raw, "mysql://")
		if !strings.Contains(dsn, "parseTime=") {
			if strings.Contains(dsn, "?") {
				dsn += "&parseTime=true"
			} else {
				dsn += "?parseTime=true"
			}
		}
		return DialectMySQL, dsn, nil
	case strings.HasPrefix(raw, "sqlite://"):
		dsn := strings.TrimPrefix(raw, "sqlite://")
		if dsn == "" {
			return "", "", fmt.Errorf("sqlite database url is missing a path")
		}
		return DialectSQLite, dsn, nil
	default:
		return "", "", fmt.Errorf("unsupported database url %q", raw)
	}
}

// Open connects to the configured database and ensures the schema exists.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*Store, error) {
	dialect, dsn, err := ParseURL(cfg.URL)
	if err != nil {
		return nil, err
	}

	db, err := sqlx.Open(string(dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", dialect, err)
	}

	if dialect == DialectSQLite {
		// sqlite allows a single writer, and ":memory:" databases are per connection.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to reach %s database: %w", dialect, err)
	}

	s := &Store{db: db, dialect: dialect}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate %s database: %w", dialect, err)
	}

	log.Printf("[store] connected to %s database", dialect)
	return s, nil
}

// Dialect reports the SQL flavour in use.
func (s *Store) Dialect() Dialect {
	return s.dialect
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates the tables used by the application when missing.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema(s.dialect) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func schema(dialect Dialect) []string {
	switch dialect {
	case DialectMySQL:
		return []string{
			"CREATE TABLE IF NOT EXISTS `users` (" +
				"`id` VARCHAR(64) NOT NULL PRIMARY KEY," +
				"`name` VARCHAR(256) NOT NULL DEFAULT ''," +
				"`email` VARCHAR(320) NOT NULL UNIQUE," +
				"`image` TEXT NOT NULL," +
				"`created_ts` BIGINT NOT NULL)",
			"CREATE TABLE IF NOT EXISTS `sessions` (" +
				"`token` VARCHAR(64) NOT NULL PRIMARY KEY," +
				"`user_id` VARCHAR(64) NOT NULL," +
				"`expires_ts` BIGINT NOT NULL," +
				"INDEX `idx_sessions_expires` (`expires_ts`))",
			"CREATE TABLE IF NOT EXISTS `generation_records` (" +
				"`id` VARCHAR(64) NOT NULL PRIMARY KEY," +
				"`prompt` TEXT NOT NULL," +
				"`url` TEXT NOT NULL," +
				"`seed` INT NOT NULL," +
				"`user_id` VARCHAR(64) NOT NULL," +
				"`created_ts` BIGINT NOT NULL," +
				"INDEX `idx_generation_records_user` (`user_id`, `created_ts`))",
		}
	default:
		return []string{
			`CREATE TABLE IF NOT EXISTS users (
				id         TEXT   NOT NULL PRIMARY KEY,
				name       TEXT   NOT NULL DEFAULT '',
				email      TEXT   NOT NULL UNIQUE,
				image      TEXT   NOT NULL DEFAULT '',
				created_ts BIGINT NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS sessions (
				token      TEXT   NOT NULL PRIMARY KEY,
				user_id    TEXT   NOT NULL,
				expires_ts BIGINT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_sessions_expires ON sessions(expires_ts)`,
			`CREATE TABLE IF NOT EXISTS generation_records (
				id         TEXT    NOT NULL PRIMARY KEY,
				prompt     TEXT    NOT NULL,
				url        TEXT    NOT NULL,
				seed       INTEGER NOT NULL,
				user_id    TEXT    NOT NULL,
				created_ts BIGINT  NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_generation_records_user ON generation_records(user_id, created_ts)`,
		}
	}
}
