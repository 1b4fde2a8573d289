package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/spherical/mdload/internal/domain"
)

// Dialect selects the SQL driver and placeholder style.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite3"
	DialectPostgres Dialect = "postgres"
)

const createTable = `CREATE TABLE IF NOT EXISTS conversion_cache (
	cache_key  TEXT PRIMARY KEY,
	text       TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`

// SQLStore keeps entries in a single table. Inserts are first-write-wins.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	getSQL  string
	putSQL  string
}

// OpenSQLStore opens dsn with the dialect's driver and creates the table.
func OpenSQLStore(ctx context.Context, dialect Dialect, dsn string) (*SQLStore, error) {
	db, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, domain.CacheIOError(fmt.Sprintf("open %s cache", dialect), err)
	}
	if dialect == DialectSQLite {
		// one writer; WAL lets readers proceed during commits
		db.SetMaxOpenConns(1)
	}
	store, err := NewSQLStore(ctx, db, dialect)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewSQLStore wraps an open database handle.
func NewSQLStore(ctx context.Context, db *sql.DB, dialect Dialect) (*SQLStore, error) {
	s := &SQLStore{db: db, dialect: dialect}
	switch dialect {
	case DialectSQLite:
		s.getSQL = `SELECT text FROM conversion_cache WHERE cache_key = ?`
		s.putSQL = `INSERT INTO conversion_cache (cache_key, text) VALUES (?, ?) ON CONFLICT(cache_key) DO NOTHING`
		if _, err := db.ExecContext(ctx, `PRAGMA journal_mode=WAL`); err != nil {
			return nil, domain.CacheIOError("set sqlite journal mode", err)
		}
	case DialectPostgres:
		s.getSQL = `SELECT text FROM conversion_cache WHERE cache_key = $1`
		s.putSQL = `INSERT INTO conversion_cache (cache_key, text) VALUES ($1, $2) ON CONFLICT (cache_key) DO NOTHING`
	default:
		return nil, domain.ConfigError(fmt.Sprintf("unsupported sql dialect %q", dialect), nil)
	}

	if _, err := db.ExecContext(ctx, createTable); err != nil {
		return nil, domain.CacheIOError("create cache table", err)
	}
	return s, nil
}

func (s *SQLStore) Get(ctx context.Context, key string) (string, error) {
	var text string
	err := s.db.QueryRowContext(ctx, s.getSQL, key).Scan(&text)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrMiss
	}
	if err != nil {
		return "", domain.CacheIOError("query cache entry", err)
	}
	return text, nil
}

// Put runs in its own transaction so a reader sees either no row or the full text.
func (s *SQLStore) Put(ctx context.Context, key, text string) error {
	if _, err := s.db.ExecContext(ctx, s.putSQL, key, text); err != nil {
		return domain.CacheIOError("insert cache entry", err)
	}
	return nil
}

func (s *SQLStore) Purge(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM conversion_cache`); err != nil {
		return domain.CacheIOError("purge cache table", err)
	}
	return nil
}

// Count reports the number of stored entries.
func (s *SQLStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversion_cache`).Scan(&n); err != nil {
		return 0, domain.CacheIOError("count cache entries", err)
	}
	return n, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
