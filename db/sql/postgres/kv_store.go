package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/adeilh/rakh-connauth/cache"
)

// DefaultKVTable is the table used when KVStoreOptions.Table is empty.
const DefaultKVTable = "connauth_kv"

var ErrInvalidTable = errors.New("postgres: invalid table name")

var tableNamePattern = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// KVSchema returns the DDL for a cache.Store table.
func KVSchema(table string) []string {
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    key TEXT PRIMARY KEY,
    value BYTEA NOT NULL,
    expires_at TIMESTAMPTZ
)`, table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_expires_at_idx ON %s (expires_at)`, table, table),
	}
}

// KVStoreOptions configures a KVStore.
type KVStoreOptions struct {
	Table string
}

// KVStore implements cache.Store inside PostgreSQL. Expiry is evaluated
// against the database clock so every replica agrees on liveness; rows past
// their expiry stay on disk until Vacuum removes them.
type KVStore struct {
	db    *sql.DB
	table string
}

// NewKVStore wraps an existing *sql.DB connection.
func NewKVStore(db *sql.DB, opts KVStoreOptions) (*KVStore, error) {
	if db == nil {
		return nil, fmt.Errorf("postgres: db is nil")
	}
	table := opts.Table
	if table == "" {
		table = DefaultKVTable
	}
	if !tableNamePattern.MatchString(table) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTable, table)
	}
	return &KVStore{db: db, table: table}, nil
}

// Ping checks the underlying connection.
func (s *KVStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate creates the backing table when missing.
func (s *KVStore) Migrate(ctx context.Context) error {
	return ApplyMigrations(ctx, s.db, KVSchema(s.table)...)
}

const liveClause = `(expires_at IS NULL OR expires_at > now())`

func (s *KVStore) Get(ctx context.Context, key string) ([]byte, error) {
	query := `SELECT value FROM ` + s.table + ` WHERE key = $1 AND ` + liveClause
	var value []byte
	if err := s.db.QueryRowContext(ctx, query, key).Scan(&value); err != nil {
		return nil, translateKVError(err)
	}
	return value, nil
}

func (s *KVStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	query := `INSERT INTO ` + s.table + ` (key, value, expires_at)
VALUES ($1, $2, CASE WHEN $3::bigint > 0 THEN now() + ($3::bigint * interval '1 millisecond') ELSE NULL END)
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at`
	ms := ttl.Milliseconds()
	if ttl > 0 && ms == 0 {
		ms = 1
	}
	if _, err := s.db.ExecContext(ctx, query, key, value, ms); err != nil {
		return fmt.Errorf("postgres: set: %w", err)
	}
	return nil
}

func (s *KVStore) Delete(ctx context.Context, key string) error {
	query := `DELETE FROM ` + s.table + ` WHERE key = $1 AND ` + liveClause
	res, err := s.db.ExecContext(ctx, query, key)
	if err != nil {
		return fmt.Errorf("postgres: delete: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return cache.ErrNotFound
	}
	return nil
}

// Take deletes and returns the row in one statement; row locking guarantees
// a single winner under concurrent callers.
func (s *KVStore) Take(ctx context.Context, key string) ([]byte, error) {
	query := `DELETE FROM ` + s.table + ` WHERE key = $1 AND ` + liveClause + ` RETURNING value`
	var value []byte
	if err := s.db.QueryRowContext(ctx, query, key).Scan(&value); err != nil {
		return nil, translateKVError(err)
	}
	return value, nil
}

func (s *KVStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	query := `SELECT key FROM ` + s.table + ` WHERE key LIKE $1 ESCAPE '\' AND ` + liveClause + ` ORDER BY key`
	rows, err := s.db.QueryContext(ctx, query, escapeLike(prefix)+"%")
	if err != nil {
		return nil, fmt.Errorf("postgres: keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("postgres: keys: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: keys: %w", err)
	}
	return keys, nil
}

func (s *KVStore) DeleteMany(ctx context.Context, keys ...string) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	query := `DELETE FROM ` + s.table + ` WHERE key = ANY($1) AND ` + liveClause
	res, err := s.db.ExecContext(ctx, query, pq.Array(keys))
	if err != nil {
		return 0, fmt.Errorf("postgres: delete many: %w", err)
	}
	affected, _ := res.RowsAffected()
	return int(affected), nil
}

// Vacuum physically removes expired rows and reports how many were dropped.
func (s *KVStore) Vacuum(ctx context.Context) (int64, error) {
	query := `DELETE FROM ` + s.table + ` WHERE expires_at IS NOT NULL AND expires_at <= now()`
	res, err := s.db.ExecContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("postgres: vacuum: %w", err)
	}
	return res.RowsAffected()
}

func translateKVError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return cache.ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return fmt.Errorf("postgres: %s (%s): %w", pqErr.Message, pqErr.Code, err)
	}
	return err
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
