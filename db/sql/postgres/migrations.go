package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// migrationLockID keys the advisory lock that serializes schema setup when
// several replicas start at once.
const migrationLockID = 0x636f6e6e61757468

// ApplyMigrations runs statements in one transaction while holding an
// advisory lock, so concurrent starters never race on CREATE ... IF NOT EXISTS.
func ApplyMigrations(ctx context.Context, db *sql.DB, statements ...string) (err error) {
	if db == nil {
		return fmt.Errorf("postgres: db is nil")
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(migrationLockID)); err != nil {
		return fmt.Errorf("postgres: migrate lock: %w", err)
	}
	for i, stmt := range statements {
		if stmt == "" {
			continue
		}
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: migrate step %d: %w", i+1, translateKVError(err))
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("postgres: migrate commit: %w", err)
	}
	return nil
}
