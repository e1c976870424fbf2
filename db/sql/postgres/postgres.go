// Package postgres stores tickets in a PostgreSQL table through lib/pq.
package postgres

import (
	"context"
	"database/sql"
)

// OpenKVStore connects, ensures the KV table exists and returns a store on
// it. The returned *sql.DB belongs to the caller.
func OpenKVStore(ctx context.Context, kv KVStoreOptions, opts ...Option) (*KVStore, *sql.DB, error) {
	db, err := Open(ctx, opts...)
	if err != nil {
		return nil, nil, err
	}
	store, err := NewKVStore(db, kv)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return store, db, nil
}
