// Package postgrescontainer provides the PostgreSQL database used by the KV
// store tests. Set CONNAUTH_TEST_POSTGRES_DSN to use an existing database.
package postgrescontainer

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	_ "github.com/lib/pq"

	"github.com/adeilh/rakh-connauth/internal/testutil/docker"
)

const (
	hostPort = "55432"
	user     = "connauth"
	password = "secret"
	dbName   = "connauth_test"
	envDSN   = "CONNAUTH_TEST_POSTGRES_DSN"
)

var container = &docker.Container{
	Name:  "rakh-connauth-postgres-test",
	Image: "postgres:16-alpine",
	Ports: map[string]string{hostPort: "5432"},
	Env: map[string]string{
		"POSTGRES_USER":     user,
		"POSTGRES_PASSWORD": password,
		"POSTGRES_DB":       dbName,
	},
	Ready:        ping,
	ReadyTimeout: 15 * time.Second,
}

// DSN is the lib/pq connection string tests should open.
func DSN() string {
	if dsn := os.Getenv(envDSN); dsn != "" {
		return dsn
	}
	return fmt.Sprintf("postgres://%s:%s@127.0.0.1:%s/%s?sslmode=disable", user, password, hostPort, dbName)
}

// Setup starts the container unless an external database is configured.
func Setup() error {
	if os.Getenv(envDSN) != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return ping(ctx)
	}
	return container.Start()
}

func Teardown() error {
	if os.Getenv(envDSN) != "" {
		return nil
	}
	return container.Stop()
}

func ping(ctx context.Context) error {
	db, err := sql.Open("postgres", DSN())
	if err != nil {
		return err
	}
	defer db.Close()
	return db.PingContext(ctx)
}
