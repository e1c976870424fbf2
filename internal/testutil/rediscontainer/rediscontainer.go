// Package rediscontainer provides the Redis instance used by store and
// manager integration tests. Set CONNAUTH_TEST_REDIS_ADDR to use an existing
// server instead of docker.
package rediscontainer

import (
	"context"
	"os"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/adeilh/rakh-connauth/internal/testutil/docker"
)

const (
	hostPort = "6390"
	envAddr  = "CONNAUTH_TEST_REDIS_ADDR"
)

var container = &docker.Container{
	Name:         "rakh-connauth-redis-test",
	Image:        "redis:7-alpine",
	Ports:        map[string]string{hostPort: "6379"},
	Ready:        ping,
	ReadyTimeout: 5 * time.Second,
}

// Addr is the host:port tests should dial.
func Addr() string {
	if addr := os.Getenv(envAddr); addr != "" {
		return addr
	}
	return "127.0.0.1:" + hostPort
}

// Setup starts the container unless an external server is configured.
func Setup() error {
	if os.Getenv(envAddr) != "" {
		return ping(context.Background())
	}
	return container.Start()
}

func Teardown() error {
	if os.Getenv(envAddr) != "" {
		return nil
	}
	return container.Stop()
}

func ping(ctx context.Context) error {
	rdb := goredis.NewClient(&goredis.Options{Addr: Addr(), DialTimeout: 200 * time.Millisecond})
	defer rdb.Close()
	return rdb.Ping(ctx).Err()
}
