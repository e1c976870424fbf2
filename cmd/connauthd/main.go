// Command connauthd serves ticket issuance and authenticated WebSocket
// connections.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/adeilh/rakh-connauth/api"
	"github.com/adeilh/rakh-connauth/auth"
	"github.com/adeilh/rakh-connauth/cache"
	"github.com/adeilh/rakh-connauth/cache/memory"
	"github.com/adeilh/rakh-connauth/cache/redis"
	"github.com/adeilh/rakh-connauth/config"
	"github.com/adeilh/rakh-connauth/db/sql/postgres"
	"github.com/adeilh/rakh-connauth/httpx"
	"github.com/adeilh/rakh-connauth/internal/logging"
	"github.com/adeilh/rakh-connauth/internal/sweep"
	"github.com/adeilh/rakh-connauth/wsgate"
)

// Set at build time.
var version = "dev"

func configPath() string {
	if p := os.Getenv("CONNAUTH_CONFIG"); p != "" {
		return p
	}
	return "connauthd.yaml"
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: connauthd <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve                      Start the HTTP and WebSocket server")
		fmt.Println("  issue-token --subject ID   Mint a development access token")
		fmt.Println("  version                    Print the version")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "issue-token":
		err = runIssueToken(os.Args[2:], os.Stdout)
	case "version":
		fmt.Printf("connauthd %s\n", version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	cfg, err := config.Load(configPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger := logging.New(cfg.Logging, os.Stdout)
	slog.SetDefault(logger)

	color.New(color.FgCyan).Printf("connauthd %s\n", version)

	st, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer st.close()

	validator, err := auth.NewTokenValidator(cfg.ValidatorConfig())
	if err != nil {
		return fmt.Errorf("building token validator: %w", err)
	}

	env := cfg.Environment()
	if env.IsNonProduction() {
		logger.Warn("test bypass authentication is enabled", "environment", cfg.Auth.Environment)
	}

	manager, err := auth.NewManager(auth.ManagerConfig{
		Store:       st.store,
		Validator:   validator,
		Environment: env,
		Config:      cfg.AuthConfig(),
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	apiOpts := []api.Option{api.WithLogger(logger)}
	if st.pinger != nil {
		apiOpts = append(apiOpts, api.WithHealthCheck("store", st.pinger))
	}
	handler, err := api.New(manager, apiOpts...)
	if err != nil {
		return err
	}
	gate, err := wsgate.New(manager, nil, wsgate.WithLogger(logger), wsgate.WithOriginPatterns(cfg.Server.AllowedOrigins...))
	if err != nil {
		return err
	}

	serverOpts := []httpx.ServerOption{
		httpx.WithAddress(cfg.Server.Addr),
		httpx.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout),
		httpx.WithIdleTimeout(cfg.Server.IdleTimeout),
		httpx.WithLogger(logger),
	}
	if cfg.Server.BodyLimit != "" {
		serverOpts = append(serverOpts, httpx.WithBodyLimit(cfg.Server.BodyLimit))
	}
	if len(cfg.Server.AllowedOrigins) > 0 {
		cors := httpx.DefaultCORSConfig
		cors.AllowOrigins = cfg.Server.AllowedOrigins
		serverOpts = append(serverOpts, httpx.WithCORS(&cors))
	}
	server := httpx.NewServer(serverOpts...)
	server.RegisterRoutes(handler.Routes())
	server.RegisterRoutes(gate.Register)

	sweepOpts := []sweep.Option{
		sweep.WithLogger(logger),
		sweep.WithIntervals(cfg.Sweep.TicketInterval, cfg.Sweep.HandshakeInterval),
	}
	if st.vacuum != nil {
		sweepOpts = append(sweepOpts, sweep.WithVacuum(st.vacuum))
	}
	go func() {
		_ = sweep.New(manager.Tickets(), manager.Handshakes(), sweepOpts...).Run(ctx)
	}()

	logger.Info("listening", "addr", server.Address(), "store", cfg.Store.Driver, "validator", cfg.Auth.Validator)
	err = server.Start(ctx, httpx.WithShutdownTimeout(cfg.Server.ShutdownTimeout))
	if errors.Is(err, context.Canceled) {
		logger.Info("shutdown complete")
		return nil
	}
	return err
}

type openedStore struct {
	store  cache.Store
	pinger api.Pinger
	vacuum sweep.Vacuumer
	close  func()
}

func openStore(ctx context.Context, cfg config.StoreConfig) (*openedStore, error) {
	switch cfg.Driver {
	case "redis":
		s := redis.NewStore(redis.Options{
			Addr:     cfg.Redis.Addr,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := s.Ping(pingCtx); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("connecting to redis: %w", err)
		}
		return &openedStore{store: s, pinger: s, close: func() { _ = s.Close() }}, nil
	case "postgres":
		opts := []postgres.Option{
			postgres.WithDSN(cfg.Postgres.DSN),
			postgres.WithMaxOpenConns(cfg.Postgres.MaxOpenConns),
			postgres.WithConnMaxLifetime(cfg.Postgres.ConnMaxLifetime),
		}
		if cfg.Postgres.MaxIdleConns > 0 {
			opts = append(opts, postgres.WithMaxIdleConns(cfg.Postgres.MaxIdleConns))
		}
		s, db, err := postgres.OpenKVStore(ctx, postgres.KVStoreOptions{Table: cfg.Postgres.Table}, opts...)
		if err != nil {
			return nil, fmt.Errorf("connecting to postgres: %w", err)
		}
		return &openedStore{store: s, pinger: s, vacuum: s, close: func() { _ = db.Close() }}, nil
	default:
		return &openedStore{store: memory.NewStore(), close: func() {}}, nil
	}
}

// runIssueToken mints an access token signed with the configured secret so a
// local client can request tickets.
func runIssueToken(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("issue-token", flag.ContinueOnError)
	subject := fs.String("subject", "", "subject id (required)")
	email := fs.String("email", "", "subject email")
	perms := fs.String("permissions", "read,write", "comma separated permissions")
	ttl := fs.Duration("ttl", time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *subject == "" {
		return errors.New("--subject is required")
	}

	cfg, err := config.Load(configPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Auth.Validator != "jwt" {
		return fmt.Errorf("issue-token needs the jwt validator, configured %q", cfg.Auth.Validator)
	}
	v, err := auth.NewJWTValidator([]byte(cfg.Auth.JWTSecret),
		auth.WithIssuer(cfg.Auth.JWTIssuer), auth.WithAudience(cfg.Auth.JWTAudience))
	if err != nil {
		return err
	}

	var permissions []string
	for _, p := range strings.Split(*perms, ",") {
		if p = strings.TrimSpace(p); p != "" {
			permissions = append(permissions, p)
		}
	}
	token, err := v.Issue(*subject, *email, permissions, *ttl)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, token)
	return err
}
