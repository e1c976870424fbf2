// Package config loads the connauthd YAML configuration. ${VAR} references are
// expanded from the environment and duration strings are parsed after
// unmarshaling.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/adeilh/rakh-connauth/auth"
)

// Config is the complete connauthd configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Store   StoreConfig   `yaml:"store"`
	Auth    AuthConfig    `yaml:"auth"`
	Sweep   SweepConfig   `yaml:"sweep"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`

	// BodyLimit caps request bodies, e.g. "64K". Empty keeps the server default.
	BodyLimit string `yaml:"body_limit"`

	ReadTimeout     time.Duration `yaml:"-"`
	WriteTimeout    time.Duration `yaml:"-"`
	IdleTimeout     time.Duration `yaml:"-"`
	ShutdownTimeout time.Duration `yaml:"-"`

	ReadTimeoutRaw     string `yaml:"read_timeout"`
	WriteTimeoutRaw    string `yaml:"write_timeout"`
	IdleTimeoutRaw     string `yaml:"idle_timeout"`
	ShutdownTimeoutRaw string `yaml:"shutdown_timeout"`
}

// StoreConfig selects the ticket store backend.
type StoreConfig struct {
	Driver   string         `yaml:"driver"`
	Redis    RedisConfig    `yaml:"redis"`
	Postgres PostgresConfig `yaml:"postgres"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type PostgresConfig struct {
	DSN          string `yaml:"dsn"`
	Table        string `yaml:"table"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`

	ConnMaxLifetime    time.Duration `yaml:"-"`
	ConnMaxLifetimeRaw string        `yaml:"conn_max_lifetime"`
}

// AuthConfig holds ticket, token and handshake settings.
type AuthConfig struct {
	// Environment names the deployment; only dev, development, local,
	// test, testing and ci enable the test bypass.
	Environment string `yaml:"environment"`

	Validator           string   `yaml:"validator"`
	JWTSecret           string   `yaml:"jwt_secret"`
	JWTIssuer           string   `yaml:"jwt_issuer"`
	JWTAudience         string   `yaml:"jwt_audience"`
	RemoteURL           string   `yaml:"remote_url"`
	RemotePath          string   `yaml:"remote_path"`
	TicketNamespace     string   `yaml:"ticket_namespace"`
	DefaultPermissions  []string `yaml:"default_permissions"`
	SubprotocolPrefixes []string `yaml:"subprotocol_prefixes"`
	TokenQueryParams    []string `yaml:"token_query_params"`
	TicketQueryParams   []string `yaml:"ticket_query_params"`
	MethodOrder         []string `yaml:"method_order"`

	JWTLeeway        time.Duration `yaml:"-"`
	RemoteTimeout    time.Duration `yaml:"-"`
	DefaultTicketTTL time.Duration `yaml:"-"`
	MaxTicketTTL     time.Duration `yaml:"-"`
	HandshakeTimeout time.Duration `yaml:"-"`

	JWTLeewayRaw        string `yaml:"jwt_leeway"`
	RemoteTimeoutRaw    string `yaml:"remote_timeout"`
	DefaultTicketTTLRaw string `yaml:"default_ticket_ttl"`
	MaxTicketTTLRaw     string `yaml:"max_ticket_ttl"`
	HandshakeTimeoutRaw string `yaml:"handshake_timeout"`
}

// SweepConfig controls the background purge of expired state.
type SweepConfig struct {
	TicketInterval    time.Duration `yaml:"-"`
	HandshakeInterval time.Duration `yaml:"-"`

	TicketIntervalRaw    string `yaml:"ticket_interval"`
	HandshakeIntervalRaw string `yaml:"handshake_interval"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads path, expands environment variables, parses durations, applies
// defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse is Load for an in-memory document.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR} with its environment value, or the empty
// string when unset.
func expandEnvVars(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envPattern.FindStringSubmatch(match)[1])
	})
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Store.Driver == "" {
		c.Store.Driver = "memory"
	}
	if c.Auth.Validator == "" {
		c.Auth.Validator = "jwt"
	}
	if c.Auth.Environment == "" {
		c.Auth.Environment = "production"
	}
	if c.Sweep.TicketInterval == 0 {
		c.Sweep.TicketInterval = time.Minute
	}
	if c.Sweep.HandshakeInterval == 0 {
		c.Sweep.HandshakeInterval = 10 * time.Second
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "memory":
	case "redis":
		if c.Store.Redis.Addr == "" {
			return errors.New("store.redis.addr is required for the redis driver")
		}
	case "postgres":
		if c.Store.Postgres.DSN == "" {
			return errors.New("store.postgres.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("store.driver %q is not one of memory, redis, postgres", c.Store.Driver)
	}

	switch c.Auth.Validator {
	case "jwt":
		if len(c.Auth.JWTSecret) < auth.MinSecretLength {
			return fmt.Errorf("auth.jwt_secret must be at least %d bytes", auth.MinSecretLength)
		}
	case "remote":
		if c.Auth.RemoteURL == "" {
			return errors.New("auth.remote_url is required for the remote validator")
		}
	default:
		return fmt.Errorf("auth.validator %q is not one of jwt, remote", c.Auth.Validator)
	}

	if c.Auth.MaxTicketTTL > auth.MaxTicketTTL {
		return fmt.Errorf("auth.max_ticket_ttl %s exceeds %s", c.Auth.MaxTicketTTL, auth.MaxTicketTTL)
	}
	if c.Auth.MaxTicketTTL > 0 && c.Auth.DefaultTicketTTL > c.Auth.MaxTicketTTL {
		return errors.New("auth.default_ticket_ttl exceeds auth.max_ticket_ttl")
	}
	for _, m := range c.Auth.MethodOrder {
		if !knownMethod(auth.Method(m)) {
			return fmt.Errorf("auth.method_order: unknown method %q", m)
		}
	}

	switch strings.ToLower(c.Logging.Format) {
	case "", "console", "text", "json":
	default:
		return fmt.Errorf("logging.format %q is not one of console, text, json", c.Logging.Format)
	}
	return nil
}

func knownMethod(m auth.Method) bool {
	switch m {
	case auth.MethodSubprotocolToken, auth.MethodHeaderToken, auth.MethodQueryToken,
		auth.MethodTicket, auth.MethodTestBypass:
		return true
	}
	return false
}

// AuthConfig converts the auth section into auth.Config. Unset fields keep
// the auth package defaults.
func (c *Config) AuthConfig() auth.Config {
	out := auth.DefaultConfig()
	a := c.Auth
	if a.TicketNamespace != "" {
		out.TicketNamespace = a.TicketNamespace
	}
	if a.DefaultTicketTTL > 0 {
		out.DefaultTicketTTL = a.DefaultTicketTTL
	}
	if a.MaxTicketTTL > 0 {
		out.MaxTicketTTL = a.MaxTicketTTL
	}
	if a.HandshakeTimeout > 0 {
		out.HandshakeTimeout = a.HandshakeTimeout
	}
	if a.DefaultPermissions != nil {
		out.DefaultPermissions = append([]string{}, a.DefaultPermissions...)
	}
	if len(a.SubprotocolPrefixes) > 0 {
		out.SubprotocolPrefixes = append([]string(nil), a.SubprotocolPrefixes...)
	}
	if len(a.TokenQueryParams) > 0 {
		out.TokenQueryParams = append([]string(nil), a.TokenQueryParams...)
	}
	if len(a.TicketQueryParams) > 0 {
		out.TicketQueryParams = append([]string(nil), a.TicketQueryParams...)
	}
	if len(a.MethodOrder) > 0 {
		out.MethodOrder = make([]auth.Method, 0, len(a.MethodOrder))
		for _, m := range a.MethodOrder {
			out.MethodOrder = append(out.MethodOrder, auth.Method(m))
		}
	}
	return out
}

// ValidatorConfig converts the auth section into auth.ValidatorConfig.
func (c *Config) ValidatorConfig() auth.ValidatorConfig {
	return auth.ValidatorConfig{
		Kind:          c.Auth.Validator,
		JWTSecret:     []byte(c.Auth.JWTSecret),
		JWTIssuer:     c.Auth.JWTIssuer,
		JWTAudience:   c.Auth.JWTAudience,
		JWTLeeway:     c.Auth.JWTLeeway,
		RemoteURL:     c.Auth.RemoteURL,
		RemotePath:    c.Auth.RemotePath,
		RemoteTimeout: c.Auth.RemoteTimeout,
	}
}

// Environment returns the deployment environment capability.
func (c *Config) Environment() auth.Environment {
	return auth.NamedEnvironment(c.Auth.Environment)
}

func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"server.read_timeout", cfg.Server.ReadTimeoutRaw, &cfg.Server.ReadTimeout},
		{"server.write_timeout", cfg.Server.WriteTimeoutRaw, &cfg.Server.WriteTimeout},
		{"server.idle_timeout", cfg.Server.IdleTimeoutRaw, &cfg.Server.IdleTimeout},
		{"server.shutdown_timeout", cfg.Server.ShutdownTimeoutRaw, &cfg.Server.ShutdownTimeout},
		{"store.postgres.conn_max_lifetime", cfg.Store.Postgres.ConnMaxLifetimeRaw, &cfg.Store.Postgres.ConnMaxLifetime},
		{"auth.jwt_leeway", cfg.Auth.JWTLeewayRaw, &cfg.Auth.JWTLeeway},
		{"auth.remote_timeout", cfg.Auth.RemoteTimeoutRaw, &cfg.Auth.RemoteTimeout},
		{"auth.default_ticket_ttl", cfg.Auth.DefaultTicketTTLRaw, &cfg.Auth.DefaultTicketTTL},
		{"auth.max_ticket_ttl", cfg.Auth.MaxTicketTTLRaw, &cfg.Auth.MaxTicketTTL},
		{"auth.handshake_timeout", cfg.Auth.HandshakeTimeoutRaw, &cfg.Auth.HandshakeTimeout},
		{"sweep.ticket_interval", cfg.Sweep.TicketIntervalRaw, &cfg.Sweep.TicketInterval},
		{"sweep.handshake_interval", cfg.Sweep.HandshakeIntervalRaw, &cfg.Sweep.HandshakeInterval},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		if d < 0 {
			return fmt.Errorf("%s must not be negative", f.name)
		}
		*f.dst = d
	}
	return nil
}
