package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"
)

const (
	DefaultTicketNamespace  = "ws_ticket"
	DefaultTicketTTL        = 5 * time.Minute
	MaxTicketTTL            = time.Hour
	MinTicketTTL            = time.Second
	DefaultHandshakeTimeout = 30 * time.Second
)

// Config holds the tunables shared by TicketManager, Authenticator and
// HandshakeCoordinator. Zero fields fall back to DefaultConfig.
type Config struct {
	TicketNamespace    string
	DefaultTicketTTL   time.Duration
	MaxTicketTTL       time.Duration
	DefaultPermissions []string
	HandshakeTimeout   time.Duration

	SubprotocolPrefixes []string
	TokenQueryParams    []string
	TicketQueryParams   []string

	BypassHeader          string
	BypassQueryParam      string
	BypassUserHeader      string
	BypassUserQueryParam  string
	BypassEmailHeader     string
	BypassEmailQueryParam string
	BypassPermissions     []string

	// MethodOrder overrides the order in which the Authenticator tries its
	// strategies. Unknown or duplicate entries are ignored.
	MethodOrder []Method
}

// DefaultConfig returns the stock configuration.
func DefaultConfig() Config {
	return Config{
		TicketNamespace:       DefaultTicketNamespace,
		DefaultTicketTTL:      DefaultTicketTTL,
		MaxTicketTTL:          MaxTicketTTL,
		DefaultPermissions:    []string{"read", "write"},
		HandshakeTimeout:      DefaultHandshakeTimeout,
		SubprotocolPrefixes:   []string{"jwt-auth.", "jwt.", "bearer."},
		TokenQueryParams:      []string{"token", "jwt", "auth_token", "access_token"},
		TicketQueryParams:     []string{"ticket", "auth_ticket", "ticket_id"},
		BypassHeader:          "X-Test-Bypass",
		BypassQueryParam:      "test_bypass",
		BypassUserHeader:      "X-Test-User-ID",
		BypassUserQueryParam:  "test_user_id",
		BypassEmailHeader:     "X-Test-User-Email",
		BypassEmailQueryParam: "test_user_email",
		BypassPermissions:     []string{"read", "write"},
		MethodOrder: []Method{
			MethodSubprotocolToken,
			MethodHeaderToken,
			MethodQueryToken,
			MethodTicket,
			MethodTestBypass,
		},
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.TicketNamespace == "" {
		c.TicketNamespace = def.TicketNamespace
	}
	if c.DefaultTicketTTL <= 0 {
		c.DefaultTicketTTL = def.DefaultTicketTTL
	}
	if c.MaxTicketTTL <= 0 || c.MaxTicketTTL > MaxTicketTTL {
		c.MaxTicketTTL = def.MaxTicketTTL
	}
	if c.MaxTicketTTL < MinTicketTTL {
		c.MaxTicketTTL = MinTicketTTL
	}
	if c.DefaultPermissions == nil {
		c.DefaultPermissions = def.DefaultPermissions
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = def.HandshakeTimeout
	}
	if c.SubprotocolPrefixes == nil {
		c.SubprotocolPrefixes = def.SubprotocolPrefixes
	}
	if c.TokenQueryParams == nil {
		c.TokenQueryParams = def.TokenQueryParams
	}
	if c.TicketQueryParams == nil {
		c.TicketQueryParams = def.TicketQueryParams
	}
	if c.BypassHeader == "" {
		c.BypassHeader = def.BypassHeader
	}
	if c.BypassQueryParam == "" {
		c.BypassQueryParam = def.BypassQueryParam
	}
	if c.BypassUserHeader == "" {
		c.BypassUserHeader = def.BypassUserHeader
	}
	if c.BypassUserQueryParam == "" {
		c.BypassUserQueryParam = def.BypassUserQueryParam
	}
	if c.BypassEmailHeader == "" {
		c.BypassEmailHeader = def.BypassEmailHeader
	}
	if c.BypassEmailQueryParam == "" {
		c.BypassEmailQueryParam = def.BypassEmailQueryParam
	}
	if c.BypassPermissions == nil {
		c.BypassPermissions = def.BypassPermissions
	}
	if len(c.MethodOrder) == 0 {
		c.MethodOrder = def.MethodOrder
	}
	return c
}

// Option customizes the runtime collaborators of the auth components.
type Option func(*options)

type options struct {
	logger *slog.Logger
	now    func() time.Time
}

func newOptions(opts ...Option) options {
	o := options{logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// WithLogger routes diagnostics to l instead of slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

type MiddlewareSkipper func(*http.Request) bool

type MiddlewareErrorHandler func(http.ResponseWriter, *http.Request, error)

type MiddlewareOption func(*middlewareConfig)

type middlewareConfig struct {
	skipper      MiddlewareSkipper
	errorHandler MiddlewareErrorHandler
}

func newMiddlewareConfig(opts ...MiddlewareOption) middlewareConfig {
	cfg := middlewareConfig{
		skipper:      defaultSkipper,
		errorHandler: defaultErrorHandler,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}

func WithSkipper(skipper MiddlewareSkipper) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if skipper != nil {
			cfg.skipper = skipper
		}
	}
}

func WithErrorHandler(handler MiddlewareErrorHandler) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if handler != nil {
			cfg.errorHandler = handler
		}
	}
}

func defaultSkipper(*http.Request) bool { return false }

// defaultErrorHandler never echoes err to the client; the status is the only
// signal a caller receives.
func defaultErrorHandler(w http.ResponseWriter, _ *http.Request, err error) {
	status := http.StatusUnauthorized
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		status = http.StatusGatewayTimeout
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + http.StatusText(status) + `"}`))
}
