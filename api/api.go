// Package api exposes ticket issuance, introspection and revocation plus the
// connection-auth diagnostics over HTTP.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/adeilh/rakh-connauth/auth"
	"github.com/adeilh/rakh-connauth/httpx"
)

// Pinger reports whether a backing dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler serves the HTTP surface of a Manager.
type Handler struct {
	manager      *auth.Manager
	logger       *slog.Logger
	checks       map[string]Pinger
	checkTimeout time.Duration
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the handler logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithHealthCheck adds a dependency checked by GET /healthz.
func WithHealthCheck(name string, p Pinger) Option {
	return func(h *Handler) {
		if name != "" && p != nil {
			h.checks[name] = p
		}
	}
}

// New builds a Handler for m.
func New(m *auth.Manager, opts ...Option) (*Handler, error) {
	if m == nil {
		return nil, errors.New("api: manager is required")
	}
	h := &Handler{
		manager:      m,
		logger:       slog.Default(),
		checks:       make(map[string]Pinger),
		checkTimeout: 2 * time.Second,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	h.logger = h.logger.With("component", "api")
	return h, nil
}

// Register mounts every route on a.
func (h *Handler) Register(a *httpx.App) {
	issuer := httpx.WrapMiddleware(h.bearerMiddleware())
	connection := httpx.WrapMiddleware(h.connectionMiddleware())

	a.GET("/healthz", h.health)

	v1 := a.Group("/v1")
	v1.POST("/tickets", h.issueTicket, issuer)
	v1.GET("/tickets/:id", h.introspectTicket)
	v1.DELETE("/tickets/:id", h.revokeTicket, issuer)
	v1.GET("/connections/whoami", h.whoami, connection)
	v1.GET("/handshakes/stats", h.handshakeStats)
}

// Routes adapts Register to httpx.Server.RegisterRoutes.
func (h *Handler) Routes() httpx.RouteRegistrar {
	return h.Register
}

// bearerMiddleware admits only callers presenting a valid Authorization
// bearer token; tickets cannot be used to mint or revoke tickets.
func (h *Handler) bearerMiddleware() func(http.Handler) http.Handler {
	mw, _ := auth.NewMiddleware(bearerOnly{h.manager}, auth.WithErrorHandler(writeAuthError))
	return mw.Handler
}

func (h *Handler) connectionMiddleware() func(http.Handler) http.Handler {
	mw, _ := auth.NewMiddleware(h.manager, auth.WithErrorHandler(writeAuthError))
	return mw.Handler
}

type bearerOnly struct{ m *auth.Manager }

func (b bearerOnly) Authenticate(ctx context.Context, req auth.ConnectionRequest) auth.AuthResult {
	token, err := auth.BearerToken(req.Header.Get("Authorization"))
	if err != nil {
		return auth.AuthResult{Method: auth.MethodNone, Error: "authentication failed"}
	}
	return b.m.AuthenticateBearer(ctx, token)
}

func writeAuthError(w http.ResponseWriter, _ *http.Request, err error) {
	status := http.StatusUnauthorized
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		status = http.StatusGatewayTimeout
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", "Bearer")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"authentication failed"}`))
}

func caller(c httpx.Context) (auth.AuthResult, error) {
	res, ok := auth.ResultFromContext(c.Request().Context())
	if !ok || !res.Success {
		return auth.AuthResult{}, httpx.HTTPError(httpx.StatusUnauthorized, "authentication failed")
	}
	return res, nil
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func (h *Handler) health(c httpx.Context) error {
	resp := healthResponse{Status: "ok"}
	status := httpx.StatusOK
	if len(h.checks) > 0 {
		resp.Checks = make(map[string]string, len(h.checks))
		ctx, cancel := context.WithTimeout(c.Request().Context(), h.checkTimeout)
		defer cancel()
		for name, p := range h.checks {
			if err := p.Ping(ctx); err != nil {
				h.logger.Warn("health check failed", "check", name, "error", err)
				resp.Checks[name] = "unavailable"
				resp.Status = "degraded"
				status = httpx.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}
	}
	return c.JSON(status, resp)
}

func (h *Handler) whoami(c httpx.Context) error {
	res, err := caller(c)
	if err != nil {
		return err
	}
	return c.JSON(httpx.StatusOK, res)
}

func (h *Handler) handshakeStats(c httpx.Context) error {
	return c.JSON(httpx.StatusOK, h.manager.HandshakeStatistics())
}
