// Package wsgate accepts WebSocket connections only after their credentials
// have been resolved, so a session never starts without an identity.
package wsgate

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/adeilh/rakh-connauth/auth"
	"github.com/adeilh/rakh-connauth/httpx"
)

// DefaultPath is where Register mounts the gate.
const DefaultPath = "/v1/stream"

// SessionHandler runs one authenticated connection. The connection is closed
// once it returns.
type SessionHandler func(ctx context.Context, conn *websocket.Conn, subject *auth.SubjectContext) error

// Gate is an http.Handler performing the authenticated accept path.
type Gate struct {
	manager *auth.Manager
	handler SessionHandler
	logger  *slog.Logger
	origins []string
	path    string
	newID   func() string
}

// Option configures a Gate.
type Option func(*Gate)

func WithLogger(logger *slog.Logger) Option {
	return func(g *Gate) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithOriginPatterns allows cross-origin browser clients matching patterns.
func WithOriginPatterns(patterns ...string) Option {
	return func(g *Gate) { g.origins = append([]string(nil), patterns...) }
}

func WithPath(path string) Option {
	return func(g *Gate) {
		if path != "" {
			g.path = path
		}
	}
}

// New builds a Gate. A nil handler uses DefaultSession.
func New(m *auth.Manager, handler SessionHandler, opts ...Option) (*Gate, error) {
	if m == nil {
		return nil, errors.New("wsgate: manager is required")
	}
	if handler == nil {
		handler = DefaultSession
	}
	g := &Gate{
		manager: m,
		handler: handler,
		logger:  slog.Default(),
		path:    DefaultPath,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	g.logger = g.logger.With("component", "wsgate")
	return g, nil
}

// Register mounts the gate on a.
func (g *Gate) Register(a *httpx.App) {
	a.GET(g.path, httpx.WrapHandler(g))
}

func (g *Gate) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	connID := g.newID()
	defer g.manager.CleanupHandshake(connID)

	req := auth.RequestFromHTTP(r)
	creds := auth.ExtractCredentials(req, g.manager.Config())

	ok, _ := g.manager.PrepareCredentials(ctx, connID, creds)
	if !ok && creds.Ticket == "" && creds.Bearer == "" {
		// No ticket or token offered; the remaining strategies (test bypass)
		// only run through the full pipeline.
		if res := g.manager.Authenticate(ctx, req); res.Success {
			ok = g.manager.Handshakes().Attach(connID, res)
		}
	}
	if !ok {
		g.logger.Info("connection rejected", "connection_id", connID, "remote_addr", r.RemoteAddr)
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("WWW-Authenticate", "Bearer")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"authentication failed"}`))
		return
	}

	opts := &websocket.AcceptOptions{OriginPatterns: g.origins}
	if creds.Subprotocol != "" {
		opts.Subprotocols = []string{creds.Subprotocol}
	}
	// Server read/write timeouts would otherwise outlive the hijack and cut
	// long-running sessions.
	rc := http.NewResponseController(w)
	_ = rc.SetReadDeadline(time.Time{})
	_ = rc.SetWriteDeadline(time.Time{})

	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		g.logger.Warn("websocket accept failed", "connection_id", connID, "error", err)
		return
	}
	defer conn.CloseNow()

	subject := g.manager.GetPreparedContext(connID)
	if subject == nil {
		g.logger.Warn("handshake expired before accept completed", "connection_id", connID)
		_ = conn.Close(websocket.StatusPolicyViolation, "authentication expired")
		return
	}
	if !g.manager.MarkHandshakeCompleted(connID) {
		_ = conn.Close(websocket.StatusPolicyViolation, "authentication expired")
		return
	}

	log := g.logger.With("connection_id", connID, "subject_id", subject.SubjectID, "method", subject.Method)
	log.Info("connection established")

	if err := g.handler(ctx, conn, subject); err != nil && !isClosed(err) {
		log.Warn("session ended with error", "error", err)
		_ = conn.Close(websocket.StatusInternalError, "session error")
		return
	}
	log.Info("connection closed")
	_ = conn.Close(websocket.StatusNormalClosure, "")
}

func isClosed(err error) bool {
	if errors.Is(err, context.Canceled) {
		return true
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	}
	return false
}
