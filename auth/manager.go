package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/adeilh/rakh-connauth/cache"
)

// Manager bundles ticket, authentication and handshake workflows behind a
// single façade.
type Manager struct {
	cfg        Config
	tickets    *TicketManager
	authn      *Authenticator
	handshakes *HandshakeCoordinator
}

// ManagerConfig wires the dependencies required for Manager.
type ManagerConfig struct {
	Store       cache.Store
	Validator   TokenValidator
	Environment Environment
	Config      Config
	Logger      *slog.Logger
	Now         func() time.Time
}

// NewManager builds a Manager with the provided dependencies. Store is
// required; Validator and Environment are optional.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Store == nil {
		return nil, errors.New("auth: manager requires a cache store")
	}
	opts := []Option{WithLogger(cfg.Logger), WithClock(cfg.Now)}
	conf := cfg.Config.withDefaults()

	tickets := NewTicketManager(cfg.Store, conf, opts...)
	authn := NewAuthenticator(conf, cfg.Validator, tickets, cfg.Environment, opts...)
	handshakes := NewHandshakeCoordinator(tickets, authn, conf, opts...)

	return &Manager{
		cfg:        conf,
		tickets:    tickets,
		authn:      authn,
		handshakes: handshakes,
	}, nil
}

func (m *Manager) Config() Config { return m.cfg }
func (m *Manager) Tickets() *TicketManager { return m.tickets }
func (m *Manager) Authenticator() *Authenticator { return m.authn }
func (m *Manager) Handshakes() *HandshakeCoordinator { return m.handshakes }

// IssueTicket mints a ticket for an already authenticated subject.
func (m *Manager) IssueTicket(ctx context.Context, req TicketRequest) (Ticket, error) {
	return m.tickets.Generate(ctx, req)
}

// TicketIntrospection is the non-consuming view of a ticket.
type TicketIntrospection struct {
	Valid        bool       `json:"valid"`
	SubjectID    string     `json:"subject_id,omitempty"`
	SubjectEmail string     `json:"subject_email,omitempty"`
	Permissions  []string   `json:"permissions,omitempty"`
	SingleUse    bool       `json:"single_use,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}

// IntrospectTicket reports whether id is currently valid without consuming
// it, so single-use tickets survive introspection.
func (m *Manager) IntrospectTicket(ctx context.Context, id string) TicketIntrospection {
	t := m.tickets.Lookup(ctx, id)
	if t == nil {
		return TicketIntrospection{}
	}
	exp := t.ExpiresAt
	return TicketIntrospection{
		Valid:        true,
		SubjectID:    t.SubjectID,
		SubjectEmail: t.SubjectEmail,
		Permissions:  t.Permissions,
		SingleUse:    t.SingleUse,
		ExpiresAt:    &exp,
	}
}

// RevokeTicket deletes id on behalf of callerSubject, who must own it.
func (m *Manager) RevokeTicket(ctx context.Context, id, callerSubject string) error {
	if id == "" || callerSubject == "" {
		return fmt.Errorf("%w: ticket id and caller are required", ErrInvalidRequest)
	}
	t := m.tickets.Lookup(ctx, id)
	if t == nil {
		return ErrNotFoundOrExpired
	}
	if t.SubjectID != callerSubject {
		return ErrForbidden
	}
	if !m.tickets.Revoke(ctx, id) {
		return ErrNotFoundOrExpired
	}
	return nil
}

// Authenticate runs the full strategy pipeline.
func (m *Manager) Authenticate(ctx context.Context, req ConnectionRequest) AuthResult {
	return m.authn.Authenticate(ctx, req)
}

// AuthenticateBearer validates a bare bearer token.
func (m *Manager) AuthenticateBearer(ctx context.Context, token string) AuthResult {
	return m.authn.AuthenticateBearer(ctx, token)
}

func (m *Manager) PrepareAuthentication(ctx context.Context, connectionID, ticketID, bearerToken string) (bool, *SubjectContext) {
	return m.handshakes.PrepareAuthentication(ctx, connectionID, ticketID, bearerToken)
}

// PrepareCredentials prepares a handshake from extracted credentials so the
// cached subject keeps the transport the token came from.
func (m *Manager) PrepareCredentials(ctx context.Context, connectionID string, creds Credentials) (bool, *SubjectContext) {
	return m.handshakes.PrepareCredentials(ctx, connectionID, creds)
}

func (m *Manager) GetPreparedContext(connectionID string) *SubjectContext {
	return m.handshakes.GetPreparedContext(connectionID)
}

func (m *Manager) MarkHandshakeCompleted(connectionID string) bool {
	return m.handshakes.MarkHandshakeCompleted(connectionID)
}

func (m *Manager) CleanupHandshake(connectionID string) {
	m.handshakes.Cleanup(connectionID)
}

func (m *Manager) HandshakeStatistics() HandshakeStats {
	return m.handshakes.GetStatistics()
}

// Sweep purges expired tickets and handshakes and reports both counts.
func (m *Manager) Sweep(ctx context.Context) (tickets, handshakes int) {
	return m.tickets.PurgeExpired(ctx), m.handshakes.PurgeExpiredHandshakes()
}
