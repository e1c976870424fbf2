package auth

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// HandshakePhase is the lifecycle position of a connection handshake.
type HandshakePhase string

const (
	PhasePending   HandshakePhase = "pending"
	PhaseVerified  HandshakePhase = "verified"
	PhaseFailed    HandshakePhase = "failed"
	PhaseCompleted HandshakePhase = "completed"
)

// HandshakeState tracks one connection between pre-upgrade verification
// and the first application message.
type HandshakeState struct {
	ConnectionID       string
	StartedAt          time.Time
	Phase              HandshakePhase
	AuthVerified       bool
	HandshakeCompleted bool
	Subject            *SubjectContext
	TicketID           string
}

func (s *HandshakeState) expired(now time.Time, timeout time.Duration) bool {
	return now.Sub(s.StartedAt) > timeout
}

// HandshakeStats is a point-in-time summary of the coordinator.
type HandshakeStats struct {
	Active          int `json:"active_handshakes"`
	Completed       int `json:"completed_handshakes"`
	Expired         int `json:"expired_handshakes"`
	TicketAuthCount int `json:"ticket_auth_count"`
	JWTAuthCount    int `json:"jwt_auth_count"`
}

// BearerAuthenticator validates a raw bearer token that arrived via the
// given token method. *Authenticator satisfies it.
type BearerAuthenticator interface {
	AuthenticateBearerVia(ctx context.Context, token string, via Method) AuthResult
}

// HandshakeCoordinator verifies credentials before a connection upgrade and
// caches the resulting identity for the lifetime of the handshake. A single
// mutex guards the state map; credential resolution runs outside it.
type HandshakeCoordinator struct {
	mu      sync.Mutex
	states  map[string]*HandshakeState
	tickets *TicketManager
	bearer  BearerAuthenticator
	timeout time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

// NewHandshakeCoordinator builds a coordinator. Either credential source may
// be nil, in which case that path always fails.
func NewHandshakeCoordinator(tickets *TicketManager, bearer BearerAuthenticator, cfg Config, opts ...Option) *HandshakeCoordinator {
	cfg = cfg.withDefaults()
	o := newOptions(opts...)
	return &HandshakeCoordinator{
		states:  make(map[string]*HandshakeState),
		tickets: tickets,
		bearer:  bearer,
		timeout: cfg.HandshakeTimeout,
		now:     o.now,
		logger:  o.logger.With("component", "handshake"),
	}
}

// PrepareAuthentication records a pending handshake for connectionID and
// resolves the supplied credentials: the ticket first, then the bearer token,
// which is treated as an Authorization header token.
// Any internal failure, including a panic in a collaborator, yields
// (false, nil).
func (c *HandshakeCoordinator) PrepareAuthentication(ctx context.Context, connectionID, ticketID, bearerToken string) (bool, *SubjectContext) {
	return c.PrepareCredentials(ctx, connectionID, Credentials{
		Ticket:       ticketID,
		Bearer:       bearerToken,
		BearerMethod: MethodHeaderToken,
	})
}

// PrepareCredentials is PrepareAuthentication for extracted credentials. The
// cached subject records creds.BearerMethod when the bearer token wins.
func (c *HandshakeCoordinator) PrepareCredentials(ctx context.Context, connectionID string, creds Credentials) (bool, *SubjectContext) {
	ticketID, bearerToken := creds.Ticket, creds.Bearer
	if connectionID == "" {
		return false, nil
	}
	log := c.logger.With("connection_id", connectionID)

	pending := &HandshakeState{
		ConnectionID: connectionID,
		StartedAt:    c.now(),
		Phase:        PhasePending,
	}
	c.mu.Lock()
	c.states[connectionID] = pending
	c.mu.Unlock()

	subject, err := c.resolve(ctx, creds)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.states[connectionID] != pending {
		log.DebugContext(ctx, "handshake replaced or cleaned up during resolution")
		return false, nil
	}
	if err != nil {
		log.ErrorContext(ctx, "handshake credential resolution failed", "error", err)
		pending.Phase = PhaseFailed
		return false, nil
	}
	if subject == nil {
		log.InfoContext(ctx, "handshake authentication failed",
			"ticket_supplied", ticketID != "",
			"bearer_supplied", bearerToken != "",
		)
		pending.Phase = PhaseFailed
		return false, nil
	}

	pending.Phase = PhaseVerified
	pending.AuthVerified = true
	pending.Subject = subject
	pending.TicketID = subject.TicketID
	log.InfoContext(ctx, "handshake verified",
		"subject_id", subject.SubjectID,
		"method", subject.Method,
	)
	return true, subject.clone()
}

func (c *HandshakeCoordinator) resolve(ctx context.Context, creds Credentials) (subject *SubjectContext, err error) {
	defer func() {
		if r := recover(); r != nil {
			subject, err = nil, fmt.Errorf("auth: panic during credential resolution: %v", r)
		}
	}()

	if creds.Ticket != "" && c.tickets != nil {
		if t := c.tickets.Validate(ctx, creds.Ticket); t != nil {
			return &SubjectContext{
				SubjectID:       t.SubjectID,
				SubjectEmail:    t.SubjectEmail,
				Permissions:     cloneStrings(t.Permissions),
				Method:          MethodTicket,
				TicketID:        t.ID,
				AuthenticatedAt: c.now(),
			}, nil
		}
	}
	if creds.Bearer != "" && c.bearer != nil {
		if res := c.bearer.AuthenticateBearerVia(ctx, creds.Bearer, creds.BearerMethod); res.Success {
			return subjectFromResult(res, c.now()), nil
		}
	}
	return nil, nil
}

func subjectFromResult(res AuthResult, at time.Time) *SubjectContext {
	return &SubjectContext{
		SubjectID:       res.SubjectID,
		SubjectEmail:    res.SubjectEmail,
		Permissions:     cloneStrings(res.Permissions),
		Method:          res.Method,
		AuthenticatedAt: at,
	}
}

// Attach records an identity established outside PrepareAuthentication,
// such as by the Authenticator fallback. Unsuccessful results are ignored.
func (c *HandshakeCoordinator) Attach(connectionID string, res AuthResult) bool {
	if connectionID == "" || !res.Success || res.SubjectID == "" {
		return false
	}
	now := c.now()
	c.mu.Lock()
	c.states[connectionID] = &HandshakeState{
		ConnectionID: connectionID,
		StartedAt:    now,
		Phase:        PhaseVerified,
		AuthVerified: true,
		Subject:      subjectFromResult(res, now),
	}
	c.mu.Unlock()
	return true
}

// GetPreparedContext returns a copy of the verified identity for
// connectionID, or nil when none exists or the handshake timed out.
func (c *HandshakeCoordinator) GetPreparedContext(connectionID string) *SubjectContext {
	c.mu.Lock()
	defer c.mu.Unlock()

	state, ok := c.states[connectionID]
	if !ok {
		return nil
	}
	if state.expired(c.now(), c.timeout) {
		delete(c.states, connectionID)
		c.logger.Info("handshake expired", "connection_id", connectionID)
		return nil
	}
	if !state.AuthVerified {
		return nil
	}
	return state.Subject.clone()
}

// MarkHandshakeCompleted flags a known handshake as completed. It reports
// false when no state exists for connectionID.
func (c *HandshakeCoordinator) MarkHandshakeCompleted(connectionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	state, ok := c.states[connectionID]
	if !ok {
		return false
	}
	state.HandshakeCompleted = true
	state.Phase = PhaseCompleted
	return true
}

// Cleanup forgets connectionID. It is idempotent.
func (c *HandshakeCoordinator) Cleanup(connectionID string) {
	c.mu.Lock()
	delete(c.states, connectionID)
	c.mu.Unlock()
}

// PurgeExpiredHandshakes removes every handshake older than the timeout and
// returns how many were dropped.
func (c *HandshakeCoordinator) PurgeExpiredHandshakes() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for id, state := range c.states {
		if state.expired(now, c.timeout) {
			delete(c.states, id)
			removed++
		}
	}
	if removed > 0 {
		c.logger.Info("expired handshakes purged", "count", removed)
	}
	return removed
}

// GetStatistics summarizes the tracked handshakes.
func (c *HandshakeCoordinator) GetStatistics() HandshakeStats {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()

	var stats HandshakeStats
	for _, state := range c.states {
		if state.expired(now, c.timeout) {
			stats.Expired++
			continue
		}
		stats.Active++
		if state.HandshakeCompleted {
			stats.Completed++
		}
		if !state.AuthVerified || state.Subject == nil {
			continue
		}
		switch {
		case state.TicketID != "":
			stats.TicketAuthCount++
		case state.Subject.Method.IsToken():
			stats.JWTAuthCount++
		}
	}
	return stats
}
