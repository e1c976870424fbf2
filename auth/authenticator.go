package auth

import (
	"context"
	"log/slog"
	"strings"
)

// Strategy is one authentication method. TryAuthenticate returns ok=false
// when the request carries no credential for this method; the result is only
// meaningful when ok is true.
type Strategy interface {
	Method() Method
	TryAuthenticate(ctx context.Context, req ConnectionRequest) (AuthResult, bool)
}

// Authenticator runs an ordered list of strategies and returns the first
// success. It never returns an error: every failure is folded into an
// AuthResult with Method "none" and a generic message.
type Authenticator struct {
	cfg        Config
	strategies []Strategy
	bearer     *tokenStrategy
	logger     *slog.Logger
}

// NewAuthenticator assembles the strategy pipeline. A nil validator disables
// the token methods and a nil tickets manager disables the ticket method.
// The test-bypass method is installed only when env reports non-production.
func NewAuthenticator(cfg Config, validator TokenValidator, tickets *TicketManager, env Environment, opts ...Option) *Authenticator {
	cfg = cfg.withDefaults()
	o := newOptions(opts...)
	a := &Authenticator{
		cfg:    cfg,
		logger: o.logger.With("component", "authenticator"),
	}

	available := map[Method]Strategy{}
	if validator != nil {
		sub := &tokenStrategy{method: MethodSubprotocolToken, validator: validator, extract: func(r ConnectionRequest) (string, bool) {
			t, _, ok := SubprotocolToken(r.Subprotocols, cfg.SubprotocolPrefixes)
			return t, ok
		}}
		header := &tokenStrategy{method: MethodHeaderToken, validator: validator, extract: func(r ConnectionRequest) (string, bool) {
			t, err := BearerToken(r.header("Authorization"))
			return t, err == nil
		}}
		query := &tokenStrategy{method: MethodQueryToken, validator: validator, extract: func(r ConnectionRequest) (string, bool) {
			return FirstQueryValue(r.Query, cfg.TokenQueryParams)
		}}
		available[MethodSubprotocolToken] = sub
		available[MethodHeaderToken] = header
		available[MethodQueryToken] = query
		a.bearer = header
	}
	if tickets != nil {
		available[MethodTicket] = &ticketStrategy{tickets: tickets, params: cfg.TicketQueryParams}
	}
	if env != nil && env.IsNonProduction() {
		available[MethodTestBypass] = &bypassStrategy{cfg: cfg}
		a.logger.Warn("test bypass authentication enabled")
	}

	seen := map[Method]bool{}
	for _, m := range cfg.MethodOrder {
		s, ok := available[m]
		if !ok || seen[m] {
			continue
		}
		seen[m] = true
		a.strategies = append(a.strategies, s)
	}
	return a
}

// Methods lists the installed strategies in the order they are tried.
func (a *Authenticator) Methods() []Method {
	out := make([]Method, 0, len(a.strategies))
	for _, s := range a.strategies {
		out = append(out, s.Method())
	}
	return out
}

type attempt struct {
	Method Method `json:"method"`
	Reason string `json:"reason"`
}

// Authenticate tries every installed strategy in order.
func (a *Authenticator) Authenticate(ctx context.Context, req ConnectionRequest) AuthResult {
	var attempts []attempt
	for _, s := range a.strategies {
		if err := contextError(ctx); err != nil {
			attempts = append(attempts, attempt{Method: s.Method(), Reason: "context done"})
			break
		}
		res, ok := s.TryAuthenticate(ctx, req)
		if !ok {
			continue
		}
		if res.Success {
			a.logger.InfoContext(ctx, "connection authenticated",
				"method", res.Method,
				"subject_id", res.SubjectID,
				"remote_addr", req.RemoteAddr,
			)
			return res
		}
		attempts = append(attempts, attempt{Method: s.Method(), Reason: res.Error})
	}

	a.logger.WarnContext(ctx, "connection authentication failed",
		"attempts", attempts,
		"remote_addr", req.RemoteAddr,
		"subprotocols", redactSubprotocols(req.Subprotocols, a.cfg.SubprotocolPrefixes),
		"has_authorization", req.header("Authorization") != "",
		"query_keys", queryKeys(req),
	)
	return failure(MethodNone, "authentication failed")
}

// AuthenticateBearer validates a raw bearer token presented in the
// Authorization header. It fails when no validator is configured.
func (a *Authenticator) AuthenticateBearer(ctx context.Context, token string) AuthResult {
	return a.AuthenticateBearerVia(ctx, token, MethodHeaderToken)
}

// AuthenticateBearerVia validates token and labels the result with the
// transport it arrived on. Non-token methods fall back to the header label.
func (a *Authenticator) AuthenticateBearerVia(ctx context.Context, token string, via Method) AuthResult {
	if a.bearer == nil || strings.TrimSpace(token) == "" {
		return failure(MethodNone, "authentication failed")
	}
	if !via.IsToken() {
		via = MethodHeaderToken
	}
	res := a.bearer.validate(ctx, token)
	res.Method = via
	return res
}

type tokenStrategy struct {
	method    Method
	validator TokenValidator
	extract   func(ConnectionRequest) (string, bool)
}

func (s *tokenStrategy) Method() Method { return s.method }

func (s *tokenStrategy) TryAuthenticate(ctx context.Context, req ConnectionRequest) (AuthResult, bool) {
	token, ok := s.extract(req)
	if !ok {
		return AuthResult{}, false
	}
	return s.validate(ctx, token), true
}

func (s *tokenStrategy) validate(ctx context.Context, token string) AuthResult {
	claims, err := s.validator.Validate(ctx, token)
	if err != nil {
		return failure(s.method, "token validation unavailable: "+err.Error())
	}
	if !claims.Valid || claims.SubjectID == "" {
		return failure(s.method, "token rejected")
	}
	return AuthResult{
		Success:      true,
		SubjectID:    claims.SubjectID,
		SubjectEmail: claims.SubjectEmail,
		Permissions:  cloneStrings(claims.Permissions),
		Method:       s.method,
	}
}

type ticketStrategy struct {
	tickets *TicketManager
	params  []string
}

func (s *ticketStrategy) Method() Method { return MethodTicket }

func (s *ticketStrategy) TryAuthenticate(ctx context.Context, req ConnectionRequest) (AuthResult, bool) {
	id, ok := FirstQueryValue(req.Query, s.params)
	if !ok {
		return AuthResult{}, false
	}
	t := s.tickets.Validate(ctx, id)
	if t == nil {
		return failure(MethodTicket, "ticket rejected"), true
	}
	return AuthResult{
		Success:      true,
		SubjectID:    t.SubjectID,
		SubjectEmail: t.SubjectEmail,
		Permissions:  cloneStrings(t.Permissions),
		Method:       MethodTicket,
	}, true
}

type bypassStrategy struct {
	cfg Config
}

func (s *bypassStrategy) Method() Method { return MethodTestBypass }

func (s *bypassStrategy) TryAuthenticate(_ context.Context, req ConnectionRequest) (AuthResult, bool) {
	if !strings.EqualFold(req.header(s.cfg.BypassHeader), "true") &&
		!strings.EqualFold(req.query(s.cfg.BypassQueryParam), "true") {
		return AuthResult{}, false
	}
	subject := req.header(s.cfg.BypassUserHeader)
	if subject == "" {
		subject = req.query(s.cfg.BypassUserQueryParam)
	}
	if subject == "" {
		return failure(MethodTestBypass, "bypass requested without subject"), true
	}
	email := req.header(s.cfg.BypassEmailHeader)
	if email == "" {
		email = req.query(s.cfg.BypassEmailQueryParam)
	}
	return AuthResult{
		Success:      true,
		SubjectID:    subject,
		SubjectEmail: email,
		Permissions:  cloneStrings(s.cfg.BypassPermissions),
		Method:       MethodTestBypass,
	}, true
}
