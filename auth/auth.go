package auth

import (
	"context"
	"time"
)

// Method tags the authentication path that produced an AuthResult.
type Method string

const (
	MethodSubprotocolToken Method = "subprotocol-token"
	MethodHeaderToken      Method = "header-token"
	MethodQueryToken       Method = "query-token"
	MethodTicket           Method = "ticket"
	MethodTestBypass       Method = "test-bypass"
	MethodNone             Method = "none"
)

// IsToken reports whether m validates a bearer token.
func (m Method) IsToken() bool {
	switch m {
	case MethodSubprotocolToken, MethodHeaderToken, MethodQueryToken:
		return true
	default:
		return false
	}
}

// Ticket is a short-lived grant of identity redeemable in place of a
// long-lived credential. It is the persisted shape stored under
// "<namespace>:<id>".
type Ticket struct {
	ID           string         `json:"ticket_id"`
	SubjectID    string         `json:"subject_id"`
	SubjectEmail string         `json:"subject_email"`
	Permissions  []string       `json:"permissions"`
	CreatedAt    time.Time      `json:"created_at"`
	ExpiresAt    time.Time      `json:"expires_at"`
	SingleUse    bool           `json:"single_use"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// IsExpired reports whether the ticket is past its expiry at the given time.
func (t Ticket) IsExpired(at time.Time) bool {
	return at.After(t.ExpiresAt)
}

func (t Ticket) clone() Ticket {
	out := t
	out.Permissions = cloneStrings(t.Permissions)
	out.Metadata = cloneMetadata(t.Metadata)
	return out
}

// TicketRequest carries the inputs of TicketManager.Generate.
type TicketRequest struct {
	SubjectID    string
	SubjectEmail string
	Permissions  []string
	TTL          time.Duration
	SingleUse    bool
	Metadata     map[string]any
}

// AuthResult is the normalized outcome of one authentication attempt.
// Identity fields are only set when Success is true; Error only when it is
// false.
type AuthResult struct {
	Success      bool     `json:"success"`
	SubjectID    string   `json:"subject_id,omitempty"`
	SubjectEmail string   `json:"subject_email,omitempty"`
	Permissions  []string `json:"permissions,omitempty"`
	Method       Method   `json:"method"`
	Error        string   `json:"error,omitempty"`
}

func failure(method Method, msg string) AuthResult {
	return AuthResult{Method: method, Error: msg}
}

// SubjectContext is the verified identity cached for a connection.
type SubjectContext struct {
	SubjectID       string    `json:"subject_id"`
	SubjectEmail    string    `json:"subject_email"`
	Permissions     []string  `json:"permissions"`
	Method          Method    `json:"method"`
	TicketID        string    `json:"-"`
	AuthenticatedAt time.Time `json:"authenticated_at"`
}

func (s *SubjectContext) clone() *SubjectContext {
	if s == nil {
		return nil
	}
	out := *s
	out.Permissions = cloneStrings(s.Permissions)
	return &out
}

// HasPermission reports whether the subject was granted perm.
func (s *SubjectContext) HasPermission(perm string) bool {
	if s == nil {
		return false
	}
	for _, p := range s.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}

// TokenClaims is what a TokenValidator extracts from a bearer token.
type TokenClaims struct {
	Valid        bool
	SubjectID    string
	SubjectEmail string
	Permissions  []string
}

// TokenValidator verifies long-lived bearer credentials. An error means the
// validator could not reach a decision (transport failure).
type TokenValidator interface {
	Validate(ctx context.Context, token string) (TokenClaims, error)
}

// TokenValidatorFunc adapts a function to TokenValidator.
type TokenValidatorFunc func(ctx context.Context, token string) (TokenClaims, error)

func (f TokenValidatorFunc) Validate(ctx context.Context, token string) (TokenClaims, error) {
	return f(ctx, token)
}

func cloneStrings(src []string) []string {
	if len(src) == 0 {
		return nil
	}
	out := make([]string, len(src))
	copy(out, src)
	return out
}

func cloneMetadata(src map[string]any) map[string]any {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]any, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

func contextError(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
