package auth

import (
	"context"
	"errors"
	"net/http"
)

// RequestAuthenticator resolves an AuthResult for a connection request.
// *Authenticator and *Manager satisfy it.
type RequestAuthenticator interface {
	Authenticate(ctx context.Context, req ConnectionRequest) AuthResult
}

// Middleware authenticates plain HTTP requests with the same strategy
// pipeline used for connections and stores the result on the context.
type Middleware struct {
	authn        RequestAuthenticator
	skipper      MiddlewareSkipper
	errorHandler MiddlewareErrorHandler
}

type resultContextKey struct{}

func NewMiddleware(authn RequestAuthenticator, opts ...MiddlewareOption) (*Middleware, error) {
	if authn == nil {
		return nil, errors.New("auth: middleware requires an authenticator")
	}
	cfg := newMiddlewareConfig(opts...)
	return &Middleware{
		authn:        authn,
		skipper:      cfg.skipper,
		errorHandler: cfg.errorHandler,
	}, nil
}

func (m *Middleware) Handler(next http.Handler) http.Handler {
	if m == nil {
		panic("auth: middleware is nil")
	}
	if next == nil {
		next = http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.skipper(r) {
			next.ServeHTTP(w, r)
			return
		}

		res := m.authn.Authenticate(r.Context(), RequestFromHTTP(r))
		if !res.Success {
			err := ErrAllMethodsExhausted
			if ctxErr := r.Context().Err(); ctxErr != nil {
				err = ctxErr
			}
			m.errorHandler(w, r, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithResult(r.Context(), res)))
	})
}

// WithResult stores res on ctx.
func WithResult(ctx context.Context, res AuthResult) context.Context {
	return context.WithValue(ctx, resultContextKey{}, res)
}

// ResultFromContext returns the AuthResult stored by Middleware.
func ResultFromContext(ctx context.Context) (AuthResult, bool) {
	if ctx == nil {
		return AuthResult{}, false
	}
	res, ok := ctx.Value(resultContextKey{}).(AuthResult)
	return res, ok
}
