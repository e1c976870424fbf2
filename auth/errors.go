package auth

import "errors"

var (
	// ErrInvalidRequest marks malformed or incomplete caller input.
	ErrInvalidRequest = errors.New("auth: invalid request")
	// ErrStorageUnavailable marks a backing store that could not persist a ticket.
	ErrStorageUnavailable = errors.New("auth: ticket storage unavailable")
	// ErrNotFoundOrExpired deliberately covers both cases.
	ErrNotFoundOrExpired = errors.New("auth: ticket not found or expired")

	// ErrForbidden is returned when a subject acts on a ticket it does not own.
	ErrForbidden = errors.New("auth: forbidden")

	// ErrAllMethodsExhausted is returned when no authentication method succeeded.
	ErrAllMethodsExhausted = errors.New("auth: authentication failed")

	ErrTokenNotFound     = errors.New("auth: token not found")
	ErrTokenInvalidInput = errors.New("auth: invalid token source")
)
