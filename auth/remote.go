package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/adeilh/rakh-connauth/httpx"
)

// RemoteValidator delegates bearer-token checks to an introspection endpoint
// that answers POST {"token": "..."} with the fields of remoteVerdict.
type RemoteValidator struct {
	client *httpx.Client
	path   string
}

type remoteVerdict struct {
	Valid        bool     `json:"valid"`
	SubjectID    string   `json:"subject_id"`
	SubjectEmail string   `json:"subject_email"`
	Permissions  []string `json:"permissions"`
}

// NewRemoteValidator targets baseURL+path. A zero timeout keeps the client
// default.
func NewRemoteValidator(baseURL, path string, timeout time.Duration) (*RemoteValidator, error) {
	if baseURL == "" {
		return nil, errors.New("auth: remote validator requires a base url")
	}
	if path == "" {
		path = "/validate"
	}
	client := httpx.NewClient(
		httpx.WithBaseURL(baseURL),
		httpx.WithClientTimeout(timeout),
		httpx.WithRetries(2, 50*time.Millisecond),
	)
	return &RemoteValidator{client: client, path: path}, nil
}

// Validate implements TokenValidator. 401 and 403 responses are a negative
// verdict; other failures are returned as errors.
func (v *RemoteValidator) Validate(ctx context.Context, token string) (TokenClaims, error) {
	var verdict remoteVerdict
	_, err := v.client.Post(ctx, v.path, map[string]string{"token": token}, &verdict, httpx.WithBearer(token))
	if err != nil {
		var se *httpx.StatusError
		if errors.As(err, &se) && (se.Code == http.StatusUnauthorized || se.Code == http.StatusForbidden) {
			return TokenClaims{Valid: false}, nil
		}
		return TokenClaims{}, fmt.Errorf("auth: remote validation: %w", err)
	}
	return TokenClaims{
		Valid:        verdict.Valid && verdict.SubjectID != "",
		SubjectID:    verdict.SubjectID,
		SubjectEmail: verdict.SubjectEmail,
		Permissions:  verdict.Permissions,
	}, nil
}
