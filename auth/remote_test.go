package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/adeilh/rakh-connauth/httpx"
)

func newIntrospectionServer(t *testing.T) *httpx.TestServer {
	t.Helper()
	ts := httpx.NewTestServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Token string `json:"token"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if r.Header.Get("Authorization") != "Bearer "+body.Token {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		switch body.Token {
		case "good":
			_, _ = w.Write([]byte(`{"valid":true,"subject_id":"remote-user","subject_email":"r@x","permissions":["read"]}`))
		case "inactive":
			_, _ = w.Write([]byte(`{"valid":false}`))
		case "boom":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusUnauthorized)
		}
	}))
	t.Cleanup(ts.Close)
	return ts
}

func TestRemoteValidator(t *testing.T) {
	ts := newIntrospectionServer(t)
	v, err := NewRemoteValidator(ts.BaseURL(), "/introspect", time.Second)
	if err != nil {
		t.Fatalf("NewRemoteValidator() error = %v", err)
	}
	ctx := context.Background()

	claims, err := v.Validate(ctx, "good")
	if err != nil || !claims.Valid || claims.SubjectID != "remote-user" || claims.SubjectEmail != "r@x" {
		t.Fatalf("Validate(good) = (%+v, %v)", claims, err)
	}

	for _, token := range []string{"inactive", "unknown"} {
		claims, err := v.Validate(ctx, token)
		if err != nil || claims.Valid {
			t.Fatalf("Validate(%s) = (%+v, %v), want invalid", token, claims, err)
		}
	}

	if _, err := v.Validate(ctx, "boom"); err == nil {
		t.Fatalf("Validate(boom) should surface the upstream failure")
	}
}

func TestRemoteValidatorFailureFoldsIntoAuthResult(t *testing.T) {
	ts := newIntrospectionServer(t)
	v, _ := NewRemoteValidator(ts.BaseURL(), "/introspect", time.Second)
	authn := NewAuthenticator(DefaultConfig(), v, nil, nil, WithLogger(discardLogger()))

	res := authn.AuthenticateBearer(context.Background(), "boom")
	if res.Success {
		t.Fatalf("AuthenticateBearer(boom) = %+v", res)
	}
	res = authn.AuthenticateBearer(context.Background(), "good")
	if !res.Success || res.SubjectID != "remote-user" {
		t.Fatalf("AuthenticateBearer(good) = %+v", res)
	}
}
