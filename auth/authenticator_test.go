package auth

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"reflect"
	"strings"
	"testing"
	"time"
)

func newTestAuthenticator(t *testing.T, v TokenValidator, env Environment) (*Authenticator, *TicketManager) {
	t.Helper()
	tickets := newTestTickets(t, newFakeClock())
	return NewAuthenticator(DefaultConfig(), v, tickets, env, WithLogger(discardLogger())), tickets
}

func TestAuthenticatorSubprotocolShortCircuits(t *testing.T) {
	v := newFakeValidator().allow("sub-token", "alice").allow("hdr-token", "bob")
	authn, _ := newTestAuthenticator(t, v, nil)

	res := authn.Authenticate(context.Background(), ConnectionRequest{
		Subprotocols: []string{"jwt-auth.sub-token"},
		Header:       http.Header{"Authorization": {"Bearer hdr-token"}},
	})

	if !res.Success || res.Method != MethodSubprotocolToken || res.SubjectID != "alice" {
		t.Fatalf("Authenticate() = %+v, want subprotocol success for alice", res)
	}
	if calls := v.Calls(); !reflect.DeepEqual(calls, []string{"sub-token"}) {
		t.Fatalf("validator calls = %v, header token must never be validated", calls)
	}
}

func TestAuthenticatorFallsThroughToNextMethod(t *testing.T) {
	v := newFakeValidator().allow("good", "carol")
	authn, _ := newTestAuthenticator(t, v, nil)

	res := authn.Authenticate(context.Background(), ConnectionRequest{
		Subprotocols: []string{"jwt.bad"},
		Header:       http.Header{"Authorization": {"Bearer also-bad"}},
		Query:        url.Values{"token": {"good"}},
	})

	if !res.Success || res.Method != MethodQueryToken || res.SubjectID != "carol" {
		t.Fatalf("Authenticate() = %+v, want query-token success", res)
	}
	if got := v.Calls(); !reflect.DeepEqual(got, []string{"bad", "also-bad", "good"}) {
		t.Fatalf("validator calls = %v", got)
	}
}

func TestAuthenticatorTicketMethod(t *testing.T) {
	authn, tickets := newTestAuthenticator(t, newFakeValidator(), nil)
	ticket, err := tickets.Generate(context.Background(), TicketRequest{SubjectID: "dave", SubjectEmail: "d@x", SingleUse: true})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	req := ConnectionRequest{Query: url.Values{"ticket_id": {ticket.ID}}}
	res := authn.Authenticate(context.Background(), req)
	if !res.Success || res.Method != MethodTicket || res.SubjectID != "dave" || res.SubjectEmail != "d@x" {
		t.Fatalf("Authenticate() = %+v, want ticket success", res)
	}

	res = authn.Authenticate(context.Background(), req)
	if res.Success || res.Method != MethodNone {
		t.Fatalf("replayed single-use ticket = %+v, want failure", res)
	}
}

func TestAuthenticatorBypass(t *testing.T) {
	bypassReq := ConnectionRequest{
		Header: http.Header{
			"X-Test-Bypass":  {"true"},
			"X-Test-User-Id": {"tester"},
		},
	}
	queryBypass := ConnectionRequest{
		Query: url.Values{"test_bypass": {"TRUE"}, "test_user_id": {"q-tester"}},
	}

	t.Run("production never bypasses", func(t *testing.T) {
		authn, _ := newTestAuthenticator(t, newFakeValidator(), StaticEnvironment(false))
		for _, req := range []ConnectionRequest{bypassReq, queryBypass} {
			if res := authn.Authenticate(context.Background(), req); res.Success {
				t.Fatalf("Authenticate() in production = %+v", res)
			}
		}
		for _, m := range authn.Methods() {
			if m == MethodTestBypass {
				t.Fatalf("bypass strategy installed in production")
			}
		}
	})

	t.Run("nil environment is production", func(t *testing.T) {
		authn, _ := newTestAuthenticator(t, newFakeValidator(), nil)
		if res := authn.Authenticate(context.Background(), bypassReq); res.Success {
			t.Fatalf("Authenticate() = %+v", res)
		}
	})

	t.Run("header bypass outside production", func(t *testing.T) {
		authn, _ := newTestAuthenticator(t, newFakeValidator(), StaticEnvironment(true))
		res := authn.Authenticate(context.Background(), bypassReq)
		if !res.Success || res.Method != MethodTestBypass || res.SubjectID != "tester" {
			t.Fatalf("Authenticate() = %+v, want bypass success", res)
		}
	})

	t.Run("query bypass outside production", func(t *testing.T) {
		authn, _ := newTestAuthenticator(t, newFakeValidator(), NamedEnvironment("test"))
		res := authn.Authenticate(context.Background(), queryBypass)
		if !res.Success || res.SubjectID != "q-tester" {
			t.Fatalf("Authenticate() = %+v, want bypass success", res)
		}
	})

	t.Run("bypass requires subject", func(t *testing.T) {
		authn, _ := newTestAuthenticator(t, newFakeValidator(), StaticEnvironment(true))
		res := authn.Authenticate(context.Background(), ConnectionRequest{
			Header: http.Header{"X-Test-Bypass": {"true"}},
		})
		if res.Success {
			t.Fatalf("Authenticate() without subject = %+v", res)
		}
	})
}

func TestAuthenticatorAllMethodsFail(t *testing.T) {
	v := newFakeValidator()
	v.err = errors.New("upstream unreachable")
	authn, _ := newTestAuthenticator(t, v, nil)

	res := authn.Authenticate(context.Background(), ConnectionRequest{
		Header: http.Header{"Authorization": {"Bearer x"}},
		Query:  url.Values{"ticket": {"nope"}},
	})
	want := AuthResult{Success: false, Method: MethodNone, Error: "authentication failed"}
	if !reflect.DeepEqual(res, want) {
		t.Fatalf("Authenticate() = %+v, want %+v", res, want)
	}

	if res := authn.Authenticate(context.Background(), ConnectionRequest{}); !reflect.DeepEqual(res, want) {
		t.Fatalf("Authenticate(empty) = %+v, want %+v", res, want)
	}
}

func TestAuthenticatorDiagnosticsAreRedacted(t *testing.T) {
	logger, buf := bufferLogger()
	tickets := newTestTickets(t, newFakeClock())
	authn := NewAuthenticator(DefaultConfig(), newFakeValidator(), tickets, nil, WithLogger(logger))

	authn.Authenticate(context.Background(), ConnectionRequest{
		Subprotocols: []string{"jwt.super-secret-sub"},
		Header:       http.Header{"Authorization": {"Bearer super-secret-hdr"}},
		Query:        url.Values{"token": {"super-secret-query"}, "ticket": {"super-secret-ticket"}},
	})

	out := buf.String()
	if strings.Contains(out, "super-secret") {
		t.Fatalf("diagnostics leaked a credential:\n%s", out)
	}
	if !strings.Contains(out, "connection authentication failed") || !strings.Contains(out, "jwt.[redacted]") {
		t.Fatalf("diagnostics missing expected fields:\n%s", out)
	}
}

func TestAuthenticatorMethodOrder(t *testing.T) {
	v := newFakeValidator().allow("hdr", "header-user").allow("sub", "sub-user")
	cfg := DefaultConfig()
	cfg.MethodOrder = []Method{MethodHeaderToken, MethodSubprotocolToken, MethodHeaderToken, "bogus"}
	authn := NewAuthenticator(cfg, v, nil, nil, WithLogger(discardLogger()))

	if got := authn.Methods(); !reflect.DeepEqual(got, []Method{MethodHeaderToken, MethodSubprotocolToken}) {
		t.Fatalf("Methods() = %v", got)
	}
	res := authn.Authenticate(context.Background(), ConnectionRequest{
		Subprotocols: []string{"jwt.sub"},
		Header:       http.Header{"Authorization": {"Bearer hdr"}},
	})
	if res.Method != MethodHeaderToken || res.SubjectID != "header-user" {
		t.Fatalf("Authenticate() = %+v, want header-token first", res)
	}
}

func TestAuthenticatorWithoutValidator(t *testing.T) {
	authn := NewAuthenticator(DefaultConfig(), nil, nil, nil, WithLogger(discardLogger()))
	if len(authn.Methods()) != 0 {
		t.Fatalf("Methods() = %v, want none", authn.Methods())
	}
	if res := authn.AuthenticateBearer(context.Background(), "anything"); res.Success {
		t.Fatalf("AuthenticateBearer() = %+v", res)
	}
}

func TestAuthenticatorCancelledContext(t *testing.T) {
	v := newFakeValidator().allow("good", "erin")
	authn, _ := newTestAuthenticator(t, v, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := authn.Authenticate(ctx, ConnectionRequest{Header: http.Header{"Authorization": {"Bearer good"}}})
	if res.Success {
		t.Fatalf("Authenticate() with cancelled context = %+v", res)
	}
	if len(v.Calls()) != 0 {
		t.Fatalf("validator called with cancelled context")
	}
}

func TestAuthenticatorWithJWTValidator(t *testing.T) {
	clock := newFakeClock()
	jv, err := NewJWTValidator([]byte(testSecret), WithJWTClock(clock.Now))
	if err != nil {
		t.Fatalf("NewJWTValidator() error = %v", err)
	}
	token, err := jv.Issue("frank", "f@x", []string{"read"}, time.Hour)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	authn := NewAuthenticator(DefaultConfig(), jv, nil, nil, WithLogger(discardLogger()))

	res := authn.Authenticate(context.Background(), ConnectionRequest{Subprotocols: []string{"bearer." + token}})
	if !res.Success || res.SubjectID != "frank" || res.SubjectEmail != "f@x" {
		t.Fatalf("Authenticate() = %+v", res)
	}
}
