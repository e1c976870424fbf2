package auth

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"
	"unicode/utf8"
)

// Fuzz test for Authorization header parsing
func FuzzBearerToken(f *testing.F) {
	f.Add("Bearer token123")
	f.Add("Bearer ")
	f.Add("bearer TOKEN")
	f.Add("Basic dXNlcjpwYXNz")
	f.Add("")
	f.Add("BearerNoSpace")
	f.Add(strings.Repeat("Bearer ", 100))
	f.Add("Bearer " + strings.Repeat("x", 10000))

	f.Fuzz(func(t *testing.T, header string) {
		token, err := BearerToken(header)
		if err == nil && (token == "" || token != strings.TrimSpace(token)) {
			t.Errorf("BearerToken(%q) = %q", header, token)
		}
	})
}

func FuzzSubprotocolToken(f *testing.F) {
	f.Add("jwt.abc, chat")
	f.Add("jwt-auth.")
	f.Add("bearer.x,bearer.y")
	f.Add(",,,")

	prefixes := DefaultConfig().SubprotocolPrefixes
	f.Fuzz(func(t *testing.T, header string) {
		h := http.Header{}
		h.Set("Sec-WebSocket-Protocol", header)
		token, proto, ok := SubprotocolToken(ParseSubprotocols(h), prefixes)
		if ok && (token == "" || !strings.HasSuffix(proto, token)) {
			t.Errorf("SubprotocolToken(%q) = (%q, %q)", header, token, proto)
		}
	})
}

// The pipeline must never panic and must never succeed without a credential
// the fake validator knows about.
func FuzzAuthenticate(f *testing.F) {
	f.Add("jwt.x", "Bearer y", "token=z&ticket=t")
	f.Add("", "", "test_bypass=true&test_user_id=root")
	f.Add("bearer.", "bearer", "%zz")

	tickets := NewTicketManager(failingStore{}, DefaultConfig(), WithLogger(discardLogger()))
	authn := NewAuthenticator(DefaultConfig(), newFakeValidator(), tickets, StaticEnvironment(false), WithLogger(discardLogger()))

	f.Fuzz(func(t *testing.T, protocols, authorization, rawQuery string) {
		h := http.Header{}
		h.Set("Sec-WebSocket-Protocol", protocols)
		h.Set("Authorization", authorization)
		q, _ := url.ParseQuery(rawQuery)

		res := authn.Authenticate(context.Background(), ConnectionRequest{
			Subprotocols: ParseSubprotocols(h),
			Header:       h,
			Query:        q,
		})
		if res.Success || res.Method != MethodNone {
			t.Errorf("Authenticate() = %+v", res)
		}
	})
}

func FuzzJWTValidate(f *testing.F) {
	f.Add("eyJhbGciOiJIUzI1NiJ9.eyJzdWIiOiJ4In0.sig")
	f.Add("..")
	f.Add("")

	v, err := NewJWTValidator([]byte(testSecret))
	if err != nil {
		f.Fatalf("NewJWTValidator() error = %v", err)
	}

	f.Fuzz(func(t *testing.T, raw string) {
		claims, err := v.Validate(context.Background(), raw)
		if err != nil {
			t.Errorf("Validate() error = %v", err)
		}
		if claims.Valid {
			t.Errorf("Validate(%q) accepted a forged token", raw)
		}
	})
}

func FuzzJWTIssue(f *testing.F) {
	f.Add("user-1", "a@b", int64(3600))
	f.Add("", "", int64(0))
	f.Add(strings.Repeat("x", 100), "", int64(-1))

	v, err := NewJWTValidator([]byte(testSecret))
	if err != nil {
		f.Fatalf("NewJWTValidator() error = %v", err)
	}

	f.Fuzz(func(t *testing.T, subject, email string, ttlSeconds int64) {
		if ttlSeconds > 86400*365 || !utf8.ValidString(subject) || !utf8.ValidString(email) {
			return
		}
		raw, err := v.Issue(subject, email, nil, time.Duration(ttlSeconds)*time.Second)
		if err != nil {
			return
		}
		claims, err := v.Parse(raw)
		if err != nil {
			t.Fatalf("Parse() failed for issued token: %v", err)
		}
		if claims.Subject != subject {
			t.Errorf("Subject mismatch: got %q, want %q", claims.Subject, subject)
		}
	})
}
