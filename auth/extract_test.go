package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"reflect"
	"testing"
)

func TestBearerToken(t *testing.T) {
	tests := []struct {
		name      string
		header    string
		wantToken string
		wantErr   error
	}{
		{name: "valid bearer token", header: "Bearer my-token-123", wantToken: "my-token-123"},
		{name: "lowercase bearer", header: "bearer my-token", wantToken: "my-token"},
		{name: "mixed case bearer", header: "BEARER MY-TOKEN", wantToken: "MY-TOKEN"},
		{name: "surrounding whitespace", header: "Bearer   padded  ", wantToken: "padded"},
		{name: "empty header", header: "", wantErr: ErrTokenNotFound},
		{name: "no space after bearer", header: "Bearertoken", wantErr: ErrTokenInvalidInput},
		{name: "basic auth", header: "Basic dXNlcjpwYXNz", wantErr: ErrTokenInvalidInput},
		{name: "bearer with empty token", header: "Bearer ", wantErr: ErrTokenInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := BearerToken(tt.header)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("BearerToken() error = %v, want %v", err, tt.wantErr)
			}
			if token != tt.wantToken {
				t.Fatalf("BearerToken() = %q, want %q", token, tt.wantToken)
			}
		})
	}
}

func TestSubprotocolToken(t *testing.T) {
	prefixes := DefaultConfig().SubprotocolPrefixes

	tests := []struct {
		name      string
		protocols []string
		wantToken string
		wantProto string
		wantOK    bool
	}{
		{name: "none offered"},
		{name: "unrelated protocol", protocols: []string{"graphql-ws"}},
		{name: "jwt-auth prefix", protocols: []string{"chat", "jwt-auth.abc"}, wantToken: "abc", wantProto: "jwt-auth.abc", wantOK: true},
		{name: "jwt prefix", protocols: []string{"jwt.def"}, wantToken: "def", wantProto: "jwt.def", wantOK: true},
		{name: "bearer prefix", protocols: []string{"bearer.ghi"}, wantToken: "ghi", wantProto: "bearer.ghi", wantOK: true},
		{name: "empty payload skipped", protocols: []string{"jwt.", "bearer.xyz"}, wantToken: "xyz", wantProto: "bearer.xyz", wantOK: true},
		{name: "first match wins", protocols: []string{"jwt.one", "jwt.two"}, wantToken: "one", wantProto: "jwt.one", wantOK: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, proto, ok := SubprotocolToken(tt.protocols, prefixes)
			if ok != tt.wantOK || token != tt.wantToken || proto != tt.wantProto {
				t.Fatalf("SubprotocolToken() = (%q, %q, %v), want (%q, %q, %v)", token, proto, ok, tt.wantToken, tt.wantProto, tt.wantOK)
			}
		})
	}
}

func TestParseSubprotocols(t *testing.T) {
	h := http.Header{}
	h.Add("Sec-WebSocket-Protocol", "chat, jwt.abc")
	h.Add("Sec-WebSocket-Protocol", " superchat ,,")

	got := ParseSubprotocols(h)
	want := []string{"chat", "jwt.abc", "superchat"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ParseSubprotocols() = %v, want %v", got, want)
	}
}

func TestFirstQueryValue(t *testing.T) {
	q := url.Values{"jwt": {"second"}, "access_token": {"third"}, "token": {"  "}}
	got, ok := FirstQueryValue(q, DefaultConfig().TokenQueryParams)
	if !ok || got != "second" {
		t.Fatalf("FirstQueryValue() = (%q, %v), want (second, true)", got, ok)
	}
	if _, ok := FirstQueryValue(url.Values{}, []string{"token"}); ok {
		t.Fatalf("FirstQueryValue() on empty query = true")
	}
}

func TestRequestFromHTTP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/v1/stream?ticket=t-1&token=abc", nil)
	r.Header.Set("Sec-WebSocket-Protocol", "jwt.xyz")
	r.RemoteAddr = "10.0.0.1:5555"

	req := RequestFromHTTP(r)
	if req.Query.Get("ticket") != "t-1" || req.Query.Get("token") != "abc" {
		t.Fatalf("Query = %v", req.Query)
	}
	if len(req.Subprotocols) != 1 || req.Subprotocols[0] != "jwt.xyz" {
		t.Fatalf("Subprotocols = %v", req.Subprotocols)
	}
	if req.RemoteAddr != "10.0.0.1:5555" {
		t.Fatalf("RemoteAddr = %q", req.RemoteAddr)
	}
	if got := RequestFromHTTP(nil); got.Header != nil || got.Query != nil {
		t.Fatalf("RequestFromHTTP(nil) = %+v", got)
	}
}

func TestExtractCredentials(t *testing.T) {
	cfg := DefaultConfig()

	tests := []struct {
		name string
		req  ConnectionRequest
		want Credentials
	}{
		{
			name: "nothing",
			req:  ConnectionRequest{},
			want: Credentials{},
		},
		{
			name: "ticket only",
			req:  ConnectionRequest{Query: url.Values{"auth_ticket": {"t-1"}}},
			want: Credentials{Ticket: "t-1"},
		},
		{
			name: "subprotocol beats header",
			req: ConnectionRequest{
				Subprotocols: []string{"jwt-auth.sub"},
				Header:       http.Header{"Authorization": {"Bearer hdr"}},
			},
			want: Credentials{Bearer: "sub", BearerMethod: MethodSubprotocolToken, Subprotocol: "jwt-auth.sub"},
		},
		{
			name: "header beats query",
			req: ConnectionRequest{
				Header: http.Header{"Authorization": {"Bearer hdr"}},
				Query:  url.Values{"token": {"q"}, "ticket": {"t-2"}},
			},
			want: Credentials{Ticket: "t-2", Bearer: "hdr", BearerMethod: MethodHeaderToken},
		},
		{
			name: "query token",
			req:  ConnectionRequest{Query: url.Values{"access_token": {"q"}}},
			want: Credentials{Bearer: "q", BearerMethod: MethodQueryToken},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractCredentials(tt.req, cfg); got != tt.want {
				t.Fatalf("ExtractCredentials() = %+v, want %+v", got, tt.want)
			}
		})
	}
}
