package auth

import (
	"net/http"
	"net/url"
	"strings"
)

// ConnectionRequest is the transport-neutral view of an inbound connection
// the authentication strategies read from.
type ConnectionRequest struct {
	Subprotocols []string
	Header       http.Header
	Query        url.Values
	RemoteAddr   string
}

// RequestFromHTTP builds a ConnectionRequest from an HTTP (or WebSocket
// upgrade) request.
func RequestFromHTTP(r *http.Request) ConnectionRequest {
	if r == nil {
		return ConnectionRequest{}
	}
	var query url.Values
	if r.URL != nil {
		query = r.URL.Query()
	}
	return ConnectionRequest{
		Subprotocols: ParseSubprotocols(r.Header),
		Header:       r.Header,
		Query:        query,
		RemoteAddr:   r.RemoteAddr,
	}
}

// ParseSubprotocols splits every Sec-WebSocket-Protocol header value on
// commas.
func ParseSubprotocols(h http.Header) []string {
	var out []string
	for _, line := range h.Values("Sec-WebSocket-Protocol") {
		for _, p := range strings.Split(line, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

func (r ConnectionRequest) header(name string) string {
	if r.Header == nil {
		return ""
	}
	return strings.TrimSpace(r.Header.Get(name))
}

func (r ConnectionRequest) query(name string) string {
	if r.Query == nil {
		return ""
	}
	return strings.TrimSpace(r.Query.Get(name))
}

// SubprotocolToken returns the token carried by the first offered
// subprotocol starting with one of prefixes, along with the full
// subprotocol so it can be echoed back on accept.
func SubprotocolToken(protocols, prefixes []string) (token, protocol string, ok bool) {
	for _, p := range protocols {
		for _, prefix := range prefixes {
			if prefix == "" || !strings.HasPrefix(p, prefix) {
				continue
			}
			if t := strings.TrimSpace(p[len(prefix):]); t != "" {
				return t, p, true
			}
		}
	}
	return "", "", false
}

// BearerToken parses an "Authorization: Bearer <token>" header value.
func BearerToken(header string) (string, error) {
	if header == "" {
		return "", ErrTokenNotFound
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", ErrTokenInvalidInput
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", ErrTokenInvalidInput
	}
	return token, nil
}

// FirstQueryValue returns the first non-empty value among names, in order.
func FirstQueryValue(query url.Values, names []string) (string, bool) {
	for _, name := range names {
		if v := strings.TrimSpace(query.Get(name)); v != "" {
			return v, true
		}
	}
	return "", false
}

// Credentials are the raw secrets found on a connection request, used by the
// handshake path where the ticket is tried before any bearer token.
type Credentials struct {
	Ticket       string
	Bearer       string
	BearerMethod Method
	Subprotocol  string
}

// ExtractCredentials collects the ticket and bearer token offered by req.
// The bearer token is taken from the first source in subprotocol, header,
// query order.
func ExtractCredentials(req ConnectionRequest, cfg Config) Credentials {
	cfg = cfg.withDefaults()
	var c Credentials
	if req.Query != nil {
		c.Ticket, _ = FirstQueryValue(req.Query, cfg.TicketQueryParams)
	}
	if t, p, ok := SubprotocolToken(req.Subprotocols, cfg.SubprotocolPrefixes); ok {
		c.Bearer, c.Subprotocol, c.BearerMethod = t, p, MethodSubprotocolToken
		return c
	}
	if t, err := BearerToken(req.header("Authorization")); err == nil {
		c.Bearer, c.BearerMethod = t, MethodHeaderToken
		return c
	}
	if req.Query != nil {
		if t, ok := FirstQueryValue(req.Query, cfg.TokenQueryParams); ok {
			c.Bearer, c.BearerMethod = t, MethodQueryToken
		}
	}
	return c
}
