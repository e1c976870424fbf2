package httpx

import (
	"net/http"
	"net/http/httptest"
	"strings"
)

// TestServer is an httptest.Server with URL helpers for HTTP and WebSocket
// clients.
type TestServer struct{ *httptest.Server }

func NewTestServer(handler http.Handler) *TestServer {
	return &TestServer{httptest.NewServer(handler)}
}

// ServeRoutes starts a TestServer for a Server built from opts with routes
// registered in order.
func ServeRoutes(opts []ServerOption, routes ...RouteRegistrar) *TestServer {
	s := NewServer(opts...)
	for _, r := range routes {
		s.RegisterRoutes(r)
	}
	return NewTestServer(s.Handler())
}

func (ts *TestServer) BaseURL() string {
	if ts == nil || ts.Server == nil {
		return ""
	}
	return ts.URL
}

// WebSocketURL returns the ws:// form of BaseURL()+path.
func (ts *TestServer) WebSocketURL(path string) string {
	base := ts.BaseURL()
	if base == "" {
		return ""
	}
	return "ws" + strings.TrimPrefix(base, "http") + path
}
