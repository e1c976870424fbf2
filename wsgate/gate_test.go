package wsgate

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adeilh/rakh-connauth/auth"
	"github.com/adeilh/rakh-connauth/cache/memory"
	"github.com/adeilh/rakh-connauth/httpx"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// staticValidator accepts "good-token" for subject "jwt-user".
var staticValidator = auth.TokenValidatorFunc(func(_ context.Context, token string) (auth.TokenClaims, error) {
	if token != "good-token" {
		return auth.TokenClaims{}, nil
	}
	return auth.TokenClaims{Valid: true, SubjectID: "jwt-user", Permissions: []string{"read"}}, nil
})

func newManager(t *testing.T, nonProduction bool) *auth.Manager {
	t.Helper()
	m, err := auth.NewManager(auth.ManagerConfig{
		Store:       memory.NewStore(),
		Validator:   staticValidator,
		Environment: auth.StaticEnvironment(nonProduction),
		Logger:      discard(),
	})
	require.NoError(t, err)
	return m
}

func serve(t *testing.T, m *auth.Manager, handler SessionHandler) string {
	t.Helper()
	g, err := New(m, handler, WithLogger(discard()))
	require.NoError(t, err)

	ts := httpx.ServeRoutes(nil, g.Register)
	t.Cleanup(ts.Close)
	return ts.WebSocketURL(DefaultPath)
}

func dial(t *testing.T, url string, opts *websocket.DialOptions) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return websocket.Dial(ctx, url, opts)
}

func readReady(t *testing.T, conn *websocket.Conn) ReadyEvent {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var ev ReadyEvent
	require.NoError(t, wsjson.Read(ctx, conn, &ev))
	return ev
}

func TestNewRequiresManager(t *testing.T) {
	_, err := New(nil, nil)
	assert.Error(t, err)
}

func TestTicketConnection(t *testing.T) {
	m := newManager(t, false)
	url := serve(t, m, nil)

	ticket, err := m.IssueTicket(context.Background(), auth.TicketRequest{SubjectID: "u1", SubjectEmail: "u1@example.com", SingleUse: true})
	require.NoError(t, err)

	conn, _, err := dial(t, url+"?ticket="+ticket.ID, nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	ev := readReady(t, conn)
	assert.Equal(t, "ready", ev.Type)
	assert.Equal(t, "u1", ev.SubjectID)
	assert.Equal(t, auth.MethodTicket, ev.Method)
	assert.Equal(t, []string{"read", "write"}, ev.Permissions)

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, ""))
	require.Eventually(t, func() bool { return m.HandshakeStatistics().Active == 0 }, 2*time.Second, 10*time.Millisecond)

	_, resp, err := dial(t, url+"?ticket="+ticket.ID, nil)
	require.Error(t, err, "single-use ticket must not open a second connection")
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSubprotocolTokenIsEchoed(t *testing.T) {
	m := newManager(t, false)
	url := serve(t, m, nil)

	conn, resp, err := dial(t, url, &websocket.DialOptions{Subprotocols: []string{"chat", "jwt.good-token"}})
	require.NoError(t, err)
	defer conn.CloseNow()

	assert.Equal(t, "jwt.good-token", conn.Subprotocol())
	assert.Equal(t, "jwt.good-token", resp.Header.Get("Sec-WebSocket-Protocol"))

	ev := readReady(t, conn)
	assert.Equal(t, "jwt-user", ev.SubjectID)
	assert.Equal(t, auth.MethodSubprotocolToken, ev.Method)
}

func TestHeaderToken(t *testing.T) {
	m := newManager(t, false)
	url := serve(t, m, nil)

	conn, _, err := dial(t, url, &websocket.DialOptions{HTTPHeader: http.Header{"Authorization": {"Bearer good-token"}}})
	require.NoError(t, err)
	defer conn.CloseNow()

	assert.Empty(t, conn.Subprotocol())
	assert.Equal(t, "jwt-user", readReady(t, conn).SubjectID)
}

func TestRejectsWithoutCredentials(t *testing.T) {
	m := newManager(t, false)
	url := serve(t, m, nil)

	for name, opts := range map[string]*websocket.DialOptions{
		"none":   nil,
		"forged": {HTTPHeader: http.Header{"Authorization": {"Bearer forged"}}},
		"bypass": {HTTPHeader: http.Header{"X-Test-Bypass": {"true"}, "X-Test-User-ID": {"root"}}},
	} {
		t.Run(name, func(t *testing.T) {
			_, resp, err := dial(t, url, opts)
			require.Error(t, err)
			require.NotNil(t, resp)
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		})
	}
	assert.Equal(t, 0, m.HandshakeStatistics().Active)
}

func TestBypassInNonProduction(t *testing.T) {
	m := newManager(t, true)
	url := serve(t, m, nil)

	conn, _, err := dial(t, url+"?test_bypass=true&test_user_id=tester", nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	ev := readReady(t, conn)
	assert.Equal(t, "tester", ev.SubjectID)
	assert.Equal(t, auth.MethodTestBypass, ev.Method)
}

func TestSessionSeesCompletedHandshake(t *testing.T) {
	m := newManager(t, false)
	var completed atomic.Int64
	var subject atomic.Value
	url := serve(t, m, func(ctx context.Context, conn *websocket.Conn, s *auth.SubjectContext) error {
		subject.Store(s.SubjectID)
		completed.Store(int64(m.HandshakeStatistics().Completed))
		return conn.Write(ctx, websocket.MessageText, []byte("bye"))
	})

	conn, _, err := dial(t, url, &websocket.DialOptions{HTTPHeader: http.Header{"Authorization": {"Bearer good-token"}}})
	require.NoError(t, err)
	defer conn.CloseNow()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, msg, err := conn.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, "bye", string(msg))

	_, _, err = conn.Read(ctx)
	assert.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(err))
	assert.Equal(t, int64(1), completed.Load())
	assert.Equal(t, "jwt-user", subject.Load())
}

func TestSessionOutlivesServerTimeouts(t *testing.T) {
	m := newManager(t, false)
	g, err := New(m, func(ctx context.Context, conn *websocket.Conn, subject *auth.SubjectContext) error {
		time.Sleep(150 * time.Millisecond)
		return wsjson.Write(ctx, conn, ReadyEvent{Type: "late", SubjectID: subject.SubjectID})
	}, WithLogger(discard()))
	require.NoError(t, err)

	server := httpx.NewServer(httpx.WithTimeouts(50*time.Millisecond, 50*time.Millisecond))
	server.RegisterRoutes(g.Register)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	conn, _, err := dial(t, "ws://"+ln.Addr().String()+DefaultPath, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer good-token"}},
	})
	require.NoError(t, err)
	defer conn.CloseNow()

	ev := readReady(t, conn)
	assert.Equal(t, "late", ev.Type)
	assert.Equal(t, "jwt-user", ev.SubjectID)
}
