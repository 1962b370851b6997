package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/panelgate/panelgate/pkg/auth"
	"github.com/panelgate/panelgate/pkg/config"
	"github.com/panelgate/panelgate/pkg/event"
)

func testConfig(t *testing.T, extra string) *config.Config {
	t.Helper()
	t.Setenv(config.EnvAuthToken, "T1")
	t.Setenv(config.EnvAuthPassword, "P1")
	cfg, err := config.Parse([]byte("auth: {token: T1, password: P1}\n" + extra))
	require.NoError(t, err)
	return cfg
}

func newTestServer(t *testing.T, extra string) (*Server, *httptest.Server) {
	t.Helper()
	cfg := testConfig(t, extra)
	gate := auth.NewSharedTokenOrPassword(cfg.Auth.Token, cfg.Auth.Password)
	s := New(cfg, gate, auth.NewMetrics(""), slog.New(slog.NewTextHandler(io.Discard, nil)))
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		s.Hub().Close()
		ts.Close()
	})
	return s, ts
}

func wsURL(ts *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + path
}

const giftBody = `{"username":"alice","recipient":"bob","plan":"1000"}`

func postGift(t *testing.T, ts *httptest.Server) *http.Response {
	t.Helper()
	resp, err := http.Post(ts.URL+"/api/events?webauth=T1", "application/json", strings.NewReader(giftBody))
	require.NoError(t, err)
	return resp
}

func readEvent(t *testing.T, conn *websocket.Conn) event.Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var ev event.Event
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func TestServer_HealthEndpointsArePublic(t *testing.T) {
	_, ts := newTestServer(t, "")

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/readyz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode, "not ready before Run")
}

func TestServer_StatusRequiresAuthorization(t *testing.T) {
	_, ts := newTestServer(t, "")

	resp, err := http.Get(ts.URL + "/api/status")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.True(t, resp.Close, "rejection should close the connection")

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/status", nil)
	req.Header.Set("Password", "P1")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var st Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	assert.Equal(t, "system:panel", st.Subject)
	assert.Equal(t, "shared-token-or-password", st.Method)
	assert.Equal(t, 0, st.Connections)
}

func TestServer_StatusRejectsOtherMethods(t *testing.T) {
	_, ts := newTestServer(t, "")

	resp, err := http.Post(ts.URL+"/api/status?webauth=T1", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestServer_EventsValidatesBody(t *testing.T) {
	_, ts := newTestServer(t, "")

	resp, err := http.Post(ts.URL+"/api/events?webauth=T1", "application/json", strings.NewReader(`{"username":"alice"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Post(ts.URL+"/api/events", "application/json", strings.NewReader(giftBody))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServer_WebSocketQueryTokenReceivesEvents(t *testing.T) {
	s, ts := newTestServer(t, "")

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "/ws?webauth=T1"), nil)
	require.NoError(t, err)
	defer conn.Close()

	assert.Eventually(t, func() bool { return s.Hub().Count() == 1 }, 5*time.Second, 10*time.Millisecond)

	resp := postGift(t, ts)
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	ev := readEvent(t, conn)
	assert.Equal(t, event.TypeSubscriptionGift, ev.Type)
	data, ok := ev.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "bob", data["recipient"])
	assert.Equal(t, "1", data["months"])
}

func TestServer_WebSocketHeaderCredentials(t *testing.T) {
	s, ts := newTestServer(t, "")

	header := http.Header{}
	header.Set("Password", "oauth:P1")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "/ws"), header)
	require.NoError(t, err)
	defer conn.Close()

	assert.Eventually(t, func() bool { return s.Hub().Count() == 1 }, 5*time.Second, 10*time.Millisecond)
}

func TestServer_WebSocketMessageAuthentication(t *testing.T) {
	for _, secret := range []string{"P1", "oauth:P1", "T1"} {
		t.Run(secret, func(t *testing.T) {
			s, ts := newTestServer(t, "")

			conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "/ws"), nil)
			require.NoError(t, err)
			defer conn.Close()

			require.NoError(t, conn.WriteJSON(map[string]string{"authenticate": secret}))

			var result map[string]string
			conn.SetReadDeadline(time.Now().Add(5 * time.Second))
			require.NoError(t, conn.ReadJSON(&result))
			assert.Equal(t, "true", result["authresult"])

			assert.Eventually(t, func() bool { return s.Hub().Count() == 1 }, 5*time.Second, 10*time.Millisecond)

			resp := postGift(t, ts)
			resp.Body.Close()
			assert.Equal(t, event.TypeSubscriptionGift, readEvent(t, conn).Type)
		})
	}
}

func TestServer_WebSocketRejectsWrongSecret(t *testing.T) {
	s, ts := newTestServer(t, "")

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "/ws?webauth=wrong"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]string{"authenticate": "wrong"}))

	var result map[string]string
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	require.NoError(t, conn.ReadJSON(&result))
	assert.Equal(t, "false", result["authresult"])

	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), "expected policy violation close, got %v", err)
	assert.Equal(t, 0, s.Hub().Count())
}

func TestServer_WebSocketRejectsOversizedAuthMessage(t *testing.T) {
	s, ts := newTestServer(t, "")

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "/ws"), nil)
	require.NoError(t, err)
	defer conn.Close()

	huge := `{"authenticate":"` + strings.Repeat("x", 64<<10) + `"}`
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(huge)))

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	require.Error(t, err, "expected the socket to be closed, got %q", data)
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		assert.Contains(t, []int{websocket.CloseMessageTooBig, websocket.ClosePolicyViolation}, closeErr.Code)
	}
	assert.Equal(t, 0, s.Hub().Count())
}

type recordingSink struct {
	mu      sync.Mutex
	enabled bool
	lines   []string
}

func (r *recordingSink) Enabled() bool { return r.enabled }

func (r *recordingSink) Println(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, line)
}

func (r *recordingSink) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lines...)
}

func TestServer_WebSocketRejectionDebugLine(t *testing.T) {
	for _, enabled := range []bool{true, false} {
		t.Run(fmt.Sprintf("enabled=%t", enabled), func(t *testing.T) {
			sink := &recordingSink{enabled: enabled}
			cfg := testConfig(t, "")
			gate := auth.NewSharedTokenOrPassword(cfg.Auth.Token, cfg.Auth.Password)
			s := New(cfg, gate, nil, slog.New(slog.NewTextHandler(io.Discard, nil)), WithDebugSink(sink))
			ts := httptest.NewServer(s.Handler())
			defer ts.Close()

			conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "/ws"), nil)
			require.NoError(t, err)
			defer conn.Close()
			require.NoError(t, conn.WriteJSON(map[string]string{"authenticate": "wrong"}))

			conn.SetReadDeadline(time.Now().Add(5 * time.Second))
			for err == nil {
				_, _, err = conn.ReadMessage()
			}

			if enabled {
				assert.Eventually(t, func() bool { return len(sink.Lines()) == 1 }, 5*time.Second, 10*time.Millisecond)
				assert.Equal(t, []string{"401 GET: /ws"}, sink.Lines())
			} else {
				assert.Empty(t, sink.Lines())
			}
		})
	}
}

func TestServer_WebSocketAuthTimeout(t *testing.T) {
	_, ts := newTestServer(t, "websocket: {auth_timeout: 100ms}\n")

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "/ws"), nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), "expected policy violation close, got %v", err)
}

func TestServer_WebSocketDisconnectUnregisters(t *testing.T) {
	s, ts := newTestServer(t, "")

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "/ws?webauth=T1"), nil)
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return s.Hub().Count() == 1 }, 5*time.Second, 10*time.Millisecond)

	conn.Close()
	assert.Eventually(t, func() bool { return s.Hub().Count() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestServer_StatusRPC(t *testing.T) {
	_, ts := newTestServer(t, "")
	ctx := context.Background()

	client := NewStatusClient(ts.Client(), ts.URL)
	_, err := client.CallUnary(ctx, connect.NewRequest(&StatusRequest{}))
	require.Error(t, err)
	assert.Equal(t, connect.CodeUnauthenticated, connect.CodeOf(err))

	client = NewStatusClient(ts.Client(), ts.URL,
		connect.WithInterceptors(auth.NewCredentialsInterceptor("T1", "")))
	resp, err := client.CallUnary(ctx, connect.NewRequest(&StatusRequest{}))
	require.NoError(t, err)
	assert.Equal(t, "shared-token-or-password", resp.Msg.Method)
	assert.Equal(t, "system:panel", resp.Msg.Subject, "RPC callers get the configured subject")
}

func TestServer_MetricsEndpoint(t *testing.T) {
	_, ts := newTestServer(t, "")

	resp, err := http.Get(ts.URL + "/api/status")
	require.NoError(t, err)
	resp.Body.Close()

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `panelgate_auth_decisions_total{result="rejected",transport="http"} 1`)
}

func TestServer_MetricsDisabled(t *testing.T) {
	_, ts := newTestServer(t, "metrics: {enabled: false}\n")

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_Run(t *testing.T) {
	cfg := testConfig(t, "server: {address: \"127.0.0.1:0\", shutdown_timeout: 2s}\n")
	gate := auth.NewSharedTokenOrPassword(cfg.Auth.Token, cfg.Auth.Password)
	s := New(cfg, gate, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	assert.Eventually(t, s.ready.Load, 5*time.Second, 10*time.Millisecond)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestHub_NotifyWithoutClients(t *testing.T) {
	h := NewHub(nil)
	assert.NoError(t, h.Notify(context.Background(), event.New("test", nil)))
	assert.Equal(t, 0, h.Count())
	h.Close()
}

func TestJSONCodec(t *testing.T) {
	var c JSONCodec
	assert.Equal(t, "json", c.Name())

	data, err := c.Marshal(&Status{Method: "m"})
	require.NoError(t, err)
	assert.True(t, bytes.Contains(data, []byte(`"method":"m"`)))

	var st Status
	require.NoError(t, c.Unmarshal(nil, &st))
	require.NoError(t, c.Unmarshal(data, &st))
	assert.Equal(t, "m", st.Method)
}
