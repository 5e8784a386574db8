package server

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/vango-dev/whiteboard/pkg/auth"
	"github.com/vango-dev/whiteboard/pkg/metrics"
	"github.com/vango-dev/whiteboard/pkg/protocol"
)

var testSecret = []byte("server-test-secret")

type testEnv struct {
	srv      *Server
	ts       *httptest.Server
	reg      *prometheus.Registry
	issuer   *auth.Issuer
	endpoint string
}

func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()
	cfg := DefaultConfig()
	cfg.HeartbeatInterval = time.Second
	cfg.EnableDebug = true
	if mutate != nil {
		mutate(cfg)
	}

	reg := prometheus.NewRegistry()
	srv := New(cfg, auth.Chain{auth.NewLocalValidator(testSecret)},
		WithLogger(testLogger()),
		WithMetrics(metrics.New(metrics.WithRegistry(reg)), reg),
	)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	})

	return &testEnv{
		srv:      srv,
		ts:       ts,
		reg:      reg,
		issuer:   auth.NewIssuer(testSecret, time.Hour),
		endpoint: wsURL(t, ts.URL, "/ws"),
	}
}

func wsURL(t *testing.T, baseURL, path string) string {
	t.Helper()
	if !strings.HasPrefix(baseURL, "http") {
		t.Fatalf("unexpected base URL: %q", baseURL)
	}
	return "ws" + strings.TrimPrefix(baseURL, "http") + path
}

func (e *testEnv) token(t *testing.T, id, name string) string {
	t.Helper()
	tok, err := e.issuer.Issue(auth.Principal{ID: id, Name: name})
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	return tok
}

type wireFrame struct {
	Event     string          `json:"event"`
	SessionID string          `json:"sessionId"`
	Data      json.RawMessage `json:"data"`
}

type testClient struct {
	t  *testing.T
	ws *websocket.Conn
}

func (e *testEnv) dial(t *testing.T, token string) *testClient {
	t.Helper()
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	ws, _, err := websocket.DefaultDialer.Dial(e.endpoint, header)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { _ = ws.Close() })
	return &testClient{t: t, ws: ws}
}

func (c *testClient) sendRaw(payload string) {
	c.t.Helper()
	if err := c.ws.WriteMessage(websocket.TextMessage, []byte(payload)); err != nil {
		c.t.Fatalf("write failed: %v", err)
	}
}

func (c *testClient) send(event protocol.EventName, data any) {
	c.t.Helper()
	b, err := protocol.EncodeClient(event, data)
	if err != nil {
		c.t.Fatalf("EncodeClient() error = %v", err)
	}
	c.sendRaw(string(b))
}

func (c *testClient) next() wireFrame {
	c.t.Helper()
	_ = c.ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, msg, err := c.ws.ReadMessage()
	if err != nil {
		c.t.Fatalf("read failed: %v", err)
	}
	var f wireFrame
	if err := json.Unmarshal(msg, &f); err != nil {
		c.t.Fatalf("server sent invalid JSON %q: %v", msg, err)
	}
	return f
}

func (c *testClient) expect(event protocol.EventName) wireFrame {
	c.t.Helper()
	f := c.next()
	if f.Event != event.String() {
		c.t.Fatalf("event = %q (data %s), want %q", f.Event, f.Data, event)
	}
	return f
}

func (c *testClient) expectState(want ...string) {
	c.t.Helper()
	f := c.expect(protocol.EventSessionState)
	var state protocol.SessionStatePayload
	if err := json.Unmarshal(f.Data, &state); err != nil {
		c.t.Fatalf("bad session-state %s: %v", f.Data, err)
	}
	got := make([]string, 0, len(state.Drawings))
	for _, d := range state.Drawings {
		got = append(got, d.ID)
	}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		c.t.Fatalf("session-state drawings = %v, want %v", got, want)
	}
}

// expectSilence asserts nothing arrives within a short window.
func (c *testClient) expectSilence() {
	c.t.Helper()
	_ = c.ws.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	_, msg, err := c.ws.ReadMessage()
	if err == nil {
		c.t.Fatalf("unexpected frame %s", msg)
	}
	// A read deadline poisons a gorilla connection; callers use this last.
}

func drawingData(sessionID, id string) map[string]any {
	return map[string]any{
		"sessionId": sessionID,
		"data": map[string]any{
			"id":      id,
			"type":    "line",
			"userId":  "spoofed",
			"points":  []float64{0, 0, 10, 10},
			"stroke":  "#000",
			"opacity": 0.5,
		},
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestDrawUndoRedoAcrossClients(t *testing.T) {
	env := newTestEnv(t, nil)
	a := env.dial(t, env.token(t, "alice", "Alice"))
	b := env.dial(t, env.token(t, "bob", "Bob"))

	a.send(protocol.EventJoinSession, "s1")
	a.expectState()

	b.send(protocol.EventJoinSession, "s1")
	b.expectState()
	joined := a.expect(protocol.EventUserJoined)
	var who protocol.UserJoinedPayload
	json.Unmarshal(joined.Data, &who)
	if who.UserID != "bob" || who.DisplayName != "Bob" || who.Username != "Bob" || joined.SessionID != "s1" {
		t.Fatalf("user-joined = %+v (session %q)", who, joined.SessionID)
	}

	a.send(protocol.EventDrawing, drawingData("s1", "d1"))
	f := b.expect(protocol.EventDrawing)
	var d protocol.DrawingEvent
	json.Unmarshal(f.Data, &d)
	if d.ID != "d1" || d.UserID != "alice" || len(d.Points) != 4 {
		t.Fatalf("relayed drawing = %+v", d)
	}
	if string(d.Extra["opacity"]) != "0.5" {
		t.Errorf("relayed drawing lost opacity: %s", f.Data)
	}

	// The sender never gets its own drawing back; the next frame it sees is
	// the undo.
	b.send(protocol.EventUndo, "s1")
	a.expect(protocol.EventUndo)
	a.expectState()
	b.expect(protocol.EventUndo)
	b.expectState()

	a.send(protocol.EventRedo, "s1")
	a.expect(protocol.EventRedo)
	a.expectState("d1")
	b.expect(protocol.EventRedo)
	b.expectState("d1")

	b.send(protocol.EventClearCanvas, "s1")
	a.expect(protocol.EventCanvasCleared)
	b.expect(protocol.EventCanvasCleared)

	a.send(protocol.EventUndo, "s1")
	a.expect(protocol.EventUndo)
	a.expectState("d1")
}

func TestCursorRelayUsesConnectionIdentity(t *testing.T) {
	env := newTestEnv(t, nil)
	a := env.dial(t, env.token(t, "alice", "Alice"))
	b := env.dial(t, env.token(t, "bob", "Bob"))

	a.send(protocol.EventJoinSession, "s1")
	a.expectState()
	b.send(protocol.EventJoinSession, "s1")
	b.expectState()
	a.expect(protocol.EventUserJoined)

	b.send(protocol.EventCursorMove, map[string]any{
		"sessionId": "s1",
		"cursor":    map[string]any{"userId": "mallory", "username": "M", "displayName": "M", "x": 3, "y": 4, "color": "red"},
	})
	f := a.expect(protocol.EventCursorMove)
	var c protocol.Cursor
	json.Unmarshal(f.Data, &c)
	if c.UserID != "bob" || c.DisplayName != "Bob" || c.Username != "Bob" || c.X != 3 || c.Y != 4 || c.Color != "red" {
		t.Fatalf("cursor = %+v", c)
	}
	b.expectSilence()
}

func TestLeaveSessionAnnounces(t *testing.T) {
	env := newTestEnv(t, nil)
	a := env.dial(t, env.token(t, "alice", "Alice"))
	b := env.dial(t, env.token(t, "bob", "Bob"))

	a.send(protocol.EventJoinSession, "s1")
	a.expectState()
	b.send(protocol.EventJoinSession, "s1")
	b.expectState()
	a.expect(protocol.EventUserJoined)

	b.send(protocol.EventLeaveSession, "s1")
	f := a.expect(protocol.EventUserLeft)
	var left protocol.UserLeftPayload
	json.Unmarshal(f.Data, &left)
	if left.UserID != "bob" {
		t.Fatalf("user-left = %+v", left)
	}

	// Leaving twice is harmless and b can come back.
	b.send(protocol.EventLeaveSession, "s1")
	b.send(protocol.EventJoinSession, "s1")
	b.expectState()
	a.expect(protocol.EventUserJoined)
}

func TestAbruptDisconnectTearsDownSession(t *testing.T) {
	env := newTestEnv(t, nil)
	a := env.dial(t, env.token(t, "alice", "Alice"))

	a.send(protocol.EventJoinSession, "s2")
	a.expectState()
	a.send(protocol.EventDrawing, drawingData("s2", "d1"))
	eventually(t, "drawing applied", func() bool {
		stats := env.srv.Registry().Sessions()
		return len(stats) == 1 && stats[0].Drawings == 1
	})

	// Drop the TCP connection without a close handshake.
	a.ws.UnderlyingConn().Close()

	eventually(t, "session s2 torn down", func() bool {
		_, ok := env.srv.Registry().Lookup("s2")
		return !ok
	})
	eventually(t, "connection removed", func() bool {
		return env.srv.Gateway().Count() == 0
	})

	b := env.dial(t, env.token(t, "bob", "Bob"))
	b.send(protocol.EventJoinSession, "s2")
	b.expectState()
}

func TestMalformedMessagesKeepConnection(t *testing.T) {
	env := newTestEnv(t, nil)
	a := env.dial(t, env.token(t, "alice", "Alice"))

	a.sendRaw("not json")
	a.sendRaw(`{"event":"explode","data":"s1"}`)
	a.sendRaw(`{"event":"drawing","data":{"sessionId":"s1","data":{"id":"d1","type":"hexagon"}}}`)
	a.sendRaw(`{"event":"ping"}`)
	a.send(protocol.EventUndo, "nowhere")

	a.send(protocol.EventJoinSession, "s1")
	a.expectState()

	eventually(t, "protocol errors counted", func() bool {
		return counterValue(t, env.reg, "whiteboard_protocol_errors_total") == 3
	})
}

func counterValue(t *testing.T, g prometheus.Gatherer, name string) float64 {
	t.Helper()
	families, err := g.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	var total float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func TestAuthentication(t *testing.T) {
	env := newTestEnv(t, nil)

	forged, _ := auth.NewIssuer([]byte("not-the-secret"), time.Hour).Issue(auth.Principal{ID: "eve"})
	tests := []struct {
		name   string
		header string
	}{
		{"no_credential", ""},
		{"garbage", "Bearer garbage"},
		{"forged", "Bearer " + forged},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			header := http.Header{}
			if tc.header != "" {
				header.Set("Authorization", tc.header)
			}
			_, resp, err := websocket.DefaultDialer.Dial(env.endpoint, header)
			if err == nil {
				t.Fatal("Dial() succeeded, want rejection")
			}
			if resp == nil || resp.StatusCode != http.StatusUnauthorized {
				t.Fatalf("response = %v, want 401", resp)
			}
		})
	}

	if got := counterValue(t, env.reg, "whiteboard_auth_failures_total"); got != 3 {
		t.Errorf("auth failures = %v, want 3", got)
	}
	if env.srv.Gateway().Count() != 0 {
		t.Errorf("rejected requests left %d connections", env.srv.Gateway().Count())
	}
}

func TestTokenInQueryParameter(t *testing.T) {
	env := newTestEnv(t, nil)
	url := env.endpoint + "?" + auth.TokenQueryParam + "=" + env.token(t, "alice", "Alice")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer ws.Close()
}

func TestAnonymousFallback(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.AllowAnonymous = true })
	a := env.dial(t, env.token(t, "alice", "Alice"))
	guest := env.dial(t, "")

	a.send(protocol.EventJoinSession, "s1")
	a.expectState()
	guest.send(protocol.EventJoinSession, "s1")
	guest.expectState()

	f := a.expect(protocol.EventUserJoined)
	var who protocol.UserJoinedPayload
	json.Unmarshal(f.Data, &who)
	if !strings.HasPrefix(who.UserID, "anon-") || !strings.HasPrefix(who.Username, "User-") {
		t.Fatalf("guest identity = %+v", who)
	}

	// An invalid credential is still rejected.
	header := http.Header{"Authorization": []string{"Bearer garbage"}}
	if _, resp, err := websocket.DefaultDialer.Dial(env.endpoint, header); err == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("invalid token with anonymous enabled: err=%v resp=%v", err, resp)
	}
}

func TestOriginCheck(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.CheckOrigin = AllowOrigins("https://board.example.com")
	})
	token := env.token(t, "alice", "Alice")

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	header.Set("Origin", "https://evil.example.com")
	if _, resp, err := websocket.DefaultDialer.Dial(env.endpoint, header); err == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("foreign origin: err=%v resp=%v", err, resp)
	}

	header.Set("Origin", "https://board.example.com")
	ws, _, err := websocket.DefaultDialer.Dial(env.endpoint, header)
	if err != nil {
		t.Fatalf("allowed origin: %v", err)
	}
	ws.Close()
}

func TestHealthAndDebugEndpoints(t *testing.T) {
	env := newTestEnv(t, nil)
	a := env.dial(t, env.token(t, "alice", "Alice"))
	a.send(protocol.EventJoinSession, "s1")
	a.expectState()

	resp, err := http.Get(env.ts.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	var health healthResponse
	json.NewDecoder(resp.Body).Decode(&health)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || health.Status != "ok" || health.Sessions != 1 || health.Connections != 1 {
		t.Errorf("healthz = %d %+v", resp.StatusCode, health)
	}

	resp, err = http.Get(env.ts.URL + "/debug/sessions")
	if err != nil {
		t.Fatal(err)
	}
	var debug debugSessionsResponse
	json.NewDecoder(resp.Body).Decode(&debug)
	resp.Body.Close()
	if len(debug.Sessions) != 1 || debug.Sessions[0].ID != "s1" || debug.Sessions[0].Participants != 1 {
		t.Errorf("debug/sessions = %+v", debug)
	}

	resp, err = http.Get(env.ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("metrics status = %d", resp.StatusCode)
	}
}

func TestDebugEndpointDisabled(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.EnableDebug = false })
	resp, err := http.Get(env.ts.URL + "/debug/sessions")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestShutdownClosesConnections(t *testing.T) {
	env := newTestEnv(t, nil)
	a := env.dial(t, env.token(t, "alice", "Alice"))
	a.send(protocol.EventJoinSession, "s1")
	a.expectState()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := env.srv.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	_ = a.ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err := a.ws.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Errorf("read after shutdown error = %v, want going-away close", err)
	}
	if env.srv.Registry().Count() != 0 {
		t.Errorf("Count() = %d after shutdown", env.srv.Registry().Count())
	}
}

func TestWriteJSONLogsEncodeFailure(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	srv := New(DefaultConfig(), auth.Chain{}, WithLogger(logger), WithMetrics(nil, prometheus.NewRegistry()))
	t.Cleanup(func() { srv.Shutdown(context.Background()) })

	rec := httptest.NewRecorder()
	srv.writeJSON(rec, http.StatusOK, map[string]any{"bad": make(chan int)})

	if !strings.Contains(logs.String(), "response write failed") {
		t.Errorf("encode failure not logged; logs:\n%s", logs.String())
	}
	if !strings.Contains(logs.String(), "component=server") {
		t.Errorf("log line missing server component; logs:\n%s", logs.String())
	}
}
