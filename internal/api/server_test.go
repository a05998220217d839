package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/onesmart-bridge/internal/bridge"
	"github.com/nerrad567/onesmart-bridge/internal/history"
	"github.com/nerrad567/onesmart-bridge/internal/infrastructure/config"
	"github.com/nerrad567/onesmart-bridge/internal/infrastructure/database"
	"github.com/nerrad567/onesmart-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/onesmart-bridge/internal/onesmart"
	"github.com/nerrad567/onesmart-bridge/internal/onesmart/onesmarttest"
	"github.com/nerrad567/onesmart-bridge/migrations"
)

const lightID = "onesmart-12-output_1"

// fakeGateway implements bridge.Gateway over an in-memory wrapper serving
// one dimmable light on device 12. Commands and refresh flags are recorded
// instead of forwarded.
type fakeGateway struct {
	live *onesmart.Wrapper

	mu         sync.Mutex
	status     onesmart.Status
	notes      chan onesmart.UpdateTopic
	executeErr error
	flags      []onesmart.UpdateFlag
}

func newFakeGateway(t *testing.T) *fakeGateway {
	t.Helper()
	live, _ := onesmarttest.NewWrapper(t, &onesmarttest.Site{
		Info:   map[string]any{"nodeID": "node1", "name": "Home"},
		Meters: []any{map[string]any{"id": int64(1), "name": "Grid"}},
		Devices: []any{
			map[string]any{"id": int64(12), "name": "Kitchen", "group": "LIGHTS", "room": int64(1), "visible": true},
		},
		Attributes: map[string][]any{"12": {
			map[string]any{"name": "output_1", "access": "READWRITE", "type": "NUMBER"},
			map[string]any{"name": "outputmode", "access": "READWRITE", "type": "NUMBER"},
		}},
		Values: map[string]map[string]any{"12": {
			"output_1":   int64(80),
			"outputmode": int64(onesmart.OutputDimmer),
		}},
	})
	return &fakeGateway{
		live:  live,
		notes: make(chan onesmart.UpdateTopic, 4),
		status: onesmart.Status{
			Push:    onesmart.ChannelStatus{Channel: onesmart.ChannelPush, State: onesmart.StateReady},
			Poll:    onesmart.ChannelStatus{Channel: onesmart.ChannelPoll, State: onesmart.StateReady},
			Started: true,
		},
	}
}

func (g *fakeGateway) Notifications(int) (<-chan onesmart.UpdateTopic, func()) {
	return g.notes, func() {}
}

func (g *fakeGateway) Discovery() *onesmart.Discovery { return g.live.Discovery() }

func (g *fakeGateway) Cache() *onesmart.Cache { return g.live.Cache() }

func (g *fakeGateway) Execute(onesmart.CommandTemplate, any) (uint32, error) {
	if g.executeErr != nil {
		return 0, g.executeErr
	}
	return 9, nil
}

func (g *fakeGateway) SetUpdateFlag(flag onesmart.UpdateFlag) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.flags = append(g.flags, flag)
	return nil
}

func (g *fakeGateway) Status() onesmart.Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.status
}

func testAPIConfig() config.APIConfig {
	return config.APIConfig{
		Host:     "127.0.0.1",
		Port:     0,
		Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5},
		WebSocket: config.WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
	}
}

// testServer creates a Server backed by a fake gateway and an in-memory
// history database.
func testServer(t *testing.T) (*Server, *fakeGateway, history.Repository) {
	t.Helper()

	db, err := database.Open(config.DatabaseConfig{Path: database.MemoryPath})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
	if err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	repo := history.NewSQLiteRepository(db.DB)

	gw := newFakeGateway(t)
	srv, err := New(Deps{
		Config:  testAPIConfig(),
		Logger:  logging.Discard(),
		Gateway: gw,
		History: repo,
		Version: "test",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return srv, gw, repo
}

func do(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("unmarshal %q: %v", w.Body.String(), err)
	}
}

// ─── Health and status ─────────────────────────────────────────────

func TestHealth(t *testing.T) {
	srv, gw, _ := testServer(t)

	w := do(t, srv, http.MethodGet, "/api/v1/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("health status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	var resp bridge.HealthMessage
	decode(t, w, &resp)
	if resp.Status != bridge.HealthHealthy || resp.Version != "test" {
		t.Errorf("health = %s %s, want healthy test", resp.Status, resp.Version)
	}

	gw.mu.Lock()
	gw.status.Push.State = onesmart.StateDisconnected
	gw.mu.Unlock()

	w = do(t, srv, http.MethodGet, "/api/v1/health", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("degraded health status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

func TestStatus(t *testing.T) {
	srv, _, _ := testServer(t)

	w := do(t, srv, http.MethodGet, "/api/v1/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp SystemStatus
	decode(t, w, &resp)
	if resp.Gateway.Push.State != "ready" || !resp.Gateway.Started {
		t.Errorf("gateway = %+v", resp.Gateway)
	}
	want := []string{
		"apparatus/get", "device/list", "energy/total", "meter/list",
		"preset/list", "room/list", "site/get", "site_update",
	}
	if !slices.Equal(resp.Gateway.CacheKeys, want) {
		t.Errorf("CacheKeys = %v, want %v", resp.Gateway.CacheKeys, want)
	}
}

// ─── Middleware ────────────────────────────────────────────────────

func TestRequestID(t *testing.T) {
	srv, _, _ := testServer(t)

	w := do(t, srv, http.MethodGet, "/api/v1/health", "")
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header to be set")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "client-123")
	rec := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want %q", got, "client-123")
	}
}

func TestCORS_Preflight(t *testing.T) {
	srv, _, _ := testServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("ACAO = %q, want %q", got, "http://localhost:3000")
	}
}

func TestCORS_DisallowedOrigin(t *testing.T) {
	srv, _, _ := testServer(t)
	srv.cfg.CORS.AllowedOrigins = []string{"http://panel.local"}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("Origin", "http://evil.example")
	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("ACAO = %q for a disallowed origin", got)
	}
}

func TestNotFound(t *testing.T) {
	srv, _, _ := testServer(t)
	if w := do(t, srv, http.MethodGet, "/api/v1/nonexistent", ""); w.Code != http.StatusNotFound {
		t.Errorf("unknown route status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestMetricsRouteOnlyWithHandler(t *testing.T) {
	srv, _, _ := testServer(t)
	if w := do(t, srv, http.MethodGet, "/metrics", ""); w.Code != http.StatusNotFound {
		t.Errorf("/metrics without handler = %d, want 404", w.Code)
	}

	srv.metrics = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("onesmart_up 1\n")) //nolint:errcheck
	})
	w := do(t, srv, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "onesmart_up") {
		t.Errorf("/metrics = %d %q", w.Code, w.Body.String())
	}
}

// ─── Cache and entities ────────────────────────────────────────────

func TestCacheEndpoints(t *testing.T) {
	srv, _, _ := testServer(t)

	tests := []struct {
		name     string
		path     string
		wantCode int
		wantVal  any
	}{
		{"whole entry", "/api/v1/cache/site/get", http.StatusOK, nil},
		{"nested path", "/api/v1/cache/apparatus/get?path=12.output_1", http.StatusOK, float64(80)},
		{"missing key", "/api/v1/cache/rooms/list", http.StatusNotFound, nil},
		{"missing path", "/api/v1/cache/site/get?path=nope", http.StatusNotFound, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, srv, http.MethodGet, tt.path, "")
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d; body: %s", w.Code, tt.wantCode, w.Body.String())
			}
			if tt.wantVal == nil {
				return
			}
			var resp map[string]any
			decode(t, w, &resp)
			if resp["value"] != tt.wantVal {
				t.Errorf("value = %v, want %v", resp["value"], tt.wantVal)
			}
		})
	}

	w := do(t, srv, http.MethodGet, "/api/v1/cache", "")
	var snap map[string]any
	decode(t, w, &snap)
	if _, ok := snap["meter/list"]; !ok {
		t.Errorf("snapshot keys = %v, want meter/list", sortedAnyKeys(snap))
	}
}

func sortedAnyKeys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func TestListEntities(t *testing.T) {
	srv, _, _ := testServer(t)

	w := do(t, srv, http.MethodGet, "/api/v1/entities?platform=light", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		Entities []bridge.DescriptorMessage `json:"entities"`
		Count    int                        `json:"count"`
	}
	decode(t, w, &resp)
	if resp.Count != 1 || resp.Entities[0].ID != lightID || resp.Entities[0].State != float64(80) {
		t.Errorf("entities = %+v", resp)
	}

	if w := do(t, srv, http.MethodGet, "/api/v1/entities?platform=toaster", ""); w.Code != http.StatusBadRequest {
		t.Errorf("unknown platform status = %d, want 400", w.Code)
	}

	w = do(t, srv, http.MethodGet, "/api/v1/entities", "")
	decode(t, w, &resp)
	// light, alarm panel, meter power and energy
	if resp.Count != 4 {
		t.Errorf("all entities count = %d, want 4", resp.Count)
	}
}

func TestGetEntity(t *testing.T) {
	srv, _, _ := testServer(t)

	if w := do(t, srv, http.MethodGet, "/api/v1/entities/"+lightID, ""); w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if w := do(t, srv, http.MethodGet, "/api/v1/entities/onesmart-99-x", ""); w.Code != http.StatusNotFound {
		t.Errorf("missing entity status = %d, want 404", w.Code)
	}
}

// ─── Commands and refresh ──────────────────────────────────────────

func TestEntityCommand(t *testing.T) {
	tests := []struct {
		name       string
		id         string
		body       string
		executeErr error
		wantCode   int
		wantStatus bridge.AckStatus
	}{
		{"accepted", lightID, `{"command":"turn_on","value":40}`, nil, http.StatusOK, bridge.AckAccepted},
		{"queued", lightID, `{"command":"turn_off"}`, onesmart.ErrCommandQueued, http.StatusAccepted, bridge.AckQueued},
		{"queue full", lightID, `{"command":"turn_off"}`, onesmart.ErrQueueFull, http.StatusServiceUnavailable, bridge.AckFailed},
		{"missing value", lightID, `{"command":"set_value"}`, nil, http.StatusBadRequest, bridge.AckFailed},
		{"unknown entity", "onesmart-99-x", `{"command":"turn_on"}`, nil, http.StatusNotFound, bridge.AckFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, gw, repo := testServer(t)
			gw.executeErr = tt.executeErr

			w := do(t, srv, http.MethodPost, "/api/v1/entities/"+tt.id+"/commands", tt.body)
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d; body: %s", w.Code, tt.wantCode, w.Body.String())
			}
			var ack bridge.AckMessage
			decode(t, w, &ack)
			if ack.Status != tt.wantStatus {
				t.Errorf("ack status = %s, want %s", ack.Status, tt.wantStatus)
			}

			cmds, err := repo.ListCommands(context.Background(), 10)
			if err != nil {
				t.Fatalf("ListCommands() error = %v", err)
			}
			executed := tt.wantCode == http.StatusOK || tt.wantCode == http.StatusAccepted || tt.executeErr != nil
			if executed && (len(cmds) != 1 || cmds[0].Source != history.SourceAPI) {
				t.Errorf("recorded commands = %+v, want one api command", cmds)
			}
		})
	}
}

func TestEntityCommand_InvalidJSON(t *testing.T) {
	srv, _, _ := testServer(t)
	if w := do(t, srv, http.MethodPost, "/api/v1/entities/"+lightID+"/commands", "{"); w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestRefresh(t *testing.T) {
	srv, gw, _ := testServer(t)

	w := do(t, srv, http.MethodPost, "/api/v1/refresh", `{"key":"apparatus/get/12"}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202; body: %s", w.Code, w.Body.String())
	}
	if len(gw.flags) != 1 || gw.flags[0] != onesmart.ApparatusFlag("12") {
		t.Errorf("flags = %v", gw.flags)
	}

	if w := do(t, srv, http.MethodPost, "/api/v1/refresh", `{"key":"site_update"}`); w.Code != http.StatusBadRequest {
		t.Errorf("invalid key status = %d, want 400", w.Code)
	}
}

// ─── History ───────────────────────────────────────────────────────

func TestDeviceHistory(t *testing.T) {
	srv, _, repo := testServer(t)
	ctx := context.Background()
	if err := repo.RecordReadings(ctx, "12", map[string]any{"output_1": 40}); err != nil {
		t.Fatalf("RecordReadings() error = %v", err)
	}

	w := do(t, srv, http.MethodGet, "/api/v1/history/devices/12?limit=5", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d; body: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Readings []history.Reading `json:"readings"`
		Count    int               `json:"count"`
	}
	decode(t, w, &resp)
	if resp.Count != 1 || resp.Readings[0].Attribute != "output_1" {
		t.Errorf("readings = %+v", resp)
	}

	for _, limit := range []string{"0", "abc", "501"} {
		if w := do(t, srv, http.MethodGet, "/api/v1/history/devices/12?limit="+limit, ""); w.Code != http.StatusBadRequest {
			t.Errorf("limit=%s status = %d, want 400", limit, w.Code)
		}
	}
}

func TestHistoryDisabled(t *testing.T) {
	srv, _, _ := testServer(t)
	srv.history = nil

	for _, path := range []string{"/api/v1/history/devices/12", "/api/v1/history/commands"} {
		if w := do(t, srv, http.MethodGet, path, ""); w.Code != http.StatusServiceUnavailable {
			t.Errorf("%s status = %d, want 503", path, w.Code)
		}
	}
}

func TestParseHistoryLimit(t *testing.T) {
	tests := []struct {
		raw     string
		want    int
		wantErr bool
	}{
		{"", defaultHistoryLimit, false},
		{"10", 10, false},
		{"500", 500, false},
		{"501", 0, true},
		{"-1", 0, true},
		{"x", 0, true},
	}
	for _, tt := range tests {
		got, err := parseHistoryLimit(tt.raw)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("parseHistoryLimit(%q) = %d, %v", tt.raw, got, err)
		}
	}
}

// ─── WebSocket ─────────────────────────────────────────────────────

func TestHub_BroadcastToSubscribed(t *testing.T) {
	hub := NewHub(testAPIConfig().WebSocket, logging.Discard())

	subscribed := &WSClient{
		hub:           hub,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: map[string]struct{}{"cache.apparatus": {}},
	}
	other := &WSClient{
		hub:           hub,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: map[string]struct{}{"cache.push": {}},
	}
	hub.Register(subscribed)
	hub.Register(other)

	hub.Broadcast("cache.apparatus", map[string]any{"apparatus/get": map[string]any{}})

	select {
	case msg := <-subscribed.send:
		var wsMsg WSMessage
		if err := json.Unmarshal(msg, &wsMsg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if wsMsg.EventType != "cache.apparatus" {
			t.Errorf("event_type = %q, want cache.apparatus", wsMsg.EventType)
		}
	case <-time.After(time.Second):
		t.Error("timed out waiting for broadcast message")
	}

	select {
	case <-other.send:
		t.Error("unsubscribed client received a message")
	default:
	}

	hub.Unregister(subscribed)
	hub.Unregister(other)
	if hub.ClientCount() != 0 {
		t.Errorf("client count = %d, want 0", hub.ClientCount())
	}
}

func startServer(t *testing.T) (*Server, *fakeGateway) {
	t.Helper()
	srv, gw, _ := testServer(t)
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	t.Cleanup(func() { srv.Close() }) //nolint:errcheck // Test cleanup
	return srv, gw
}

func dialWS(t *testing.T, srv *Server) *websocket.Conn {
	t.Helper()
	ws, resp, err := websocket.DefaultDialer.Dial("ws://"+srv.Addr()+"/api/v1/ws", nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v (resp: %v)", err, resp)
	}
	t.Cleanup(func() { ws.Close() })
	ws.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck
	return ws
}

func TestServer_StartAndClose(t *testing.T) {
	srv, _, _ := testServer(t)
	if err := srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() = nil before Start")
	}
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	addr := srv.Addr()

	resp, err := http.Get("http://" + addr + "/api/v1/health")
	if err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health check status = %d, want 200", resp.StatusCode)
	}
	if err := srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	if err := srv.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
	if _, err := http.Get("http://" + addr + "/api/v1/health"); err == nil {
		t.Error("server still responding after Close()")
	}
}

func TestWebSocket_SubscribeAndRelay(t *testing.T) {
	srv, gw := startServer(t)
	ws := dialWS(t, srv)

	if err := ws.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "sub-1",
		Payload: WSSubscribePayload{Channels: []string{CacheChannel(onesmart.UpdateApparatus)}},
	}); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}

	var resp WSMessage
	if err := ws.ReadJSON(&resp); err != nil {
		t.Fatalf("read response: %v", err)
	}
	if resp.Type != WSTypeResponse || resp.ID != "sub-1" {
		t.Errorf("response = %s %s, want response sub-1", resp.Type, resp.ID)
	}

	gw.notes <- onesmart.UpdateApparatus

	if err := ws.ReadJSON(&resp); err != nil {
		t.Fatalf("read relay: %v", err)
	}
	if resp.Type != WSTypeEvent || resp.EventType != "cache.apparatus" {
		t.Errorf("relay = %s %s, want event cache.apparatus", resp.Type, resp.EventType)
	}
	payload, _ := resp.Payload.(map[string]any)
	if _, ok := payload["apparatus/get"]; !ok {
		t.Errorf("relay payload = %v, want apparatus/get", resp.Payload)
	}
}

func TestWebSocket_Errors(t *testing.T) {
	tests := []struct {
		name string
		send func(*websocket.Conn) error
	}{
		{"invalid json", func(ws *websocket.Conn) error {
			return ws.WriteMessage(websocket.TextMessage, []byte("not json"))
		}},
		{"unknown type", func(ws *websocket.Conn) error {
			return ws.WriteJSON(WSMessage{Type: "unknown_type", ID: "t-1"})
		}},
		{"unknown channel", func(ws *websocket.Conn) error {
			return ws.WriteJSON(WSMessage{
				Type:    WSTypeSubscribe,
				ID:      "sub-x",
				Payload: WSSubscribePayload{Channels: []string{"device.state_changed"}},
			})
		}},
	}

	srv, _ := startServer(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ws := dialWS(t, srv)
			if err := tt.send(ws); err != nil {
				t.Fatalf("write: %v", err)
			}
			var resp WSMessage
			if err := ws.ReadJSON(&resp); err != nil {
				t.Fatalf("read: %v", err)
			}
			if resp.Type != WSTypeError {
				t.Errorf("response type = %s, want error", resp.Type)
			}
		})
	}
}

func TestWebSocket_Ping(t *testing.T) {
	srv, _ := startServer(t)
	ws := dialWS(t, srv)

	if err := ws.WriteJSON(WSMessage{Type: WSTypePing, ID: "ping-1"}); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	var resp WSMessage
	if err := ws.ReadJSON(&resp); err != nil {
		t.Fatalf("read pong: %v", err)
	}
	if resp.Type != WSTypePong || resp.ID != "ping-1" {
		t.Errorf("response = %s %s, want pong ping-1", resp.Type, resp.ID)
	}
}
