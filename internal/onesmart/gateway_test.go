package onesmart

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"strings"
	"sync"
	"testing"
	"time"
)

// mockGateway is a loopback gateway speaking the line protocol without TLS.
// Each request is answered by handler; a nil reply leaves it unanswered.
type mockGateway struct {
	listener net.Listener
	handler  func(req map[string]any) []any

	mu       sync.Mutex
	conns    []net.Conn
	requests []map[string]any
	done     chan struct{}
	wg       sync.WaitGroup
}

func newMockGateway(t *testing.T, handler func(req map[string]any) []any) *mockGateway {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to create listener: %v", err)
	}
	g := &mockGateway{
		listener: listener,
		handler:  handler,
		done:     make(chan struct{}),
	}
	g.wg.Add(1)
	go g.acceptLoop()
	t.Cleanup(g.Close)
	return g
}

func (g *mockGateway) acceptLoop() {
	defer g.wg.Done()
	for {
		conn, err := g.listener.Accept()
		if err != nil {
			return
		}
		g.mu.Lock()
		g.conns = append(g.conns, conn)
		g.mu.Unlock()

		g.wg.Add(1)
		go g.serve(conn)
	}
}

func (g *mockGateway) serve(conn net.Conn) {
	defer g.wg.Done()
	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		var req map[string]any
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			continue
		}
		g.mu.Lock()
		g.requests = append(g.requests, req)
		g.mu.Unlock()

		for _, reply := range g.handler(req) {
			writeFrame(conn, reply)
		}
	}
}

func writeFrame(conn net.Conn, msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	_, _ = conn.Write(append(data, "\r\n"...))
}

// Push sends msg on every open connection.
func (g *mockGateway) Push(msg any) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, conn := range g.conns {
		writeFrame(conn, msg)
	}
}

// DropConnections closes every accepted connection.
func (g *mockGateway) DropConnections() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, conn := range g.conns {
		conn.Close()
	}
	g.conns = nil
}

func (g *mockGateway) Address() string {
	return g.listener.Addr().String()
}

func (g *mockGateway) Close() {
	select {
	case <-g.done:
		return
	default:
	}
	close(g.done)
	g.listener.Close()
	g.DropConnections()
	g.wg.Wait()
}

// Requests returns the received requests whose cmd and action match.
// An empty action matches any.
func (g *mockGateway) Requests(cmd Command, action Action) []map[string]any {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []map[string]any
	for _, req := range g.requests {
		if req[FieldCmd] != string(cmd) {
			continue
		}
		if action != "" && req[FieldAction] != string(action) {
			continue
		}
		out = append(out, req)
	}
	return out
}

func plainDial(ctx context.Context, addr string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "tcp", addr)
}

func reply(req map[string]any, result any) []any {
	return []any{map[string]any{FieldTransaction: req[FieldTransaction], FieldResult: result}}
}

func replyError(req map[string]any, msg string) []any {
	return []any{map[string]any{FieldTransaction: req[FieldTransaction], FieldError: msg}}
}

func testTiming() Timing {
	return Timing{
		ConnectTimeout:      2 * time.Second,
		AuthTimeout:         time.Second,
		CommandTimeout:      time.Second,
		ReconnectDelay:      10 * time.Millisecond,
		ReconnectRetries:    2,
		PingInterval:        time.Hour,
		DefinitionsInterval: time.Hour,
		CacheInterval:       time.Hour,
		MaxApparatusPoll:    2,
		ReceiveWait:         20 * time.Millisecond,
		LoopDelay:           20 * time.Millisecond,
		CommandPoll:         5 * time.Millisecond,
	}
}

// siteFixture describes a small installation: a heat pump, a hidden
// device, a dimmable light channel, one meter and three presets.
type siteFixture struct {
	meters     []any
	noPresets  bool
	authError  string
	silentPing bool
	failList   map[string]bool
}

func (f siteFixture) handle(req map[string]any) []any {
	cmd, _ := req[FieldCmd].(string)
	action, _ := req[FieldAction].(string)

	switch Command(cmd) {
	case CmdAuthenticate:
		if f.authError != "" {
			return replyError(req, f.authError)
		}
		return []any{map[string]any{FieldTransaction: req[FieldTransaction]}}
	case CmdEvents:
		return reply(req, map[string]any{})
	case CmdPing:
		if f.silentPing {
			return nil
		}
		return reply(req, map[string]any{})
	case CmdSite:
		return reply(req, map[string]any{
			"nodeID": "node1", "name": "Home", "mac": "00:11:22:33:44:55",
			"version": "2.1", "mode": "HOME",
		})
	case CmdMeter:
		meters := f.meters
		if meters == nil {
			meters = []any{map[string]any{"id": 1, "name": "Grid"}}
		}
		return reply(req, map[string]any{"meters": meters})
	case CmdDevice:
		return reply(req, map[string]any{"devices": []any{
			map[string]any{"id": 10, "name": "Heat pump", "group": "CLIMATE", "room": 1, "visible": true},
			map[string]any{"id": 11, "name": "Hidden", "group": "CLIMATE", "room": 1, "visible": false},
			map[string]any{"id": 12, "name": "Kitchen", "group": "LIGHTS", "room": 1, "visible": true},
		}})
	case CmdRoom:
		return reply(req, map[string]any{"rooms": []any{
			map[string]any{"id": 1, "name": "Living"},
		}})
	case CmdPreset:
		if action == string(ActionPerform) {
			return reply(req, map[string]any{})
		}
		if f.noPresets {
			return reply(req, map[string]any{"presets": []any{}})
		}
		return reply(req, map[string]any{"presets": []any{
			map[string]any{"id": 1, "name": "Relax", "room": 1, "group": "LIGHTS"},
			map[string]any{"id": 2, "name": "Bright", "room": 1, "group": "LIGHTS"},
			map[string]any{"id": 3, "name": "Solo", "room": 2, "group": "LIGHTS"},
		}})
	case CmdEnergy:
		return reply(req, map[string]any{"values": []any{
			map[string]any{"id": 1, "value": 1234},
		}})
	case CmdApparatus:
		return f.apparatus(req, action)
	default:
		return replyError(req, "unknown command")
	}
}

var heatPumpAttributes = []any{
	map[string]any{"name": "room_temperature_zone1", "access": "READ", "type": "REAL"},
	map[string]any{"name": "hc_thermostat_target_temperature_zone1", "access": "READWRITE", "type": "REAL"},
	map[string]any{"name": "operating_mode", "access": "READ", "type": "STRING"},
	map[string]any{"name": "system_onoff", "access": "READWRITE", "type": "STRING", "enum": []any{"on", "off"}},
	map[string]any{"name": "outdoor_temp", "access": "READ", "type": "REAL"},
	map[string]any{"name": "compressor_power", "access": "READ", "type": "NUMBER"},
}

var heatPumpValues = map[string]any{
	"room_temperature_zone1":                 21.5,
	"hc_thermostat_target_temperature_zone1": 22.0,
	"operating_mode":                         "heating",
	"system_onoff":                           "on",
	"outdoor_temp":                           7.5,
	"compressor_power":                       int64(4607182418800017408), // 1.0 as float64 bits
}

func (f siteFixture) apparatus(req map[string]any, action string) []any {
	id := idString(req[FieldID])
	if f.failList[id] {
		return replyError(req, "device offline")
	}

	switch Action(action) {
	case ActionList:
		switch id {
		case "10":
			return reply(req, map[string]any{"attributes": heatPumpAttributes})
		case "12":
			return reply(req, map[string]any{"attributes": []any{
				map[string]any{"name": "output_1", "access": "READWRITE", "type": "NUMBER"},
				map[string]any{"name": "outputmode", "access": "READWRITE", "type": "NUMBER"},
			}})
		default:
			return reply(req, map[string]any{"attributes": []any{}})
		}
	case ActionGet:
		names, _ := req[FieldAttributes].([]any)
		values := make(map[string]any, len(names))
		for _, n := range names {
			name, _ := n.(string)
			switch {
			case name == FieldOutputMode:
				values[name] = int(OutputDimmer)
			case id == "12":
				values[name] = 40
			default:
				if v, ok := heatPumpValues[name]; ok {
					values[name] = v
				}
			}
		}
		return reply(req, map[string]any{"attributes": values})
	default:
		return reply(req, map[string]any{})
	}
}

func newTestWrapper(t *testing.T, f siteFixture) (*Wrapper, *mockGateway) {
	t.Helper()
	g := newMockGateway(t, f.handle)
	w := New(Config{
		Address:  g.Address(),
		Username: "admin",
		Password: "secret",
		Timing:   testTiming(),
	}, WithDial(plainDial))
	t.Cleanup(func() { w.Close() })
	return w, g
}

// waitFor polls cond until it holds or the timeout elapses.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
