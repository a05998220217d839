package influxdb_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/onesmart-bridge/internal/infrastructure/config"
	"github.com/nerrad567/onesmart-bridge/internal/infrastructure/influxdb"
)

// fakeInflux answers pings and records line protocol bodies.
type fakeInflux struct {
	*httptest.Server
	mu     sync.Mutex
	lines  []string
	pingOK bool
}

func newFakeInflux(t *testing.T, pingOK bool) *fakeInflux {
	t.Helper()
	f := &fakeInflux{pingOK: pingOK}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/ping"):
			if !f.pingOK {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		case strings.HasSuffix(r.URL.Path, "/write"):
			body, _ := io.ReadAll(r.Body)
			f.mu.Lock()
			for _, line := range strings.Split(strings.TrimSpace(string(body)), "\n") {
				if line != "" {
					f.lines = append(f.lines, line)
				}
			}
			f.mu.Unlock()
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(f.Close)
	return f
}

func (f *fakeInflux) written() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.lines...)
}

func (f *fakeInflux) waitLines(t *testing.T, n int) []string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if lines := f.written(); len(lines) >= n {
			return lines
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("got %d lines, want %d", len(f.written()), n)
	return nil
}

func testConfig(url string) config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           url,
		Token:         "onesmart-test-token",
		Org:           "home",
		Bucket:        "onesmart",
		BatchSize:     100,
		FlushInterval: 1,
	}
}

func TestConnectDisabled(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.Enabled = false

	_, err := influxdb.Connect(cfg)
	if !errors.Is(err, influxdb.ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnectUnhealthy(t *testing.T) {
	server := newFakeInflux(t, false)

	_, err := influxdb.Connect(testConfig(server.URL))
	if !errors.Is(err, influxdb.ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestConnectUnreachable(t *testing.T) {
	server := newFakeInflux(t, true)
	url := server.URL
	server.Close()

	_, err := influxdb.Connect(testConfig(url))
	if !errors.Is(err, influxdb.ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestConnectDefaultsBatchSettings(t *testing.T) {
	server := newFakeInflux(t, true)
	cfg := testConfig(server.URL)
	cfg.BatchSize = -1
	cfg.FlushInterval = 0

	client, err := influxdb.Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	if !client.IsConnected() {
		t.Error("IsConnected() = false after Connect()")
	}
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestWrites(t *testing.T) {
	server := newFakeInflux(t, true)
	client, err := influxdb.Connect(testConfig(server.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	client.WriteMeterPower("1", "Grid", 2310)
	client.WriteMeterEnergy("1", "Grid", 123456)
	client.WriteApparatusValue("10", "room_temperature_zone1", 21.5)
	client.Flush()

	lines := server.waitLines(t, 3)
	wants := []string{
		"meter_power,meter_id=1,name=Grid watts=2310",
		"meter_energy,meter_id=1,name=Grid watt_hours=123456",
		"apparatus,attribute=room_temperature_zone1,device_id=10 value=21.5",
	}
	for _, want := range wants {
		found := false
		for _, line := range lines {
			if strings.HasPrefix(line, want) {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("no line starting with %q in %v", want, lines)
		}
	}
}

func TestWriteAfterClose(t *testing.T) {
	server := newFakeInflux(t, true)
	client, err := influxdb.Connect(testConfig(server.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	client.Close()

	client.WriteMeterPower("1", "Grid", 1)
	client.Flush()

	if lines := server.written(); len(lines) != 0 {
		t.Errorf("wrote %v after Close", lines)
	}
	if err := client.HealthCheck(context.Background()); !errors.Is(err, influxdb.ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
}

func TestNilClient(t *testing.T) {
	var client *influxdb.Client
	if client.IsConnected() {
		t.Error("IsConnected() = true for nil client")
	}
	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
