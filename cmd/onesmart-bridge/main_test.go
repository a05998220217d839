package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/onesmart-bridge/internal/infrastructure/config"
	"github.com/nerrad567/onesmart-bridge/internal/infrastructure/database"
	"github.com/nerrad567/onesmart-bridge/internal/onesmart"
	"github.com/nerrad567/onesmart-bridge/migrations"
)

// TestRun_InvalidConfig verifies run fails with an invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx, "/nonexistent/path/config.yaml")
	if err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
	if !strings.Contains(err.Error(), "loading config") {
		t.Errorf("run() error = %v, want loading config", err)
	}
}

// closedPort returns a local port nothing is listening on.
func closedPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

// TestRun_GatewayUnreachable verifies run stops at Setup with an operator
// message when the gateway cannot be reached.
func TestRun_GatewayUnreachable(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := fmt.Sprintf(`
gateway:
  host: "127.0.0.1"
  port: %d
  username: "installer"
  password: "secret"
  timing:
    connect_timeout: 1
    reconnect_retries: 1

database:
  path: %q

mqtt:
  enabled: false

influxdb:
  enabled: false

api:
  enabled: false

logging:
  level: error
  format: text
  output: stderr
`, closedPort(t), filepath.Join(tmpDir, "test.db"))

	if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := run(ctx, configPath)
	if err == nil {
		t.Fatal("run() should fail when the gateway is unreachable")
	}
	if !strings.Contains(err.Error(), "gateway unreachable") {
		t.Errorf("run() error = %v, want gateway unreachable", err)
	}

	if _, statErr := os.Stat(filepath.Join(tmpDir, "test.db")); statErr != nil {
		t.Errorf("database not created before setup: %v", statErr)
	}
}

func TestGetConfigPath(t *testing.T) {
	tests := []struct {
		name string
		flag string
		env  string
		want string
	}{
		{"default", "", "", defaultConfigPath},
		{"env", "", "/etc/onesmart/config.yaml", "/etc/onesmart/config.yaml"},
		{"flag wins", "./local.yaml", "/etc/onesmart/config.yaml", "./local.yaml"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("ONESMART_CONFIG", tt.env)
			if got := getConfigPath(tt.flag); got != tt.want {
				t.Errorf("getConfigPath(%q) = %q, want %q", tt.flag, got, tt.want)
			}
		})
	}
}

func TestGatewayConfig(t *testing.T) {
	got := gatewayConfig(config.GatewayConfig{
		Host:     "10.0.0.5",
		Port:     9010,
		Username: "installer",
		Password: "secret",
		Timing: config.TimingConfig{
			ConnectTimeout:   10,
			ReconnectRetries: 3,
			CacheInterval:    300,
			ReceiveWaitMS:    1000,
			LoopDelayMS:      5000,
		},
	})

	if got.Address != "10.0.0.5:9010" {
		t.Errorf("Address = %q, want 10.0.0.5:9010", got.Address)
	}
	if got.Username != "installer" || got.Password != "secret" {
		t.Errorf("credentials = %q/%q", got.Username, got.Password)
	}

	timing := []struct {
		name string
		got  time.Duration
		want time.Duration
	}{
		{"ConnectTimeout", got.Timing.ConnectTimeout, 10 * time.Second},
		{"CacheInterval", got.Timing.CacheInterval, 5 * time.Minute},
		{"ReceiveWait", got.Timing.ReceiveWait, time.Second},
		{"LoopDelay", got.Timing.LoopDelay, 5 * time.Second},
	}
	for _, tt := range timing {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
	if got.Timing.ReconnectRetries != 3 {
		t.Errorf("ReconnectRetries = %d, want 3", got.Timing.ReconnectRetries)
	}
}

func TestSetupMessage(t *testing.T) {
	tests := []struct {
		status onesmart.SetupStatus
		want   string
	}{
		{onesmart.SetupFailAuth, "credentials"},
		{onesmart.SetupFailCache, "definitions"},
		{onesmart.SetupFailNetwork, "unreachable"},
	}
	for _, tt := range tests {
		if got := setupMessage(tt.status); !strings.Contains(got, tt.want) {
			t.Errorf("setupMessage(%v) = %q, want it to mention %q", tt.status, got, tt.want)
		}
	}
}

func TestHealthCheck(t *testing.T) {
	db, err := database.Open(config.DatabaseConfig{Path: database.MemoryPath})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}

	if err := healthCheck(context.Background(), db, nil, nil); err != nil {
		t.Errorf("healthCheck() with disabled sinks error = %v", err)
	}

	db.Close() //nolint:errcheck // closed on purpose
	err = healthCheck(context.Background(), db, nil, nil)
	if err == nil || !strings.Contains(err.Error(), "database") {
		t.Errorf("healthCheck() on a closed database = %v, want database error", err)
	}
}

// TestRollback verifies -migrate-down drops the history tables.
func TestRollback(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "history.db")
	configPath := filepath.Join(tmpDir, "config.yaml")
	configContent := fmt.Sprintf(`
gateway:
  host: "127.0.0.1"
  port: 9010
  username: "installer"
  password: "secret"

database:
  path: %q

mqtt:
  enabled: false

influxdb:
  enabled: false

api:
  enabled: false

logging:
  level: error
  format: text
  output: stderr
`, dbPath)
	if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	ctx := context.Background()
	db, err := database.Open(config.DatabaseConfig{Path: dbPath})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	db.Close() //nolint:errcheck // reopened by rollback

	if err := rollback(ctx, configPath); err != nil {
		t.Fatalf("rollback() error = %v", err)
	}

	db, err = database.Open(config.DatabaseConfig{Path: dbPath})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	defer db.Close() //nolint:errcheck // test cleanup
	var n int
	if err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'command_log'`).Scan(&n); err != nil {
		t.Fatalf("query sqlite_master: %v", err)
	}
	if n != 0 {
		t.Error("command_log still exists after rollback")
	}
}

func TestRollback_InvalidConfig(t *testing.T) {
	err := rollback(context.Background(), "/nonexistent/path/config.yaml")
	if err == nil || !strings.Contains(err.Error(), "loading config") {
		t.Errorf("rollback() error = %v, want loading config", err)
	}
}
