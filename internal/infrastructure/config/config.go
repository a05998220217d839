package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultGatewayPort is the TLS port One Smart Control gateways listen on.
const DefaultGatewayPort = 9010

// Config is the root configuration structure for the bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Gateway  GatewayConfig  `yaml:"gateway"`
	Database DatabaseConfig `yaml:"database"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	API      APIConfig      `yaml:"api"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// GatewayConfig contains the One Smart Control gateway connection settings.
type GatewayConfig struct {
	Host     string       `yaml:"host"`
	Port     int          `yaml:"port"`
	Username string       `yaml:"username"`
	Password string       `yaml:"password"`
	Timing   TimingConfig `yaml:"timing"`
}

// Address returns host:port for dialing.
func (g GatewayConfig) Address() string {
	return fmt.Sprintf("%s:%d", g.Host, g.Port)
}

// TimingConfig holds the static tunables of the gateway client.
// Values ending in _ms are milliseconds, all others are seconds.
type TimingConfig struct {
	ConnectTimeout      int `yaml:"connect_timeout"`
	AuthTimeout         int `yaml:"auth_timeout"`
	CommandTimeout      int `yaml:"command_timeout"`
	ReconnectDelay      int `yaml:"reconnect_delay"`
	ReconnectRetries    int `yaml:"reconnect_retries"`
	PingInterval        int `yaml:"ping_interval"`
	DefinitionsInterval int `yaml:"definitions_interval"`
	CacheInterval       int `yaml:"cache_interval"`
	MaxApparatusPoll    int `yaml:"max_apparatus_poll"`
	ReceiveWaitMS       int `yaml:"receive_wait_ms"`
	LoopDelayMS         int `yaml:"loop_delay_ms"`
	CommandPollMS       int `yaml:"command_poll_ms"`
}

// Seconds converts a seconds field to a Duration.
func Seconds(v int) time.Duration {
	return time.Duration(v) * time.Second
}

// Millis converts a milliseconds field to a Duration.
func Millis(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`

	// HistoryRetentionDays bounds the apparatus/command history table.
	// 0 keeps everything.
	HistoryRetentionDays int `yaml:"history_retention_days"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled     bool                `yaml:"enabled"`
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
	TopicPrefix string              `yaml:"topic_prefix"`
	// HealthInterval is the period of the retained health message, in seconds.
	HealthInterval int `yaml:"health_interval"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled   bool             `yaml:"enabled"`
	Host      string           `yaml:"host"`
	Port      int              `yaml:"port"`
	Timeouts  APITimeoutConfig `yaml:"timeouts"`
	CORS      CORSConfig       `yaml:"cors"`
	WebSocket WebSocketConfig  `yaml:"websocket"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
// An empty AllowedOrigins list allows every origin.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket settings. Intervals are in seconds.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: ONESMART_SECTION_KEY
// For example: ONESMART_GATEWAY_PASSWORD, ONESMART_MQTT_HOST
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with the gateway's documented defaults.
func defaultConfig() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Port: DefaultGatewayPort,
			Timing: TimingConfig{
				ConnectTimeout:      10,
				AuthTimeout:         5,
				CommandTimeout:      60,
				ReconnectDelay:      60,
				ReconnectRetries:    5,
				PingInterval:        30,
				DefinitionsInterval: 1800,
				CacheInterval:       300,
				MaxApparatusPoll:    4,
				ReceiveWaitMS:       1000,
				LoopDelayMS:         5000,
				CommandPollMS:       100,
			},
		},
		Database: DatabaseConfig{
			Path:                 "./data/onesmart.db",
			WALMode:              true,
			BusyTimeout:          5,
			HistoryRetentionDays: 30,
		},
		MQTT: MQTTConfig{
			Enabled: true,
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "onesmart-bridge",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
			TopicPrefix:    "onesmart",
			HealthInterval: 30,
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
			WebSocket: WebSocketConfig{
				MaxMessageSize: 8192,
				PingInterval:   30,
				PongTimeout:    10,
			},
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: ONESMART_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Gateway
	if v := os.Getenv("ONESMART_GATEWAY_HOST"); v != "" {
		cfg.Gateway.Host = v
	}
	if v := os.Getenv("ONESMART_GATEWAY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Gateway.Port = port
		}
	}
	if v := os.Getenv("ONESMART_GATEWAY_USERNAME"); v != "" {
		cfg.Gateway.Username = v
	}
	if v := os.Getenv("ONESMART_GATEWAY_PASSWORD"); v != "" {
		cfg.Gateway.Password = v
	}

	// Database
	if v := os.Getenv("ONESMART_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("ONESMART_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("ONESMART_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("ONESMART_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("ONESMART_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("ONESMART_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
//
// Every problem is collected so the operator sees them all at once.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Gateway
	if c.Gateway.Host == "" {
		errs = append(errs, "gateway.host is required")
	}
	if c.Gateway.Port < 1 || c.Gateway.Port > 65535 {
		errs = append(errs, "gateway.port must be between 1 and 65535")
	}
	if c.Gateway.Username == "" {
		errs = append(errs, "gateway.username is required")
	}
	if c.Gateway.Password == "" {
		errs = append(errs, "gateway.password is required (set ONESMART_GATEWAY_PASSWORD)")
	}
	errs = append(errs, c.Gateway.Timing.validate()...)

	// Database
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}
	if c.Database.HistoryRetentionDays < 0 {
		errs = append(errs, "database.history_retention_days must not be negative")
	}

	// MQTT
	if c.MQTT.Enabled {
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			errs = append(errs, "mqtt.qos must be 0, 1, or 2")
		}
		if c.MQTT.TopicPrefix == "" {
			errs = append(errs, "mqtt.topic_prefix is required")
		}
	}

	// API
	if c.API.Enabled {
		if c.API.Port < 1 || c.API.Port > 65535 {
			errs = append(errs, "api.port must be between 1 and 65535")
		}
		ws := c.API.WebSocket
		if ws.MaxMessageSize <= 0 || ws.PingInterval <= 0 || ws.PongTimeout <= 0 {
			errs = append(errs, "api.websocket values must be positive")
		}
	}

	// InfluxDB
	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// validate checks that every timing value is usable.
func (t TimingConfig) validate() []string {
	var errs []string
	positive := []struct {
		name  string
		value int
	}{
		{"connect_timeout", t.ConnectTimeout},
		{"auth_timeout", t.AuthTimeout},
		{"command_timeout", t.CommandTimeout},
		{"ping_interval", t.PingInterval},
		{"definitions_interval", t.DefinitionsInterval},
		{"cache_interval", t.CacheInterval},
		{"max_apparatus_poll", t.MaxApparatusPoll},
		{"receive_wait_ms", t.ReceiveWaitMS},
		{"command_poll_ms", t.CommandPollMS},
	}
	for _, p := range positive {
		if p.value <= 0 {
			errs = append(errs, fmt.Sprintf("gateway.timing.%s must be positive", p.name))
		}
	}
	if t.ReconnectRetries < 1 {
		errs = append(errs, "gateway.timing.reconnect_retries must be at least 1")
	}
	if t.ReconnectDelay < 0 || t.LoopDelayMS < 0 {
		errs = append(errs, "gateway.timing delays must not be negative")
	}
	return errs
}

// ReadTimeout returns the API read timeout as a Duration.
func (a APIConfig) ReadTimeout() time.Duration {
	return Seconds(a.Timeouts.Read)
}

// WriteTimeout returns the API write timeout as a Duration.
func (a APIConfig) WriteTimeout() time.Duration {
	return Seconds(a.Timeouts.Write)
}

// IdleTimeout returns the API idle timeout as a Duration.
func (a APIConfig) IdleTimeout() time.Duration {
	return Seconds(a.Timeouts.Idle)
}
