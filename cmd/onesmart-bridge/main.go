// OneSmart Bridge connects a One Smart Control home-automation gateway to
// MQTT, InfluxDB and an HTTP/WebSocket API.
//
// The gateway is driven over two TLS channels: one subscribed to push
// events, one used for polling and commands. Everything the gateway
// reports is cached, described as entities, and republished.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nerrad567/onesmart-bridge/internal/api"
	"github.com/nerrad567/onesmart-bridge/internal/bridge"
	"github.com/nerrad567/onesmart-bridge/internal/history"
	"github.com/nerrad567/onesmart-bridge/internal/infrastructure/config"
	"github.com/nerrad567/onesmart-bridge/internal/infrastructure/database"
	"github.com/nerrad567/onesmart-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/onesmart-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/onesmart-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/onesmart-bridge/internal/metrics"
	"github.com/nerrad567/onesmart-bridge/internal/onesmart"
	"github.com/nerrad567/onesmart-bridge/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	configFlag := flag.String("config", "", "path to the YAML config (env: ONESMART_CONFIG)")
	migrateDown := flag.Bool("migrate-down", false, "roll back the latest history migration and exit")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	runFn := run
	if *migrateDown {
		runFn = rollback
	}
	if err := runFn(ctx, getConfigPath(*configFlag)); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application, separated from main for testability.
//
// Parameters:
//   - ctx: Cancelled on shutdown signals
//   - configPath: YAML configuration file
//
// Returns:
//   - error: nil on clean shutdown
func run(ctx context.Context, configPath string) error {
	log := logging.Default()
	log.Info("starting OneSmart bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded", "path", configPath, "gateway", cfg.Gateway.Address())

	db, err := database.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	recorder := history.NewRecorder(
		history.NewSQLiteRepository(db.DB),
		time.Duration(cfg.Database.HistoryRetentionDays)*24*time.Hour,
		log,
	)

	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log)
		mqttClient.SetOnConnect(func() { log.Info("MQTT connected") })
		mqttClient.SetOnDisconnect(func(err error) { log.Warn("MQTT disconnected", "error", err) })
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	} else {
		log.Info("MQTT disabled")
	}

	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	gw := onesmart.New(gatewayConfig(cfg.Gateway), onesmart.WithLogger(log))
	defer func() {
		log.Info("closing gateway client")
		if closeErr := gw.Close(); closeErr != nil {
			log.Error("error closing gateway client", "error", closeErr)
		}
	}()

	status, err := gw.Setup(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", setupMessage(status), err)
	}

	b := newBridge(cfg, gw, mqttClient, influxClient, recorder, log)
	m := metrics.New(gw, version)

	var apiServer *api.Server
	if cfg.API.Enabled {
		apiServer, err = startAPI(ctx, cfg.API, gw, b, recorder.Repository(), m, log)
		if err != nil {
			return fmt.Errorf("starting API: %w", err)
		}
		defer func() {
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	}

	if err := gw.Start(ctx); err != nil {
		return fmt.Errorf("starting gateway loops: %w", err)
	}

	log.Info("initialisation complete, waiting for shutdown signal")
	if err := b.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("bridge: %w", err)
	}

	log.Info("OneSmart bridge stopped")
	return nil
}

// rollback reverts the most recent history migration. It is the
// -migrate-down mode and never contacts the gateway.
func rollback(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log := logging.New(cfg.Logging, version)

	db, err := database.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close() //nolint:errcheck // best-effort on exit

	if err := db.MigrateDown(ctx, migrations.FS); err != nil {
		return fmt.Errorf("rolling back migration: %w", err)
	}
	log.Info("latest migration rolled back", "path", cfg.Database.Path)
	return nil
}

// healthCheck verifies the infrastructure connections before the gateway
// is contacted. Disabled sinks are nil and skipped.
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}

// getConfigPath picks the flag, then ONESMART_CONFIG, then the default.
func getConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if path := os.Getenv("ONESMART_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// gatewayConfig converts the YAML gateway section to client settings.
func gatewayConfig(g config.GatewayConfig) onesmart.Config {
	t := g.Timing
	return onesmart.Config{
		Address:  g.Address(),
		Username: g.Username,
		Password: g.Password,
		Timing: onesmart.Timing{
			ConnectTimeout:      config.Seconds(t.ConnectTimeout),
			AuthTimeout:         config.Seconds(t.AuthTimeout),
			CommandTimeout:      config.Seconds(t.CommandTimeout),
			ReconnectDelay:      config.Seconds(t.ReconnectDelay),
			ReconnectRetries:    t.ReconnectRetries,
			PingInterval:        config.Seconds(t.PingInterval),
			DefinitionsInterval: config.Seconds(t.DefinitionsInterval),
			CacheInterval:       config.Seconds(t.CacheInterval),
			MaxApparatusPoll:    t.MaxApparatusPoll,
			ReceiveWait:         config.Millis(t.ReceiveWaitMS),
			LoopDelay:           config.Millis(t.LoopDelayMS),
			CommandPoll:         config.Millis(t.CommandPollMS),
		},
	}
}

// setupMessage explains a failed Setup to the operator.
func setupMessage(status onesmart.SetupStatus) string {
	switch status {
	case onesmart.SetupFailAuth:
		return "gateway rejected the credentials"
	case onesmart.SetupFailCache:
		return "gateway returned no site, meter or device definitions"
	case onesmart.SetupFailNetwork:
		return "gateway unreachable"
	default:
		return "gateway setup failed (" + status.String() + ")"
	}
}

// newBridge builds the MQTT bridge. Disabled sinks are passed as untyped
// nils so the bridge's nil checks hold.
func newBridge(cfg *config.Config, gw *onesmart.Wrapper, mqttClient *mqtt.Client, influxClient *influxdb.Client, recorder *history.Recorder, log *logging.Logger) *bridge.Bridge {
	opts := []bridge.Option{
		bridge.WithLogger(log),
		bridge.WithRecorder(recorder),
	}
	if influxClient != nil {
		opts = append(opts, bridge.WithTimeSeries(influxClient))
	}

	var client bridge.MQTTClient
	if mqttClient != nil {
		client = mqttClient
	}

	return bridge.New(bridge.Config{
		ClientID:       cfg.MQTT.Broker.ClientID,
		Version:        version,
		Topics:         mqtt.Topics{Prefix: cfg.MQTT.TopicPrefix},
		QoS:            byte(cfg.MQTT.QoS),
		HealthInterval: config.Seconds(cfg.MQTT.HealthInterval),
	}, gw, client, opts...)
}

// startAPI starts the HTTP API sharing the bridge's dispatcher and health
// reporter.
func startAPI(ctx context.Context, cfg config.APIConfig, gw *onesmart.Wrapper, b *bridge.Bridge, repo history.Repository, m *metrics.Metrics, log *logging.Logger) (*api.Server, error) {
	srv, err := api.New(api.Deps{
		Config:     cfg,
		Logger:     log,
		Gateway:    gw,
		Dispatcher: b.Dispatcher(),
		Health:     b.Health(),
		History:    repo,
		Metrics:    m.Handler(),
		Instrument: m.Middleware,
		Version:    version,
	})
	if err != nil {
		return nil, err
	}
	if err := srv.Start(ctx); err != nil {
		return nil, err
	}
	log.Info("API listening", "address", srv.Addr())
	return srv, nil
}
