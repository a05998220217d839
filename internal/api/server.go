package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/nerrad567/onesmart-bridge/internal/bridge"
	"github.com/nerrad567/onesmart-bridge/internal/history"
	"github.com/nerrad567/onesmart-bridge/internal/infrastructure/config"
	"github.com/nerrad567/onesmart-bridge/internal/infrastructure/logging"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config     config.APIConfig
	Logger     *logging.Logger
	Gateway    bridge.Gateway
	Dispatcher *bridge.Dispatcher
	Health     *bridge.HealthReporter

	// History is optional; history endpoints answer 503 without it.
	History history.Repository

	// Metrics is optional; /metrics is not routed without it.
	Metrics http.Handler

	// Instrument wraps every request when set, typically to count them.
	Instrument func(http.Handler) http.Handler

	Version string
}

// Server is the HTTP API server.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
type Server struct {
	cfg        config.APIConfig
	logger     *logging.Logger
	gw         bridge.Gateway
	dispatcher *bridge.Dispatcher
	health     *bridge.HealthReporter
	history    history.Repository
	metrics    http.Handler
	instrument func(http.Handler) http.Handler
	version    string
	startTime  time.Time
	server     *http.Server
	listener   net.Listener
	hub        *Hub
	cancel     context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Gateway == nil {
		return nil, fmt.Errorf("gateway is required")
	}

	dispatcher := deps.Dispatcher
	if dispatcher == nil {
		dispatcher = bridge.NewDispatcher(deps.Gateway, deps.History, deps.Logger)
	}
	health := deps.Health
	if health == nil {
		health = bridge.NewHealthReporter(bridge.HealthReporterConfig{
			BridgeID: "api",
			Version:  deps.Version,
			Gateway:  deps.Gateway,
		})
	}

	return &Server{
		cfg:        deps.Config,
		logger:     deps.Logger,
		gw:         deps.Gateway,
		dispatcher: dispatcher,
		health:     health,
		history:    deps.History,
		metrics:    deps.Metrics,
		instrument: deps.Instrument,
		version:    deps.Version,
		startTime:  time.Now(),
		hub:        NewHub(deps.Config.WebSocket, deps.Logger),
	}, nil
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub and the notification relay, binds the
// listener, and serves in a background goroutine. The server can be
// stopped with Close().
//
// Parameters:
//   - ctx: Parent context for the hub and relay goroutines
//
// Returns:
//   - error: If the listener cannot be bound (port in use, etc.)
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)
	go s.relayNotifications(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       s.cfg.ReadTimeout(),
		ReadHeaderTimeout: s.cfg.ReadTimeout(),
		WriteTimeout:      s.cfg.WriteTimeout(),
		IdleTimeout:       s.cfg.IdleTimeout(),
	}

	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		s.cancel()
		return fmt.Errorf("listening on %s: %w", s.server.Addr, err)
	}
	s.listener = ln

	go func() {
		s.logger.Info("API server starting", "address", ln.Addr().String())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound listener address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}

// relayNotifications broadcasts each cache notification to WebSocket
// clients subscribed to "cache.<area>".
func (s *Server) relayNotifications(ctx context.Context) {
	notes, unsubscribe := s.gw.Notifications(wsNotificationBuffer)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case topic, ok := <-notes:
			if !ok {
				return
			}
			s.hub.Broadcast(CacheChannel(topic), bridge.AreaSnapshot(s.gw.Cache(), topic))
		}
	}
}
