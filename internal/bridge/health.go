package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/onesmart-bridge/internal/onesmart"
)

// DefaultHealthInterval is used when no interval is configured.
const DefaultHealthInterval = 30 * time.Second

// Publisher publishes MQTT messages. *mqtt.Client implements it.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// HealthReporter builds health messages from the gateway status and
// publishes them at a fixed interval.
type HealthReporter struct {
	bridgeID  string
	version   string
	startTime time.Time
	interval  time.Duration
	topic     string
	gw        Gateway
	publisher Publisher

	stopOnce sync.Once
	logger   Logger
}

// HealthReporterConfig holds configuration for the health reporter.
type HealthReporterConfig struct {
	// BridgeID identifies the bridge in health messages.
	BridgeID string

	Version string

	// Interval is how often to publish. Default: 30 seconds.
	Interval time.Duration

	// Topic is the retained health topic.
	Topic string

	Gateway Gateway

	// Publisher may be nil, in which case only Current is useful.
	Publisher Publisher

	Logger Logger
}

// NewHealthReporter creates a health reporter.
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultHealthInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	return &HealthReporter{
		bridgeID:  cfg.BridgeID,
		version:   cfg.Version,
		startTime: time.Now(),
		interval:  interval,
		topic:     cfg.Topic,
		gw:        cfg.Gateway,
		publisher: cfg.Publisher,
		logger:    logger,
	}
}

// Run publishes health every interval until ctx is done, then publishes
// a final "stopping" status.
func (h *HealthReporter) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	if err := h.PublishNow(); err != nil {
		h.logger.Warn("failed to publish initial health", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			h.Stop()
			return nil
		case <-ticker.C:
			if err := h.PublishNow(); err != nil {
				h.logger.Warn("failed to publish health", "error", err)
			}
		}
	}
}

// Stop publishes the "stopping" status once. Best-effort.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		//nolint:errcheck // Best-effort during shutdown
		h.publish(h.build(HealthStopping, "bridge stopping"))
	})
}

// PublishStarting publishes a "starting" status.
func (h *HealthReporter) PublishStarting() error {
	return h.publish(h.build(HealthStarting, "bridge starting"))
}

// PublishNow publishes the current health immediately.
func (h *HealthReporter) PublishNow() error {
	return h.publish(h.Current())
}

// Current returns the health message for the present state.
func (h *HealthReporter) Current() HealthMessage {
	status, reason := h.determineStatus()
	return h.build(status, reason)
}

// determineStatus evaluates the channel states. Both channels down is
// reported as a gateway outage; one down names the channel.
func (h *HealthReporter) determineStatus() (HealthStatus, string) {
	if h.publisher != nil && !h.publisher.IsConnected() {
		return HealthDegraded, "MQTT disconnected"
	}
	if h.gw == nil {
		return HealthDegraded, "gateway not configured"
	}

	st := h.gw.Status()
	pushReady := st.Push.State == onesmart.StateReady
	pollReady := st.Poll.State == onesmart.StateReady

	switch {
	case !pushReady && !pollReady:
		return HealthDegraded, "gateway disconnected"
	case !pushReady:
		return HealthDegraded, fmt.Sprintf("push channel %s", st.Push.State)
	case !pollReady:
		return HealthDegraded, fmt.Sprintf("poll channel %s", st.Poll.State)
	case !st.Started:
		return HealthStarting, "loops not started"
	case len(st.FailedDevices) > 0:
		return HealthDegraded, fmt.Sprintf("%d devices failed discovery", len(st.FailedDevices))
	}
	return HealthHealthy, ""
}

func (h *HealthReporter) build(status HealthStatus, reason string) HealthMessage {
	msg := HealthMessage{
		Bridge:        h.bridgeID,
		Timestamp:     time.Now().UTC(),
		Status:        status,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Reason:        reason,
	}
	if h.gw == nil {
		return msg
	}

	st := h.gw.Status()
	msg.Push = channelHealth(st.Push, st.QueuedCommands[st.Push.Channel])
	msg.Poll = channelHealth(st.Poll, st.QueuedCommands[st.Poll.Channel])
	msg.Devices = st.Devices
	msg.Descriptors = st.Descriptors
	msg.FailedDevices = st.FailedDevices
	msg.CacheEntries = st.CacheEntries
	msg.PendingFlags = st.PendingFlags
	return msg
}

func (h *HealthReporter) publish(msg HealthMessage) error {
	if h.publisher == nil || h.topic == "" {
		return nil
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	// QoS 1, retained
	return h.publisher.Publish(h.topic, payload, 1, true)
}
