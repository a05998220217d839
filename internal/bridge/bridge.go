package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/onesmart-bridge/internal/history"
	"github.com/nerrad567/onesmart-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/onesmart-bridge/internal/onesmart"
)

// notificationBuffer is the capacity of the bridge's notification channel.
const notificationBuffer = 16

// MQTTClient is the MQTT surface the bridge needs. *mqtt.Client
// implements it.
type MQTTClient interface {
	Publisher
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// TimeSeries receives numeric readings. *influxdb.Client implements it.
type TimeSeries interface {
	WriteMeterPower(meterID, name string, watts float64)
	WriteMeterEnergy(meterID, name string, wattHours float64)
	WriteApparatusValue(deviceID, attribute string, value float64)
}

// Config holds bridge settings.
type Config struct {
	// ClientID identifies the bridge in health messages.
	ClientID string

	Version string

	// Topics builds every topic the bridge uses.
	Topics mqtt.Topics

	// QoS for cache, descriptor and ack messages.
	QoS byte

	HealthInterval time.Duration

	// PruneInterval is how often history is pruned. Zero uses the
	// history default.
	PruneInterval time.Duration
}

// topicKeys lists the cache entries published for each notification area.
var topicKeys = map[onesmart.UpdateTopic][]onesmart.CacheKey{
	onesmart.UpdateDefinitions: {
		onesmart.KeySite, onesmart.KeyMeters, onesmart.KeyDevices,
		onesmart.KeyRooms, onesmart.KeyPresets,
	},
	onesmart.UpdatePoll:      {onesmart.KeyEnergyTotal},
	onesmart.UpdateApparatus: {onesmart.KeyApparatus},
	onesmart.UpdatePush:      {onesmart.KeyEnergyConsumption, onesmart.KeySiteUpdate},
	onesmart.UpdatePreset:    {onesmart.KeyPresets},
}

// Bridge publishes gateway state to MQTT and executes consumer commands.
//
// Thread Safety: Run owns the published-descriptor bookkeeping; MQTT
// handlers only touch the Dispatcher, which is safe for concurrent use.
type Bridge struct {
	cfg        Config
	gw         Gateway
	mqtt       MQTTClient
	series     TimeSeries
	recorder   *history.Recorder
	dispatcher *Dispatcher
	health     *HealthReporter
	logger     Logger

	// published maps descriptor topics to their last payload.
	published map[string][]byte
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithTimeSeries feeds meter and apparatus readings to ts.
func WithTimeSeries(ts TimeSeries) Option {
	return func(b *Bridge) { b.series = ts }
}

// WithRecorder records apparatus changes and commands in history.
func WithRecorder(r *history.Recorder) Option {
	return func(b *Bridge) { b.recorder = r }
}

// WithLogger sets the bridge logger.
func WithLogger(l Logger) Option {
	return func(b *Bridge) { b.logger = l }
}

// New creates a bridge. Call Run to start it.
func New(cfg Config, gw Gateway, client MQTTClient, opts ...Option) *Bridge {
	b := &Bridge{
		cfg:       cfg,
		gw:        gw,
		mqtt:      client,
		logger:    noopLogger{},
		published: make(map[string][]byte),
	}
	for _, opt := range opts {
		opt(b)
	}

	var repo history.Repository
	if b.recorder != nil {
		repo = b.recorder.Repository()
	}
	b.dispatcher = NewDispatcher(gw, repo, b.logger)

	var pub Publisher
	if client != nil {
		pub = client
	}
	b.health = NewHealthReporter(HealthReporterConfig{
		BridgeID:  cfg.ClientID,
		Version:   cfg.Version,
		Interval:  cfg.HealthInterval,
		Topic:     cfg.Topics.Health(),
		Gateway:   gw,
		Publisher: pub,
		Logger:    b.logger,
	})
	return b
}

// Dispatcher returns the command dispatcher shared with the HTTP API.
func (b *Bridge) Dispatcher() *Dispatcher {
	return b.dispatcher
}

// Health returns the health reporter.
func (b *Bridge) Health() *HealthReporter {
	return b.health
}

// Run subscribes to commands and refresh requests, publishes the current
// state, then follows gateway notifications until ctx is done.
func (b *Bridge) Run(ctx context.Context) error {
	// Subscribe before publishing so no notification is missed.
	notes, unsubscribe := b.gw.Notifications(notificationBuffer)
	defer unsubscribe()

	if err := b.health.PublishStarting(); err != nil {
		b.logger.Warn("failed to publish starting status", "error", err)
	}

	if b.mqtt != nil {
		if err := b.mqtt.Subscribe(b.cfg.Topics.AllCommands(), 1, b.handleCommand); err != nil {
			return fmt.Errorf("subscribe to commands: %w", err)
		}
		if err := b.mqtt.Subscribe(b.cfg.Topics.AllRefresh(), 1, b.handleRefresh); err != nil {
			return fmt.Errorf("subscribe to refresh: %w", err)
		}
		b.logger.Info("subscribed to commands", "topic", b.cfg.Topics.AllCommands())
	}

	for _, topic := range []onesmart.UpdateTopic{
		onesmart.UpdateDefinitions, onesmart.UpdatePoll, onesmart.UpdateApparatus,
		onesmart.UpdatePush, onesmart.UpdatePreset,
	} {
		b.handleUpdate(ctx, topic)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return b.follow(gctx, notes)
	})
	g.Go(func() error {
		return b.health.Run(gctx)
	})
	if b.recorder != nil {
		g.Go(func() error {
			return b.recorder.Run(gctx, b.cfg.PruneInterval)
		})
	}

	b.logger.Info("bridge started", "descriptors", b.gw.Discovery().Len())
	err := g.Wait()

	if b.mqtt != nil {
		//nolint:errcheck // Best-effort during shutdown
		b.mqtt.Unsubscribe(b.cfg.Topics.AllCommands())
		//nolint:errcheck // Best-effort during shutdown
		b.mqtt.Unsubscribe(b.cfg.Topics.AllRefresh())
	}
	b.logger.Info("bridge stopped")
	return err
}

// follow handles notifications until ctx is done or the channel closes.
func (b *Bridge) follow(ctx context.Context, notes <-chan onesmart.UpdateTopic) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case topic, ok := <-notes:
			if !ok {
				return nil
			}
			b.handleUpdate(ctx, topic)
		}
	}
}

// handleUpdate republishes everything that depends on one notification
// area.
func (b *Bridge) handleUpdate(ctx context.Context, topic onesmart.UpdateTopic) {
	b.publishCache(topic)

	switch topic {
	case onesmart.UpdateDefinitions:
		b.publishDescriptors(func(onesmart.Descriptor) bool { return true }, true)
		return
	case onesmart.UpdateApparatus:
		b.observeApparatus(ctx)
	}

	b.writeMeters(topic)
	b.publishDescriptors(func(d onesmart.Descriptor) bool { return d.Topic == topic }, false)
}

// AreaSnapshot returns the cache entries of one notification area keyed
// by cache key. Missing entries are left out.
func AreaSnapshot(cache *onesmart.Cache, topic onesmart.UpdateTopic) map[onesmart.CacheKey]any {
	snapshot := make(map[onesmart.CacheKey]any)
	for _, key := range topicKeys[topic] {
		if v, ok := cache.Get(key); ok {
			snapshot[key] = v
		}
	}
	return snapshot
}

// publishCache publishes the AreaSnapshot of one area.
func (b *Bridge) publishCache(topic onesmart.UpdateTopic) {
	if b.mqtt == nil {
		return
	}
	snapshot := AreaSnapshot(b.gw.Cache(), topic)
	if len(snapshot) == 0 {
		return
	}

	payload, err := json.Marshal(snapshot)
	if err != nil {
		b.logger.Warn("failed to marshal cache", "area", topic, "error", err)
		return
	}
	if err := b.mqtt.Publish(b.cfg.Topics.Cache(string(topic)), payload, b.cfg.QoS, true); err != nil {
		b.logger.Debug("failed to publish cache", "area", topic, "error", err)
	}
}

// publishDescriptors publishes the matching descriptors whose payload
// changed. With prune set, retained topics of descriptors that no longer
// exist are cleared.
func (b *Bridge) publishDescriptors(match func(onesmart.Descriptor) bool, prune bool) {
	if b.mqtt == nil {
		return
	}
	cache := b.gw.Cache()
	seen := make(map[string]bool)

	for _, desc := range b.gw.Discovery().Descriptors() {
		if !match(desc) {
			continue
		}
		topic := b.cfg.Topics.Descriptor(string(desc.Platform), desc.ID)
		seen[topic] = true

		payload, err := json.Marshal(Describe(desc, cache))
		if err != nil {
			b.logger.Warn("failed to marshal descriptor", "id", desc.ID, "error", err)
			continue
		}
		if bytes.Equal(b.published[topic], payload) {
			continue
		}
		if err := b.mqtt.Publish(topic, payload, b.cfg.QoS, true); err != nil {
			b.logger.Debug("failed to publish descriptor", "id", desc.ID, "error", err)
			continue
		}
		b.published[topic] = payload
	}

	if !prune {
		return
	}
	for topic := range b.published {
		if seen[topic] {
			continue
		}
		// An empty retained message clears the topic.
		if err := b.mqtt.Publish(topic, nil, b.cfg.QoS, true); err != nil {
			b.logger.Debug("failed to clear descriptor", "topic", topic, "error", err)
			continue
		}
		delete(b.published, topic)
	}
}

// Describe attaches the current state to a descriptor.
func Describe(desc onesmart.Descriptor, cache *onesmart.Cache) DescriptorMessage {
	msg := DescriptorMessage{Descriptor: desc}
	if len(desc.Attributes) == 0 {
		if v, ok := desc.Resolve(cache); ok {
			msg.State = v
		}
		return msg
	}

	msg.RoleStates = make(map[string]any, len(desc.Attributes))
	for role := range desc.Attributes {
		if v, ok := desc.ResolveAttribute(cache, role); ok {
			msg.RoleStates[role] = v
		}
	}
	return msg
}

// writeMeters sends meter readings of one area to the time-series store.
func (b *Bridge) writeMeters(topic onesmart.UpdateTopic) {
	if b.series == nil {
		return
	}
	cache := b.gw.Cache()
	for _, desc := range b.gw.Discovery().Entities(onesmart.PlatformSensor) {
		if desc.Topic != topic {
			continue
		}
		v, ok := desc.Resolve(cache)
		if !ok {
			continue
		}
		f, ok := toFloat(v)
		if !ok {
			continue
		}
		switch desc.Kind {
		case onesmart.KindMeterPower:
			b.series.WriteMeterPower(desc.Key, strings.TrimSuffix(desc.Name, " Power"), f)
		case onesmart.KindMeterEnergy:
			b.series.WriteMeterEnergy(desc.Key, strings.TrimSuffix(desc.Name, " Energy"), f)
		}
	}
}

// observeApparatus writes numeric apparatus values to the time-series
// store and records changed values in history.
func (b *Bridge) observeApparatus(ctx context.Context) {
	v, ok := b.gw.Cache().Get(onesmart.KeyApparatus)
	if !ok {
		return
	}
	devices, ok := v.(map[string]any)
	if !ok {
		return
	}

	if b.series != nil {
		for deviceID, attrs := range devices {
			m, _ := attrs.(map[string]any)
			for name, value := range m {
				if f, ok := toFloat(value); ok {
					b.series.WriteApparatusValue(deviceID, name, f)
				}
			}
		}
	}

	if b.recorder != nil {
		n, err := b.recorder.ObserveApparatus(ctx, devices)
		if err != nil {
			b.logger.Warn("failed to record apparatus history", "error", err)
		} else if n > 0 {
			b.logger.Debug("apparatus history recorded", "readings", n)
		}
	}
}

// handleCommand handles onesmart/command/{descriptor}.
func (b *Bridge) handleCommand(topic string, payload []byte) error {
	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return fmt.Errorf("parse command: %w", err)
	}
	cmd.DescriptorID = mqtt.Tail(topic, b.cfg.Topics.Command(""))
	cmd.Source = history.SourceMQTT
	if cmd.Timestamp.IsZero() {
		cmd.Timestamp = time.Now().UTC()
	}

	ack := b.dispatcher.Dispatch(context.Background(), cmd)
	b.publishAck(ack)
	return nil
}

func (b *Bridge) publishAck(ack AckMessage) {
	payload, err := json.Marshal(ack)
	if err != nil {
		b.logger.Error("failed to marshal ack", "error", err)
		return
	}
	if err := b.mqtt.Publish(b.cfg.Topics.Ack(ack.DescriptorID), payload, 1, false); err != nil {
		b.logger.Warn("failed to publish ack", "command_id", ack.CommandID, "error", err)
	}
}

// handleRefresh handles onesmart/refresh/{cmd}/{action}[/{id}].
func (b *Bridge) handleRefresh(topic string, _ []byte) error {
	key := mqtt.Tail(topic, b.cfg.Topics.Refresh(""))
	if _, err := b.dispatcher.Refresh(key); err != nil {
		return fmt.Errorf("refresh %q: %w", key, err)
	}
	return nil
}

// toFloat converts decoded JSON numbers to float64.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case int:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
