package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/onesmart-bridge/internal/onesmart"
)

// gatewayCollector turns one Status snapshot into const metrics per scrape.
type gatewayCollector struct {
	src StatusSource

	up            *prometheus.Desc
	state         *prometheus.Desc
	reconnects    *prometheus.Desc
	timeouts      *prometheus.Desc
	failures      *prometheus.Desc
	queued        *prometheus.Desc
	messagesTx    *prometheus.Desc
	messagesRx    *prometheus.Desc
	framesDropped *prometheus.Desc
	pending       *prometheus.Desc
	started       *prometheus.Desc
	pendingFlags  *prometheus.Desc
	devices       *prometheus.Desc
	descriptors   *prometheus.Desc
	failedDevices *prometheus.Desc
	cacheEntries  *prometheus.Desc
	events        *prometheus.Desc
	dropped       *prometheus.Desc
	panics        *prometheus.Desc
}

// channelStates lists every state reported by the state gauge.
var channelStates = []onesmart.ChannelState{
	onesmart.StateDisconnected,
	onesmart.StateConnecting,
	onesmart.StateAuthenticating,
	onesmart.StateReady,
}

func newGatewayCollector(src StatusSource) *gatewayCollector {
	channel := []string{"channel"}
	desc := func(name, help string, labels []string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "gateway", name), help, labels, nil)
	}
	return &gatewayCollector{
		src:           src,
		up:            desc("channel_up", "1 when the channel is ready for commands.", channel),
		state:         desc("channel_state", "1 for the channel's current state.", []string{"channel", "state"}),
		reconnects:    desc("reconnects_total", "Channel reconnect attempts.", channel),
		timeouts:      desc("timeouts_total", "Requests that timed out.", channel),
		failures:      desc("failures_total", "Failed channel setups.", channel),
		queued:        desc("queued_commands", "Commands waiting for the channel to come up.", channel),
		messagesTx:    desc("messages_sent_total", "Frames written to the gateway.", channel),
		messagesRx:    desc("messages_received_total", "Frames read from the gateway.", channel),
		framesDropped: desc("frames_dropped_total", "Frames that could not be decoded.", channel),
		pending:       desc("pending_requests", "Requests awaiting a response.", channel),
		started:       desc("loops_started", "1 once the channel loops are running.", nil),
		pendingFlags:  desc("pending_update_flags", "Refreshes waiting for the next poll cycle.", nil),
		devices:       desc("devices", "Devices with polled attributes.", nil),
		descriptors:   desc("descriptors", "Entity descriptors from discovery.", nil),
		failedDevices: desc("failed_devices", "Devices that failed discovery.", nil),
		cacheEntries:  desc("cache_entries", "Top-level cache keys.", nil),
		events:        desc("events_handled_total", "Push events merged into the cache.", nil),
		dropped:       desc("notifications_dropped_total", "Cache notifications dropped for slow subscribers.", nil),
		panics:        desc("loop_panics_total", "Recovered panics in the channel loops.", nil),
	}
}

func (c *gatewayCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.up, c.state, c.reconnects, c.timeouts, c.failures, c.queued,
		c.messagesTx, c.messagesRx, c.framesDropped, c.pending,
		c.started, c.pendingFlags, c.devices, c.descriptors, c.failedDevices,
		c.cacheEntries, c.events, c.dropped, c.panics,
	} {
		ch <- d
	}
}

func (c *gatewayCollector) Collect(ch chan<- prometheus.Metric) {
	st := c.src.Status()

	for _, cs := range []onesmart.ChannelStatus{st.Push, st.Poll} {
		name := string(cs.Channel)
		gauge := func(d *prometheus.Desc, v float64) {
			ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, name)
		}
		counter := func(d *prometheus.Desc, v uint64) {
			ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), name)
		}

		gauge(c.up, boolFloat(cs.State == onesmart.StateReady))
		for _, s := range channelStates {
			ch <- prometheus.MustNewConstMetric(c.state, prometheus.GaugeValue,
				boolFloat(cs.State == s), name, s.String())
		}
		counter(c.reconnects, cs.Reconnects)
		counter(c.timeouts, cs.Timeouts)
		counter(c.failures, cs.Failures)
		gauge(c.queued, float64(st.QueuedCommands[cs.Channel]))
		counter(c.messagesTx, cs.Socket.MessagesTx)
		counter(c.messagesRx, cs.Socket.MessagesRx)
		counter(c.framesDropped, cs.Socket.FramesDropped)
		gauge(c.pending, float64(cs.Socket.Pending))
	}

	ch <- prometheus.MustNewConstMetric(c.started, prometheus.GaugeValue, boolFloat(st.Started))
	ch <- prometheus.MustNewConstMetric(c.pendingFlags, prometheus.GaugeValue, float64(st.PendingFlags))
	ch <- prometheus.MustNewConstMetric(c.devices, prometheus.GaugeValue, float64(st.Devices))
	ch <- prometheus.MustNewConstMetric(c.descriptors, prometheus.GaugeValue, float64(st.Descriptors))
	ch <- prometheus.MustNewConstMetric(c.failedDevices, prometheus.GaugeValue, float64(len(st.FailedDevices)))
	ch <- prometheus.MustNewConstMetric(c.cacheEntries, prometheus.GaugeValue, float64(st.CacheEntries))
	ch <- prometheus.MustNewConstMetric(c.events, prometheus.CounterValue, float64(st.EventsHandled))
	ch <- prometheus.MustNewConstMetric(c.dropped, prometheus.CounterValue, float64(st.NotificationsDropped))
	ch <- prometheus.MustNewConstMetric(c.panics, prometheus.CounterValue, float64(st.LoopPanics))
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
