package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/onesmart-bridge/internal/onesmart"
)

// SystemStatus is the response of GET /status.
type SystemStatus struct {
	Timestamp     string         `json:"timestamp"`
	Version       string         `json:"version"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Runtime       RuntimeMetrics `json:"runtime"`
	WebSocket     WSMetrics      `json:"websocket"`
	Gateway       GatewayMetrics `json:"gateway"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// GatewayMetrics summarises the gateway client.
type GatewayMetrics struct {
	Push                 ChannelMetrics `json:"push"`
	Poll                 ChannelMetrics `json:"poll"`
	Started              bool           `json:"started"`
	PendingFlags         int            `json:"pending_flags"`
	Devices              int            `json:"devices"`
	Descriptors          int            `json:"descriptors"`
	FailedDevices        []string       `json:"failed_devices"`
	CacheKeys            []string       `json:"cache_keys"`
	EventsHandled        uint64         `json:"events_handled"`
	NotificationsDropped uint64         `json:"notifications_dropped"`
	LoopPanics           uint64         `json:"loop_panics"`
}

// ChannelMetrics contains one channel's counters.
type ChannelMetrics struct {
	State      string `json:"state"`
	LastSetup  string `json:"last_setup"`
	Reconnects uint64 `json:"reconnects"`
	Timeouts   uint64 `json:"timeouts"`
	Failures   uint64 `json:"failures"`
	Queued     int    `json:"queued"`
}

func channelMetrics(cs onesmart.ChannelStatus, queued int) ChannelMetrics {
	return ChannelMetrics{
		State:      cs.State.String(),
		LastSetup:  cs.LastSetup.String(),
		Reconnects: cs.Reconnects,
		Timeouts:   cs.Timeouts,
		Failures:   cs.Failures,
		Queued:     queued,
	}
}

// handleStatus returns runtime and gateway statistics.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	st := s.gw.Status()
	failed := st.FailedDevices
	if failed == nil {
		failed = []string{}
	}

	writeJSON(w, http.StatusOK, SystemStatus{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		WebSocket: WSMetrics{
			ConnectedClients: s.hub.ClientCount(),
		},
		Gateway: GatewayMetrics{
			Push:                 channelMetrics(st.Push, st.QueuedCommands[onesmart.ChannelPush]),
			Poll:                 channelMetrics(st.Poll, st.QueuedCommands[onesmart.ChannelPoll]),
			Started:              st.Started,
			PendingFlags:         st.PendingFlags,
			Devices:              st.Devices,
			Descriptors:          st.Descriptors,
			FailedDevices:        failed,
			CacheKeys:            sortedKeys(s.gw.Cache().Snapshot()),
			EventsHandled:        st.EventsHandled,
			NotificationsDropped: st.NotificationsDropped,
			LoopPanics:           st.LoopPanics,
		},
	})
}
