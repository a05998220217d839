package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/onesmart-bridge/internal/infrastructure/config"
	"github.com/nerrad567/onesmart-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/onesmart-bridge/internal/onesmart"
)

// Frame types exchanged with WebSocket clients.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"

	// wsSendBufferSize is the per-client outbound frame queue.
	wsSendBufferSize = 256

	// wsNotificationBuffer is the capacity of the relay's notification channel.
	wsNotificationBuffer = 16
)

// cacheChannels lists every channel a client may subscribe to.
var cacheChannels = map[string]bool{
	CacheChannel(onesmart.UpdateDefinitions): true,
	CacheChannel(onesmart.UpdatePoll):        true,
	CacheChannel(onesmart.UpdateApparatus):   true,
	CacheChannel(onesmart.UpdatePush):        true,
	CacheChannel(onesmart.UpdatePreset):      true,
}

// CacheChannel returns the WebSocket channel carrying one notification
// area, e.g. "cache.apparatus".
func CacheChannel(topic onesmart.UpdateTopic) string {
	return "cache." + string(topic)
}

// WSMessage is a single frame in either direction.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload is the payload of subscribe and unsubscribe frames.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
}

// inboundFrame defers payload decoding until the frame type is known.
type inboundFrame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

// Hub tracks connected clients and fans cache events out to them.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger

	mu      sync.RWMutex
	clients map[*WSClient]struct{}
}

// WSClient is one connected WebSocket peer.
type WSClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu            sync.RWMutex
	subscriptions map[string]struct{}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are enforced by the CORS middleware.
	CheckOrigin: func(*http.Request) bool { return true },
}

// NewHub creates an empty hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*WSClient]struct{}),
	}
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
		if c.conn != nil {
			c.conn.Close()
		}
	}
}

// Register adds a client.
func (h *Hub) Register(c *WSClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", n)
}

// Unregister removes a client. The send queue is closed only by whoever
// removes the client from the map, so shutdown and disconnect never both
// close it.
func (h *Hub) Unregister(c *WSClient) {
	h.mu.Lock()
	_, found := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	if found {
		close(c.send)
	}
	h.logger.Debug("websocket client disconnected", "clients", n)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends an event frame to every client subscribed to channel.
func (h *Hub) Broadcast(channel string, payload any) {
	frame, err := encodeFrame(WSMessage{Type: WSTypeEvent, EventType: channel, Payload: payload})
	if err != nil {
		h.logger.Error("encoding websocket event", "channel", channel, "error", err)
		return
	}

	recipients := 0
	for _, c := range h.snapshot() {
		if c.subscribed(channel) {
			c.enqueue(frame)
			recipients++
		}
	}
	if recipients > 0 {
		h.logger.Debug("websocket event sent", "channel", channel, "recipients", recipients)
	}
}

// snapshot copies the client set so no client lock is taken under the hub lock.
func (h *Hub) snapshot() []*WSClient {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*WSClient, 0, len(h.clients))
	for c := range h.clients {
		out = append(out, c)
	}
	return out
}

// handleWebSocket upgrades the request and starts the client's pumps.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &WSClient{
		hub:           s.hub,
		conn:          conn,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: make(map[string]struct{}),
	}
	s.hub.Register(c)

	k := newKeepalive(s.cfg.WebSocket)
	go c.writeLoop(k)
	go c.readLoop(k)
}

// keepalive holds the ping cadence derived from WebSocketConfig.
type keepalive struct {
	interval time.Duration
	wait     time.Duration
	maxFrame int64
}

func newKeepalive(cfg config.WebSocketConfig) keepalive {
	return keepalive{
		interval: time.Duration(cfg.PingInterval) * time.Second,
		wait:     time.Duration(cfg.PongTimeout) * time.Second,
		maxFrame: int64(cfg.MaxMessageSize),
	}
}

func (k keepalive) readDeadline() time.Time {
	return time.Now().Add(k.interval + k.wait)
}

func (c *WSClient) readLoop(k keepalive) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(k.maxFrame)
	c.conn.SetReadDeadline(k.readDeadline()) //nolint:errcheck // a failed deadline surfaces on the next read
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(k.readDeadline())
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			} else {
				c.hub.logger.Debug("websocket closed", "error", err)
			}
			return
		}
		// Application frames count as liveness too; some browsers never answer pings.
		c.conn.SetReadDeadline(k.readDeadline()) //nolint:errcheck // a failed deadline surfaces on the next read
		c.dispatch(data)
	}
}

func (c *WSClient) writeLoop(k keepalive) {
	ticker := time.NewTicker(k.interval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	write := func(kind int, data []byte) error {
		c.conn.SetWriteDeadline(time.Now().Add(k.wait)) //nolint:errcheck // write error is checked instead
		return c.conn.WriteMessage(kind, data)
	}

	for {
		select {
		case frame, open := <-c.send:
			if !open {
				write(websocket.CloseMessage, nil) //nolint:errcheck // peer may already be gone
				return
			}
			if err := write(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			if err := write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// dispatch handles one inbound frame.
func (c *WSClient) dispatch(data []byte) {
	var in inboundFrame
	if err := json.Unmarshal(data, &in); err != nil {
		c.reply("", WSTypeError, errorBody("invalid JSON message"))
		return
	}

	switch in.Type {
	case WSTypePing:
		c.reply(in.ID, WSTypePong, nil)
	case WSTypeSubscribe:
		channels, err := decodeChannels(in.Payload)
		if err != nil {
			c.reply(in.ID, WSTypeError, errorBody("invalid subscribe payload"))
			return
		}
		for _, ch := range channels {
			if !cacheChannels[ch] {
				c.reply(in.ID, WSTypeError, errorBody("unknown channel: "+ch))
				return
			}
		}
		c.setChannels(channels, true)
		c.hub.logger.Debug("websocket client subscribed", "channels", channels)
		c.reply(in.ID, WSTypeResponse, map[string]any{"subscribed": channels})
	case WSTypeUnsubscribe:
		channels, err := decodeChannels(in.Payload)
		if err != nil {
			c.reply(in.ID, WSTypeError, errorBody("invalid unsubscribe payload"))
			return
		}
		c.setChannels(channels, false)
		c.reply(in.ID, WSTypeResponse, map[string]any{"unsubscribed": channels})
	default:
		c.reply(in.ID, WSTypeError, errorBody("unknown message type: "+in.Type))
	}
}

func decodeChannels(raw json.RawMessage) ([]string, error) {
	var p WSSubscribePayload
	if len(raw) == 0 {
		return nil, nil
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	return p.Channels, nil
}

func (c *WSClient) setChannels(channels []string, on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range channels {
		if on {
			c.subscriptions[ch] = struct{}{}
		} else {
			delete(c.subscriptions, ch)
		}
	}
}

func (c *WSClient) subscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.subscriptions[channel]
	return ok
}

// enqueue queues a frame without blocking. Frames for a slow client are
// dropped, as are frames racing a disconnect.
func (c *WSClient) enqueue(frame []byte) {
	defer func() {
		recover() //nolint:errcheck // send on a queue closed by Unregister
	}()

	select {
	case c.send <- frame:
	default:
	}
}

func (c *WSClient) reply(id, kind string, payload any) {
	frame, err := encodeFrame(WSMessage{Type: kind, ID: id, Payload: payload})
	if err != nil {
		return
	}
	c.enqueue(frame)
}

func encodeFrame(msg WSMessage) ([]byte, error) {
	msg.Timestamp = time.Now().UTC().Format(time.RFC3339)
	return json.Marshal(msg)
}

func errorBody(message string) map[string]string {
	return map[string]string{"message": message}
}
