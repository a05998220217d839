package onesmart

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// Socket defaults.
const (
	// readBufferSize is the chunk size of a single read.
	readBufferSize = 1024

	// writeTimeout bounds a single command write.
	writeTimeout = 5 * time.Second

	// drainGrace is how long a poll keeps reading once data has started
	// arriving, so that a burst is collected in one call.
	drainGrace = 5 * time.Millisecond

	// minReadWait avoids a deadline in the past, which would skip the read.
	minReadWait = time.Millisecond
)

// DialFunc opens the raw stream to the gateway.
type DialFunc func(ctx context.Context, addr string) (net.Conn, error)

// Transport is the contract the supervisor needs from a connection.
// *Socket is the production implementation.
type Transport interface {
	Connect(ctx context.Context, addr string) error
	Authenticate(username, password string) (uint32, error)
	Send(cmd Command, fields Fields) (uint32, error)
	SendDetached(cmd Command, fields Fields) (uint32, error)
	PollResponses(wait time.Duration) error
	Transaction(id uint32) (Message, bool)
	Abandon(id uint32)
	Events() []Message
	IsConnected() bool
	Stats() SocketStats
	Close() error
}

// Ensure Socket implements Transport.
var _ Transport = (*Socket)(nil)

// SocketStats holds operational counters of one connection.
type SocketStats struct {
	MessagesTx    uint64
	MessagesRx    uint64
	EventsRx      uint64
	FramesDropped uint64
	Connects      uint64
	Pending       int
	LastActivity  time.Time
	Connected     bool
}

// Socket owns one TLS connection to the gateway.
//
// It frames outbound commands, reassembles inbound frames, routes responses
// into its transaction registry and queues events.
//
// Thread Safety:
//   - Send, Events, Transaction, IsConnected, Stats and Close are safe for
//     concurrent use.
//   - PollResponses serialises readers; the owning loop is the only caller
//     in practice.
type Socket struct {
	dial DialFunc

	connMu  sync.RWMutex
	conn    net.Conn
	eof     atomic.Bool
	closing atomic.Bool

	writeMu sync.Mutex

	readMu sync.Mutex
	frames *frameBuffer

	reg *registry

	eventsMu sync.Mutex
	events   []Message

	logger   Logger
	loggerMu sync.RWMutex

	messagesTx    atomic.Uint64
	messagesRx    atomic.Uint64
	eventsRx      atomic.Uint64
	framesDropped atomic.Uint64
	connects      atomic.Uint64
	lastActivity  atomic.Int64
}

// SocketOption configures a Socket.
type SocketOption func(*Socket)

// WithDialer replaces the TLS dialer. Tests use it to dial plain TCP.
func WithDialer(dial DialFunc) SocketOption {
	return func(s *Socket) {
		if dial != nil {
			s.dial = dial
		}
	}
}

// NewSocket creates an unconnected Socket.
func NewSocket(opts ...SocketOption) *Socket {
	s := &Socket{
		dial:   dialTLS,
		frames: newFrameBuffer(),
		reg:    newRegistry(),
		logger: noopLogger{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// gatewayTLSConfig accepts the gateway's self-signed certificate and its
// legacy cipher suites.
func gatewayTLSConfig() *tls.Config {
	var suites []uint16
	for _, cs := range tls.CipherSuites() {
		suites = append(suites, cs.ID)
	}
	for _, cs := range tls.InsecureCipherSuites() {
		suites = append(suites, cs.ID)
	}
	return &tls.Config{
		InsecureSkipVerify: true, //nolint:gosec // gateways ship self-signed certificates
		MinVersion:         tls.VersionTLS10,
		CipherSuites:       suites,
	}
}

// dialTLS is the production dialer.
func dialTLS(ctx context.Context, addr string) (net.Conn, error) {
	d := tls.Dialer{
		NetDialer: &net.Dialer{},
		Config:    gatewayTLSConfig(),
	}
	return d.DialContext(ctx, "tcp", addr)
}

// SetLogger sets the logger for the socket.
func (s *Socket) SetLogger(logger Logger) {
	s.loggerMu.Lock()
	defer s.loggerMu.Unlock()
	if logger == nil {
		logger = noopLogger{}
	}
	s.logger = logger
}

func (s *Socket) log() Logger {
	s.loggerMu.RLock()
	defer s.loggerMu.RUnlock()
	return s.logger
}

// Connect opens a new connection, replacing any previous one.
//
// The registry, frame buffer and event queue are reset because transaction
// ids restart with every connection. ctx bounds the dial.
//
// Parameters:
//   - ctx: Context carrying the connect timeout
//   - addr: Gateway address as host:port
//
// Returns:
//   - error: ErrConnectionFailed wrapping the dial error
func (s *Socket) Connect(ctx context.Context, addr string) error {
	_ = s.Close() //nolint:errcheck // closing a stale connection is best-effort

	conn, err := s.dial(ctx, addr)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %w", ErrConnectionFailed, addr, err)
	}

	s.readMu.Lock()
	s.frames.reset()
	s.readMu.Unlock()
	s.reg.reset()
	s.eventsMu.Lock()
	s.events = nil
	s.eventsMu.Unlock()

	s.connMu.Lock()
	s.conn = conn
	s.eof.Store(false)
	s.closing.Store(false)
	s.connMu.Unlock()

	s.connects.Add(1)
	s.touch()
	return nil
}

// Authenticate sends the credentials and returns the transaction id to
// await. The password is sent as its SHA-1 hex digest.
func (s *Socket) Authenticate(username, password string) (uint32, error) {
	return s.Send(CmdAuthenticate, Fields{
		FieldUsername: username,
		FieldPassword: HashPassword(password),
	})
}

// Send writes a command and registers it for a response.
//
// Returns:
//   - uint32: Transaction id to pass to Transaction
//   - error: ErrNotConnected or ErrSendFailed
func (s *Socket) Send(cmd Command, fields Fields) (uint32, error) {
	return s.send(cmd, fields, false)
}

// SendDetached writes a command whose response is not awaited.
func (s *Socket) SendDetached(cmd Command, fields Fields) (uint32, error) {
	return s.send(cmd, fields, true)
}

func (s *Socket) send(cmd Command, fields Fields, detached bool) (uint32, error) {
	conn := s.currentConn()
	if conn == nil || !s.IsConnected() {
		return 0, ErrNotConnected
	}

	id := s.reg.register(cmd, detached)
	data, err := encodeCommand(cmd, id, fields)
	if err != nil {
		s.reg.forget(id)
		return 0, fmt.Errorf("%w: %w", ErrSendFailed, err)
	}

	s.writeMu.Lock()
	err = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err == nil {
		_, err = conn.Write(data)
	}
	s.writeMu.Unlock()

	if err != nil {
		s.reg.forget(id)
		s.markBroken()
		return 0, fmt.Errorf("%w: %s: %w", ErrSendFailed, cmd, err)
	}

	s.messagesTx.Add(1)
	s.touch()
	return id, nil
}

// PollResponses reads whatever the gateway has sent within wait.
//
// Complete frames are decoded: responses resolve their transaction, events
// are queued. Malformed frames are logged and dropped. A read timeout is
// the normal outcome and returns nil.
//
// Returns:
//   - error: ErrNotConnected, or ErrConnectionLost on EOF or a read failure
func (s *Socket) PollResponses(wait time.Duration) error {
	conn := s.currentConn()
	if conn == nil || !s.IsConnected() {
		return ErrNotConnected
	}

	s.readMu.Lock()
	defer s.readMu.Unlock()

	if wait < minReadWait {
		wait = minReadWait
	}
	deadline := time.Now().Add(wait)
	buf := make([]byte, readBufferSize)

	for {
		if err := conn.SetReadDeadline(deadline); err != nil {
			s.markBroken()
			return fmt.Errorf("%w: set deadline: %w", ErrConnectionLost, err)
		}

		n, err := conn.Read(buf)
		if n > 0 {
			s.ingest(buf[:n])
			deadline = time.Now().Add(drainGrace)
		}
		if err == nil {
			continue
		}

		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil
		}
		if errors.Is(err, io.EOF) {
			s.eof.Store(true)
			return fmt.Errorf("%w: %w", ErrConnectionLost, io.EOF)
		}
		if s.closing.Load() {
			return ErrNotConnected
		}
		s.markBroken()
		return fmt.Errorf("%w: %w", ErrConnectionLost, err)
	}
}

// ingest splits data into frames and routes each decoded message.
// Called with readMu held.
func (s *Socket) ingest(data []byte) {
	s.touch()

	frames, err := s.frames.feed(data)
	if err != nil {
		s.framesDropped.Add(1)
		s.log().Warn("discarding undelimited input", "error", err)
	}

	for _, frame := range frames {
		msg, err := decodeMessage(frame)
		if err != nil {
			s.framesDropped.Add(1)
			s.log().Warn("dropping malformed frame", "error", err, "bytes", len(frame))
			continue
		}
		s.messagesRx.Add(1)

		if msg.IsEvent() {
			s.eventsRx.Add(1)
			s.eventsMu.Lock()
			s.events = append(s.events, msg)
			s.eventsMu.Unlock()
			continue
		}

		cmd, known := s.reg.resolve(msg)
		switch {
		case !known:
			s.log().Debug("response for unknown transaction", "transaction", msg.Transaction)
		case msg.Failed():
			s.log().Debug("gateway error response", "command", cmd, "transaction", msg.Transaction, "error", msg.Error)
		}
	}
}

// Transaction pops a resolved response. Pending entries are left untouched.
func (s *Socket) Transaction(id uint32) (Message, bool) {
	return s.reg.pop(id)
}

// Abandon tells the registry nobody waits for id any more.
func (s *Socket) Abandon(id uint32) {
	s.reg.abandon(id)
}

// PruneAbandoned drops abandoned transactions older than maxAge.
func (s *Socket) PruneAbandoned(maxAge time.Duration) int {
	return s.reg.prune(maxAge)
}

// Events returns and clears the queued events in arrival order.
func (s *Socket) Events() []Message {
	s.eventsMu.Lock()
	defer s.eventsMu.Unlock()
	events := s.events
	s.events = nil
	return events
}

// IsConnected reports whether a stream exists that is neither at EOF nor
// closing.
func (s *Socket) IsConnected() bool {
	s.connMu.RLock()
	defer s.connMu.RUnlock()
	return s.conn != nil && !s.eof.Load() && !s.closing.Load()
}

// Close closes the stream. Safe to call on a closed or broken socket.
func (s *Socket) Close() error {
	s.connMu.Lock()
	conn := s.conn
	s.conn = nil
	s.closing.Store(true)
	s.connMu.Unlock()

	if conn == nil {
		return nil
	}
	if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("closing gateway connection: %w", err)
	}
	return nil
}

// Stats returns the socket counters.
func (s *Socket) Stats() SocketStats {
	return SocketStats{
		MessagesTx:    s.messagesTx.Load(),
		MessagesRx:    s.messagesRx.Load(),
		EventsRx:      s.eventsRx.Load(),
		FramesDropped: s.framesDropped.Load(),
		Connects:      s.connects.Load(),
		Pending:       s.reg.pending(),
		LastActivity:  time.Unix(0, s.lastActivity.Load()),
		Connected:     s.IsConnected(),
	}
}

func (s *Socket) currentConn() net.Conn {
	s.connMu.RLock()
	defer s.connMu.RUnlock()
	return s.conn
}

// markBroken flags the stream as unusable after an I/O error.
func (s *Socket) markBroken() {
	s.eof.Store(true)
}

func (s *Socket) touch() {
	s.lastActivity.Store(time.Now().UnixNano())
}
