package onesmart

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// ChannelState is the connection state of one channel.
type ChannelState int32

// Channel states.
const (
	StateDisconnected ChannelState = iota
	StateConnecting
	StateAuthenticating
	StateReady
)

// String returns a readable name for the state.
func (s ChannelState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// ChannelStatus is a point-in-time view of one channel.
type ChannelStatus struct {
	Channel    Channel
	State      ChannelState
	LastSetup  SetupStatus
	Reconnects uint64
	Timeouts   uint64
	Failures   uint64
	Socket     SocketStats
}

// abandonedMaxAge is how long abandoned transactions are kept for late
// responses before being pruned.
const abandonedMaxAge = 5 * time.Minute

// supervisor drives one channel through its connection state machine.
//
// Connect, EnsureConnected and CommandWait are called from the goroutine
// that owns the channel (Setup, then the channel's loop). State and Status
// may be read from anywhere.
type supervisor struct {
	channel  Channel
	addr     string
	username string
	password string
	timing   Timing
	socket   Transport

	// prime runs after every successful authentication.
	prime func(ctx context.Context) error

	state     atomic.Int32
	lastSetup atomic.Int32
	lastPing  atomic.Int64
	connected atomic.Bool // true once the channel has been Ready at least once

	reconnects atomic.Uint64
	timeouts   atomic.Uint64
	failures   atomic.Uint64

	logger   Logger
	loggerMu sync.RWMutex
}

func newSupervisor(channel Channel, cfg Config, socket Transport) *supervisor {
	return &supervisor{
		channel:  channel,
		addr:     cfg.Address,
		username: cfg.Username,
		password: cfg.Password,
		timing:   cfg.Timing,
		socket:   socket,
		logger:   noopLogger{},
	}
}

func (s *supervisor) setLogger(logger Logger) {
	s.loggerMu.Lock()
	defer s.loggerMu.Unlock()
	s.logger = logger
}

func (s *supervisor) log() Logger {
	s.loggerMu.RLock()
	defer s.loggerMu.RUnlock()
	return s.logger
}

// State returns the current connection state.
func (s *supervisor) State() ChannelState {
	return ChannelState(s.state.Load())
}

func (s *supervisor) setState(state ChannelState) {
	s.state.Store(int32(state))
}

// Ready reports whether the channel can carry commands.
func (s *supervisor) Ready() bool {
	return s.State() == StateReady && s.socket.IsConnected()
}

// Status returns a snapshot of the channel.
func (s *supervisor) Status() ChannelStatus {
	return ChannelStatus{
		Channel:    s.channel,
		State:      s.State(),
		LastSetup:  SetupStatus(s.lastSetup.Load()),
		Reconnects: s.reconnects.Load(),
		Timeouts:   s.timeouts.Load(),
		Failures:   s.failures.Load(),
		Socket:     s.socket.Stats(),
	}
}

// Connect establishes and authenticates the channel, then primes it.
//
// A rejected login yields SetupFailAuth; any dial, write or timeout failure
// yields SetupFailNetwork. Priming errors are logged but do not fail the
// connection.
//
// Parameters:
//   - ctx: Context for cancellation
//
// Returns:
//   - SetupStatus: SetupSuccess when the channel is Ready
func (s *supervisor) Connect(ctx context.Context) SetupStatus {
	status := s.connect(ctx)
	s.lastSetup.Store(int32(status))
	if status != SetupSuccess {
		s.failures.Add(1)
		return status
	}

	if s.connected.Swap(true) {
		s.reconnects.Add(1)
	}
	s.log().Info("gateway channel ready", "channel", s.channel)

	if s.prime != nil {
		if err := s.prime(ctx); err != nil {
			s.log().Warn("channel priming incomplete", "channel", s.channel, "error", err)
		}
	}
	return SetupSuccess
}

func (s *supervisor) connect(ctx context.Context) SetupStatus {
	s.setState(StateConnecting)

	dialCtx, cancel := context.WithTimeout(ctx, s.timing.ConnectTimeout)
	err := s.socket.Connect(dialCtx, s.addr)
	cancel()
	if err != nil {
		s.setState(StateDisconnected)
		s.log().Warn("gateway connect failed", "channel", s.channel, "address", s.addr, "error", err)
		return SetupFailNetwork
	}

	s.setState(StateAuthenticating)
	id, err := s.socket.Authenticate(s.username, s.password)
	if err != nil {
		s.drop()
		s.log().Warn("sending authentication failed", "channel", s.channel, "error", err)
		return SetupFailNetwork
	}

	res := s.await(ctx, CmdAuthenticate, id, s.timing.AuthTimeout)
	switch res.Status {
	case ResultOK:
	case ResultError:
		s.drop()
		s.log().Error("gateway rejected credentials", "channel", s.channel, "username", s.username)
		return SetupFailAuth
	default:
		s.drop()
		s.log().Warn("authentication did not complete", "channel", s.channel, "status", res.Status, "error", res.Err)
		return SetupFailNetwork
	}

	s.lastPing.Store(time.Now().UnixNano())
	s.setState(StateReady)
	return SetupSuccess
}

// EnsureConnected makes sure the channel is usable before the loop uses it.
//
// When Ready, it pings once per PingInterval; a ping that is not answered
// drops the channel so the next call reconnects. When not Ready, it tries
// to connect up to ReconnectRetries times, ReconnectDelay apart. Exhausting
// the budget is logged and reported as false, never as a panic or error.
//
// Returns:
//   - bool: true if the channel is Ready on return
func (s *supervisor) EnsureConnected(ctx context.Context) bool {
	if s.Ready() {
		return s.keepAlive(ctx)
	}
	if s.State() != StateDisconnected {
		s.drop()
	}

	retries := s.timing.ReconnectRetries
	for attempt := 1; attempt <= retries; attempt++ {
		if ctx.Err() != nil {
			return false
		}
		status := s.Connect(ctx)
		if status == SetupSuccess {
			return true
		}
		s.log().Warn("gateway reconnect attempt failed",
			"channel", s.channel,
			"attempt", attempt,
			"of", retries,
			"status", status,
		)
		if attempt == retries {
			break
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(s.timing.ReconnectDelay):
		}
	}

	s.log().Error("gateway unreachable, retry budget exhausted",
		"channel", s.channel,
		"attempts", retries,
	)
	return false
}

// keepAlive pings the gateway when the ping interval has elapsed.
func (s *supervisor) keepAlive(ctx context.Context) bool {
	last := time.Unix(0, s.lastPing.Load())
	if time.Since(last) < s.timing.PingInterval {
		return true
	}
	s.lastPing.Store(time.Now().UnixNano())

	res := s.CommandWait(ctx, CmdPing, nil)
	switch res.Status {
	case ResultOK, ResultError:
		// Any answer proves the stream is alive.
		return true
	default:
		if ctx.Err() != nil {
			return false
		}
		s.log().Warn("keep-alive ping failed, dropping channel", "channel", s.channel, "status", res.Status)
		s.drop()
		return false
	}
}

// CommandWait sends cmd and waits for its response.
//
// The first check happens without waiting, so responses already drained
// are returned immediately. The wait is bounded by CommandTimeout and by
// ctx. The returned message always carries the transaction id assigned at
// send time.
//
// Parameters:
//   - ctx: Context for cancellation
//   - cmd: Gateway command
//   - fields: Command-specific fields
//
// Returns:
//   - Result: ResultOK, ResultError, ResultTimeout or ResultFailed
func (s *supervisor) CommandWait(ctx context.Context, cmd Command, fields Fields) Result {
	if !s.Ready() {
		return failedResult(cmd, fmt.Errorf("%w: %s channel", ErrNotConnected, s.channel))
	}

	id, err := s.socket.Send(cmd, fields)
	if err != nil {
		s.drop()
		return failedResult(cmd, err)
	}
	return s.await(ctx, cmd, id, s.timing.CommandTimeout)
}

// await polls the socket until transaction id resolves or timeout elapses.
func (s *supervisor) await(ctx context.Context, cmd Command, id uint32, timeout time.Duration) Result {
	deadline := time.Now().Add(timeout)

	for {
		if msg, ok := s.socket.Transaction(id); ok {
			return resultFromMessage(cmd, id, msg)
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			s.socket.Abandon(id)
			s.timeouts.Add(1)
			s.log().Warn("gateway command timed out",
				"channel", s.channel,
				"command", cmd,
				"transaction", id,
				"timeout", timeout.String(),
			)
			return Result{Status: ResultTimeout, Command: cmd, Transaction: id, Err: ErrCommandTimeout}
		}
		if err := ctx.Err(); err != nil {
			s.socket.Abandon(id)
			return failedResult(cmd, err)
		}

		if err := s.socket.PollResponses(min(s.timing.CommandPoll, remaining)); err != nil {
			if !errors.Is(err, ErrNotConnected) {
				s.log().Warn("gateway read failed", "channel", s.channel, "command", cmd, "error", err)
			}
			s.drop()
			return failedResult(cmd, err)
		}
	}
}

// drop closes the socket and marks the channel disconnected.
func (s *supervisor) drop() {
	s.setState(StateDisconnected)
	if err := s.socket.Close(); err != nil {
		s.log().Debug("closing gateway socket", "channel", s.channel, "error", err)
	}
}

// prune discards stale abandoned transactions when the transport supports it.
func (s *supervisor) prune() {
	if p, ok := s.socket.(interface{ PruneAbandoned(time.Duration) int }); ok {
		if n := p.PruneAbandoned(abandonedMaxAge); n > 0 {
			s.log().Debug("pruned abandoned transactions", "channel", s.channel, "count", n)
		}
	}
}
