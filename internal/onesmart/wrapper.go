package onesmart

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// Timing holds every interval and timeout of the client.
type Timing struct {
	ConnectTimeout      time.Duration
	AuthTimeout         time.Duration
	CommandTimeout      time.Duration
	ReconnectDelay      time.Duration
	ReconnectRetries    int
	PingInterval        time.Duration
	DefinitionsInterval time.Duration
	CacheInterval       time.Duration
	MaxApparatusPoll    int
	ReceiveWait         time.Duration
	LoopDelay           time.Duration
	CommandPoll         time.Duration
}

// DefaultTiming returns the gateway's recommended timing.
func DefaultTiming() Timing {
	return Timing{
		ConnectTimeout:      10 * time.Second,
		AuthTimeout:         5 * time.Second,
		CommandTimeout:      60 * time.Second,
		ReconnectDelay:      60 * time.Second,
		ReconnectRetries:    5,
		PingInterval:        30 * time.Second,
		DefinitionsInterval: 1800 * time.Second,
		CacheInterval:       300 * time.Second,
		MaxApparatusPoll:    4,
		ReceiveWait:         1000 * time.Millisecond,
		LoopDelay:           5000 * time.Millisecond,
		CommandPoll:         100 * time.Millisecond,
	}
}

// withDefaults fills zero fields from DefaultTiming.
func (t Timing) withDefaults() Timing {
	d := DefaultTiming()
	fill := func(v *time.Duration, def time.Duration) {
		if *v <= 0 {
			*v = def
		}
	}
	fill(&t.ConnectTimeout, d.ConnectTimeout)
	fill(&t.AuthTimeout, d.AuthTimeout)
	fill(&t.CommandTimeout, d.CommandTimeout)
	fill(&t.ReconnectDelay, d.ReconnectDelay)
	fill(&t.PingInterval, d.PingInterval)
	fill(&t.DefinitionsInterval, d.DefinitionsInterval)
	fill(&t.CacheInterval, d.CacheInterval)
	fill(&t.ReceiveWait, d.ReceiveWait)
	fill(&t.LoopDelay, d.LoopDelay)
	fill(&t.CommandPoll, d.CommandPoll)
	if t.ReconnectRetries <= 0 {
		t.ReconnectRetries = d.ReconnectRetries
	}
	if t.MaxApparatusPoll <= 0 {
		t.MaxApparatusPoll = d.MaxApparatusPoll
	}
	return t
}

// Config holds the gateway connection settings.
type Config struct {
	// Address is host:port of the gateway.
	Address  string
	Username string
	// Password is the plain password; it is hashed before sending.
	Password string
	Timing   Timing
}

// Option configures a Wrapper.
type Option func(*wrapperOptions)

type wrapperOptions struct {
	dial      DialFunc
	push      Transport
	poll      Transport
	logger    Logger
	now       func() time.Time
	queueSize int
}

// WithDial replaces the TLS dialer of both channels.
func WithDial(dial DialFunc) Option {
	return func(o *wrapperOptions) { o.dial = dial }
}

// WithTransports replaces both channel transports.
func WithTransports(push, poll Transport) Option {
	return func(o *wrapperOptions) {
		o.push = push
		o.poll = poll
	}
}

// WithLogger sets the logger. Equivalent to calling SetLogger after New.
func WithLogger(logger Logger) Option {
	return func(o *wrapperOptions) { o.logger = logger }
}

// WithClock replaces the clock used for the refresh schedule.
func WithClock(now func() time.Time) Option {
	return func(o *wrapperOptions) { o.now = now }
}

// WithQueueSize bounds the per-channel queue of commands sent while the
// channel is down.
func WithQueueSize(n int) Option {
	return func(o *wrapperOptions) { o.queueSize = n }
}

// Status is a point-in-time view of the client.
type Status struct {
	Push                 ChannelStatus
	Poll                 ChannelStatus
	Started              bool
	PendingFlags         int
	QueuedCommands       map[Channel]int
	Devices              int
	Descriptors          int
	FailedDevices        []string
	CacheEntries         int
	EventsHandled        uint64
	NotificationsDropped uint64
	LoopPanics           uint64
}

// Wrapper is the dual-channel gateway client.
//
// The push channel carries the event subscription; the poll channel
// carries requests. Each channel is owned by one loop goroutine once
// Start has run. Consumer methods are safe for concurrent use.
type Wrapper struct {
	cfg   Config
	now   func() time.Time
	cache *Cache
	push  *supervisor
	poll  *supervisor

	flags     flagQueue
	notify    *notifier
	outbound  map[Channel]*outboundQueue
	discovery atomic.Pointer[Discovery]
	cursors   roundRobin

	// poll loop only
	lastDefinitions time.Time
	lastCache       time.Time

	subscribeReqs chan subscribeRequest

	eventsHandled atomic.Uint64
	loopPanics    atomic.Uint64

	started   atomic.Bool
	closed    atomic.Bool
	closeOnce sync.Once

	// runMu guards cancel and group between Start and Close.
	runMu  sync.Mutex
	cancel context.CancelFunc
	group  *errgroup.Group

	logger   Logger
	loggerMu sync.RWMutex
}

// New creates a client for one gateway. No connection is made until Setup.
//
// Parameters:
//   - cfg: Gateway address, credentials and timing
//   - opts: Optional dialer, transports, logger and clock
//
// Returns:
//   - *Wrapper: Client ready for Setup
func New(cfg Config, opts ...Option) *Wrapper {
	o := wrapperOptions{now: time.Now, queueSize: defaultQueueSize}
	for _, opt := range opts {
		opt(&o)
	}
	cfg.Timing = cfg.Timing.withDefaults()

	push, poll := o.push, o.poll
	if push == nil {
		push = newSocketTransport(o.dial)
	}
	if poll == nil {
		poll = newSocketTransport(o.dial)
	}

	w := &Wrapper{
		cfg:    cfg,
		now:    o.now,
		cache:  NewCache(),
		push:   newSupervisor(ChannelPush, cfg, push),
		poll:   newSupervisor(ChannelPoll, cfg, poll),
		notify: newNotifier(),
		outbound: map[Channel]*outboundQueue{
			ChannelPush: newOutboundQueue(o.queueSize),
			ChannelPoll: newOutboundQueue(o.queueSize),
		},
		subscribeReqs: make(chan subscribeRequest),
		logger:        noopLogger{},
	}
	w.push.prime = w.primePush
	w.poll.prime = w.primePoll

	if o.logger != nil {
		w.SetLogger(o.logger)
	}
	return w
}

func newSocketTransport(dial DialFunc) Transport {
	if dial != nil {
		return NewSocket(WithDialer(dial))
	}
	return NewSocket()
}

// SetLogger sets the logger for the client, both channels and their sockets.
func (w *Wrapper) SetLogger(logger Logger) {
	w.loggerMu.Lock()
	w.logger = logger
	w.loggerMu.Unlock()

	w.push.setLogger(logger)
	w.poll.setLogger(logger)
	for _, s := range []*supervisor{w.push, w.poll} {
		if l, ok := s.socket.(interface{ SetLogger(Logger) }); ok {
			l.SetLogger(logger)
		}
	}
}

func (w *Wrapper) log() Logger {
	w.loggerMu.RLock()
	defer w.loggerMu.RUnlock()
	return w.logger
}

// Setup connects both channels and fills the cache.
//
// The push channel is connected and subscribed first, then the poll
// channel, whose priming fetches the definitions and runs discovery. Setup
// fails with SetupFailCache when the gateway answered but returned no
// site, meters or devices.
//
// Parameters:
//   - ctx: Context for cancellation
//
// Returns:
//   - SetupStatus: Typed outcome
//   - error: Non-nil unless the status is SetupSuccess
func (w *Wrapper) Setup(ctx context.Context) (SetupStatus, error) {
	if w.closed.Load() {
		return SetupFailNetwork, ErrClosed
	}

	for _, s := range []*supervisor{w.push, w.poll} {
		switch status := s.Connect(ctx); status {
		case SetupSuccess:
		case SetupFailAuth:
			return status, fmt.Errorf("%w: %s channel", ErrAuthFailed, s.channel)
		default:
			return status, fmt.Errorf("%w: %s channel to %s", ErrConnectionFailed, s.channel, w.cfg.Address)
		}
	}

	var missing []string
	for _, key := range []CacheKey{KeySite, KeyMeters, KeyDevices} {
		if v, ok := w.cache.Get(key); !ok || !populated(v) {
			missing = append(missing, string(key))
		}
	}
	if len(missing) > 0 {
		return SetupFailCache, fmt.Errorf("%w: %v", ErrEmptyDefinitions, missing)
	}

	w.log().Info("gateway client ready",
		"address", w.cfg.Address,
		"devices", len(w.Discovery().Devices()),
		"descriptors", w.Discovery().Len(),
	)
	return SetupSuccess, nil
}

// primePush subscribes a freshly authenticated push channel to every topic.
func (w *Wrapper) primePush(ctx context.Context) error {
	res := w.push.CommandWait(ctx, CmdEvents, Fields{
		FieldAction: ActionSubscribe,
		FieldTopics: AllEventTopics,
	})
	if !res.OK() {
		return fmt.Errorf("subscribing to events: %s: %w", res.Status, res.Err)
	}
	return nil
}

// primePoll refreshes definitions and cache on a freshly authenticated poll
// channel.
func (w *Wrapper) primePoll(ctx context.Context) error {
	now := w.now()
	w.lastDefinitions = now
	w.lastCache = now
	w.flags.push(definitionFlags...)
	w.flags.push(cacheFlags...)
	return w.HandleUpdateFlags(ctx)
}

// Start runs the push and poll loops in the background until ctx is
// cancelled or Close is called. Setup must have succeeded first.
func (w *Wrapper) Start(ctx context.Context) error {
	w.runMu.Lock()
	defer w.runMu.Unlock()

	if w.closed.Load() {
		return ErrClosed
	}
	if !w.started.CompareAndSwap(false, true) {
		return errors.New("onesmart: already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	w.cancel = cancel
	w.group = g
	g.Go(func() error { return w.pushLoop(gctx) })
	g.Go(func() error { return w.pollLoop(gctx) })
	w.log().Info("gateway loops started")
	return nil
}

// Close stops the loops, waits for them and closes both channels.
// Safe to call more than once.
func (w *Wrapper) Close() error {
	var err error
	w.closeOnce.Do(func() {
		w.runMu.Lock()
		w.closed.Store(true)
		cancel, group := w.cancel, w.group
		w.runMu.Unlock()

		if cancel != nil {
			cancel()
		}
		if group != nil {
			if werr := group.Wait(); werr != nil && !errors.Is(werr, context.Canceled) {
				err = werr
			}
		}
		w.push.drop()
		w.poll.drop()
		w.notify.closeAll()
		w.log().Info("gateway client closed")
	})
	return err
}

// GetCache returns one cache entry.
func (w *Wrapper) GetCache(key CacheKey) (any, bool) {
	return w.cache.Get(key)
}

// CacheSnapshot returns every cache entry.
func (w *Wrapper) CacheSnapshot() map[CacheKey]any {
	return w.cache.Snapshot()
}

// Cache returns the client's cache for read access.
func (w *Wrapper) Cache() *Cache {
	return w.cache
}

// Discovery returns the current discovery result.
func (w *Wrapper) Discovery() *Discovery {
	return w.discovery.Load()
}

// PlatformEntities returns the descriptors of one platform.
func (w *Wrapper) PlatformEntities(platform Platform) []Descriptor {
	return w.discovery.Load().Entities(platform)
}

// Resolve reads a descriptor's current value.
func (w *Wrapper) Resolve(d Descriptor) (any, bool) {
	return d.Resolve(w.cache)
}

// Command sends a command without waiting for its response.
//
// When the channel is down the command is queued and ErrCommandQueued is
// returned; the channel's loop sends it once after reconnecting. A full
// queue returns ErrQueueFull.
//
// Parameters:
//   - channel: ChannelPush or ChannelPoll
//   - cmd: Gateway command
//   - fields: Command-specific fields
//
// Returns:
//   - uint32: Transaction id when sent immediately
//   - error: ErrCommandQueued, ErrQueueFull, ErrClosed or nil
func (w *Wrapper) Command(channel Channel, cmd Command, fields Fields) (uint32, error) {
	if w.closed.Load() {
		return 0, ErrClosed
	}
	s, err := w.supervisor(channel)
	if err != nil {
		return 0, err
	}

	if s.Ready() {
		id, err := s.socket.SendDetached(cmd, fields)
		if err == nil {
			return id, nil
		}
		w.log().Warn("command send failed, queueing", "channel", channel, "command", cmd, "error", err)
	}

	if err := w.outbound[channel].push(cmd, fields); err != nil {
		return 0, err
	}
	return 0, ErrCommandQueued
}

// Execute sends a descriptor command template on the poll channel,
// substituting value for the placeholder when the template has one.
func (w *Wrapper) Execute(t CommandTemplate, value any) (uint32, error) {
	if t.HasPlaceholder() {
		t = t.WithValue(value)
	}
	return w.Command(ChannelPoll, t.Command, t.Fields)
}

func (w *Wrapper) supervisor(channel Channel) (*supervisor, error) {
	switch channel {
	case ChannelPush:
		return w.push, nil
	case ChannelPoll:
		return w.poll, nil
	default:
		return nil, fmt.Errorf("onesmart: unknown channel %q", channel)
	}
}

// SetUpdateFlag asks the poll loop to refresh one cache entry.
func (w *Wrapper) SetUpdateFlag(flag UpdateFlag) error {
	if flag.Command != CmdApparatus || flag.Action != ActionGet {
		if _, err := FlagFor(flag.Key()); err != nil {
			return err
		}
		if flag.DeviceID != "" {
			return fmt.Errorf("%w: device id on %s", ErrInvalidFlag, flag.Key())
		}
	}
	w.flags.push(flag)
	return nil
}

type subscribeRequest struct {
	ctx    context.Context
	topics []EventTopic
	reply  chan Result
}

// SubscribeEvents subscribes the push channel to topics and waits for the
// gateway's answer. Once the loops run, the request is handed to the push
// loop, which owns the channel.
func (w *Wrapper) SubscribeEvents(ctx context.Context, topics []EventTopic) Result {
	if !w.started.Load() || w.closed.Load() {
		return w.subscribe(ctx, topics)
	}

	req := subscribeRequest{ctx: ctx, topics: topics, reply: make(chan Result, 1)}
	select {
	case w.subscribeReqs <- req:
	case <-ctx.Done():
		return failedResult(CmdEvents, ctx.Err())
	}
	select {
	case res := <-req.reply:
		return res
	case <-ctx.Done():
		return failedResult(CmdEvents, ctx.Err())
	}
}

func (w *Wrapper) subscribe(ctx context.Context, topics []EventTopic) Result {
	return w.push.CommandWait(ctx, CmdEvents, Fields{
		FieldAction: ActionSubscribe,
		FieldTopics: topics,
	})
}

// IsConnected reports whether both channels are ready.
func (w *Wrapper) IsConnected() bool {
	return w.push.Ready() && w.poll.Ready()
}

// Notifications subscribes to cache change topics. The returned function
// unsubscribes. Notifications are dropped for a subscriber whose buffer is
// full.
func (w *Wrapper) Notifications(buffer int) (<-chan UpdateTopic, func()) {
	return w.notify.subscribe(buffer)
}

// Status returns a snapshot of the client.
func (w *Wrapper) Status() Status {
	d := w.discovery.Load()
	return Status{
		Push:         w.push.Status(),
		Poll:         w.poll.Status(),
		Started:      w.started.Load() && !w.closed.Load(),
		PendingFlags: w.flags.len(),
		QueuedCommands: map[Channel]int{
			ChannelPush: w.outbound[ChannelPush].len(),
			ChannelPoll: w.outbound[ChannelPoll].len(),
		},
		Devices:              len(d.Devices()),
		Descriptors:          d.Len(),
		FailedDevices:        d.Failed(),
		CacheEntries:         len(w.cache.Keys()),
		EventsHandled:        w.eventsHandled.Load(),
		NotificationsDropped: w.notify.dropped.Load(),
		LoopPanics:           w.loopPanics.Load(),
	}
}

// iterate runs one loop iteration, recovering from panics so a bad
// message cannot stop the loop.
func (w *Wrapper) iterate(channel Channel, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			w.loopPanics.Add(1)
			w.log().Error("gateway loop iteration panicked",
				"channel", channel,
				"panic", r,
				"stack", string(debug.Stack()),
			)
		}
	}()
	fn()
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
