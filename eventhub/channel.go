package eventhub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/courtvideo/media/observe"
)

// DefaultDialTimeout bounds a single connection attempt.
const DefaultDialTimeout = 30 * time.Second

// ConnectionLostMessage is reported when the reconnection budget runs out.
const ConnectionLostMessage = "connection lost"

// ErrorReporter is the service-error surface of the application.
type ErrorReporter interface {
	GoToServiceError(message string)
}

// ErrorReporterFunc adapts a function to ErrorReporter.
type ErrorReporterFunc func(message string)

// GoToServiceError implements ErrorReporter.
func (f ErrorReporterFunc) GoToServiceError(message string) { f(message) }

// stopper is a cancellable scheduled retry.
type stopper interface {
	Stop() bool
}

func realAfterFunc(d time.Duration, fn func()) stopper {
	return time.AfterFunc(d, fn)
}

// Channel is a reconnecting connection to the event hub.
//
// Callbacks registered with OnStateChange must not call Start or Stop
// synchronously.
type Channel struct {
	transport   Transport
	codec       Codec
	schedule    *Schedule
	reporter    ErrorReporter
	logger      *slog.Logger
	dialTimeout time.Duration
	afterFunc   func(time.Duration, func()) stopper

	mu                 sync.Mutex
	ctx                context.Context
	state              State
	attempt            int
	conn               Conn
	handlersRegistered bool
	dialCancel         context.CancelFunc
	retry              stopper
	gaveUp             bool
	gen                uint64
	userSource         Connectivity
	userUnsub          func()

	notifyMu     sync.Mutex
	stateValue   *observe.Value[State]
	events       observe.Feed[Event]
	connected    observe.Feed[struct{}]
	disconnected observe.Feed[error]
}

// Option configures a Channel.
type Option func(*Channel)

// WithLogger sets the logger used by the channel.
func WithLogger(l *slog.Logger) Option {
	return func(c *Channel) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithSchedule sets the reconnection schedule.
func WithSchedule(s *Schedule) Option {
	return func(c *Channel) {
		if s != nil {
			c.schedule = s
		}
	}
}

// WithCodec sets the codec used to decode frames. It must match the codec the
// transport was built with. A WebSocketTransport's codec is picked up without
// it.
func WithCodec(codec Codec) Option {
	return func(c *Channel) {
		if codec != nil {
			c.codec = codec
		}
	}
}

// WithErrorReporter sets the collaborator told when the channel gives up.
func WithErrorReporter(r ErrorReporter) Option {
	return func(c *Channel) { c.reporter = r }
}

// WithDialTimeout bounds each connection attempt.
func WithDialTimeout(d time.Duration) Option {
	return func(c *Channel) {
		if d > 0 {
			c.dialTimeout = d
		}
	}
}

// New creates a disconnected channel over transport.
func New(transport Transport, opts ...Option) *Channel {
	c := &Channel{
		transport:   transport,
		codec:       JSONCodec{},
		schedule:    NewSchedule(),
		logger:      slog.Default(),
		dialTimeout: DefaultDialTimeout,
		afterFunc:   realAfterFunc,
		ctx:         context.Background(),
		stateValue:  observe.NewValue(StateDisconnected),
	}
	if ws, ok := transport.(*WebSocketTransport); ok && ws.Codec != nil {
		c.codec = ws.Codec
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current connection state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Attempt returns the current reconnection attempt number.
func (c *Channel) Attempt() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempt
}

// GaveUp reports whether the reconnection budget is exhausted.
func (c *Channel) GaveUp() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gaveUp
}

// Start opens the connection. It is a no-op while connected, connecting,
// reconnecting or waiting for a scheduled retry. A Start after the channel
// gave up begins a fresh reconnection budget.
//
// A failed attempt is retried in the background; the returned error only
// describes this attempt.
func (c *Channel) Start(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateConnected, StateConnecting, StateReconnecting, StateDisconnecting:
		c.mu.Unlock()
		return nil
	}
	if c.retry != nil {
		c.mu.Unlock()
		return nil
	}
	if c.gaveUp {
		c.gaveUp = false
		c.attempt = 0
		c.disarmUserReconnectLocked()
	}
	c.ctx = context.WithoutCancel(ctx)
	attempt, gen, dialCtx := c.beginLocked(ctx)
	c.mu.Unlock()

	c.syncState()
	return c.dial(dialCtx, attempt, gen)
}

// RetryNow short-circuits a pending retry wait, or restarts a channel that
// gave up, with the attempt counter reset. It does nothing otherwise.
func (c *Channel) RetryNow() error {
	c.mu.Lock()
	if !c.gaveUp && c.retry == nil {
		c.mu.Unlock()
		return nil
	}
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
	c.gaveUp = false
	c.disarmUserReconnectLocked()
	c.attempt = 0
	attempt, gen, dialCtx := c.beginLocked(c.ctx)
	c.mu.Unlock()

	c.logger.Info("user requested reconnect")
	c.syncState()
	return c.dial(dialCtx, attempt, gen)
}

// Stop closes the connection and cancels any pending retry. It is a no-op
// when already disconnected. Close errors are logged, not returned.
func (c *Channel) Stop(ctx context.Context) error {
	c.mu.Lock()
	c.disarmUserReconnectLocked()
	c.gaveUp = false
	if c.state == StateDisconnecting || (c.state == StateDisconnected && c.retry == nil) {
		c.mu.Unlock()
		return nil
	}

	c.gen++
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
	if c.dialCancel != nil {
		c.dialCancel()
		c.dialCancel = nil
	}
	conn := c.conn
	c.conn = nil
	c.deregisterHandlersLocked()
	c.attempt = 0
	c.state = StateDisconnecting
	c.mu.Unlock()
	c.syncState()

	if conn != nil {
		if err := conn.Close(); err != nil {
			c.logger.WarnContext(ctx, "close event hub connection", "error", err)
		}
	}

	c.mu.Lock()
	c.state = StateDisconnected
	c.mu.Unlock()
	c.syncState()

	if conn != nil {
		c.disconnected.Publish(nil)
	}
	c.logger.InfoContext(ctx, "event hub stopped")
	return nil
}

// Send invokes target on the hub with positional args.
func (c *Channel) Send(ctx context.Context, target string, args ...any) error {
	c.mu.Lock()
	conn := c.conn
	connected := c.state == StateConnected
	c.mu.Unlock()

	if conn == nil || !connected {
		return ErrNotConnected
	}
	data, err := c.codec.Marshal(target, args...)
	if err != nil {
		return err
	}
	if err := conn.WriteFrame(ctx, data); err != nil {
		return fmt.Errorf("send %s: %w", target, err)
	}
	return nil
}

// OnEvent registers fn for every decoded server event.
func (c *Channel) OnEvent(fn func(Event)) (unsubscribe func()) {
	return c.events.Subscribe(fn)
}

// OnConnected registers fn for successful connections.
func (c *Channel) OnConnected(fn func()) (unsubscribe func()) {
	return c.connected.Subscribe(func(struct{}) { fn() })
}

// OnDisconnected registers fn for failed attempts and lost connections. err
// is nil after Stop.
func (c *Channel) OnDisconnected(fn func(err error)) (unsubscribe func()) {
	return c.disconnected.Subscribe(fn)
}

// OnStateChange registers fn for state transitions. Transitions that happen
// in quick succession may be coalesced into the latest state.
func (c *Channel) OnStateChange(fn func(State)) (unsubscribe func()) {
	return c.stateValue.OnChange(fn)
}

// beginLocked moves to Connecting for the next attempt. Each attempt gets its
// own generation so follow-ups of an earlier attempt are ignored. c.mu must
// be held.
func (c *Channel) beginLocked(parent context.Context) (int, uint64, context.Context) {
	c.attempt++
	c.gen++
	c.state = StateConnecting
	dialCtx, cancel := context.WithTimeout(parent, c.dialTimeout)
	c.dialCancel = cancel
	return c.attempt, c.gen, dialCtx
}

func (c *Channel) dial(ctx context.Context, attempt int, gen uint64) error {
	c.logger.DebugContext(ctx, "connecting to event hub", "attempt", attempt)
	conn, err := c.transport.Dial(ctx)

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return ErrStopped
	}
	if c.dialCancel != nil {
		c.dialCancel()
		c.dialCancel = nil
	}
	if err != nil {
		c.state = StateDisconnected
		c.mu.Unlock()
		c.syncState()

		c.logger.Warn("event hub connect failed", "attempt", attempt, "error", err)
		c.disconnected.Publish(err)
		c.reconnect(gen)
		return fmt.Errorf("connect attempt %d: %w", attempt, err)
	}

	c.attempt = 0
	c.conn = conn
	c.state = StateConnected
	c.registerHandlersLocked(conn)
	c.mu.Unlock()
	c.syncState()

	c.logger.Info("event hub connected", "attempt", attempt)
	c.connected.Publish(struct{}{})
	return nil
}

// reconnect schedules the next attempt or gives up once the schedule is
// exhausted.
func (c *Channel) reconnect(gen uint64) {
	c.mu.Lock()
	if c.gen != gen || c.retry != nil || c.gaveUp {
		c.mu.Unlock()
		return
	}
	if c.state != StateDisconnected && c.state != StateReconnecting {
		c.mu.Unlock()
		return
	}

	attempt := c.attempt
	delay, ok := c.schedule.Delay(attempt)
	if !ok {
		c.gaveUp = true
		c.armUserReconnectLocked()
		reporter := c.reporter
		c.mu.Unlock()

		c.logger.Error("event hub reconnection budget exhausted", "attempt", attempt)
		if reporter != nil {
			reporter.GoToServiceError(ConnectionLostMessage)
		}
		return
	}

	c.retry = c.afterFunc(delay, func() { c.retryFired(gen) })
	c.mu.Unlock()

	c.logger.Info("event hub reconnect scheduled", "attempt", attempt+1, "delay", delay)
}

func (c *Channel) retryFired(gen uint64) {
	c.mu.Lock()
	if c.gen != gen || c.retry == nil {
		c.mu.Unlock()
		return
	}
	c.retry = nil
	if c.state == StateConnected || c.state == StateConnecting {
		c.mu.Unlock()
		return
	}
	attempt, gen, dialCtx := c.beginLocked(c.ctx)
	c.mu.Unlock()

	c.syncState()
	_ = c.dial(dialCtx, attempt, gen)
}

// connectionLost handles a read error on conn.
func (c *Channel) connectionLost(conn Conn, err error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.deregisterHandlersLocked()
	c.state = StateReconnecting
	gen := c.gen
	c.mu.Unlock()
	c.syncState()

	_ = conn.Close()
	c.logger.Warn("event hub connection lost", "error", err)
	c.disconnected.Publish(err)
	c.reconnect(gen)
}

// registerHandlersLocked starts the read loop for conn exactly once.
func (c *Channel) registerHandlersLocked(conn Conn) {
	if c.handlersRegistered {
		return
	}
	c.handlersRegistered = true
	go c.readLoop(conn)
}

// deregisterHandlersLocked marks dispatch torn down. The read loop exits once
// its connection is closed.
func (c *Channel) deregisterHandlersLocked() {
	c.handlersRegistered = false
}

func (c *Channel) readLoop(conn Conn) {
	for {
		data, err := conn.ReadFrame()
		if err != nil {
			c.connectionLost(conn, err)
			return
		}

		inv, err := c.codec.Unmarshal(data)
		if err != nil {
			c.logger.Warn("dropping undecodable frame", "error", err)
			continue
		}
		ev, err := decodeEvent(c.codec, inv)
		if err != nil {
			if errors.Is(err, ErrUnknownEvent) {
				c.logger.Debug("ignoring event", "target", inv.Target)
			} else {
				c.logger.Warn("dropping malformed event", "target", inv.Target, "error", err)
			}
			continue
		}
		c.events.Publish(ev)
	}
}

// armUserReconnectLocked subscribes once to the user reconnect signal.
func (c *Channel) armUserReconnectLocked() {
	if c.userSource == nil || c.userUnsub != nil {
		return
	}
	c.userUnsub = c.userSource.OnUserReconnect(func() {
		go func() { _ = c.RetryNow() }()
	})
}

func (c *Channel) disarmUserReconnectLocked() {
	if c.userUnsub != nil {
		c.userUnsub()
		c.userUnsub = nil
	}
}

// syncState publishes the current state to OnStateChange subscribers.
func (c *Channel) syncState() {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	c.stateValue.Set(c.State())
}
